// Package event provides a synchronous pub-sub bus used by the resolver and
// executor to report task and instance transitions.
//
// # Events
//
//   - [TaskStatusChangedEvent]: a task transition was persisted
//   - [TasksReadyEvent]: tasks became READY
//   - [InstanceStatusChangedEvent]: an instance transition was persisted
//   - [ProgressEvent]: executor counters after a result was integrated
//
// Events are published only after the corresponding state is durable, so a
// subscriber reading the store never sees an older snapshot than the event
// describes.
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine; a panicking handler is logged and does not prevent
// delivery to the others.
//
// # Usage
//
//	bus := event.NewBus(event.WithLogger(logger))
//	bus.Subscribe(event.TypeTaskStatusChanged, func(e event.Event) {
//	    changed := e.(event.TaskStatusChangedEvent)
//	    fmt.Println(changed.TaskID, changed.To)
//	})
package event
