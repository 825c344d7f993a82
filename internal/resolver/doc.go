// Package resolver is the only sanctioned way to change the status of a plan
// instance or its tasks.
//
// It computes which tasks are ready, applies the task state machine, cascades
// CREATED tasks to READY when their needs complete, and settles the instance
// once nothing is left to run. Failures are tolerated per branch: a FAILED
// task blocks only the tasks that transitively need it, and the instance is
// marked FAILED once every other branch has finished.
//
// Every mutation is applied to a copy of the instance and saved through the
// injected store before the caller's instance is updated. A failed save
// returns an error and leaves the caller's instance exactly as it was, so the
// whole transition can be retried.
//
// Usage:
//
//	r := resolver.New(st, resolver.WithLogger(logger), resolver.WithBus(bus))
//	if _, err := r.Start(ctx, inst); err != nil {
//	    return err
//	}
//	for _, task := range r.ReadyTasks(inst) {
//	    r.MarkRunning(ctx, inst, task.ID)
//	    // ... perform ...
//	    r.MarkCompleted(ctx, inst, task.ID)
//	}
package resolver
