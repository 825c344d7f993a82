package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/planrunner/internal/errors"
	"github.com/Iron-Ham/planrunner/internal/event"
	"github.com/Iron-Ham/planrunner/internal/logging"
	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/store"
)

// Resolver applies the task and instance state machines to plan instances
// and persists every transition before it becomes visible to the caller.
//
// All methods serialize on a per-instance mutex, so concurrent callers
// working on the same instance never race on the cascade to READY or on
// settlement. Different instances never contend.
type Resolver struct {
	store  store.Store
	logger *logging.Logger
	bus    *event.Bus
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*instanceLock
}

// instanceLock is removed from Resolver.locks once no caller holds or waits
// for it.
type instanceLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBus publishes task and instance transitions on bus.
func WithBus(bus *event.Bus) Option {
	return func(r *Resolver) {
		r.bus = bus
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Resolver that saves instances to s.
func New(s store.Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:  s,
		logger: logging.NopLogger(),
		now:    time.Now,
		locks:  make(map[string]*instanceLock),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lock acquires the mutex for inst and returns its release function.
func (r *Resolver) lock(inst *plan.Instance) func() {
	key := inst.ProjectID + "/" + inst.PlanID + "/" + inst.InstanceID

	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &instanceLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

func (r *Resolver) timestamp() time.Time {
	return r.now().UTC()
}

// ReadyTasks returns copies of the tasks that may be dispatched now: tasks in
// READY, and tasks still CREATED whose needs are all COMPLETED. Results keep
// collection order. An instance that is not RUNNING has no ready tasks.
func (r *Resolver) ReadyTasks(inst *plan.Instance) []plan.Task {
	defer r.lock(inst)()

	if inst.Status != plan.InstanceRunning {
		return nil
	}

	byID := indexTasks(inst)
	var ready []plan.Task
	for _, t := range inst.Tasks {
		if t.Status == plan.TaskReady || (t.Status == plan.TaskCreated && needsCompleted(t, byID)) {
			ready = append(ready, t.Clone())
		}
	}
	return ready
}

// Blocked returns the ids of CREATED tasks that can never become READY
// because a task they transitively need FAILED, was CANCELLED, does not
// exist, or is part of a dependency cycle.
func (r *Resolver) Blocked(inst *plan.Instance) []string {
	defer r.lock(inst)()
	return newAnalysis(inst).blocked()
}

// Snapshot returns a deep copy of inst taken under the instance lock, for
// observers that must not race with a concurrent transition.
func (r *Resolver) Snapshot(inst *plan.Instance) *plan.Instance {
	defer r.lock(inst)()
	return inst.Clone()
}

// Start moves a CREATED instance to RUNNING, stamps started_at and promotes
// every task without needs to READY. It returns false without changing
// anything when the instance is not CREATED.
func (r *Resolver) Start(ctx context.Context, inst *plan.Instance) (bool, error) {
	defer r.lock(inst)()

	if inst.Status != plan.InstanceCreated {
		return false, nil
	}

	now := r.timestamp()
	next := inst.Clone()
	next.Status = plan.InstanceRunning
	next.StartedAt = &now

	var ready []string
	for i := range next.Tasks {
		t := &next.Tasks[i]
		if t.Status == plan.TaskCreated && len(t.Needs) == 0 {
			t.Status = plan.TaskReady
			ready = append(ready, t.ID)
		}
	}
	settled := settle(next, now)

	if err := r.commit(ctx, inst, next); err != nil {
		return false, err
	}

	r.logger.WithInstance(inst.InstanceID).Info("instance started",
		"plan_id", inst.PlanID, "tasks", len(inst.Tasks), "ready", len(ready))
	r.publishInstance(inst, plan.InstanceCreated, plan.InstanceRunning)
	if len(ready) > 0 {
		r.publish(event.NewTasksReadyEvent(inst.InstanceID, ready, ""))
	}
	if settled {
		r.publishInstance(inst, plan.InstanceRunning, inst.Status)
	}
	return true, nil
}

// MarkRunning moves a READY task to RUNNING.
func (r *Resolver) MarkRunning(ctx context.Context, inst *plan.Instance, taskID string) (bool, error) {
	return r.transition(ctx, inst, taskID, plan.TaskRunning, "")
}

// MarkCompleted moves a READY or RUNNING task to COMPLETED, promotes the
// tasks it unblocks and settles the instance when nothing is left to run.
// Completing an already COMPLETED task is a no-op that returns true.
func (r *Resolver) MarkCompleted(ctx context.Context, inst *plan.Instance, taskID string) (bool, error) {
	return r.transition(ctx, inst, taskID, plan.TaskCompleted, "")
}

// MarkFailed moves a READY or RUNNING task to FAILED and records message.
func (r *Resolver) MarkFailed(ctx context.Context, inst *plan.Instance, taskID, message string) (bool, error) {
	return r.transition(ctx, inst, taskID, plan.TaskFailed, message)
}

// MarkCancelled moves a non-terminal task to CANCELLED.
func (r *Resolver) MarkCancelled(ctx context.Context, inst *plan.Instance, taskID string) (bool, error) {
	return r.transition(ctx, inst, taskID, plan.TaskCancelled, "")
}

// transition is shared by the Mark operations. An unknown task returns
// (false, nil). A task already in a terminal status is left untouched and
// returns (true, nil). A transition the state machine forbids returns
// (true, ErrInvalidTransition). Otherwise the change is saved and applied.
func (r *Resolver) transition(ctx context.Context, inst *plan.Instance, taskID string, to plan.TaskStatus, message string) (bool, error) {
	defer r.lock(inst)()

	idx := inst.TaskIndex(taskID)
	if idx < 0 {
		return false, nil
	}
	from := inst.Tasks[idx].Status
	if from.IsTerminal() || from == to {
		return true, nil
	}
	if !from.CanTransitionTo(to) {
		return true, fmt.Errorf("%w: task %s cannot move from %s to %s",
			errors.ErrInvalidTransition, taskID, from, to)
	}

	now := r.timestamp()
	next := inst.Clone()
	t := &next.Tasks[idx]
	t.Status = to
	switch to {
	case plan.TaskRunning:
		t.StartedAt = &now
	case plan.TaskCompleted, plan.TaskFailed:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
		t.CompletedAt = &now
		t.ErrorMessage = message
	case plan.TaskCancelled:
		t.CompletedAt = &now
	}

	var promoted []string
	if to == plan.TaskCompleted && next.Status == plan.InstanceRunning {
		promoted = promote(next)
	}
	prevStatus := next.Status
	settled := settle(next, now)

	if err := r.commit(ctx, inst, next); err != nil {
		return false, err
	}

	logger := r.logger.WithInstance(inst.InstanceID).WithTask(taskID)
	if to == plan.TaskFailed {
		logger.Warn("task failed", "error", message)
	} else {
		logger.Debug("task transitioned", "from", from, "to", to)
	}
	r.publish(event.NewTaskStatusChangedEvent(inst.PlanID, inst.InstanceID, taskID, from, to, message))
	if len(promoted) > 0 {
		r.publish(event.NewTasksReadyEvent(inst.InstanceID, promoted, taskID))
	}
	if settled {
		r.logger.WithInstance(inst.InstanceID).Info("instance settled",
			"status", inst.Status, "counts", inst.Counts())
		r.publishInstance(inst, prevStatus, inst.Status)
	}
	return true, nil
}

// Cancel moves every non-terminal task and the instance itself to
// CANCELLED. It returns false without changing anything when the instance
// is already terminal.
func (r *Resolver) Cancel(ctx context.Context, inst *plan.Instance) (bool, error) {
	defer r.lock(inst)()

	if inst.IsTerminal() {
		return false, nil
	}

	now := r.timestamp()
	next := inst.Clone()
	type change struct {
		id   string
		from plan.TaskStatus
	}
	var cancelled []change
	for i := range next.Tasks {
		t := &next.Tasks[i]
		if t.Status.IsTerminal() {
			continue
		}
		cancelled = append(cancelled, change{id: t.ID, from: t.Status})
		t.Status = plan.TaskCancelled
		t.CompletedAt = &now
	}
	from := next.Status
	next.Status = plan.InstanceCancelled
	next.CompletedAt = &now

	if err := r.commit(ctx, inst, next); err != nil {
		return false, err
	}

	r.logger.WithInstance(inst.InstanceID).Info("instance cancelled", "tasks_cancelled", len(cancelled))
	for _, c := range cancelled {
		r.publish(event.NewTaskStatusChangedEvent(inst.PlanID, inst.InstanceID, c.id,
			c.from, plan.TaskCancelled, ""))
	}
	r.publishInstance(inst, from, plan.InstanceCancelled)
	return true, nil
}

// Resume prepares a RUNNING instance loaded from storage after an
// interrupted run: tasks left RUNNING are moved back to READY so they are
// dispatched again. It returns the ids of the requeued tasks.
func (r *Resolver) Resume(ctx context.Context, inst *plan.Instance) ([]string, error) {
	defer r.lock(inst)()

	if inst.Status != plan.InstanceRunning {
		return nil, nil
	}

	now := r.timestamp()
	next := inst.Clone()
	var requeued []string
	for i := range next.Tasks {
		t := &next.Tasks[i]
		if t.Status == plan.TaskRunning {
			t.Status = plan.TaskReady
			t.StartedAt = nil
			requeued = append(requeued, t.ID)
		}
	}
	promoted := promote(next)
	settled := settle(next, now)

	if len(requeued) == 0 && len(promoted) == 0 && !settled {
		return nil, nil
	}
	if err := r.commit(ctx, inst, next); err != nil {
		return nil, err
	}

	r.logger.WithInstance(inst.InstanceID).Info("instance resumed", "requeued", requeued)
	for _, id := range requeued {
		r.publish(event.NewTaskStatusChangedEvent(inst.PlanID, inst.InstanceID, id,
			plan.TaskRunning, plan.TaskReady, ""))
	}
	if len(promoted) > 0 {
		r.publish(event.NewTasksReadyEvent(inst.InstanceID, promoted, ""))
	}
	if settled {
		r.publishInstance(inst, plan.InstanceRunning, inst.Status)
	}
	return requeued, nil
}

// commit saves next and, only if the save succeeded, makes it the caller's
// instance. Pointers previously obtained from inst.Task refer to the old
// task slice afterwards.
//
// When the store reports that another writer already made the instance or
// one of its tasks terminal, the stored snapshot replaces inst and the
// returned error matches errors.ErrConflict.
func (r *Resolver) commit(ctx context.Context, inst, next *plan.Instance) error {
	err := r.store.SaveInstance(ctx, next)
	if err == nil {
		*inst = *next
		return nil
	}

	logger := r.logger.WithInstance(inst.InstanceID)
	if errors.Is(err, errors.ErrConflict) {
		stored, loadErr := r.store.LoadInstance(ctx, inst.ProjectID, inst.PlanID, inst.InstanceID)
		if loadErr != nil {
			logger.Error("failed to reload conflicting instance", "error", loadErr)
			return errors.Wrapf(errors.Join(err, loadErr), "save instance %s", inst.InstanceID)
		}
		from := inst.Status
		*inst = *stored
		logger.Warn("instance changed by another writer", "status", inst.Status, "error", err)
		if from != inst.Status {
			r.publishInstance(inst, from, inst.Status)
		}
		return errors.Wrapf(err, "save instance %s", inst.InstanceID)
	}

	logger.Error("failed to persist instance", "error", err)
	return errors.Wrapf(err, "save instance %s", inst.InstanceID)
}

func (r *Resolver) publish(e event.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

func (r *Resolver) publishInstance(inst *plan.Instance, from, to plan.InstanceStatus) {
	r.publish(event.NewInstanceStatusChangedEvent(inst.PlanID, inst.InstanceID, from, to))
}
