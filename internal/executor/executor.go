package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/planrunner/internal/errors"
	"github.com/Iron-Ham/planrunner/internal/event"
	"github.com/Iron-Ham/planrunner/internal/logging"
	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/resolver"
	"github.com/Iron-Ham/planrunner/internal/sharedctx"
)

// Config holds configuration for the executor.
type Config struct {
	// MaxParallel is the maximum number of tasks performed concurrently.
	MaxParallel int

	// TaskTimeout bounds a single Perform call. Zero disables the timeout.
	TaskTimeout time.Duration
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallel: 3,
		TaskTimeout: 0,
	}
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBus publishes progress events on bus.
func WithBus(bus *event.Bus) Option {
	return func(e *Executor) {
		e.bus = bus
	}
}

// WithSharedContext sets the store performers share outputs through.
// Defaults to a fresh in-memory store.
func WithSharedContext(shared sharedctx.Store) Option {
	return func(e *Executor) {
		if shared != nil {
			e.shared = shared
		}
	}
}

// Executor runs plan instances. One executor runs one instance at a time.
type Executor struct {
	config    Config
	resolver  *resolver.Resolver
	performer Performer
	logger    *logging.Logger
	bus       *event.Bus
	shared    sharedctx.Store

	mu       sync.RWMutex
	active   bool
	progress Progress
	results  map[string]Result
}

// New creates an executor. A non-positive MaxParallel falls back to the default.
func New(cfg Config, r *resolver.Resolver, performer Performer, opts ...Option) *Executor {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultConfig().MaxParallel
	}
	e := &Executor{
		config:    cfg,
		resolver:  r,
		performer: performer,
		logger:    logging.NopLogger(),
		shared:    sharedctx.NewMemory(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SharedContext returns the store performers write outputs to.
func (e *Executor) SharedContext() sharedctx.Store {
	return e.shared
}

// Progress returns the current progress of the active or last run.
func (e *Executor) Progress() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.progress
}

// outcome is sent from a pool goroutine back to the run loop.
type outcome struct {
	taskID string
	result Result
	err    error
}

// slot is one dispatched task. A timed-out slot keeps counting against
// MaxParallel until its performer returns.
type slot struct {
	cancel   context.CancelFunc
	timer    *time.Timer
	timedOut bool
}

func (s *slot) stop() {
	s.cancel()
	if s.timer != nil {
		s.timer.Stop()
	}
}

// run holds the state of one Run call. Only the loop goroutine touches it.
type run struct {
	inst      *plan.Instance
	logger    *logging.Logger
	pool      *pool.Pool
	outcomes  chan outcome
	expired   chan string
	stopped   chan struct{}
	running   map[string]*slot
	persist   context.Context
	taskCtx   context.Context
	cancelAll context.CancelFunc
	cancelled bool
	fatal     error
}

// Run starts a CREATED instance, or resumes a RUNNING one, and dispatches
// tasks until nothing is running and nothing can become ready.
//
// A task whose performer returns an error, reports failure or panics is
// marked FAILED; independent branches keep running. A task that exceeds the
// task timeout is marked FAILED when the deadline passes, whether or not its
// performer has returned; its slot stays occupied until it does and the late
// result is discarded. When ctx is cancelled the instance is cancelled
// through the resolver, in-flight performers see their context cancelled and
// their late results are discarded. Run then returns the report together
// with ctx.Err(). When another process cancels the instance first, Run stops
// the same way and returns the report with the stored status and no error.
// A persistence error stops the run and is returned.
func (e *Executor) Run(ctx context.Context, inst *plan.Instance) (*Report, error) {
	if inst == nil {
		return nil, errors.New("instance is nil")
	}
	if err := e.begin(inst); err != nil {
		return nil, err
	}
	defer e.end()

	logger := e.logger.WithPlan(inst.PlanID).WithInstance(inst.InstanceID)

	// A conflict here means another process already finished the instance;
	// the resolver adopted the stored snapshot and the loop has nothing to do.
	switch inst.Status {
	case plan.InstanceCreated:
		if _, err := e.resolver.Start(ctx, inst); err != nil && !finishedBefore(inst, err) {
			return nil, fmt.Errorf("start instance: %w", err)
		}
	case plan.InstanceRunning:
		requeued, err := e.resolver.Resume(ctx, inst)
		if err != nil && !finishedBefore(inst, err) {
			return nil, fmt.Errorf("resume instance: %w", err)
		}
		if len(requeued) > 0 {
			logger.Info("requeued interrupted tasks", "tasks", requeued)
		}
	}

	// In-flight performers get their own cancellation so that a fatal
	// persistence error can stop them even while ctx is still live. Saves
	// made by the loop are not interrupted by ctx; the loop reacts to ctx
	// by cancelling the instance instead.
	taskCtx, cancelAll := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelAll()
	stopped := make(chan struct{})
	defer close(stopped)

	r := &run{
		inst:      inst,
		logger:    logger,
		pool:      pool.New().WithMaxGoroutines(e.config.MaxParallel),
		outcomes:  make(chan outcome, e.config.MaxParallel),
		expired:   make(chan string),
		stopped:   stopped,
		running:   make(map[string]*slot),
		persist:   context.WithoutCancel(ctx),
		taskCtx:   taskCtx,
		cancelAll: cancelAll,
	}

	logger.Info("executor started", "max_parallel", e.config.MaxParallel, "task_timeout", e.config.TaskTimeout)
	e.loop(ctx, r)
	r.pool.Wait()

	report := e.report(r)
	logger.Info("executor finished", "status", report.Status,
		"completed", report.Progress.Completed, "failed", report.Progress.Failed,
		"blocked", len(report.Blocked))

	if r.fatal != nil {
		return report, r.fatal
	}
	if r.cancelled {
		return report, ctx.Err()
	}
	return report, nil
}

func (e *Executor) begin(inst *plan.Instance) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return errors.New("executor is already running an instance")
	}
	e.active = true
	e.results = make(map[string]Result)
	e.progress = progressOf(inst, 0)
	return nil
}

func (e *Executor) end() {
	e.mu.Lock()
	e.active = false
	e.mu.Unlock()
}

// loop is the single goroutine that talks to the resolver.
func (e *Executor) loop(ctx context.Context, r *run) {
	done := ctx.Done()
	for {
		if !r.cancelled && r.fatal == nil {
			if ctx.Err() != nil {
				e.cancel(ctx, r)
				done = nil
			} else {
				e.dispatch(r)
			}
		}
		e.updateProgress(r)

		if len(r.running) == 0 {
			return
		}

		select {
		case o := <-r.outcomes:
			e.handle(r, o)
		case id := <-r.expired:
			e.expire(r, id)
		case <-done:
			e.cancel(ctx, r)
			done = nil
		}
	}
}

// dispatch marks ready tasks RUNNING and hands them to the pool until the
// parallelism limit is reached.
func (e *Executor) dispatch(r *run) {
	for _, t := range e.resolver.ReadyTasks(r.inst) {
		if len(r.running) >= e.config.MaxParallel {
			return
		}
		if _, ok := r.running[t.ID]; ok || t.Status != plan.TaskReady {
			continue
		}
		if _, err := e.resolver.MarkRunning(r.persist, r.inst, t.ID); err != nil {
			if !e.finishedElsewhere(r, err) {
				e.fail(r, fmt.Errorf("mark task %s running: %w", t.ID, err))
			}
			return
		}

		var (
			taskCtx context.Context
			cancel  context.CancelFunc
		)
		if e.config.TaskTimeout > 0 {
			taskCtx, cancel = context.WithTimeout(r.taskCtx, e.config.TaskTimeout)
		} else {
			taskCtx, cancel = context.WithCancel(r.taskCtx)
		}
		s := &slot{cancel: cancel}
		if e.config.TaskTimeout > 0 {
			id := t.ID
			s.timer = time.AfterFunc(e.config.TaskTimeout, func() {
				select {
				case r.expired <- id:
				case <-r.stopped:
				}
			})
		}
		r.running[t.ID] = s

		r.logger.WithTask(t.ID).Debug("task dispatched", "running", len(r.running))
		r.pool.Go(func() {
			r.outcomes <- e.perform(taskCtx, t)
		})
	}
}

// perform calls the performer and converts panics and deadline expiry into
// errors.
func (e *Executor) perform(ctx context.Context, task plan.Task) outcome {
	o := outcome{taskID: task.ID}
	var pc panics.Catcher
	pc.Try(func() {
		o.result, o.err = e.performer.Perform(ctx, task, e.shared)
	})
	if rec := pc.Recovered(); rec != nil {
		o.err = fmt.Errorf("performer panicked: %v", rec.Value)
		return o
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o.err = errors.NewTimeoutError("task "+task.ID, e.config.TaskTimeout)
	}
	return o
}

// handle applies one performer outcome to the instance.
func (e *Executor) handle(r *run, o outcome) {
	s, ok := r.running[o.taskID]
	if ok {
		s.stop()
		delete(r.running, o.taskID)
	}
	logger := r.logger.WithTask(o.taskID)

	// After cancellation or a fatal error every task left is already
	// CANCELLED or will not be recorded. A timed-out task is already FAILED.
	if r.cancelled || r.fatal != nil || (ok && s.timedOut) {
		logger.Debug("discarding late result")
		return
	}

	result := o.result
	if o.err != nil {
		result = Result{Status: ResultFailure, Message: o.err.Error()}
	} else if !result.Succeeded() && result.Message == "" {
		result.Message = "task reported failure"
	}

	if result.Succeeded() {
		if err := e.storeOutput(r.persist, o.taskID, result.Output); err != nil {
			result = Result{Status: ResultFailure, Output: result.Output, Message: err.Error()}
		}
	}
	e.apply(r, o.taskID, result)
}

// expire fails a task whose deadline passed before its performer returned.
// The slot stays in r.running until the performer's outcome arrives.
func (e *Executor) expire(r *run, taskID string) {
	s, ok := r.running[taskID]
	if !ok || s.timedOut || r.cancelled || r.fatal != nil {
		return
	}
	s.timedOut = true
	s.cancel()

	err := errors.NewTimeoutError("task "+taskID, e.config.TaskTimeout)
	e.apply(r, taskID, Result{Status: ResultFailure, Message: err.Error()})
}

// apply records result and moves the task to COMPLETED or FAILED.
func (e *Executor) apply(r *run, taskID string, result Result) {
	logger := r.logger.WithTask(taskID)
	e.record(taskID, result)

	var err error
	if result.Succeeded() {
		_, err = e.resolver.MarkCompleted(r.persist, r.inst, taskID)
	} else {
		logger.Warn("task failed", "error", result.Message)
		_, err = e.resolver.MarkFailed(r.persist, r.inst, taskID, result.Message)
	}
	if err != nil {
		if e.finishedElsewhere(r, err) {
			e.forget(taskID)
			return
		}
		e.fail(r, fmt.Errorf("record result of task %s: %w", taskID, err))
		return
	}
	if result.Succeeded() {
		logger.Info("task completed")
	}
}

func finishedBefore(inst *plan.Instance, err error) bool {
	return errors.Is(err, errors.ErrConflict) && inst.IsTerminal()
}

// finishedElsewhere reports whether err means another writer already made
// the instance terminal. The resolver has then adopted the stored snapshot;
// the run stops like a cancellation and every later result is discarded.
func (e *Executor) finishedElsewhere(r *run, err error) bool {
	if !finishedBefore(r.inst, err) {
		return false
	}
	r.cancelled = true
	r.logger.Warn("instance finished by another writer", "status", r.inst.Status, "in_flight", len(r.running))
	r.cancelAll()
	return true
}

// storeOutput writes a task output to the shared context. Byte slices and
// strings are stored verbatim; other values as JSON.
func (e *Executor) storeOutput(ctx context.Context, taskID string, output any) error {
	if output == nil {
		return nil
	}
	var data []byte
	switch v := output.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
	}
	if err := e.shared.Put(ctx, taskID, sharedctx.KindOutput, data); err != nil {
		return fmt.Errorf("store output: %w", err)
	}
	return nil
}

// cancel cancels the instance and every in-flight performer.
func (e *Executor) cancel(ctx context.Context, r *run) {
	r.cancelled = true
	r.logger.Info("run cancelled", "in_flight", len(r.running), "reason", ctx.Err())
	if _, err := e.resolver.Cancel(r.persist, r.inst); err != nil && !e.finishedElsewhere(r, err) {
		r.fatal = fmt.Errorf("cancel instance: %w", err)
		r.logger.Error("failed to cancel instance", "error", err)
	}
	r.cancelAll()
}

// fail records a fatal error and stops all in-flight performers.
func (e *Executor) fail(r *run, err error) {
	r.fatal = err
	r.logger.Error("run aborted", "error", err)
	r.cancelAll()
}

func (e *Executor) record(taskID string, result Result) {
	e.mu.Lock()
	e.results[taskID] = result
	e.mu.Unlock()
}

func (e *Executor) forget(taskID string) {
	e.mu.Lock()
	delete(e.results, taskID)
	e.mu.Unlock()
}

func (e *Executor) updateProgress(r *run) {
	p := progressOf(r.inst, len(r.running))
	if len(r.running) == 0 {
		p.IsComplete = r.inst.IsTerminal() || len(e.resolver.ReadyTasks(r.inst)) == 0
	}

	e.mu.Lock()
	changed := p != e.progress
	e.progress = p
	e.mu.Unlock()

	if changed && e.bus != nil {
		e.bus.Publish(event.NewProgressEvent(r.inst.InstanceID, p.Completed, p.Failed, p.Running, p.Total))
	}
}

func (e *Executor) report(r *run) *Report {
	e.mu.RLock()
	results := make(map[string]Result, len(e.results))
	for id, res := range e.results {
		results[id] = res
	}
	progress := e.progress
	e.mu.RUnlock()

	return &Report{
		Progress: progress,
		Blocked:  e.resolver.Blocked(r.inst),
		Status:   r.inst.Status,
		Results:  results,
	}
}

func progressOf(inst *plan.Instance, running int) Progress {
	c := inst.Counts()
	return Progress{
		Total:     c.Total,
		Completed: c.Completed,
		Failed:    c.Failed,
		Cancelled: c.Cancelled,
		Running:   running,
	}
}
