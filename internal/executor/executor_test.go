package executor

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/planrunner/internal/errors"
	"github.com/Iron-Ham/planrunner/internal/event"
	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/resolver"
	"github.com/Iron-Ham/planrunner/internal/sharedctx"
	"github.com/Iron-Ham/planrunner/internal/store"
)

func task(id string, needs ...string) plan.Task {
	return plan.Task{ID: id, Name: id, Role: "worker", Needs: needs}
}

func newInstance(tasks ...plan.Task) *plan.Instance {
	p := &plan.Plan{ID: "plan", ProjectID: "proj", Tasks: tasks}
	return plan.NewInstance(p, "inst", time.Now())
}

func setup(t *testing.T) (*resolver.Resolver, *store.FileStore) {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return resolver.New(fs), fs
}

func succeed(_ context.Context, task plan.Task, _ sharedctx.Store) (Result, error) {
	return Result{Status: ResultSuccess, Output: "out-" + task.ID}, nil
}

func statusOf(t *testing.T, inst *plan.Instance, id string) plan.TaskStatus {
	t.Helper()
	task, ok := inst.Task(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	return task.Status
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxParallel != 3 {
		t.Errorf("MaxParallel = %d, want 3", cfg.MaxParallel)
	}
	if cfg.TaskTimeout != 0 {
		t.Errorf("TaskTimeout = %v, want 0", cfg.TaskTimeout)
	}

	e := New(Config{MaxParallel: 0}, nil, PerformerFunc(succeed))
	if e.config.MaxParallel != 3 {
		t.Errorf("non-positive MaxParallel not defaulted: %d", e.config.MaxParallel)
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	r, fs := setup(t)
	var tasks []plan.Task
	for i := range 10 {
		tasks = append(tasks, task(fmt.Sprintf("t%d", i)))
	}
	inst := newInstance(tasks...)

	var current, peak atomic.Int32
	perf := PerformerFunc(func(ctx context.Context, task plan.Task, _ sharedctx.Store) (Result, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return Result{Status: ResultSuccess}, nil
	})

	e := New(Config{MaxParallel: 3}, r, perf)
	report, err := e.Run(context.Background(), inst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := peak.Load(); got > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", got)
	}
	if report.Status != plan.InstanceCompleted {
		t.Errorf("status = %s, want COMPLETED", report.Status)
	}
	if report.Progress.Completed != 10 || !report.Progress.IsComplete {
		t.Errorf("progress = %+v", report.Progress)
	}
	if len(report.Results) != 10 {
		t.Errorf("results = %d, want 10", len(report.Results))
	}

	loaded, err := fs.LoadInstance(context.Background(), "proj", "plan", "inst")
	if err != nil {
		t.Fatalf("LoadInstance: %v", err)
	}
	if loaded.Status != plan.InstanceCompleted {
		t.Errorf("persisted status = %s, want COMPLETED", loaded.Status)
	}
}

func TestRun_RespectsDependenciesAndSharesOutputs(t *testing.T) {
	r, _ := setup(t)
	inst := newInstance(task("A"), task("B", "A"), task("C", "A"), task("D", "B", "C"))

	var mu sync.Mutex
	var order []string
	inputs := map[string][]string{}
	perf := PerformerFunc(func(ctx context.Context, task plan.Task, shared sharedctx.Store) (Result, error) {
		var seen []string
		for _, need := range task.Needs {
			v, err := shared.Get(ctx, need, sharedctx.KindOutput)
			if err != nil {
				return Result{}, fmt.Errorf("missing input from %s: %w", need, err)
			}
			seen = append(seen, string(v))
		}
		mu.Lock()
		order = append(order, task.ID)
		inputs[task.ID] = seen
		mu.Unlock()
		return Result{Status: ResultSuccess, Output: "out-" + task.ID}, nil
	})

	report, err := New(Config{MaxParallel: 2}, r, perf).Run(context.Background(), inst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != plan.InstanceCompleted {
		t.Fatalf("status = %s, results = %+v", report.Status, report.Results)
	}

	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos["A"] > pos["B"] || pos["A"] > pos["C"] || pos["B"] > pos["D"] || pos["C"] > pos["D"] {
		t.Errorf("dependency order violated: %v", order)
	}
	if got := inputs["D"]; !reflect.DeepEqual(got, []string{"out-B", "out-C"}) {
		t.Errorf("D inputs = %v", got)
	}
}

func TestRun_PartialFailure(t *testing.T) {
	r, _ := setup(t)
	inst := newInstance(task("A"), task("B", "A"), task("C", "A"), task("D", "B"))

	var ran sync.Map
	perf := PerformerFunc(func(ctx context.Context, task plan.Task, _ sharedctx.Store) (Result, error) {
		ran.Store(task.ID, true)
		if task.ID == "B" {
			return Result{Status: ResultFailure, Message: "bad input"}, nil
		}
		return Result{Status: ResultSuccess}, nil
	})

	report, err := New(DefaultConfig(), r, perf).Run(context.Background(), inst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status != plan.InstanceFailed {
		t.Errorf("status = %s, want FAILED", report.Status)
	}
	if !reflect.DeepEqual(report.Blocked, []string{"D"}) {
		t.Errorf("blocked = %v, want [D]", report.Blocked)
	}
	if report.Progress.Completed != 2 || report.Progress.Failed != 1 {
		t.Errorf("progress = %+v", report.Progress)
	}
	if _, ok := ran.Load("C"); !ok {
		t.Error("independent task C did not run")
	}
	if _, ok := ran.Load("D"); ok {
		t.Error("D ran even though B failed")
	}
	b, _ := inst.Task("B")
	if b.Status != plan.TaskFailed || b.ErrorMessage != "bad input" {
		t.Errorf("B = %s %q", b.Status, b.ErrorMessage)
	}
	if statusOf(t, inst, "D") != plan.TaskCreated {
		t.Errorf("D = %s, want CREATED", statusOf(t, inst, "D"))
	}
}

func TestRun_ErrorsAndPanics(t *testing.T) {
	r, _ := setup(t)
	inst := newInstance(task("err"), task("panic"), task("fail-no-message"), task("ok"))

	perf := PerformerFunc(func(ctx context.Context, task plan.Task, _ sharedctx.Store) (Result, error) {
		switch task.ID {
		case "err":
			return Result{}, fmt.Errorf("connection refused")
		case "panic":
			panic("nil map")
		case "fail-no-message":
			return Result{Status: ResultFailure}, nil
		}
		return Result{Status: ResultSuccess}, nil
	})

	report, err := New(Config{MaxParallel: 4}, r, perf).Run(context.Background(), inst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	tests := []struct {
		id      string
		status  plan.TaskStatus
		message string
	}{
		{"err", plan.TaskFailed, "connection refused"},
		{"panic", plan.TaskFailed, "performer panicked: nil map"},
		{"fail-no-message", plan.TaskFailed, "task reported failure"},
		{"ok", plan.TaskCompleted, ""},
	}
	for _, tt := range tests {
		got, _ := inst.Task(tt.id)
		if got.Status != tt.status {
			t.Errorf("%s: status = %s, want %s", tt.id, got.Status, tt.status)
		}
		if !strings.Contains(got.ErrorMessage, tt.message) {
			t.Errorf("%s: message = %q, want %q", tt.id, got.ErrorMessage, tt.message)
		}
	}
	if report.Status != plan.InstanceFailed {
		t.Errorf("status = %s, want FAILED", report.Status)
	}
	if report.Results["panic"].Status != ResultFailure {
		t.Errorf("panic result = %+v", report.Results["panic"])
	}
}

func TestRun_TaskTimeout(t *testing.T) {
	r, _ := setup(t)
	inst := newInstance(task("slow"), task("after", "slow"), task("fast"))

	perf := PerformerFunc(func(ctx context.Context, task plan.Task, _ sharedctx.Store) (Result, error) {
		if task.ID == "slow" {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}
		return Result{Status: ResultSuccess}, nil
	})

	e := New(Config{MaxParallel: 2, TaskTimeout: 20 * time.Millisecond}, r, perf)
	report, err := e.Run(context.Background(), inst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	slow, _ := inst.Task("slow")
	if slow.Status != plan.TaskFailed || !strings.Contains(slow.ErrorMessage, "timeout") {
		t.Errorf("slow = %s %q, want FAILED with timeout", slow.Status, slow.ErrorMessage)
	}
	if statusOf(t, inst, "fast") != plan.TaskCompleted {
		t.Error("fast task should complete")
	}
	if !reflect.DeepEqual(report.Blocked, []string{"after"}) {
		t.Errorf("blocked = %v, want [after]", report.Blocked)
	}
}

func TestRun_TaskTimeoutWithUncooperativePerformer(t *testing.T) {
	r, fs := setup(t)
	inst := newInstance(task("stubborn"), task("other"), task("after", "stubborn"))

	release := make(chan struct{})
	var otherStarted atomic.Int32
	perf := PerformerFunc(func(ctx context.Context, task plan.Task, _ sharedctx.Store) (Result, error) {
		switch task.ID {
		case "stubborn":
			<-release
		case "other":
			otherStarted.Add(1)
		}
		return Result{Status: ResultSuccess}, nil
	})

	type runResult struct {
		report *Report
		err    error
	}
	done := make(chan runResult, 1)
	e := New(Config{MaxParallel: 1, TaskTimeout: 20 * time.Millisecond}, r, perf)
	go func() {
		report, err := e.Run(context.Background(), inst)
		done <- runResult{report, err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		loaded, err := fs.LoadInstance(context.Background(), "proj", "plan", "inst")
		if err == nil {
			if st, _ := loaded.Task("stubborn"); st.Status == plan.TaskFailed {
				if !strings.Contains(st.ErrorMessage, "timeout") {
					t.Errorf("error message = %q, want a timeout", st.ErrorMessage)
				}
				break
			}
		}
		if time.Now().After(deadline) {
			close(release)
			t.Fatal("stubborn task was not failed after its deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if otherStarted.Load() != 0 {
		t.Error("timed-out task released its slot before its performer returned")
	}
	if got := e.Progress().Running; got != 1 {
		t.Errorf("running = %d, want 1 while the performer is still busy", got)
	}

	close(release)
	res := <-done
	if res.err != nil {
		t.Fatalf("Run: %v", res.err)
	}
	if statusOf(t, inst, "stubborn") != plan.TaskFailed {
		t.Errorf("late success overwrote the timeout: stubborn = %s", statusOf(t, inst, "stubborn"))
	}
	if statusOf(t, inst, "other") != plan.TaskCompleted {
		t.Error("other task should complete")
	}
	if res.report.Results["stubborn"].Status != ResultFailure {
		t.Errorf("stubborn result = %+v", res.report.Results["stubborn"])
	}
	if !reflect.DeepEqual(res.report.Blocked, []string{"after"}) {
		t.Errorf("blocked = %v, want [after]", res.report.Blocked)
	}
	if res.report.Status != plan.InstanceFailed {
		t.Errorf("status = %s, want FAILED", res.report.Status)
	}
}

func TestRun_CancelledByAnotherProcess(t *testing.T) {
	r, fs := setup(t)
	inst := newInstance(task("a"), task("b", "a"))

	var bCalled atomic.Int32
	perf := PerformerFunc(func(ctx context.Context, task plan.Task, _ sharedctx.Store) (Result, error) {
		if task.ID == "b" {
			bCalled.Add(1)
			return Result{Status: ResultSuccess}, nil
		}
		// Another process cancels the stored instance while a runs.
		loaded, err := fs.LoadInstance(ctx, "proj", "plan", "inst")
		if err != nil {
			return Result{}, err
		}
		if _, err := resolver.New(fs).Cancel(ctx, loaded); err != nil {
			return Result{}, err
		}
		return Result{Status: ResultSuccess, Output: "a-out"}, nil
	})

	report, err := New(DefaultConfig(), r, perf).Run(context.Background(), inst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != plan.InstanceCancelled {
		t.Errorf("report status = %s, want CANCELLED", report.Status)
	}
	if _, ok := report.Results["a"]; ok {
		t.Error("result of a should be discarded")
	}
	if bCalled.Load() != 0 {
		t.Error("b was dispatched after the instance was cancelled")
	}

	stored, err := fs.LoadInstance(context.Background(), "proj", "plan", "inst")
	if err != nil {
		t.Fatalf("LoadInstance: %v", err)
	}
	if stored.Status != plan.InstanceCancelled {
		t.Errorf("stored status = %s, want CANCELLED", stored.Status)
	}
	for _, tk := range stored.Tasks {
		if tk.Status != plan.TaskCancelled {
			t.Errorf("stored task %s = %s, want CANCELLED", tk.ID, tk.Status)
		}
	}
}

func TestRun_Cancellation(t *testing.T) {
	r, fs := setup(t)
	inst := newInstance(task("a"), task("b"), task("c", "a"))

	started := make(chan struct{}, 2)
	var late atomic.Int32
	perf := PerformerFunc(func(ctx context.Context, task plan.Task, _ sharedctx.Store) (Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		late.Add(1)
		// A result that arrives after cancellation must be discarded.
		return Result{Status: ResultSuccess}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		<-started
		cancel()
	}()

	report, err := New(Config{MaxParallel: 2}, r, perf).Run(ctx, inst)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if late.Load() != 2 {
		t.Errorf("in-flight performers returned = %d, want 2", late.Load())
	}
	if report.Status != plan.InstanceCancelled {
		t.Errorf("status = %s, want CANCELLED", report.Status)
	}
	for _, id := range []string{"a", "b", "c"} {
		if got := statusOf(t, inst, id); got != plan.TaskCancelled {
			t.Errorf("%s = %s, want CANCELLED", id, got)
		}
	}

	loaded, err := fs.LoadInstance(context.Background(), "proj", "plan", "inst")
	if err != nil {
		t.Fatalf("LoadInstance: %v", err)
	}
	if loaded.Status != plan.InstanceCancelled {
		t.Errorf("persisted status = %s, want CANCELLED", loaded.Status)
	}
}

// failingStore fails every instance save after the first n.
type failingStore struct {
	store.Store
	mu    sync.Mutex
	saves int
	limit int
}

func (s *failingStore) SaveInstance(ctx context.Context, inst *plan.Instance) error {
	s.mu.Lock()
	s.saves++
	n := s.saves
	s.mu.Unlock()
	if n > s.limit {
		return fmt.Errorf("disk full")
	}
	return s.Store.SaveInstance(ctx, inst)
}

func TestRun_PersistenceErrorIsFatal(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	// Start and the first MarkRunning succeed; recording the result fails.
	r := resolver.New(&failingStore{Store: fs, limit: 2})
	inst := newInstance(task("a"), task("b", "a"))

	report, err := New(DefaultConfig(), r, PerformerFunc(succeed)).Run(context.Background(), inst)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Run() error = %v, want disk full", err)
	}
	if report == nil {
		t.Fatal("report should be returned with the error")
	}
	if statusOf(t, inst, "a") != plan.TaskRunning {
		t.Errorf("a = %s, want RUNNING (unsaved completion is not applied)", statusOf(t, inst, "a"))
	}
}

func TestRun_ResumesInterruptedInstance(t *testing.T) {
	r, _ := setup(t)
	ctx := context.Background()
	inst := newInstance(task("a"), task("b", "a"))
	if _, err := r.Start(ctx, inst); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := r.MarkRunning(ctx, inst, "a"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	var calls atomic.Int32
	perf := PerformerFunc(func(ctx context.Context, task plan.Task, _ sharedctx.Store) (Result, error) {
		calls.Add(1)
		return Result{Status: ResultSuccess}, nil
	})

	report, err := New(DefaultConfig(), r, perf).Run(ctx, inst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("performer calls = %d, want 2", calls.Load())
	}
	if report.Status != plan.InstanceCompleted {
		t.Errorf("status = %s, want COMPLETED", report.Status)
	}
}

func TestRun_TerminalInstance(t *testing.T) {
	r, _ := setup(t)
	inst := newInstance(task("a"))
	inst.Status = plan.InstanceCancelled

	perf := PerformerFunc(func(ctx context.Context, task plan.Task, _ sharedctx.Store) (Result, error) {
		t.Error("performer called for a terminal instance")
		return Result{}, nil
	})
	report, err := New(DefaultConfig(), r, perf).Run(context.Background(), inst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != plan.InstanceCancelled || !report.Progress.IsComplete {
		t.Errorf("report = %+v", report)
	}
}

func TestRun_NilInstance(t *testing.T) {
	r, _ := setup(t)
	if _, err := New(DefaultConfig(), r, PerformerFunc(succeed)).Run(context.Background(), nil); err == nil {
		t.Error("expected error for nil instance")
	}
}

func TestRun_RejectsConcurrentRuns(t *testing.T) {
	r, _ := setup(t)
	first := newInstance(task("a"))

	release := make(chan struct{})
	started := make(chan struct{})
	perf := PerformerFunc(func(ctx context.Context, task plan.Task, _ sharedctx.Store) (Result, error) {
		close(started)
		<-release
		return Result{Status: ResultSuccess}, nil
	})
	e := New(DefaultConfig(), r, perf)

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), first)
		done <- err
	}()
	<-started

	second := newInstance(task("x"))
	second.InstanceID = "second"
	if _, err := e.Run(context.Background(), second); err == nil {
		t.Error("expected error for a second concurrent Run")
	}
	// The loop publishes progress right after dispatching.
	deadline := time.Now().Add(time.Second)
	for e.Progress().Running != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p := e.Progress(); p.Running != 1 || p.IsComplete {
		t.Errorf("progress during run = %+v", p)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !e.Progress().IsComplete {
		t.Error("progress should be complete after Run")
	}
}

func TestRun_PublishesProgress(t *testing.T) {
	r, _ := setup(t)
	bus := event.NewBus()
	var mu sync.Mutex
	var events []event.ProgressEvent
	bus.Subscribe(event.TypeExecutorProgress, func(e event.Event) {
		mu.Lock()
		events = append(events, e.(event.ProgressEvent))
		mu.Unlock()
	})

	inst := newInstance(task("a"), task("b", "a"))
	if _, err := New(DefaultConfig(), r, PerformerFunc(succeed), WithBus(bus)).Run(context.Background(), inst); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 {
		t.Fatal("no progress events published")
	}
	last := events[len(events)-1]
	if last.Completed != 2 || last.Total != 2 || last.Running != 0 {
		t.Errorf("last progress = %+v", last)
	}
}

func TestRun_UsesConfiguredSharedContext(t *testing.T) {
	r, _ := setup(t)
	shared := sharedctx.NewMemory()
	inst := newInstance(task("a"), task("b"))

	e := New(DefaultConfig(), r, PerformerFunc(succeed), WithSharedContext(shared))
	if _, err := e.Run(context.Background(), inst); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.SharedContext() != shared {
		t.Error("SharedContext() did not return the configured store")
	}
	v, err := shared.Get(context.Background(), "b", sharedctx.KindOutput)
	if err != nil || string(v) != "out-b" {
		t.Errorf("shared output = %q, %v", v, err)
	}
}

func TestStoreOutput_Encoding(t *testing.T) {
	e := New(DefaultConfig(), nil, PerformerFunc(succeed))
	ctx := context.Background()

	tests := []struct {
		name   string
		output any
		want   string
	}{
		{"bytes", []byte("raw"), "raw"},
		{"string", "text", "text"},
		{"struct", map[string]int{"rows": 3}, `{"rows":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.storeOutput(ctx, tt.name, tt.output); err != nil {
				t.Fatalf("storeOutput: %v", err)
			}
			got, err := e.shared.Get(ctx, tt.name, sharedctx.KindOutput)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("stored %q, want %q", got, tt.want)
			}
		})
	}

	if err := e.storeOutput(ctx, "nil", nil); err != nil {
		t.Errorf("nil output: %v", err)
	}
	if err := e.storeOutput(ctx, "bad", make(chan int)); err == nil {
		t.Error("expected encode error for a channel output")
	}
}
