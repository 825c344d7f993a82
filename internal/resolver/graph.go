package resolver

import (
	"time"

	"github.com/Iron-Ham/planrunner/internal/plan"
)

func indexTasks(inst *plan.Instance) map[string]*plan.Task {
	byID := make(map[string]*plan.Task, len(inst.Tasks))
	for i := range inst.Tasks {
		if _, dup := byID[inst.Tasks[i].ID]; !dup {
			byID[inst.Tasks[i].ID] = &inst.Tasks[i]
		}
	}
	return byID
}

// needsCompleted reports whether every need of t refers to a COMPLETED task.
// A need naming a missing task is never satisfied.
func needsCompleted(t plan.Task, byID map[string]*plan.Task) bool {
	for _, dep := range t.Needs {
		d, ok := byID[dep]
		if !ok || d.Status != plan.TaskCompleted {
			return false
		}
	}
	return true
}

// promote moves every CREATED task whose needs are all COMPLETED to READY and
// returns the promoted ids in collection order.
func promote(inst *plan.Instance) []string {
	byID := indexTasks(inst)
	var promoted []string
	for i := range inst.Tasks {
		t := &inst.Tasks[i]
		if t.Status == plan.TaskCreated && needsCompleted(*t, byID) {
			t.Status = plan.TaskReady
			promoted = append(promoted, t.ID)
		}
	}
	return promoted
}

// settle decides the outcome of a RUNNING instance once no task is READY or
// RUNNING. CREATED tasks left at that point are blocked for good. The
// instance becomes COMPLETED when every task completed, FAILED when a task
// failed or a blocked task traces back to a failure, a missing need or a
// cycle, and CANCELLED otherwise. Reports whether the status changed.
func settle(inst *plan.Instance, now time.Time) bool {
	if inst.Status != plan.InstanceRunning {
		return false
	}
	byID := indexTasks(inst)
	for _, t := range inst.Tasks {
		if t.Status == plan.TaskReady || t.Status == plan.TaskRunning {
			return false
		}
		// A CREATED task with every need completed is still runnable.
		if t.Status == plan.TaskCreated && needsCompleted(t, byID) {
			return false
		}
	}

	counts := inst.Counts()
	a := newAnalysis(inst)
	switch {
	case counts.Completed == counts.Total:
		inst.Status = plan.InstanceCompleted
	case counts.Failed > 0 || a.anyCause(causeFailed):
		inst.Status = plan.InstanceFailed
	default:
		inst.Status = plan.InstanceCancelled
	}
	inst.CompletedAt = &now
	return true
}

// blockCause explains why a CREATED task cannot become READY.
type blockCause int

const (
	// causeNone means the task is still waiting on tasks that may complete.
	causeNone blockCause = iota
	// causeCancelled means a needed task was cancelled.
	causeCancelled
	// causeFailed means a needed task failed, does not exist, or is part
	// of a cycle. It takes precedence over causeCancelled.
	causeFailed
)

// analysis computes block causes for the CREATED tasks of an instance.
type analysis struct {
	inst     *plan.Instance
	byID     map[string]*plan.Task
	memo     map[string]blockCause
	visiting map[string]bool
}

func newAnalysis(inst *plan.Instance) *analysis {
	return &analysis{
		inst:     inst,
		byID:     indexTasks(inst),
		memo:     make(map[string]blockCause),
		visiting: make(map[string]bool),
	}
}

// cause returns the strongest reason the CREATED task id can never run.
func (a *analysis) cause(id string) blockCause {
	if c, ok := a.memo[id]; ok {
		return c
	}
	if a.visiting[id] {
		return causeFailed
	}
	a.visiting[id] = true
	defer delete(a.visiting, id)

	result := causeNone
	for _, dep := range a.byID[id].Needs {
		d, ok := a.byID[dep]
		var c blockCause
		switch {
		case !ok:
			c = causeFailed
		case d.Status == plan.TaskFailed:
			c = causeFailed
		case d.Status == plan.TaskCancelled:
			c = causeCancelled
		case d.Status == plan.TaskCreated:
			c = a.cause(dep)
		}
		if c > result {
			result = c
		}
		if result == causeFailed {
			break
		}
	}

	a.memo[id] = result
	return result
}

// blocked returns the ids of CREATED tasks with a block cause, in collection order.
func (a *analysis) blocked() []string {
	var ids []string
	for _, t := range a.inst.Tasks {
		if t.Status == plan.TaskCreated && a.cause(t.ID) != causeNone {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func (a *analysis) anyCause(c blockCause) bool {
	for _, t := range a.inst.Tasks {
		if t.Status == plan.TaskCreated && a.cause(t.ID) == c {
			return true
		}
	}
	return false
}
