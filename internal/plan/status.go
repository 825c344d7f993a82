package plan

// TaskStatus represents the execution state of a single task.
//
// Tasks move through these states:
//
//	CREATED --(needs empty / all needs COMPLETED)--> READY
//	READY   --(dispatched)--> RUNNING
//	RUNNING --(success)--> COMPLETED
//	RUNNING --(error)--> FAILED
//	{CREATED,READY,RUNNING} --(cancel)--> CANCELLED
//
// READY tasks may also complete or fail directly, for callers that drive the
// resolver without marking tasks as running first.
type TaskStatus string

const (
	// TaskCreated indicates the task exists but its dependencies are not yet satisfied.
	TaskCreated TaskStatus = "CREATED"

	// TaskReady indicates every dependency has completed and the task may be dispatched.
	TaskReady TaskStatus = "READY"

	// TaskRunning indicates the task has been handed to a performer.
	TaskRunning TaskStatus = "RUNNING"

	// TaskCompleted indicates the performer reported success.
	TaskCompleted TaskStatus = "COMPLETED"

	// TaskFailed indicates the performer reported failure, raised, or timed out.
	TaskFailed TaskStatus = "FAILED"

	// TaskCancelled indicates the task or its instance was cancelled.
	TaskCancelled TaskStatus = "CANCELLED"
)

var taskTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskCreated: {
		TaskReady:     {},
		TaskCancelled: {},
	},
	TaskReady: {
		TaskRunning:   {},
		TaskCompleted: {},
		TaskFailed:    {},
		TaskCancelled: {},
	},
	TaskRunning: {
		TaskCompleted: {},
		TaskFailed:    {},
		TaskCancelled: {},
	},
}

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
// Terminal statuses are sticky: no transition leaves them.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// IsValid returns true if this is a recognized task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskCreated, TaskReady, TaskRunning, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	_, ok := taskTransitions[s][next]
	return ok
}

// InstanceStatus represents the lifecycle state of a plan instance.
type InstanceStatus string

const (
	// InstanceCreated indicates the instance has not been started.
	InstanceCreated InstanceStatus = "CREATED"

	// InstanceRunning indicates the instance has been started and tasks may be dispatched.
	InstanceRunning InstanceStatus = "RUNNING"

	// InstanceCompleted indicates every task completed successfully.
	InstanceCompleted InstanceStatus = "COMPLETED"

	// InstanceFailed indicates at least one task failed and no further progress is possible.
	InstanceFailed InstanceStatus = "FAILED"

	// InstanceCancelled indicates the instance was cancelled.
	InstanceCancelled InstanceStatus = "CANCELLED"

	// InstancePaused is reserved. No operation transitions an instance into it.
	InstancePaused InstanceStatus = "PAUSED"
)

// String returns the string representation of the instance status.
func (s InstanceStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceCompleted || s == InstanceFailed || s == InstanceCancelled
}

// IsValid returns true if this is a recognized instance status.
func (s InstanceStatus) IsValid() bool {
	switch s {
	case InstanceCreated, InstanceRunning, InstanceCompleted, InstanceFailed, InstanceCancelled, InstancePaused:
		return true
	default:
		return false
	}
}

// PlanStatus is the informational status of a plan definition.
type PlanStatus string

const (
	// PlanDraft is the default status of a newly created plan.
	PlanDraft PlanStatus = "DRAFT"
	// PlanActive marks a plan that has been instantiated at least once.
	PlanActive PlanStatus = "ACTIVE"
	// PlanArchived marks a plan the caller no longer intends to run.
	PlanArchived PlanStatus = "ARCHIVED"
)

// String returns the string representation of the plan status.
func (s PlanStatus) String() string {
	return string(s)
}

// IsValid returns true if this is a recognized plan status.
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanDraft, PlanActive, PlanArchived:
		return true
	default:
		return false
	}
}

// StatusCounts is a snapshot of how many tasks are in each status.
type StatusCounts struct {
	Total     int `json:"total"`
	Created   int `json:"created"`
	Ready     int `json:"ready"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Terminal returns the number of tasks in a terminal status.
func (c StatusCounts) Terminal() int {
	return c.Completed + c.Failed + c.Cancelled
}
