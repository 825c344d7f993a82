package event

import (
	"time"

	"github.com/Iron-Ham/planrunner/internal/plan"
)

// Event type identifiers.
const (
	TypeTaskStatusChanged     = "task.status_changed"
	TypeTasksReady            = "task.ready"
	TypeInstanceStatusChanged = "instance.status_changed"
	TypeExecutorProgress      = "executor.progress"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// TaskStatusChangedEvent is emitted after a task transition has been persisted.
type TaskStatusChangedEvent struct {
	baseEvent
	PlanID     string
	InstanceID string
	TaskID     string
	From       plan.TaskStatus
	To         plan.TaskStatus
	Message    string // error message for FAILED, empty otherwise
}

// NewTaskStatusChangedEvent creates a TaskStatusChangedEvent.
func NewTaskStatusChangedEvent(planID, instanceID, taskID string, from, to plan.TaskStatus, message string) TaskStatusChangedEvent {
	return TaskStatusChangedEvent{
		baseEvent:  newBaseEvent(TypeTaskStatusChanged),
		PlanID:     planID,
		InstanceID: instanceID,
		TaskID:     taskID,
		From:       from,
		To:         to,
		Message:    message,
	}
}

// TasksReadyEvent is emitted when tasks become READY, either at start or
// because the task they waited on completed.
type TasksReadyEvent struct {
	baseEvent
	InstanceID  string
	TaskIDs     []string
	UnblockedBy string // empty when triggered by start
}

// NewTasksReadyEvent creates a TasksReadyEvent.
func NewTasksReadyEvent(instanceID string, taskIDs []string, unblockedBy string) TasksReadyEvent {
	return TasksReadyEvent{
		baseEvent:   newBaseEvent(TypeTasksReady),
		InstanceID:  instanceID,
		TaskIDs:     taskIDs,
		UnblockedBy: unblockedBy,
	}
}

// InstanceStatusChangedEvent is emitted after an instance transition has been persisted.
type InstanceStatusChangedEvent struct {
	baseEvent
	PlanID     string
	InstanceID string
	From       plan.InstanceStatus
	To         plan.InstanceStatus
}

// NewInstanceStatusChangedEvent creates an InstanceStatusChangedEvent.
func NewInstanceStatusChangedEvent(planID, instanceID string, from, to plan.InstanceStatus) InstanceStatusChangedEvent {
	return InstanceStatusChangedEvent{
		baseEvent:  newBaseEvent(TypeInstanceStatusChanged),
		PlanID:     planID,
		InstanceID: instanceID,
		From:       from,
		To:         to,
	}
}

// ProgressEvent reports executor counters after each integrated result.
type ProgressEvent struct {
	baseEvent
	InstanceID string
	Completed  int
	Failed     int
	Running    int
	Total      int
}

// NewProgressEvent creates a ProgressEvent.
func NewProgressEvent(instanceID string, completed, failed, running, total int) ProgressEvent {
	return ProgressEvent{
		baseEvent:  newBaseEvent(TypeExecutorProgress),
		InstanceID: instanceID,
		Completed:  completed,
		Failed:     failed,
		Running:    running,
		Total:      total,
	}
}
