package plan

import (
	"time"

	"github.com/google/uuid"
)

// Task is a single unit of work inside a Plan or an Instance.
//
// Within a Plan the status fields are informational only; a Task becomes
// execution-tracked once it is copied into an Instance.
type Task struct {
	// ID is unique within the owning collection.
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`

	// Role names the performer category expected to execute the task.
	Role string `json:"role" yaml:"role"`

	// Parameters is passed to the performer untouched.
	Parameters map[string]any `json:"parameters" yaml:"parameters"`

	// Needs lists the ids of tasks that must be COMPLETED before this one is READY.
	Needs []string `json:"needs" yaml:"needs"`

	Status      TaskStatus `json:"status" yaml:"status"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	StartedAt   *time.Time `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at" yaml:"completed_at"`

	// ErrorMessage is set only when the task FAILED.
	ErrorMessage string `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	out := t
	out.Parameters = cloneMap(t.Parameters)
	if t.Needs != nil {
		out.Needs = append([]string{}, t.Needs...)
	}
	out.StartedAt = cloneTime(t.StartedAt)
	out.CompletedAt = cloneTime(t.CompletedAt)
	return out
}

// HasNeed reports whether id appears in the task's needs.
func (t Task) HasNeed(id string) bool {
	for _, n := range t.Needs {
		if n == id {
			return true
		}
	}
	return false
}

// Plan is a reusable template of task definitions for a project.
type Plan struct {
	ID          string         `json:"id" yaml:"id"`
	ProjectID   string         `json:"project_id" yaml:"project_id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Tasks       []Task         `json:"tasks" yaml:"tasks"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"updated_at"`
	Status      PlanStatus     `json:"status" yaml:"status"`
	Metadata    map[string]any `json:"metadata" yaml:"metadata"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Tasks = cloneTasks(p.Tasks)
	out.Metadata = cloneMap(p.Metadata)
	return &out
}

// Task returns the task definition with the given id.
func (p *Plan) Task(id string) (*Task, bool) {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i], true
		}
	}
	return nil, false
}

// Normalize fills in defaults for a plan about to be stored: a generated id,
// creation timestamps, DRAFT status, and CREATED task statuses. Execution
// fields carried over from a hand-written definition are cleared.
func (p *Plan) Normalize(now time.Time) {
	now = now.UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = PlanDraft
	}
	for i := range p.Tasks {
		resetTask(&p.Tasks[i], p.CreatedAt)
	}
}

// Instance is one execution run of a Plan. Its tasks are an independent copy
// of the plan's task definitions, so every run tracks its own statuses.
type Instance struct {
	PlanID      string         `json:"plan_id"`
	InstanceID  string         `json:"instance_id"`
	ProjectID   string         `json:"project_id"`
	Tasks       []Task         `json:"tasks"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	Status      InstanceStatus `json:"status"`
	Metadata    map[string]any `json:"metadata"`
}

// NewInstance creates a fresh instance of p. Every task is copied and reset
// to CREATED with no execution timestamps. An empty instanceID is replaced
// with a random UUID.
func NewInstance(p *Plan, instanceID string, now time.Time) *Instance {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	now = now.UTC()
	tasks := cloneTasks(p.Tasks)
	for i := range tasks {
		resetTask(&tasks[i], now)
	}
	return &Instance{
		PlanID:     p.ID,
		InstanceID: instanceID,
		ProjectID:  p.ProjectID,
		Tasks:      tasks,
		CreatedAt:  now,
		Status:     InstanceCreated,
		Metadata:   cloneMap(p.Metadata),
	}
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	out.Tasks = cloneTasks(i.Tasks)
	out.StartedAt = cloneTime(i.StartedAt)
	out.CompletedAt = cloneTime(i.CompletedAt)
	out.Metadata = cloneMap(i.Metadata)
	return &out
}

// Task returns a pointer to the task with the given id. The pointer aliases
// the instance's task slice.
func (i *Instance) Task(id string) (*Task, bool) {
	idx := i.TaskIndex(id)
	if idx < 0 {
		return nil, false
	}
	return &i.Tasks[idx], true
}

// TaskIndex returns the position of the task with the given id, or -1.
func (i *Instance) TaskIndex(id string) int {
	for idx := range i.Tasks {
		if i.Tasks[idx].ID == id {
			return idx
		}
	}
	return -1
}

// TaskIDs returns the task ids in collection order.
func (i *Instance) TaskIDs() []string {
	ids := make([]string, len(i.Tasks))
	for idx, t := range i.Tasks {
		ids[idx] = t.ID
	}
	return ids
}

// Counts returns how many tasks are in each status.
func (i *Instance) Counts() StatusCounts {
	c := StatusCounts{Total: len(i.Tasks)}
	for _, t := range i.Tasks {
		switch t.Status {
		case TaskCreated:
			c.Created++
		case TaskReady:
			c.Ready++
		case TaskRunning:
			c.Running++
		case TaskCompleted:
			c.Completed++
		case TaskFailed:
			c.Failed++
		case TaskCancelled:
			c.Cancelled++
		}
	}
	return c
}

// IsTerminal reports whether the instance has reached a final status.
func (i *Instance) IsTerminal() bool {
	return i.Status.IsTerminal()
}

func resetTask(t *Task, createdAt time.Time) {
	t.Status = TaskCreated
	t.CreatedAt = createdAt
	t.StartedAt = nil
	t.CompletedAt = nil
	t.ErrorMessage = ""
	if t.Needs == nil {
		t.Needs = []string{}
	}
}

func cloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// cloneMap deep-copies nested maps and slices. Scalar values are shared.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string{}, val...)
	default:
		return v
	}
}
