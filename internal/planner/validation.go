package planner

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/planrunner/internal/errors"
	"github.com/Iron-Ham/planrunner/internal/plan"
)

// Severity represents the severity level of a validation message.
type Severity string

const (
	// SeverityError indicates a problem that prevents the plan from being stored.
	SeverityError Severity = "error"
	// SeverityWarning indicates an advisory problem.
	SeverityWarning Severity = "warning"
)

// ValidationMessage describes a single validation issue.
type ValidationMessage struct {
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	TaskID     string   `json:"task_id,omitempty"`
	Field      string   `json:"field,omitempty"`
	RelatedIDs []string `json:"related_ids,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`

	structural bool
}

// IsError returns true if this message is an error.
func (m ValidationMessage) IsError() bool {
	return m.Severity == SeverityError
}

// String formats the message for terminal output.
func (m ValidationMessage) String() string {
	var b strings.Builder
	b.WriteString(string(m.Severity))
	if m.TaskID != "" {
		fmt.Fprintf(&b, " [%s]", m.TaskID)
	}
	b.WriteString(": ")
	b.WriteString(m.Message)
	return b.String()
}

// ValidationResult collects every issue found in a plan.
type ValidationResult struct {
	Messages     []ValidationMessage `json:"messages"`
	ErrorCount   int                 `json:"error_count"`
	WarningCount int                 `json:"warning_count"`
}

// IsValid returns true when there are no error-level messages.
func (r *ValidationResult) IsValid() bool {
	return r.ErrorCount == 0
}

// Errors returns the error-level messages.
func (r *ValidationResult) Errors() []ValidationMessage {
	var out []ValidationMessage
	for _, m := range r.Messages {
		if m.IsError() {
			out = append(out, m)
		}
	}
	return out
}

// Err converts the result into an error, or nil when the plan is valid.
// The returned *errors.ValidationError matches errors.ErrInvalidInput, and
// additionally errors.ErrUnschedulable when the problem is a cycle or a
// dangling need.
func (r *ValidationResult) Err() error {
	if r.IsValid() {
		return nil
	}

	errs := r.Errors()
	parts := make([]string, len(errs))
	structural := false
	var taskIDs []string
	for i, m := range errs {
		parts[i] = m.String()
		if m.structural {
			structural = true
			if m.TaskID != "" {
				taskIDs = append(taskIDs, m.TaskID)
			}
		}
	}

	verr := errors.NewValidationError(strings.Join(parts, "; "))
	if errs[0].Field != "" {
		verr.WithField(errs[0].Field)
	}
	if structural {
		verr.WithCause(errors.NewUnschedulableError(taskIDs))
	}
	return verr
}

func (r *ValidationResult) add(m ValidationMessage) {
	switch m.Severity {
	case SeverityError:
		r.ErrorCount++
	case SeverityWarning:
		r.WarningCount++
	}
	r.Messages = append(r.Messages, m)
}

// ValidatePlan checks a plan definition for structural problems. Errors:
// no tasks, empty or duplicate ids, self-dependencies, needs that reference
// unknown tasks, and dependency cycles. Warnings: missing name or role and
// needs listed more than once.
func ValidatePlan(p *plan.Plan) *ValidationResult {
	result := &ValidationResult{Messages: make([]ValidationMessage, 0)}

	if p == nil {
		result.add(ValidationMessage{Severity: SeverityError, Message: "plan is nil"})
		return result
	}
	if len(p.Tasks) == 0 {
		result.add(ValidationMessage{
			Severity:   SeverityError,
			Message:    "plan has no tasks",
			Field:      "tasks",
			Suggestion: "add at least one task to the plan",
		})
		return result
	}

	for _, msg := range ValidateTasks(p.Tasks) {
		result.add(msg)
	}

	if cycle := DetectCycle(p.Tasks); cycle != nil {
		result.add(ValidationMessage{
			Severity:   SeverityError,
			Message:    fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> ")),
			TaskID:     cycle[0],
			Field:      "needs",
			RelatedIDs: cycle,
			Suggestion: "remove one of the needs to break the cycle",
			structural: true,
		})
	}

	return result
}

// ValidateTasks checks the ids and needs of every task in the collection.
func ValidateTasks(tasks []plan.Task) []ValidationMessage {
	var messages []ValidationMessage

	seen := make(map[string]int, len(tasks))
	for i, task := range tasks {
		if strings.TrimSpace(task.ID) == "" {
			messages = append(messages, ValidationMessage{
				Severity: SeverityError,
				Message:  "task id is empty",
				Field:    fmt.Sprintf("tasks[%d].id", i),
			})
			continue
		}
		if first, dup := seen[task.ID]; dup {
			messages = append(messages, ValidationMessage{
				Severity:   SeverityError,
				Message:    fmt.Sprintf("duplicate task id (first defined at tasks[%d])", first),
				TaskID:     task.ID,
				Field:      fmt.Sprintf("tasks[%d].id", i),
				Suggestion: "give every task a unique id",
			})
			continue
		}
		seen[task.ID] = i
	}

	for _, task := range tasks {
		if task.ID == "" {
			continue
		}
		if strings.TrimSpace(task.Name) == "" {
			messages = append(messages, ValidationMessage{
				Severity: SeverityWarning,
				Message:  "task has no name",
				TaskID:   task.ID,
				Field:    "name",
			})
		}
		if strings.TrimSpace(task.Role) == "" {
			messages = append(messages, ValidationMessage{
				Severity:   SeverityWarning,
				Message:    "task has no role",
				TaskID:     task.ID,
				Field:      "role",
				Suggestion: "set the performer role expected to execute the task",
			})
		}

		listed := make(map[string]bool, len(task.Needs))
		for _, dep := range task.Needs {
			if listed[dep] {
				messages = append(messages, ValidationMessage{
					Severity:   SeverityWarning,
					Message:    fmt.Sprintf("need '%s' is listed more than once", dep),
					TaskID:     task.ID,
					Field:      "needs",
					RelatedIDs: []string{dep},
				})
				continue
			}
			listed[dep] = true

			switch _, known := seen[dep]; {
			case dep == task.ID:
				messages = append(messages, ValidationMessage{
					Severity:   SeverityError,
					Message:    "task depends on itself",
					TaskID:     task.ID,
					Field:      "needs",
					RelatedIDs: []string{task.ID},
					Suggestion: "remove the self-dependency",
					structural: true,
				})
			case !known:
				messages = append(messages, ValidationMessage{
					Severity:   SeverityError,
					Message:    fmt.Sprintf("depends on unknown task '%s'", dep),
					TaskID:     task.ID,
					Field:      "needs",
					RelatedIDs: []string{dep},
					Suggestion: fmt.Sprintf("remove '%s' from needs or add a task with that id", dep),
					structural: true,
				})
			}
		}
	}

	return messages
}

// DetectCycle returns the ids forming a dependency cycle, starting and ending
// with the same id, or nil when the needs graph is acyclic. Needs that
// reference unknown tasks are ignored here. A self-dependency is reported
// as a cycle of length one.
func DetectCycle(tasks []plan.Task) []string {
	_, byID := index(tasks)

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	parent := make(map[string]string)

	var dfs func(id string) []string
	dfs = func(id string) []string {
		visited[id] = true
		onStack[id] = true

		for _, dep := range byID[id].Needs {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if !visited[dep] {
				parent[dep] = id
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			} else if onStack[dep] {
				cycle := []string{dep}
				for cur := id; cur != dep; cur = parent[cur] {
					cycle = append([]string{cur}, cycle...)
				}
				return append([]string{dep}, cycle...)
			}
		}

		onStack[id] = false
		return nil
	}

	for i := range tasks {
		id := tasks[i].ID
		if !visited[id] {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
