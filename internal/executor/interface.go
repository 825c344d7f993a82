package executor

import (
	"context"

	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/sharedctx"
)

// ResultStatus is the outcome a performer reports for a task.
type ResultStatus string

const (
	// ResultSuccess marks the task COMPLETED.
	ResultSuccess ResultStatus = "success"
	// ResultFailure marks the task FAILED with the result message.
	ResultFailure ResultStatus = "failure"
)

// Result is what a performer returns for one task.
type Result struct {
	Status  ResultStatus `json:"status"`
	Output  any          `json:"output,omitempty"`
	Message string       `json:"message,omitempty"`
	// Quality is an optional score in [0, 1] reported by the performer.
	Quality *float64 `json:"quality,omitempty"`
}

// Succeeded reports whether the result completes the task. An empty status
// counts as success.
func (r Result) Succeeded() bool {
	return r.Status == ResultSuccess || r.Status == ""
}

// Performer carries out the work of a single task.
//
// Perform is called from pool goroutines, at most Config.MaxParallel at a
// time. It should return promptly once ctx is done. A performer that does
// not is still failed at its deadline, but it keeps its slot until it
// returns and its result is discarded. Outputs of earlier tasks can be
// read from shared under (task id, sharedctx.KindOutput).
type Performer interface {
	Perform(ctx context.Context, task plan.Task, shared sharedctx.Store) (Result, error)
}

// PerformerFunc adapts a function to the Performer interface.
type PerformerFunc func(ctx context.Context, task plan.Task, shared sharedctx.Store) (Result, error)

// Perform calls f.
func (f PerformerFunc) Perform(ctx context.Context, task plan.Task, shared sharedctx.Store) (Result, error) {
	return f(ctx, task, shared)
}

// Progress is a point-in-time view of a run.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Running   int `json:"running"`
	// IsComplete is set once nothing is running and nothing can become ready.
	IsComplete bool `json:"is_complete"`
}

// Report summarizes a finished run.
type Report struct {
	Progress Progress            `json:"progress"`
	Blocked  []string            `json:"blocked,omitempty"`
	Status   plan.InstanceStatus `json:"status"`
	Results  map[string]Result   `json:"results"`
}
