// Package store persists plans and plan instances.
//
// [Store] is the contract every backend satisfies. [FileStore] keeps one
// directory per (project, plan) pair holding the plan definition, the most
// recently saved instance snapshot, and one file per instance id. Writes are
// atomic (temp file + rename) and serialized across processes with flock(2).
//
// Missing plans and instances are reported with an error matching
// [ErrNotFound]; an artifact that exists but cannot be decoded is reported
// with an error matching [ErrCorrupted] and is never silently repaired.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/planrunner/internal/errors"
	"github.com/Iron-Ham/planrunner/internal/plan"
)

var (
	// ErrNotFound is returned when a plan or instance does not exist.
	ErrNotFound = errors.ErrNotFound
	// ErrCorrupted is returned when a stored artifact cannot be decoded.
	ErrCorrupted = errors.ErrCorrupted
	// ErrConflict is returned when SaveInstance would move a stored terminal
	// instance or task out of its terminal status.
	ErrConflict = errors.ErrConflict
)

// Store is the persistence contract shared by all backends.
//
// Implementations must be safe for concurrent use. A successful Save means
// the snapshot is durable; a failed Save means nothing about the previous
// snapshot changed. SaveInstance compares against the stored snapshot under
// the backend's write lock and refuses, with ErrConflict, to undo a terminal
// status written by another process.
type Store interface {
	SavePlan(ctx context.Context, p *plan.Plan) error
	SaveInstance(ctx context.Context, inst *plan.Instance) error

	LoadPlan(ctx context.Context, projectID, planID string) (*plan.Plan, error)
	LoadInstance(ctx context.Context, projectID, planID, instanceID string) (*plan.Instance, error)
	// LoadLatestInstance returns the most recently saved instance of a plan.
	LoadLatestInstance(ctx context.Context, projectID, planID string) (*plan.Instance, error)

	ListPlans(ctx context.Context, projectID string) ([]*plan.Plan, error)
	ListInstances(ctx context.Context, projectID, planID string) ([]*plan.Instance, error)

	// DeleteInstance removes one instance. Retention is a caller concern;
	// nothing in planrunner deletes instances on its own.
	DeleteInstance(ctx context.Context, projectID, planID, instanceID string) error
}

// ValidateID rejects identifiers that are empty or could escape the storage
// layout when used as a path segment or key component.
func ValidateID(kind, id string) error {
	if id == "" {
		return errors.NewValidationError(kind + " id is empty").WithField(kind + "_id")
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return errors.NewValidationError(fmt.Sprintf("%s id contains illegal characters", kind)).
			WithField(kind + "_id").WithValue(id)
	}
	return nil
}

func corrupted(what string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrCorrupted, what, cause)
}

// CheckOverwrite returns an error matching ErrConflict when next would
// replace a stored terminal status with a different one, either for the
// instance or for any of its tasks. A nil stored snapshot always passes.
func CheckOverwrite(stored, next *plan.Instance) error {
	if stored == nil {
		return nil
	}
	if stored.Status.IsTerminal() && next.Status != stored.Status {
		return fmt.Errorf("%w: instance %s is already %s", ErrConflict, stored.InstanceID, stored.Status)
	}
	for _, st := range stored.Tasks {
		if !st.Status.IsTerminal() {
			continue
		}
		if nt, ok := next.Task(st.ID); ok && nt.Status != st.Status {
			return fmt.Errorf("%w: task %s of instance %s is already %s",
				ErrConflict, st.ID, stored.InstanceID, st.Status)
		}
	}
	return nil
}

// CheckInstance rejects a decoded instance carrying an unknown status.
func CheckInstance(inst *plan.Instance) error {
	if !inst.Status.IsValid() {
		return fmt.Errorf("unknown instance status %q", inst.Status)
	}
	for _, t := range inst.Tasks {
		if !t.Status.IsValid() {
			return fmt.Errorf("task %s: unknown status %q", t.ID, t.Status)
		}
	}
	return nil
}

// CheckPlan rejects a decoded plan carrying an unknown status.
func CheckPlan(p *plan.Plan) error {
	if p.Status != "" && !p.Status.IsValid() {
		return fmt.Errorf("unknown plan status %q", p.Status)
	}
	for _, t := range p.Tasks {
		if t.Status != "" && !t.Status.IsValid() {
			return fmt.Errorf("task %s: unknown status %q", t.ID, t.Status)
		}
	}
	return nil
}
