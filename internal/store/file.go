package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Iron-Ham/planrunner/internal/errors"
	"github.com/Iron-Ham/planrunner/internal/plan"
)

const (
	planFileName     = "plan.json"
	instanceFileName = "instance.json"
	instancesDirName = "instances"
)

// FileStore stores plans and instances as JSON files:
//
//	<root>/<project_id>/<plan_id>/plan.json
//	<root>/<project_id>/<plan_id>/instance.json             most recently saved instance
//	<root>/<project_id>/<plan_id>/instances/<instance_id>.json
type FileStore struct {
	root string
	mu   sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at root, creating the directory if
// it does not exist.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the directory the store writes into.
func (fs *FileStore) Root() string {
	return fs.root
}

// PlanDir returns the directory holding a plan and its instances.
func (fs *FileStore) PlanDir(projectID, planID string) string {
	return filepath.Join(fs.root, projectID, planID)
}

// SavePlan writes the plan definition atomically.
func (fs *FileStore) SavePlan(ctx context.Context, p *plan.Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validatePlanKey(p.ProjectID, p.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	return fs.withWriteLock(p.ProjectID, p.ID, func(dir string) error {
		return atomicWriteFile(filepath.Join(dir, planFileName), data, 0644)
	})
}

// SaveInstance writes the instance to its own file and then replaces the
// plan's latest-instance snapshot. Both writes are atomic. The stored copy is
// re-read under the exclusive lock, so a terminal status written by another
// process is never overwritten.
func (fs *FileStore) SaveInstance(ctx context.Context, inst *plan.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validatePlanKey(inst.ProjectID, inst.PlanID); err != nil {
		return err
	}
	if err := ValidateID("instance", inst.InstanceID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}

	return fs.withWriteLock(inst.ProjectID, inst.PlanID, func(dir string) error {
		instDir := filepath.Join(dir, instancesDirName)
		if err := os.MkdirAll(instDir, 0755); err != nil {
			return fmt.Errorf("failed to create instances directory: %w", err)
		}
		path := filepath.Join(instDir, inst.InstanceID+".json")
		var stored plan.Instance
		switch err := readInstance(path, &stored); {
		case err == nil:
			if err := CheckOverwrite(&stored, inst); err != nil {
				return err
			}
		case !errors.Is(err, os.ErrNotExist):
			return err
		}
		if err := atomicWriteFile(path, data, 0644); err != nil {
			return err
		}
		return atomicWriteFile(filepath.Join(dir, instanceFileName), data, 0644)
	})
}

// LoadPlan reads a plan definition.
func (fs *FileStore) LoadPlan(ctx context.Context, projectID, planID string) (*plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validatePlanKey(projectID, planID); err != nil {
		return nil, err
	}

	var p plan.Plan
	err := fs.withReadLock(projectID, planID, func(dir string) error {
		if err := readJSON(filepath.Join(dir, planFileName), &p); err != nil {
			return err
		}
		if err := CheckPlan(&p); err != nil {
			return corrupted(filepath.Join(dir, planFileName), err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.NewNotFoundError("plan", planID)
		}
		return nil, err
	}
	return &p, nil
}

// LoadInstance reads one instance by id.
func (fs *FileStore) LoadInstance(ctx context.Context, projectID, planID, instanceID string) (*plan.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validatePlanKey(projectID, planID); err != nil {
		return nil, err
	}
	if err := ValidateID("instance", instanceID); err != nil {
		return nil, err
	}

	var inst plan.Instance
	err := fs.withReadLock(projectID, planID, func(dir string) error {
		return readInstance(filepath.Join(dir, instancesDirName, instanceID+".json"), &inst)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.NewNotFoundError("instance", instanceID)
		}
		return nil, err
	}
	return &inst, nil
}

// LoadLatestInstance reads the plan's latest-instance snapshot.
func (fs *FileStore) LoadLatestInstance(ctx context.Context, projectID, planID string) (*plan.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validatePlanKey(projectID, planID); err != nil {
		return nil, err
	}

	var inst plan.Instance
	err := fs.withReadLock(projectID, planID, func(dir string) error {
		return readInstance(filepath.Join(dir, instanceFileName), &inst)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.NewNotFoundError("instance", planID+"/latest")
		}
		return nil, err
	}
	return &inst, nil
}

// ListPlans returns every plan of a project ordered by creation time.
// Directories without a plan definition are skipped.
func (fs *FileStore) ListPlans(ctx context.Context, projectID string) ([]*plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateID("project", projectID); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(fs.root, projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return []*plan.Plan{}, nil
		}
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	plans := make([]*plan.Plan, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p, err := fs.LoadPlan(ctx, projectID, entry.Name())
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		plans = append(plans, p)
	}

	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].CreatedAt.Equal(plans[j].CreatedAt) {
			return plans[i].ID < plans[j].ID
		}
		return plans[i].CreatedAt.Before(plans[j].CreatedAt)
	})
	return plans, nil
}

// ListInstances returns every stored instance of a plan ordered by creation time.
func (fs *FileStore) ListInstances(ctx context.Context, projectID, planID string) ([]*plan.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validatePlanKey(projectID, planID); err != nil {
		return nil, err
	}

	var instances []*plan.Instance
	err := fs.withReadLock(projectID, planID, func(dir string) error {
		entries, err := os.ReadDir(filepath.Join(dir, instancesDirName))
		if err != nil {
			return err
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
				continue
			}
			var inst plan.Instance
			if err := readInstance(filepath.Join(dir, instancesDirName, name), &inst); err != nil {
				return err
			}
			instances = append(instances, &inst)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*plan.Instance{}, nil
		}
		return nil, err
	}

	sort.SliceStable(instances, func(i, j int) bool {
		if instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			return instances[i].InstanceID < instances[j].InstanceID
		}
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})
	return instances, nil
}

// DeleteInstance removes an instance file. When the instance is also the
// latest snapshot, the snapshot is removed as well.
func (fs *FileStore) DeleteInstance(ctx context.Context, projectID, planID, instanceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validatePlanKey(projectID, planID); err != nil {
		return err
	}
	if err := ValidateID("instance", instanceID); err != nil {
		return err
	}

	dir := fs.PlanDir(projectID, planID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errors.NewNotFoundError("instance", instanceID)
	}

	return fs.withWriteLock(projectID, planID, func(dir string) error {
		if err := os.Remove(filepath.Join(dir, instancesDirName, instanceID+".json")); err != nil {
			if os.IsNotExist(err) {
				return errors.NewNotFoundError("instance", instanceID)
			}
			return fmt.Errorf("failed to delete instance: %w", err)
		}

		var latest plan.Instance
		latestPath := filepath.Join(dir, instanceFileName)
		if err := readJSON(latestPath, &latest); err == nil && latest.InstanceID == instanceID {
			if err := os.Remove(latestPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete latest snapshot: %w", err)
			}
		}
		return nil
	})
}

// withWriteLock creates the plan directory and runs fn while holding both the
// in-process write lock and the exclusive flock.
func (fs *FileStore) withWriteLock(projectID, planID string, fn func(dir string) error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := fs.PlanDir(projectID, planID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create plan directory: %w", err)
	}

	fl := newFileLock(dir)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	return fn(dir)
}

// withReadLock runs fn under the shared locks. A missing plan directory is
// reported as os.ErrNotExist without creating anything.
func (fs *FileStore) withReadLock(projectID, planID string, fn func(dir string) error) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	dir := fs.PlanDir(projectID, planID)
	if _, err := os.Stat(dir); err != nil {
		return err
	}

	fl := newFileLock(dir)
	if err := fl.RLock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	return fn(dir)
}

func validatePlanKey(projectID, planID string) error {
	if err := ValidateID("project", projectID); err != nil {
		return err
	}
	return ValidateID("plan", planID)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return corrupted(path, err)
	}
	return nil
}

// readInstance decodes an instance and rejects unknown statuses.
func readInstance(path string, inst *plan.Instance) error {
	if err := readJSON(path, inst); err != nil {
		return err
	}
	if err := CheckInstance(inst); err != nil {
		return corrupted(path, err)
	}
	return nil
}
