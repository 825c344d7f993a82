// Package service is the caller-facing API over plans and their instances.
// It validates plan definitions before they are stored and wires the store,
// the resolver and an executor together.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/planrunner/internal/errors"
	"github.com/Iron-Ham/planrunner/internal/executor"
	"github.com/Iron-Ham/planrunner/internal/logging"
	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/planner"
	"github.com/Iron-Ham/planrunner/internal/resolver"
	"github.com/Iron-Ham/planrunner/internal/store"
)

// Service manages plans and instances of one store.
type Service struct {
	store    store.Store
	resolver *resolver.Resolver
	logger   *logging.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source for plan and instance timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a service. r must use the same store as s.
func New(s store.Store, r *resolver.Resolver, opts ...Option) *Service {
	svc := &Service{
		store:    s,
		resolver: r,
		logger:   logging.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Resolver returns the resolver instances are driven through.
func (s *Service) Resolver() *resolver.Resolver {
	return s.resolver
}

// CreatePlan assigns an id and timestamps when missing, validates the plan
// and saves it. Plans with cycles or unknown dependencies are rejected with
// a *errors.ValidationError. Creating a plan whose id already exists fails.
func (s *Service) CreatePlan(ctx context.Context, p *plan.Plan) (*plan.Plan, error) {
	if p == nil {
		return nil, errors.NewValidationError("plan is nil")
	}
	p = p.Clone()
	p.Normalize(s.now())

	if err := planner.ValidatePlan(p).Err(); err != nil {
		return nil, err
	}
	if _, err := s.store.LoadPlan(ctx, p.ProjectID, p.ID); err == nil {
		return nil, errors.NewValidationError("plan already exists").WithField("id").WithValue(p.ID)
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	if err := s.store.SavePlan(ctx, p); err != nil {
		return nil, errors.Wrapf(err, "save plan %s", p.ID)
	}
	s.logger.WithPlan(p.ID).Info("plan created", "project_id", p.ProjectID, "tasks", len(p.Tasks))
	return p, nil
}

// UpdatePlan replaces the definition of an existing plan. The creation time
// is kept and the update time bumped. Existing instances are unaffected.
func (s *Service) UpdatePlan(ctx context.Context, p *plan.Plan) (*plan.Plan, error) {
	if p == nil {
		return nil, errors.NewValidationError("plan is nil")
	}
	existing, err := s.store.LoadPlan(ctx, p.ProjectID, p.ID)
	if err != nil {
		return nil, err
	}

	p = p.Clone()
	p.CreatedAt = existing.CreatedAt
	if p.Status == "" {
		p.Status = existing.Status
	}
	p.Normalize(s.now())

	if err := planner.ValidatePlan(p).Err(); err != nil {
		return nil, err
	}
	if err := s.store.SavePlan(ctx, p); err != nil {
		return nil, errors.Wrapf(err, "save plan %s", p.ID)
	}
	s.logger.WithPlan(p.ID).Info("plan updated", "tasks", len(p.Tasks))
	return p, nil
}

// GetPlan loads a plan.
func (s *Service) GetPlan(ctx context.Context, projectID, planID string) (*plan.Plan, error) {
	return s.store.LoadPlan(ctx, projectID, planID)
}

// ListPlans lists the plans of a project.
func (s *Service) ListPlans(ctx context.Context, projectID string) ([]*plan.Plan, error) {
	return s.store.ListPlans(ctx, projectID)
}

// Instantiate creates and saves a fresh instance of a plan. The first
// instance of a DRAFT plan makes it ACTIVE. Archived plans cannot be
// instantiated.
func (s *Service) Instantiate(ctx context.Context, projectID, planID string) (*plan.Instance, error) {
	p, err := s.store.LoadPlan(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	if p.Status == plan.PlanArchived {
		return nil, errors.NewValidationError("plan is archived").WithField("status").WithValue(p.ID)
	}

	now := s.now()
	inst := plan.NewInstance(p, "", now)
	if err := s.store.SaveInstance(ctx, inst); err != nil {
		return nil, errors.Wrapf(err, "save instance %s", inst.InstanceID)
	}

	if p.Status == plan.PlanDraft {
		p.Status = plan.PlanActive
		p.UpdatedAt = now.UTC()
		if err := s.store.SavePlan(ctx, p); err != nil {
			return nil, errors.Wrapf(err, "activate plan %s", p.ID)
		}
	}

	s.logger.WithPlan(planID).WithInstance(inst.InstanceID).Info("instance created")
	return inst, nil
}

// GetInstance loads an instance. An empty instanceID selects the latest one.
func (s *Service) GetInstance(ctx context.Context, projectID, planID, instanceID string) (*plan.Instance, error) {
	if instanceID == "" {
		return s.store.LoadLatestInstance(ctx, projectID, planID)
	}
	return s.store.LoadInstance(ctx, projectID, planID, instanceID)
}

// ListInstances lists the instances of a plan.
func (s *Service) ListInstances(ctx context.Context, projectID, planID string) ([]*plan.Instance, error) {
	return s.store.ListInstances(ctx, projectID, planID)
}

// Run loads an instance and drives it with exec until it settles or ctx is
// cancelled.
func (s *Service) Run(ctx context.Context, projectID, planID, instanceID string, exec *executor.Executor) (*executor.Report, error) {
	if exec == nil {
		return nil, errors.New("executor is nil")
	}
	inst, err := s.GetInstance(ctx, projectID, planID, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.IsTerminal() {
		return nil, errors.NewValidationError(fmt.Sprintf("instance is already %s", inst.Status)).
			WithField("status").WithValue(inst.InstanceID)
	}
	return exec.Run(ctx, inst)
}

// Cancel cancels an instance that is not yet terminal. It reports whether
// the instance changed.
func (s *Service) Cancel(ctx context.Context, projectID, planID, instanceID string) (*plan.Instance, bool, error) {
	inst, err := s.GetInstance(ctx, projectID, planID, instanceID)
	if err != nil {
		return nil, false, err
	}
	changed, err := s.resolver.Cancel(ctx, inst)
	if err != nil {
		return nil, false, err
	}
	return inst, changed, nil
}

// InstanceStatus is a read-only view of an instance.
type InstanceStatus struct {
	Instance *plan.Instance    `json:"instance"`
	Counts   plan.StatusCounts `json:"counts"`
	Ready    []string          `json:"ready"`
	Blocked  []string          `json:"blocked"`
}

// Status loads an instance and reports which tasks are ready and which can
// never run.
func (s *Service) Status(ctx context.Context, projectID, planID, instanceID string) (*InstanceStatus, error) {
	inst, err := s.GetInstance(ctx, projectID, planID, instanceID)
	if err != nil {
		return nil, err
	}
	st := &InstanceStatus{
		Instance: inst,
		Counts:   inst.Counts(),
		Ready:    []string{},
		Blocked:  s.resolver.Blocked(inst),
	}
	for _, t := range s.resolver.ReadyTasks(inst) {
		st.Ready = append(st.Ready, t.ID)
	}
	if st.Blocked == nil {
		st.Blocked = []string{}
	}
	return st, nil
}

// DeleteInstance removes a stored instance.
func (s *Service) DeleteInstance(ctx context.Context, projectID, planID, instanceID string) error {
	return s.store.DeleteInstance(ctx, projectID, planID, instanceID)
}

// GroupsView describes how a plan's tasks partition into parallel groups.
type GroupsView struct {
	Groups         [][]string `json:"groups"`
	CriticalPath   []string   `json:"critical_path"`
	MaxParallelism int        `json:"max_parallelism"`
}

// Groups computes the parallel groups of a stored plan.
func (s *Service) Groups(ctx context.Context, projectID, planID string) (*GroupsView, error) {
	p, err := s.store.LoadPlan(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return PlanGroups(p.Tasks)
}

// PlanGroups computes the parallel groups of tasks.
func PlanGroups(tasks []plan.Task) (*GroupsView, error) {
	groups, err := planner.Groups(tasks)
	if err != nil {
		return nil, err
	}
	critical, err := planner.CriticalPath(tasks)
	if err != nil {
		return nil, err
	}
	return &GroupsView{
		Groups:         groups,
		CriticalPath:   critical,
		MaxParallelism: planner.MaxParallelism(groups),
	}, nil
}
