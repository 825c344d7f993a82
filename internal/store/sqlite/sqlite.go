// Package sqlite provides a SQLite-backed plan and instance store. Plans and
// instances are stored as JSON blobs, one row per plan and one row per
// instance id.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/Iron-Ham/planrunner/internal/errors"
	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/store"
)

const (
	sqliteCreatePlans = "CREATE TABLE IF NOT EXISTS plans (" +
		"project_id TEXT NOT NULL, " +
		"plan_id TEXT NOT NULL, " +
		"created_at INTEGER NOT NULL, " +
		"plan_json BLOB NOT NULL, " +
		"PRIMARY KEY (project_id, plan_id)" +
		")"

	sqliteCreateInstances = "CREATE TABLE IF NOT EXISTS instances (" +
		"project_id TEXT NOT NULL, " +
		"plan_id TEXT NOT NULL, " +
		"instance_id TEXT NOT NULL, " +
		"created_at INTEGER NOT NULL, " +
		"seq INTEGER NOT NULL, " +
		"instance_json BLOB NOT NULL, " +
		"PRIMARY KEY (project_id, plan_id, instance_id)" +
		")"

	sqliteUpsertPlan = "INSERT OR REPLACE INTO plans (project_id, plan_id, created_at, plan_json) " +
		"VALUES (?, ?, ?, ?)"

	// seq orders saves so the latest instance is the one saved last.
	sqliteUpsertInstance = "INSERT OR REPLACE INTO instances " +
		"(project_id, plan_id, instance_id, created_at, seq, instance_json) " +
		"VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM instances), ?)"

	sqliteSelectPlan = "SELECT plan_json FROM plans WHERE project_id = ? AND plan_id = ?"

	sqliteSelectPlans = "SELECT plan_json FROM plans WHERE project_id = ? ORDER BY created_at ASC, plan_id ASC"

	sqliteSelectInstance = "SELECT instance_json FROM instances " +
		"WHERE project_id = ? AND plan_id = ? AND instance_id = ?"

	sqliteSelectLatestInstance = "SELECT instance_json FROM instances " +
		"WHERE project_id = ? AND plan_id = ? ORDER BY seq DESC LIMIT 1"

	sqliteSelectInstances = "SELECT instance_json FROM instances " +
		"WHERE project_id = ? AND plan_id = ? ORDER BY created_at ASC, instance_id ASC"

	sqliteDeleteInstance = "DELETE FROM instances WHERE project_id = ? AND plan_id = ? AND instance_id = ?"
)

// Store is a SQLite implementation of store.Store.
type Store struct {
	db   *sql.DB
	owns bool
}

var _ store.Store = (*Store)(nil)

// New creates a store on an already opened database and creates the schema
// if needed. The caller keeps ownership of db.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(sqliteCreatePlans); err != nil {
		return nil, fmt.Errorf("create plans table: %w", err)
	}
	if _, err := db.Exec(sqliteCreateInstances); err != nil {
		return nil, fmt.Errorf("create instances table: %w", err)
	}
	return &Store{db: db}, nil
}

// Open opens (or creates) the database file at path. The returned store owns
// the connection and closes it on Close.
func Open(path string) (*Store, error) {
	// Immediate transactions take the write lock before SaveInstance reads
	// the stored row.
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&_txlock=immediate"
	} else {
		dsn += "?_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owns = true
	return s, nil
}

// SavePlan inserts or replaces the plan row.
func (s *Store) SavePlan(ctx context.Context, p *plan.Plan) error {
	if err := validatePlanKey(p.ProjectID, p.ID); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsertPlan, p.ProjectID, p.ID, p.CreatedAt.UnixNano(), data); err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// SaveInstance inserts or replaces the instance row and makes it the latest.
// The stored row is read in the same transaction, so a terminal status
// written by another connection is never overwritten.
func (s *Store) SaveInstance(ctx context.Context, inst *plan.Instance) error {
	if err := validatePlanKey(inst.ProjectID, inst.PlanID); err != nil {
		return err
	}
	if err := store.ValidateID("instance", inst.InstanceID); err != nil {
		return err
	}
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current []byte
	err = tx.QueryRowContext(ctx, sqliteSelectInstance, inst.ProjectID, inst.PlanID, inst.InstanceID).Scan(&current)
	switch {
	case err == nil:
		stored, err := decodeInstance(current)
		if err != nil {
			return err
		}
		if err := store.CheckOverwrite(stored, inst); err != nil {
			return err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("select: %w", err)
	}

	_, err = tx.ExecContext(ctx, sqliteUpsertInstance,
		inst.ProjectID, inst.PlanID, inst.InstanceID, inst.CreatedAt.UnixNano(), data)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadPlan returns one plan.
func (s *Store) LoadPlan(ctx context.Context, projectID, planID string) (*plan.Plan, error) {
	data, err := s.queryOne(ctx, sqliteSelectPlan, projectID, planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("plan", planID)
	}
	if err != nil {
		return nil, err
	}
	return decodePlan(data)
}

// LoadInstance returns one instance.
func (s *Store) LoadInstance(ctx context.Context, projectID, planID, instanceID string) (*plan.Instance, error) {
	data, err := s.queryOne(ctx, sqliteSelectInstance, projectID, planID, instanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("instance", instanceID)
	}
	if err != nil {
		return nil, err
	}
	return decodeInstance(data)
}

// LoadLatestInstance returns the instance saved most recently.
func (s *Store) LoadLatestInstance(ctx context.Context, projectID, planID string) (*plan.Instance, error) {
	data, err := s.queryOne(ctx, sqliteSelectLatestInstance, projectID, planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("instance", planID+"/latest")
	}
	if err != nil {
		return nil, err
	}
	return decodeInstance(data)
}

// ListPlans returns the plans of a project ordered by creation time.
func (s *Store) ListPlans(ctx context.Context, projectID string) ([]*plan.Plan, error) {
	plans := []*plan.Plan{}
	err := s.queryAll(ctx, func(data []byte) error {
		p, err := decodePlan(data)
		if err != nil {
			return err
		}
		plans = append(plans, p)
		return nil
	}, sqliteSelectPlans, projectID)
	if err != nil {
		return nil, err
	}
	return plans, nil
}

// ListInstances returns the instances of a plan ordered by creation time.
func (s *Store) ListInstances(ctx context.Context, projectID, planID string) ([]*plan.Instance, error) {
	instances := []*plan.Instance{}
	err := s.queryAll(ctx, func(data []byte) error {
		inst, err := decodeInstance(data)
		if err != nil {
			return err
		}
		instances = append(instances, inst)
		return nil
	}, sqliteSelectInstances, projectID, planID)
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// DeleteInstance removes one instance row.
func (s *Store) DeleteInstance(ctx context.Context, projectID, planID, instanceID string) error {
	res, err := s.db.ExecContext(ctx, sqliteDeleteInstance, projectID, planID, instanceID)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if n == 0 {
		return errors.NewNotFoundError("instance", instanceID)
	}
	return nil
}

// Close releases the database when the store opened it.
func (s *Store) Close() error {
	if s.owns && s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) ([]byte, error) {
	var data []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("select: %w", err)
	}
	return data, nil
}

func decodePlan(data []byte) (*plan.Plan, error) {
	var p plan.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, corrupted("plan", err)
	}
	if err := store.CheckPlan(&p); err != nil {
		return nil, corrupted("plan", err)
	}
	return &p, nil
}

func decodeInstance(data []byte) (*plan.Instance, error) {
	var inst plan.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, corrupted("instance", err)
	}
	if err := store.CheckInstance(&inst); err != nil {
		return nil, corrupted("instance", err)
	}
	return &inst, nil
}

func (s *Store) queryAll(ctx context.Context, fn func([]byte) error, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if err := fn(data); err != nil {
			return err
		}
	}
	return rows.Err()
}

func validatePlanKey(projectID, planID string) error {
	if err := store.ValidateID("project", projectID); err != nil {
		return err
	}
	return store.ValidateID("plan", planID)
}

func corrupted(what string, cause error) error {
	return fmt.Errorf("%w: %s: %v", errors.ErrCorrupted, what, cause)
}
