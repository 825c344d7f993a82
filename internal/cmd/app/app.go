// Package app wires configuration into the stores, services and executors
// the planrunner commands operate on.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/planrunner/internal/config"
	"github.com/Iron-Ham/planrunner/internal/errors"
	"github.com/Iron-Ham/planrunner/internal/event"
	"github.com/Iron-Ham/planrunner/internal/executor"
	"github.com/Iron-Ham/planrunner/internal/logging"
	"github.com/Iron-Ham/planrunner/internal/performer"
	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/resolver"
	"github.com/Iron-Ham/planrunner/internal/service"
	"github.com/Iron-Ham/planrunner/internal/sharedctx"
	"github.com/Iron-Ham/planrunner/internal/store"
	"github.com/Iron-Ham/planrunner/internal/store/sqlite"
)

// ProjectKey is the viper key holding the project id commands operate on.
const ProjectKey = "project.default_id"

// App is the set of components one command invocation works with.
type App struct {
	Config   *config.Config
	Store    store.Store
	Resolver *resolver.Resolver
	Service  *service.Service
	Logger   *logging.Logger
	Bus      *event.Bus

	closers []func() error
}

// Load builds an App from the current viper configuration.
func Load() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return New(cfg)
}

// New builds an App from cfg.
func New(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Logger: logging.NopLogger()}

	if cfg.Logging.Enabled {
		logger, err := logging.NewLogger(cfg.ResolveLogDir(), cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		a.Logger = logger
		a.closers = append(a.closers, logger.Close)
	}

	s, err := openStore(cfg.Storage)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Store = s
	if c, ok := s.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.Bus = event.NewBus(event.WithLogger(a.Logger))
	a.Resolver = resolver.New(s, resolver.WithLogger(a.Logger), resolver.WithBus(a.Bus))
	a.Service = service.New(s, a.Resolver, service.WithLogger(a.Logger))
	return a, nil
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StorageSQLite:
		path := cfg.ResolveSQLitePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		return sqlite.Open(path)
	default:
		return store.NewFileStore(cfg.ResolveDir())
	}
}

// Close releases the store and the log file.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// ProjectID returns the project selected by --project or project.default_id.
func (a *App) ProjectID() (string, error) {
	id := viper.GetString(ProjectKey)
	if id == "" {
		id = a.Config.Project.DefaultID
	}
	if id == "" {
		return "", errors.NewValidationError("no project selected; pass --project or set project.default_id").
			WithField("project")
	}
	return id, nil
}

// PlanDir returns the directory of a plan when the file backend is in use.
func (a *App) PlanDir(projectID, planID string) (string, bool) {
	fs, ok := a.Store.(*store.FileStore)
	if !ok {
		return "", false
	}
	return fs.PlanDir(projectID, planID), true
}

// ExecutorOverrides adjust the configured executor settings for one run.
type ExecutorOverrides struct {
	MaxParallel int
	TaskTimeout *int // seconds
}

// NewExecutor builds an executor for inst using the configured shared
// context backend and the command performer. The returned cleanup releases
// the shared context connection.
func (a *App) NewExecutor(inst *plan.Instance, o ExecutorOverrides) (*executor.Executor, func(), error) {
	cfg := executor.Config{
		MaxParallel: a.Config.Executor.MaxParallel,
		TaskTimeout: a.Config.Executor.TaskTimeout(),
	}
	if o.MaxParallel > 0 {
		cfg.MaxParallel = o.MaxParallel
	}
	if o.TaskTimeout != nil {
		cfg.TaskTimeout = time.Duration(*o.TaskTimeout) * time.Second
	}

	shared, cleanup, err := a.sharedContext(inst.InstanceID)
	if err != nil {
		return nil, nil, err
	}

	cmd := performer.NewCommand()
	if a.Config.Executor.Shell != "" {
		cmd.Shell = a.Config.Executor.Shell
	}
	exec := executor.New(cfg, a.Resolver, performer.NewRouter(cmd),
		executor.WithLogger(a.Logger),
		executor.WithBus(a.Bus),
		executor.WithSharedContext(shared),
	)
	return exec, cleanup, nil
}

func (a *App) sharedContext(instanceID string) (sharedctx.Store, func(), error) {
	sc := a.Config.SharedContext
	if sc.Backend != config.SharedContextRedis {
		return sharedctx.NewMemory(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: sc.RedisAddr,
		DB:   sc.RedisDB,
	})
	shared, err := sharedctx.NewRedis(client, instanceID,
		sharedctx.WithKeyPrefix(sc.KeyPrefix),
		sharedctx.WithTTL(sc.TTL()),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return shared, func() { _ = client.Close() }, nil
}

// LoadProject builds an App and resolves the selected project. The caller
// closes the App.
func LoadProject() (*App, string, error) {
	a, err := Load()
	if err != nil {
		return nil, "", err
	}
	projectID, err := a.ProjectID()
	if err != nil {
		_ = a.Close()
		return nil, "", err
	}
	return a, projectID, nil
}

// CommandContext returns the command's context, or a background context
// when the command is run outside Execute.
func CommandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
