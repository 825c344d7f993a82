package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "executor.max_parallel")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// keyPrefixRegex restricts Redis key prefixes to characters that need no
// escaping in SCAN patterns
var keyPrefixRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// maxParallelLimit is the upper bound for executor.max_parallel
const maxParallelLimit = 256

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidStorageBackends returns the list of valid storage backends
func ValidStorageBackends() []string {
	return []string{StorageFile, StorageSQLite}
}

// ValidSharedContextBackends returns the list of valid shared context backends
func ValidSharedContextBackends() []string {
	return []string{SharedContextMemory, SharedContextRedis}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateProject()...)
	errors = append(errors, c.validateStorage()...)
	errors = append(errors, c.validateExecutor()...)
	errors = append(errors, c.validateSharedContext()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateProject validates the ProjectConfig
func (c *Config) validateProject() []ValidationError {
	if strings.ContainsAny(c.Project.DefaultID, `/\`) || c.Project.DefaultID == "." || c.Project.DefaultID == ".." {
		return []ValidationError{{
			Field:   "project.default_id",
			Value:   c.Project.DefaultID,
			Message: "must not contain path separators",
		}}
	}
	return nil
}

// validateStorage validates the StorageConfig
func (c *Config) validateStorage() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidStorageBackends(), c.Storage.Backend) {
		errors = append(errors, ValidationError{
			Field:   "storage.backend",
			Value:   c.Storage.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStorageBackends(), ", ")),
		})
	}

	if c.Storage.SQLitePath != "" && c.Storage.Backend == StorageFile {
		errors = append(errors, ValidationError{
			Field:   "storage.sqlite_path",
			Value:   c.Storage.SQLitePath,
			Message: "only applies to the sqlite backend",
		})
	}

	return errors
}

// validateExecutor validates the ExecutorConfig
func (c *Config) validateExecutor() []ValidationError {
	var errors []ValidationError

	if c.Executor.MaxParallel < 1 {
		errors = append(errors, ValidationError{
			Field:   "executor.max_parallel",
			Value:   c.Executor.MaxParallel,
			Message: "must be at least 1",
		})
	} else if c.Executor.MaxParallel > maxParallelLimit {
		errors = append(errors, ValidationError{
			Field:   "executor.max_parallel",
			Value:   c.Executor.MaxParallel,
			Message: fmt.Sprintf("exceeds maximum of %d", maxParallelLimit),
		})
	}

	if c.Executor.TaskTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "executor.task_timeout_seconds",
			Value:   c.Executor.TaskTimeoutSeconds,
			Message: "must be non-negative (0 disables the timeout)",
		})
	}

	if strings.TrimSpace(c.Executor.Shell) == "" {
		errors = append(errors, ValidationError{
			Field:   "executor.shell",
			Value:   c.Executor.Shell,
			Message: "must not be empty",
		})
	}

	return errors
}

// validateSharedContext validates the SharedContextConfig
func (c *Config) validateSharedContext() []ValidationError {
	var errors []ValidationError
	sc := c.SharedContext

	if !slices.Contains(ValidSharedContextBackends(), sc.Backend) {
		errors = append(errors, ValidationError{
			Field:   "shared_context.backend",
			Value:   sc.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSharedContextBackends(), ", ")),
		})
	}

	// Redis settings only matter for the redis backend
	if sc.Backend != SharedContextRedis {
		return errors
	}

	if sc.RedisAddr == "" {
		errors = append(errors, ValidationError{
			Field:   "shared_context.redis_addr",
			Value:   sc.RedisAddr,
			Message: "is required for the redis backend",
		})
	}
	if sc.RedisDB < 0 {
		errors = append(errors, ValidationError{
			Field:   "shared_context.redis_db",
			Value:   sc.RedisDB,
			Message: "must be non-negative",
		})
	}
	if sc.KeyPrefix != "" && !keyPrefixRegex.MatchString(sc.KeyPrefix) {
		errors = append(errors, ValidationError{
			Field:   "shared_context.key_prefix",
			Value:   sc.KeyPrefix,
			Message: "must start with an alphanumeric character and contain only alphanumerics, '.', '_' or '-'",
		})
	}
	if sc.TTLSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "shared_context.ttl_seconds",
			Value:   sc.TTLSeconds,
			Message: "must be non-negative (0 disables expiry)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		return []ValidationError{{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		}}
	}
	return nil
}
