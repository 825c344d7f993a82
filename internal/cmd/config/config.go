// Package config provides CLI commands for managing planrunner configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/planrunner/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify planrunner configuration",
	Long: `View or modify planrunner configuration.

Use 'config show' to display the effective configuration.
Use subcommands to modify settings or create a config file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  planrunner config set executor.max_parallel 8
  planrunner config set storage.backend sqlite

Valid keys:
  project.default_id              - Project used when --project is not given
  storage.backend                 - Options: file, sqlite
  storage.dir                     - Root directory of the file store
  storage.sqlite_path             - Database file of the sqlite backend
  executor.max_parallel           - Maximum concurrent tasks
  executor.task_timeout_seconds   - Per-task timeout, 0 disables
  executor.shell                  - Shell that runs task commands
  shared_context.backend          - Options: memory, redis
  shared_context.redis_addr       - Redis host:port
  shared_context.redis_db         - Redis database number
  shared_context.key_prefix       - Prefix of Redis keys
  shared_context.ttl_seconds      - Expiry of Redis entries, 0 disables
  logging.enabled                 - Write debug logs (true/false)
  logging.level                   - Options: debug, info, warn, error
  logging.dir                     - Log directory`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a commented config file with default values",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file locations",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

// validKeys maps each settable key to its value type.
var validKeys = map[string]string{
	"project.default_id":            "string",
	"storage.backend":               "string",
	"storage.dir":                   "string",
	"storage.sqlite_path":           "string",
	"executor.max_parallel":         "int",
	"executor.task_timeout_seconds": "int",
	"executor.shell":                "string",
	"shared_context.backend":        "string",
	"shared_context.redis_addr":     "string",
	"shared_context.redis_db":       "int",
	"shared_context.key_prefix":     "string",
	"shared_context.ttl_seconds":    "int",
	"logging.enabled":               "bool",
	"logging.level":                 "string",
	"logging.dir":                   "string",
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// Register adds all config-related commands to the given parent command.
// This is the main entry point for integrating the config subpackage with
// the root command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	keyType, ok := validKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'planrunner config set --help' to see valid keys", key)
	}

	var typedValue any
	switch keyType {
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		typedValue = intVal
	default:
		typedValue = value
	}

	previous := viper.Get(key)
	viper.Set(key, typedValue)
	if _, err := appconfig.Load(); err != nil {
		viper.Set(key, previous)
		return err
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = appconfig.ConfigFile()
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

const configTemplate = `# planrunner configuration

# Project used when --project is not given
project:
  default_id: ""

# Where plans and instances are stored
storage:
  # file (JSON files, one directory per plan) or sqlite
  backend: file
  # Root of the file store (default: ~/.local/share/planrunner)
  dir: ""
  # Database file for the sqlite backend (default: <dir>/planrunner.db)
  sqlite_path: ""

# Task dispatch
executor:
  # Maximum number of tasks performed at once
  max_parallel: 3
  # Per-task timeout in seconds (0 = no timeout)
  task_timeout_seconds: 0
  # Shell that runs each task's "command" parameter
  shell: /bin/sh

# Where task outputs are shared between tasks of an instance
shared_context:
  # memory (per process) or redis
  backend: memory
  redis_addr: localhost:6379
  redis_db: 0
  key_prefix: planrunner
  # Expire Redis entries after this many seconds (0 = never)
  ttl_seconds: 0

# Debug logging
logging:
  enabled: false
  # debug, info, warn or error
  level: info
  # Log directory (default: storage dir)
  dir: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'planrunner config set' to modify values", configFile)
	}
	if err := os.MkdirAll(appconfig.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize planrunner's behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := appconfig.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", configFile)
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: PLANRUNNER_* (e.g., PLANRUNNER_EXECUTOR_MAX_PARALLEL)")
	fmt.Fprintf(out, "Data directory: %s\n", appconfig.DataDir())
	return nil
}
