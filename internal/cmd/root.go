// Package cmd assembles the planrunner command tree.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/planrunner/internal/cmd/app"
	configcmd "github.com/Iron-Ham/planrunner/internal/cmd/config"
	"github.com/Iron-Ham/planrunner/internal/cmd/instance"
	"github.com/Iron-Ham/planrunner/internal/cmd/planning"
	"github.com/Iron-Ham/planrunner/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "planrunner",
	Short: "Run plans of dependent tasks with bounded parallelism",
	Long: `Planrunner stores plans of tasks with dependencies, instantiates them,
and runs every instance to completion: a task starts once the tasks it
needs have completed, and independent tasks run in parallel up to a
configurable limit. Every state change is persisted, so an interrupted
run can be resumed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the root command.
func Root() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/planrunner/config.yaml)")
	rootCmd.PersistentFlags().StringP("project", "p", "", "project id (default is project.default_id)")

	planning.Register(rootCmd)
	instance.Register(rootCmd)
	configcmd.Register(rootCmd)
}

func initConfig() {
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag(app.ProjectKey, rootCmd.PersistentFlags().Lookup("project"))

	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PLANRUNNER")
	// Replace dots with underscores for nested keys in env vars
	// e.g., PLANRUNNER_EXECUTOR_MAX_PARALLEL for executor.max_parallel
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
