// Package instance provides the CLI commands that create, run and inspect
// plan instances.
package instance

import "github.com/spf13/cobra"

var instanceCmd = &cobra.Command{
	Use:     "instance",
	Aliases: []string{"inst"},
	Short:   "Create, run and inspect plan instances",
	Long: `Create, run and inspect plan instances.

An instance is one run of a plan with its own copy of the tasks. Commands
that take an optional [instance-id] default to the most recently saved
instance of the plan.`,
}

// Register adds all instance-related commands to the given parent command.
// This is the main entry point for integrating the instance subpackage with
// the root command.
func Register(parent *cobra.Command) {
	parent.AddCommand(instanceCmd)
}

func init() {
	instanceCmd.AddCommand(newCmd)
	instanceCmd.AddCommand(listCmd)
	instanceCmd.AddCommand(statusCmd)
	instanceCmd.AddCommand(runCmd)
	instanceCmd.AddCommand(cancelCmd)
	instanceCmd.AddCommand(watchCmd)
	instanceCmd.AddCommand(deleteCmd)
}

// instanceArg returns the optional instance id argument following the plan id.
func instanceArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return ""
}
