// Package planning provides the CLI commands that manage plan definitions.
package planning

import "github.com/spf13/cobra"

// Register adds all plan-related commands to the given parent command.
// This is the main entry point for integrating the planning subpackage with
// the root command.
func Register(parent *cobra.Command) {
	parent.AddCommand(planCmd)
}

func init() {
	planCmd.AddCommand(createCmd)
	planCmd.AddCommand(updateCmd)
	planCmd.AddCommand(listCmd)
	planCmd.AddCommand(showCmd)
	planCmd.AddCommand(groupsCmd)
	planCmd.AddCommand(validateCmd)
}
