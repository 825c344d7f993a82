package planning

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planrunner/internal/cmd/app"
	"github.com/Iron-Ham/planrunner/internal/cmd/ui"
	"github.com/Iron-Ham/planrunner/internal/service"
	"github.com/Iron-Ham/planrunner/internal/util"
)

var groupsCmd = &cobra.Command{
	Use:   "groups [plan-id]",
	Short: "Show which tasks of a plan can run in parallel",
	Long: `Show which tasks of a plan can run in parallel.

Tasks are partitioned into ordered groups: every task in group N needs
only tasks from earlier groups, so all tasks of a group may run at once.
The critical path is the longest chain of needs through the plan.

Examples:
  # Groups of a stored plan
  planrunner plan groups release

  # Groups of a plan file that has not been stored
  planrunner plan groups --file plan.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGroups,
}

var (
	groupsFile string
	groupsJSON bool
)

func init() {
	groupsCmd.Flags().StringVar(&groupsFile, "file", "", "Read the plan from a file instead of the store")
	groupsCmd.Flags().BoolVar(&groupsJSON, "json", false, "Output as JSON")
}

func runGroups(cmd *cobra.Command, args []string) error {
	view, err := loadGroups(cmd, args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if groupsJSON {
		return ui.WriteJSON(out, view)
	}
	for i, g := range view.Groups {
		fmt.Fprintf(out, "%s %s\n", ui.Label.Render(fmt.Sprintf("Group %d:", i+1)), util.JoinIDs(g))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Max parallelism: %d\n", view.MaxParallelism)
	fmt.Fprintf(out, "Critical path:   %s\n", joinPath(view.CriticalPath))
	return nil
}

func loadGroups(cmd *cobra.Command, args []string) (*service.GroupsView, error) {
	if groupsFile != "" {
		p, err := service.LoadPlanFile(groupsFile)
		if err != nil {
			return nil, err
		}
		return service.PlanGroups(p.Tasks)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("specify a plan id or --file")
	}

	a, projectID, err := app.LoadProject()
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close() }()
	return a.Service.Groups(app.CommandContext(cmd), projectID, args[0])
}

func joinPath(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	s := ids[0]
	for _, id := range ids[1:] {
		s += " → " + id
	}
	return s
}
