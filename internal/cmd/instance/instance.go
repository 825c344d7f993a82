package instance

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planrunner/internal/cmd/app"
	"github.com/Iron-Ham/planrunner/internal/cmd/ui"
	"github.com/Iron-Ham/planrunner/internal/plan"
)

var newCmd = &cobra.Command{
	Use:   "new <plan-id>",
	Short: "Create a new instance of a plan",
	Long: `Create a new instance of a plan without running it.

Every task of the plan is copied into the instance in CREATED status.
Use 'planrunner instance run' to execute it.`,
	Args: cobra.ExactArgs(1),
	RunE: runNew,
}

var listCmd = &cobra.Command{
	Use:   "list <plan-id>",
	Short: "List the instances of a plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <plan-id> <instance-id>",
	Short: "Delete a stored instance",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelete,
}

var (
	listStatus string
	listJSON   bool
)

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Only list instances in this status (e.g. running)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
}

func runNew(cmd *cobra.Command, args []string) error {
	a, projectID, err := app.LoadProject()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	inst, err := a.Service.Instantiate(app.CommandContext(cmd), projectID, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created instance %s of plan %s (%d tasks)\n",
		ui.Title.Render(inst.InstanceID), inst.PlanID, len(inst.Tasks))
	return nil
}

// instanceSummary is the JSON form of an instance in list output.
type instanceSummary struct {
	InstanceID string              `json:"instance_id"`
	Status     plan.InstanceStatus `json:"status"`
	Counts     plan.StatusCounts   `json:"counts"`
	CreatedAt  time.Time           `json:"created_at"`
}

func runList(cmd *cobra.Command, args []string) error {
	a, projectID, err := app.LoadProject()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var want plan.InstanceStatus
	if listStatus != "" {
		want = plan.InstanceStatus(strings.ToUpper(listStatus))
		if !want.IsValid() {
			return fmt.Errorf("unknown instance status %q", listStatus)
		}
	}

	instances, err := a.Service.ListInstances(app.CommandContext(cmd), projectID, args[0])
	if err != nil {
		return err
	}

	summaries := make([]instanceSummary, 0, len(instances))
	for _, inst := range instances {
		if want != "" && inst.Status != want {
			continue
		}
		summaries = append(summaries, instanceSummary{
			InstanceID: inst.InstanceID,
			Status:     inst.Status,
			Counts:     inst.Counts(),
			CreatedAt:  inst.CreatedAt,
		})
	}

	out := cmd.OutOrStdout()
	if listJSON {
		return ui.WriteJSON(out, summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintf(out, "No instances of plan %s\n", args[0])
		return nil
	}

	tbl := &ui.Table{Header: []string{"INSTANCE", "STATUS", "PROGRESS", "CREATED"}}
	for _, s := range summaries {
		tbl.Rows = append(tbl.Rows, []string{
			s.InstanceID,
			ui.Status(string(s.Status)),
			fmt.Sprintf("%d/%d", s.Counts.Completed, s.Counts.Total),
			s.CreatedAt.Local().Format(time.DateTime),
		})
	}
	tbl.Render(out)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, projectID, err := app.LoadProject()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.Service.DeleteInstance(app.CommandContext(cmd), projectID, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted instance %s\n", args[1])
	return nil
}
