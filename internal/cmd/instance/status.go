package instance

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planrunner/internal/cmd/app"
	"github.com/Iron-Ham/planrunner/internal/cmd/ui"
	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/service"
	"github.com/Iron-Ham/planrunner/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status <plan-id> [instance-id]",
	Short: "Show the task statuses of an instance",
	Long: `Show the task statuses of an instance.

Ready tasks can be dispatched now. Blocked tasks can never run because a
task they need failed, was cancelled or does not exist.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runStatus,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <plan-id> [instance-id]",
	Short: "Cancel an instance and all of its unfinished tasks",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCancel,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, projectID, err := app.LoadProject()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	st, err := a.Service.Status(app.CommandContext(cmd), projectID, args[0], instanceArg(args))
	if err != nil {
		return err
	}
	if statusJSON {
		return ui.WriteJSON(cmd.OutOrStdout(), st)
	}
	printStatus(cmd.OutOrStdout(), st)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, projectID, err := app.LoadProject()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	inst, changed, err := a.Service.Cancel(app.CommandContext(cmd), projectID, args[0], instanceArg(args))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !changed {
		fmt.Fprintf(out, "Instance %s is already %s\n", inst.InstanceID, ui.Status(string(inst.Status)))
		return nil
	}
	fmt.Fprintf(out, "Cancelled instance %s\n", inst.InstanceID)
	return nil
}

// printStatus renders an instance with one line per task.
func printStatus(w io.Writer, st *service.InstanceStatus) {
	inst := st.Instance
	fmt.Fprintf(w, "%s %s\n", ui.Title.Render(inst.PlanID+"/"+inst.InstanceID), ui.Status(string(inst.Status)))
	fmt.Fprintf(w, "%s\n", ui.Muted.Render(ui.Counts(st.Counts)))
	if d := elapsed(inst.StartedAt, inst.CompletedAt); d != "" {
		fmt.Fprintf(w, "%s\n", ui.Muted.Render("Elapsed: "+d))
	}
	fmt.Fprintln(w)

	tbl := &ui.Table{Header: []string{"", "TASK", "STATUS", "TIME", "DETAIL"}}
	for _, t := range inst.Tasks {
		detail := t.ErrorMessage
		if detail == "" && t.Status == plan.TaskCreated && len(t.Needs) > 0 {
			detail = "needs " + util.JoinIDs(t.Needs)
		}
		tbl.Rows = append(tbl.Rows, []string{
			ui.TaskIcon(t.Status),
			t.ID,
			ui.Status(string(t.Status)),
			elapsed(t.StartedAt, t.CompletedAt),
			util.TruncateString(detail, 60),
		})
	}
	tbl.Render(w)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Ready:   %s\n", util.JoinIDs(st.Ready))
	fmt.Fprintf(w, "Blocked: %s\n", util.JoinIDs(st.Blocked))
}

// elapsed formats the time between start and end, or since start while
// still running.
func elapsed(start, end *time.Time) string {
	if start == nil {
		return ""
	}
	stop := time.Now()
	if end != nil {
		stop = *end
	}
	return stop.Sub(*start).Round(time.Millisecond).String()
}
