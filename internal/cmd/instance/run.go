package instance

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planrunner/internal/cmd/app"
	"github.com/Iron-Ham/planrunner/internal/cmd/ui"
	"github.com/Iron-Ham/planrunner/internal/event"
	"github.com/Iron-Ham/planrunner/internal/executor"
	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run <plan-id> [instance-id]",
	Short: "Run an instance until every task has settled",
	Long: `Run an instance until every task has settled.

Tasks run their "command" parameter through the configured shell, at most
executor.max_parallel at a time. A task starts once every task it needs has
completed; the outputs of those tasks are passed on stdin as JSON.

An interrupted run (Ctrl-C) cancels the instance. A run that was killed
without cancelling leaves the instance RUNNING; running it again requeues
the interrupted tasks.

Examples:
  # Create a new instance and run it
  planrunner instance run release --new

  # Resume the most recent instance with more parallelism
  planrunner instance run release --max-parallel 8`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRun,
}

var (
	runNewInstance bool
	runMaxParallel int
	runTimeout     int
	runJSON        bool
)

func init() {
	runCmd.Flags().BoolVar(&runNewInstance, "new", false, "Create a new instance of the plan and run it")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "Maximum concurrent tasks (default from config)")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "Per-task timeout in seconds, 0 disables (default from config)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run report as JSON instead of progress lines")
}

// runFailedError reports a run that settled unsuccessfully. The summary has
// already been printed.
type runFailedError struct {
	status plan.InstanceStatus
}

func (e *runFailedError) Error() string {
	return fmt.Sprintf("instance finished %s", e.status)
}

// Silent marks the error as already reported to the user.
func (e *runFailedError) Silent() bool { return true }

func runRun(cmd *cobra.Command, args []string) error {
	if runNewInstance && len(args) > 1 {
		return fmt.Errorf("--new cannot be combined with an instance id")
	}

	a, projectID, err := app.LoadProject()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(app.CommandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var inst *plan.Instance
	if runNewInstance {
		inst, err = a.Service.Instantiate(ctx, projectID, args[0])
	} else {
		inst, err = a.Service.GetInstance(ctx, projectID, args[0], instanceArg(args))
	}
	if err != nil {
		return err
	}

	overrides := app.ExecutorOverrides{MaxParallel: runMaxParallel}
	if cmd.Flags().Changed("timeout") {
		overrides.TaskTimeout = &runTimeout
	}
	exec, cleanup, err := a.NewExecutor(inst, overrides)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	if !runJSON {
		fmt.Fprintf(out, "Running %s\n", ui.Title.Render(inst.PlanID+"/"+inst.InstanceID))
		a.Bus.Subscribe(event.TypeTaskStatusChanged, func(e event.Event) {
			if ev, ok := e.(event.TaskStatusChangedEvent); ok {
				printTransition(out, ev)
			}
		})
	}

	report, runErr := a.Service.Run(ctx, projectID, inst.PlanID, inst.InstanceID, exec)
	if report == nil {
		return runErr
	}

	if runJSON {
		if err := ui.WriteJSON(out, report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	switch {
	case runErr != nil && ctx.Err() != nil:
		return fmt.Errorf("interrupted: instance cancelled")
	case runErr != nil:
		return runErr
	case report.Status != plan.InstanceCompleted:
		return &runFailedError{status: report.Status}
	}
	return nil
}

func printTransition(w io.Writer, ev event.TaskStatusChangedEvent) {
	switch ev.To {
	case plan.TaskRunning:
		fmt.Fprintf(w, "  %s %s started\n", ui.TaskIcon(ev.To), ev.TaskID)
	case plan.TaskCompleted:
		fmt.Fprintf(w, "  %s %s completed\n", ui.TaskIcon(ev.To), ev.TaskID)
	case plan.TaskFailed:
		fmt.Fprintf(w, "  %s %s failed: %s\n", ui.TaskIcon(ev.To), ev.TaskID, util.TruncateString(ev.Message, 120))
	case plan.TaskCancelled:
		fmt.Fprintf(w, "  %s %s cancelled\n", ui.TaskIcon(ev.To), ev.TaskID)
	}
}

func printReport(w io.Writer, report *executor.Report) {
	p := report.Progress
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", ui.Label.Render("Instance"), ui.Status(string(report.Status)))
	fmt.Fprintf(w, "%d/%d completed, %d failed, %d cancelled\n", p.Completed, p.Total, p.Failed, p.Cancelled)
	if len(report.Blocked) > 0 {
		fmt.Fprintf(w, "Blocked: %s\n", util.JoinIDs(report.Blocked))
	}

	var failed []string
	for id, r := range report.Results {
		if !r.Succeeded() {
			failed = append(failed, id)
		}
	}
	sort.Strings(failed)
	for _, id := range failed {
		fmt.Fprintf(w, "  %s %s: %s\n", ui.Error.Render("✗"), id, util.TruncateString(report.Results[id].Message, 200))
	}
}
