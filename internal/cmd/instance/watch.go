package instance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planrunner/internal/cmd/app"
	"github.com/Iron-Ham/planrunner/internal/cmd/ui"
	"github.com/Iron-Ham/planrunner/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <plan-id> [instance-id]",
	Short: "Follow an instance run by another process",
	Long: `Follow an instance run by another process.

Prints a progress line every time the instance is saved and exits once it
reaches a terminal status. Requires the file storage backend.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, projectID, err := app.LoadProject()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	planID := args[0]
	dir, ok := a.PlanDir(projectID, planID)
	if !ok {
		return fmt.Errorf("watch requires the file storage backend (storage.backend: file)")
	}

	sigCtx, stop := signal.NotifyContext(app.CommandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	st, err := a.Service.Status(ctx, projectID, planID, instanceArg(args))
	if err != nil {
		return err
	}
	instanceID := st.Instance.InstanceID
	out := cmd.OutOrStdout()

	last := ""
	report := func() {
		st, err := a.Service.Status(ctx, projectID, planID, instanceID)
		if err != nil {
			a.Logger.Warn("failed to reload instance", "instance_id", instanceID, "error", err)
			return
		}
		line := fmt.Sprintf("%s %s", ui.Status(string(st.Instance.Status)), ui.Counts(st.Counts))
		if line != last {
			fmt.Fprintln(out, line)
			last = line
		}
		if st.Instance.IsTerminal() {
			cancel()
		}
	}

	// Watch before the first read so no save goes unnoticed.
	w, err := watch.New(watch.WithLogger(a.Logger))
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.AddPlanDir(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	fmt.Fprintf(out, "Watching %s\n", ui.Title.Render(planID+"/"+instanceID))
	report()
	if ctx.Err() != nil {
		return nil
	}

	err = w.Run(ctx, func(string) { report() })
	if errors.Is(err, context.Canceled) && sigCtx.Err() == nil {
		return nil
	}
	return err
}
