package planning

import (
	"fmt"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planrunner/internal/cmd/app"
	"github.com/Iron-Ham/planrunner/internal/cmd/ui"
	"github.com/Iron-Ham/planrunner/internal/plan"
	"github.com/Iron-Ham/planrunner/internal/service"
	"github.com/Iron-Ham/planrunner/internal/util"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage plan definitions",
	Long: `Manage plan definitions.

A plan is a reusable set of tasks with dependencies ("needs"). Plans are
written as YAML or JSON files and stored per project; each run of a plan
is an instance (see 'planrunner instance').`,
}

var createCmd = &cobra.Command{
	Use:   "create <plan-file>",
	Short: "Store a new plan from a YAML or JSON file",
	Long: `Store a new plan from a YAML or JSON file.

The plan is validated before it is stored: task ids must be unique, every
need must name a task of the plan, and needs must not form a cycle.

Example plan.yaml:
  id: release
  name: Release
  tasks:
    - id: build
      parameters:
        command: make build
    - id: test
      needs: [build]
      parameters:
        command: make test`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

var updateCmd = &cobra.Command{
	Use:   "update <plan-file>",
	Short: "Replace the tasks of a stored plan",
	Long: `Replace the definition of a stored plan from a YAML or JSON file.

The file must carry the id of an existing plan. Instances already created
keep their own copy of the tasks and are not affected.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the plans of the project",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Show a stored plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var (
	createID   string
	listFilter string
	listJSON   bool
	showFormat string
)

func init() {
	createCmd.Flags().StringVar(&createID, "id", "", "Override the plan id from the file")
	listCmd.Flags().StringVarP(&listFilter, "filter", "f", "", "Only list plans whose id or name matches a glob (e.g. 'release-*')")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
	showCmd.Flags().StringVarP(&showFormat, "output", "o", "text", "Output format: text, yaml or json")
}

func runCreate(cmd *cobra.Command, args []string) error {
	a, projectID, err := app.LoadProject()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	p, err := service.LoadPlanFile(args[0])
	if err != nil {
		return err
	}
	p.ProjectID = projectID
	if createID != "" {
		p.ID = createID
	}

	stored, err := a.Service.CreatePlan(app.CommandContext(cmd), p)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created plan %s (%d tasks)\n", ui.Title.Render(stored.ID), len(stored.Tasks))
	fmt.Fprintf(out, "Start a run with: planrunner instance run %s --new\n", stored.ID)
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	a, projectID, err := app.LoadProject()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	p, err := service.LoadPlanFile(args[0])
	if err != nil {
		return err
	}
	p.ProjectID = projectID

	stored, err := a.Service.UpdatePlan(app.CommandContext(cmd), p)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated plan %s (%d tasks)\n", ui.Title.Render(stored.ID), len(stored.Tasks))
	return nil
}

// planSummary is the JSON form of a plan in list output.
type planSummary struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Status    plan.PlanStatus `json:"status"`
	Tasks     int             `json:"tasks"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func runList(cmd *cobra.Command, args []string) error {
	a, projectID, err := app.LoadProject()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var filter glob.Glob
	if listFilter != "" {
		filter, err = glob.Compile(listFilter)
		if err != nil {
			return fmt.Errorf("invalid filter %q: %w", listFilter, err)
		}
	}

	plans, err := a.Service.ListPlans(app.CommandContext(cmd), projectID)
	if err != nil {
		return err
	}

	summaries := make([]planSummary, 0, len(plans))
	for _, p := range plans {
		if filter != nil && !filter.Match(p.ID) && !filter.Match(p.Name) {
			continue
		}
		summaries = append(summaries, planSummary{
			ID: p.ID, Name: p.Name, Status: p.Status, Tasks: len(p.Tasks), UpdatedAt: p.UpdatedAt,
		})
	}

	out := cmd.OutOrStdout()
	if listJSON {
		return ui.WriteJSON(out, summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintf(out, "No plans in project %s\n", projectID)
		return nil
	}

	tbl := &ui.Table{Header: []string{"ID", "NAME", "STATUS", "TASKS", "UPDATED"}}
	for _, s := range summaries {
		tbl.Rows = append(tbl.Rows, []string{
			s.ID, s.Name, ui.Status(string(s.Status)), fmt.Sprint(s.Tasks), s.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	tbl.Render(out)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	a, projectID, err := app.LoadProject()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	p, err := a.Service.GetPlan(app.CommandContext(cmd), projectID, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch showFormat {
	case "json":
		return ui.WriteJSON(out, p)
	case "yaml":
		data, err := service.MarshalPlanYAML(p)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	case "text", "":
	default:
		return fmt.Errorf("unknown output format %q (want text, yaml or json)", showFormat)
	}

	fmt.Fprintf(out, "%s %s\n", ui.Title.Render(p.ID), ui.Status(string(p.Status)))
	if p.Name != "" {
		fmt.Fprintf(out, "Name:        %s\n", p.Name)
	}
	if p.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", util.TruncateString(p.Description, 120))
	}
	fmt.Fprintf(out, "Updated:     %s\n\n", p.UpdatedAt.Local().Format(time.DateTime))

	tbl := &ui.Table{Header: []string{"TASK", "ROLE", "NEEDS", "NAME"}}
	for _, t := range p.Tasks {
		tbl.Rows = append(tbl.Rows, []string{t.ID, orDash(t.Role), util.JoinIDs(t.Needs), t.Name})
	}
	tbl.Render(out)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
