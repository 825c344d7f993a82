package planning

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/planrunner/internal/cmd/ui"
	"github.com/Iron-Ham/planrunner/internal/planner"
	"github.com/Iron-Ham/planrunner/internal/service"
	"github.com/Iron-Ham/planrunner/internal/util"
)

var validateCmd = &cobra.Command{
	Use:   "validate <plan-file>",
	Short: "Validate a plan file without storing it",
	Long: `Validate a plan file for structural issues.

This command checks:
  - Valid YAML or JSON syntax with known fields only
  - At least one task, each with a unique non-empty id
  - Every need names a task of the plan (and not the task itself)
  - No dependency cycles

Warnings (missing names or roles, repeated needs) do not fail validation.

The exit code indicates the result:
  0 - Plan is valid (may have warnings)
  1 - Plan has validation errors or could not be parsed`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var validateJSON bool

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output validation result as JSON")
}

// ValidationOutput represents the JSON output format for validation results.
type ValidationOutput struct {
	Valid        bool                        `json:"valid"`
	FilePath     string                      `json:"file_path"`
	ErrorCount   int                         `json:"error_count"`
	WarningCount int                         `json:"warning_count"`
	Messages     []planner.ValidationMessage `json:"messages,omitempty"`
	Groups       [][]string                  `json:"groups,omitempty"`
	ParseError   string                      `json:"parse_error,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	out := cmd.OutOrStdout()

	p, err := service.LoadPlanFile(filePath)
	if err != nil {
		if validateJSON {
			return outputJSON(cmd, ValidationOutput{FilePath: filePath, ParseError: err.Error()})
		}
		return err
	}

	result := planner.ValidatePlan(p)
	output := ValidationOutput{
		Valid:        result.IsValid(),
		FilePath:     filePath,
		ErrorCount:   result.ErrorCount,
		WarningCount: result.WarningCount,
		Messages:     result.Messages,
	}
	if output.Valid {
		if view, err := service.PlanGroups(p.Tasks); err == nil {
			output.Groups = view.Groups
		}
	}
	if validateJSON {
		return outputJSON(cmd, output)
	}

	fmt.Fprintf(out, "Validating: %s\n\n", filePath)
	fmt.Fprintf(out, "Plan: %s (%d tasks)\n", orDash(p.ID), len(p.Tasks))
	for _, m := range result.Messages {
		line := m.String()
		if m.Suggestion != "" {
			line += ui.Muted.Render(" (" + m.Suggestion + ")")
		}
		if m.IsError() {
			fmt.Fprintln(out, "  "+ui.Error.Render("✗")+" "+line)
		} else {
			fmt.Fprintln(out, "  "+ui.Warning.Render("!")+" "+line)
		}
	}
	fmt.Fprintln(out)

	if !output.Valid {
		fmt.Fprintln(out, ui.Error.Render(fmt.Sprintf("Invalid: %d error(s), %d warning(s)", result.ErrorCount, result.WarningCount)))
		return &silentError{}
	}
	fmt.Fprintln(out, ui.Success.Render(fmt.Sprintf("Valid: %d warning(s)", result.WarningCount)))
	for i, g := range output.Groups {
		fmt.Fprintf(out, "  Group %d: %s\n", i+1, util.JoinIDs(g))
	}
	return nil
}

// outputJSON prints the validation output and returns a silentError when
// validation failed, so the exit code is 1 without a duplicate message.
func outputJSON(cmd *cobra.Command, output ValidationOutput) error {
	if err := ui.WriteJSON(cmd.OutOrStdout(), output); err != nil {
		return err
	}
	if !output.Valid {
		return &silentError{}
	}
	return nil
}

// silentError signals that validation failed but output was already provided.
// Used to set exit code 1 without Cobra printing a duplicate error message.
type silentError struct{}

func (e *silentError) Error() string {
	return "validation failed"
}

// Silent marks the error as already reported to the user.
func (e *silentError) Silent() bool { return true }
