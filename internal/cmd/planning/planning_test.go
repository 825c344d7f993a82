package planning

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/planrunner/internal/cmd/app"
	"github.com/Iron-Ham/planrunner/internal/config"
	"github.com/Iron-Ham/planrunner/internal/errors"
)

const diamondPlan = `id: diamond
name: Diamond
tasks:
  - id: a
    role: shell
    parameters:
      command: echo a
  - id: b
    needs: [a]
  - id: c
    needs: [a]
  - id: d
    needs: [b, c]
`

const cyclicPlan = `id: loop
tasks:
  - id: a
    needs: [b]
  - id: b
    needs: [a]
`

// setupEnv points the configuration at a fresh store and selects project
// "proj". Flags are reset to their defaults.
func setupEnv(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	config.SetDefaults()
	dir := t.TempDir()
	viper.Set("storage.dir", dir)
	viper.Set(app.ProjectKey, "proj")

	createID, listFilter, listJSON, showFormat = "", "", false, "text"
	groupsFile, groupsJSON, validateJSON = "", false, false
	return dir
}

func writePlan(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write plan file: %v", err)
	}
	return path
}

func run(t *testing.T, cmd *cobra.Command, fn func(*cobra.Command, []string) error, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	defer cmd.SetOut(nil)
	err := fn(cmd, args)
	return buf.String(), err
}

func TestCreateListShow(t *testing.T) {
	setupEnv(t)
	path := writePlan(t, "plan.yaml", diamondPlan)

	out, err := run(t, createCmd, runCreate, path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(out, "diamond") || !strings.Contains(out, "4 tasks") {
		t.Errorf("create output = %q", out)
	}

	out, err = run(t, listCmd, runList)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "diamond") || !strings.Contains(out, "DRAFT") {
		t.Errorf("list output = %q", out)
	}

	out, err = run(t, showCmd, runShow, "diamond")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"Diamond", "shell", "b, c"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestCreate_Duplicate(t *testing.T) {
	setupEnv(t)
	path := writePlan(t, "plan.yaml", diamondPlan)

	if _, err := run(t, createCmd, runCreate, path); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := run(t, createCmd, runCreate, path)
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("second create error = %v, want ErrInvalidInput", err)
	}
}

func TestCreate_IDOverride(t *testing.T) {
	setupEnv(t)
	createID = "renamed"
	path := writePlan(t, "plan.yaml", diamondPlan)

	if _, err := run(t, createCmd, runCreate, path); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := run(t, showCmd, runShow, "renamed"); err != nil {
		t.Errorf("show renamed: %v", err)
	}
}

func TestCreate_RequiresProject(t *testing.T) {
	setupEnv(t)
	viper.Set(app.ProjectKey, "")
	path := writePlan(t, "plan.yaml", diamondPlan)

	if _, err := run(t, createCmd, runCreate, path); err == nil {
		t.Error("expected error without a project")
	}
}

func TestUpdate(t *testing.T) {
	setupEnv(t)
	if _, err := run(t, createCmd, runCreate, writePlan(t, "plan.yaml", diamondPlan)); err != nil {
		t.Fatalf("create: %v", err)
	}

	smaller := "id: diamond\ntasks:\n  - id: only\n"
	out, err := run(t, updateCmd, runUpdate, writePlan(t, "plan.yaml", smaller))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !strings.Contains(out, "1 tasks") {
		t.Errorf("update output = %q", out)
	}

	missing := "id: nope\ntasks:\n  - id: only\n"
	if _, err := run(t, updateCmd, runUpdate, writePlan(t, "plan.yaml", missing)); err == nil {
		t.Error("expected error updating an unknown plan")
	}
}

func TestList_FilterAndJSON(t *testing.T) {
	setupEnv(t)
	for _, id := range []string{"release-1", "release-2", "nightly"} {
		createID = id
		if _, err := run(t, createCmd, runCreate, writePlan(t, "plan.yaml", diamondPlan)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	createID = ""

	listFilter = "release-*"
	listJSON = true
	out, err := run(t, listCmd, runList)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got []planSummary
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode list output: %v\n%s", err, out)
	}
	if len(got) != 2 || got[0].ID != "release-1" || got[1].ID != "release-2" {
		t.Errorf("filtered plans = %+v", got)
	}

	listFilter = "["
	if _, err := run(t, listCmd, runList); err == nil {
		t.Error("expected error for invalid glob")
	}
}

func TestList_Empty(t *testing.T) {
	setupEnv(t)
	out, err := run(t, listCmd, runList)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "No plans") {
		t.Errorf("list output = %q", out)
	}
}

func TestShow_Formats(t *testing.T) {
	setupEnv(t)
	if _, err := run(t, createCmd, runCreate, writePlan(t, "plan.yaml", diamondPlan)); err != nil {
		t.Fatalf("create: %v", err)
	}

	showFormat = "yaml"
	out, err := run(t, showCmd, runShow, "diamond")
	if err != nil {
		t.Fatalf("show yaml: %v", err)
	}
	if !strings.Contains(out, "id: diamond") {
		t.Errorf("yaml output = %q", out)
	}

	showFormat = "json"
	out, err = run(t, showCmd, runShow, "diamond")
	if err != nil {
		t.Fatalf("show json: %v", err)
	}
	if !strings.Contains(out, `"id": "diamond"`) {
		t.Errorf("json output = %q", out)
	}

	showFormat = "xml"
	if _, err := run(t, showCmd, runShow, "diamond"); err == nil {
		t.Error("expected error for unknown format")
	}

	showFormat = "text"
	if _, err := run(t, showCmd, runShow, "missing"); !errors.IsNotFound(err) {
		t.Errorf("show missing error = %v, want not found", err)
	}
}

func TestGroups(t *testing.T) {
	setupEnv(t)
	if _, err := run(t, createCmd, runCreate, writePlan(t, "plan.yaml", diamondPlan)); err != nil {
		t.Fatalf("create: %v", err)
	}

	out, err := run(t, groupsCmd, runGroups, "diamond")
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	for _, want := range []string{"Group 1: a", "Group 2: b, c", "Group 3: d", "Max parallelism: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("groups output missing %q:\n%s", want, out)
		}
	}

	if _, err := run(t, groupsCmd, runGroups); err == nil {
		t.Error("expected error without plan id or file")
	}
}

func TestGroups_FromFileJSON(t *testing.T) {
	setupEnv(t)
	groupsFile = writePlan(t, "plan.yaml", diamondPlan)
	groupsJSON = true

	out, err := run(t, groupsCmd, runGroups)
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	var view struct {
		Groups       [][]string `json:"groups"`
		CriticalPath []string   `json:"critical_path"`
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(view.Groups) != 3 || len(view.CriticalPath) != 3 {
		t.Errorf("view = %+v", view)
	}

	groupsFile = writePlan(t, "loop.yaml", cyclicPlan)
	if _, err := run(t, groupsCmd, runGroups); !errors.Is(err, errors.ErrUnschedulable) {
		t.Errorf("cyclic groups error = %v, want ErrUnschedulable", err)
	}
}

func TestValidate(t *testing.T) {
	setupEnv(t)

	out, err := run(t, validateCmd, runValidate, writePlan(t, "plan.yaml", diamondPlan))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "Valid") || !strings.Contains(out, "Group 2: b, c") {
		t.Errorf("validate output = %q", out)
	}

	out, err = run(t, validateCmd, runValidate, writePlan(t, "loop.yaml", cyclicPlan))
	var silent *silentError
	if !errors.As(err, &silent) {
		t.Fatalf("validate cyclic error = %v, want silentError", err)
	}
	if !strings.Contains(out, "cycle") {
		t.Errorf("validate output = %q", out)
	}
}

func TestValidate_JSON(t *testing.T) {
	setupEnv(t)
	validateJSON = true

	out, err := run(t, validateCmd, runValidate, writePlan(t, "loop.yaml", cyclicPlan))
	if err == nil {
		t.Error("expected error for cyclic plan")
	}
	var result ValidationOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if result.Valid || result.ErrorCount == 0 {
		t.Errorf("result = %+v", result)
	}

	out, err = run(t, validateCmd, runValidate, filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
	result = ValidationOutput{}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if result.ParseError == "" {
		t.Error("expected parse error for missing file")
	}
}

func TestSilentError(t *testing.T) {
	err := &silentError{}
	if err.Error() != "validation failed" || !err.Silent() {
		t.Errorf("silentError = %q, silent=%v", err.Error(), err.Silent())
	}
}
