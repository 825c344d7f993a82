package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Iron-Ham/planrunner/internal/plan"
)

func TestTable_Render(t *testing.T) {
	var buf bytes.Buffer
	tbl := &Table{
		Header: []string{"ID", "STATUS"},
		Rows: [][]string{
			{"a", "READY"},
			{"longer-id", "COMPLETED"},
		},
	}
	tbl.Render(&buf)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	// Second column starts at the same visible offset on every row.
	col := strings.Index(lines[2], "COMPLETED")
	if got := strings.Index(lines[1], "READY"); got != col {
		t.Errorf("READY at column %d, COMPLETED at %d", got, col)
	}
}

func TestTable_TruncatesWideCells(t *testing.T) {
	var buf bytes.Buffer
	tbl := &Table{
		Header:  []string{"NAME"},
		Rows:    [][]string{{strings.Repeat("x", 40)}},
		MaxCell: 10,
	}
	tbl.Render(&buf)

	if !strings.Contains(buf.String(), "xxxxxxx...") {
		t.Errorf("cell not truncated: %q", buf.String())
	}
}

func TestStatus_UnknownPassesThrough(t *testing.T) {
	if got := Status("WEIRD"); got != "WEIRD" {
		t.Errorf("Status(WEIRD) = %q", got)
	}
	if !strings.Contains(Status("FAILED"), "FAILED") {
		t.Error("Status(FAILED) lost its text")
	}
}

func TestCounts(t *testing.T) {
	got := Counts(plan.StatusCounts{Total: 4, Completed: 2, Running: 1, Failed: 1})
	want := "2/4 completed, 1 running, 1 failed, 0 cancelled"
	if got != want {
		t.Errorf("Counts() = %q, want %q", got, want)
	}
}
