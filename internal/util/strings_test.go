package util

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short unchanged", "build", 10, "build"},
		{"exact length unchanged", "build", 5, "build"},
		{"long truncated", "exit status 1: missing file", 12, "exit stat..."},
		{"tiny limit", "build", 3, "..."},
		{"runes counted", "héllo wörld", 8, "héllo..."},
		{"empty", "", 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateString(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateANSI(t *testing.T) {
	styled := lipgloss.NewStyle().Bold(true).Render("COMPLETED task")

	if got := TruncateANSI(styled, 40); got != styled {
		t.Errorf("short styled string changed: %q", got)
	}
	got := TruncateANSI(styled, 8)
	if w := lipgloss.Width(got); w > 8 {
		t.Errorf("width = %d, want <= 8 (%q)", w, got)
	}
	if TruncateANSI("anything", 2) != "..." {
		t.Error("tiny width should return ellipsis")
	}
	// Wide characters take two columns each.
	if w := lipgloss.Width(TruncateANSI("日本語のタスク", 7)); w > 7 {
		t.Errorf("wide truncation width = %d, want <= 7", w)
	}
}

func TestPadRight(t *testing.T) {
	if got := PadRight("ab", 5); got != "ab   " {
		t.Errorf("PadRight = %q", got)
	}
	if got := PadRight("abcdef", 3); got != "abcdef" {
		t.Errorf("PadRight should not cut: %q", got)
	}
	styled := lipgloss.NewStyle().Bold(true).Render("ok")
	if w := lipgloss.Width(PadRight(styled, 6)); w != 6 {
		t.Errorf("styled pad width = %d, want 6", w)
	}
}

func TestLastLine(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"one", "one"},
		{"first\nsecond\n", "second"},
		{"error: x\n  \n\n", "error: x"},
		{"  padded  ", "padded"},
	}
	for _, tt := range tests {
		if got := LastLine(tt.input); got != tt.want {
			t.Errorf("LastLine(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestJoinIDs(t *testing.T) {
	if got := JoinIDs(nil); got != "-" {
		t.Errorf("JoinIDs(nil) = %q", got)
	}
	if got := JoinIDs([]string{"a", "b"}); got != "a, b" {
		t.Errorf("JoinIDs = %q", got)
	}
}
