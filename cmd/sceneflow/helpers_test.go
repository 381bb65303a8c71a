package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"prompt=stormy sea", "strength=0.8"})
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if params["prompt"] != "stormy sea" || params["strength"] != "0.8" {
		t.Fatalf("unexpected params: %#v", params)
	}

	if _, err := parseParams([]string{"no-separator"}); err == nil {
		t.Fatal("expected error for malformed pair")
	}
	if _, err := parseParams([]string{"=value"}); err == nil {
		t.Fatal("expected error for empty key")
	}

	params, err = parseParams(nil)
	if err != nil || params != nil {
		t.Fatalf("expected nil map for no pairs, got %#v (%v)", params, err)
	}
}

func TestDisplayLabel(t *testing.T) {
	if got := displayLabel("generate_scenes"); got != "Generate Scenes" {
		t.Fatalf("displayLabel: got %q", got)
	}
	if got := displayLabel(""); got != "" {
		t.Fatalf("displayLabel empty: got %q", got)
	}
}

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Running", statusError, "no", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Running:", "[ERROR] no")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Running", statusOK, "yes", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestShouldColorizeHonorsNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if shouldColorize(os.Stdout) {
		t.Fatal("NO_COLOR must disable color")
	}
}

func TestRenderSectionHeaderUnderlinesTitle(t *testing.T) {
	lines := renderSectionHeader("  Projects ", false)
	if len(lines) != 2 || lines[0] != "Projects" {
		t.Fatalf("unexpected header lines: %#v", lines)
	}
	if lines[1] != strings.Repeat("=", len(lines[0])) {
		t.Fatalf("rule %q does not match title width", lines[1])
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable(
		[]string{"A", "B"},
		[][]string{{"only"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	if !strings.Contains(out, "only") {
		t.Fatalf("expected row content, got:\n%s", out)
	}
}
