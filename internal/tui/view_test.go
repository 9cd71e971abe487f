package tui

import (
	"strings"
	"testing"

	"github.com/darwin-finch/finch/internal/orchestrator"
	"github.com/darwin-finch/finch/internal/tools"
)

func newIdleModel() Model {
	orch := orchestrator.New(orchestrator.Options{
		Registry: tools.NewRegistry(tools.NewPermissionManager(true, "")),
	})
	m := New(orch)
	m.width, m.height = 80, 24
	return m
}

func TestLiveAreaLayoutWhenIdle(t *testing.T) {
	m := newIdleModel()
	frame := m.renderLive()
	lines := strings.Split(frame, "\n")

	// Idle live area: separator, input, thin separator, status — no work
	// unit block.
	if len(lines) < 4 {
		t.Fatalf("live area has %d rows, want at least 4:\n%s", len(lines), frame)
	}
	if !strings.Contains(lines[0], "──") {
		t.Errorf("first row should be the CWD separator: %q", lines[0])
	}
	if !strings.Contains(frame, "Ctrl+C") || !strings.Contains(frame, "/help") {
		t.Errorf("idle status line must mention Ctrl+C and /help:\n%s", frame)
	}
}

func TestLiveAreaShowsGhostSuffix(t *testing.T) {
	m := newIdleModel()
	m.input.Focus()
	m.input.InsertText("/hel")

	view := m.inputView()
	if !strings.Contains(view, "p") {
		t.Errorf("unique completion suffix should render after the input: %q", view)
	}
}

func TestStatusBarPrefersCommandDescription(t *testing.T) {
	m := newIdleModel()
	m.input.Focus()
	m.input.InsertText("/hel")

	bar := m.statusBar(80)
	if !strings.Contains(bar, "Show available commands") {
		t.Errorf("status bar should show the matched command's description: %q", bar)
	}
}

func TestTildeAbbrev(t *testing.T) {
	restore := homeDir
	homeDir = func() (string, error) { return "/home/finch", nil }
	defer func() { homeDir = restore }()

	cases := map[string]string{
		"/home/finch":          "~",
		"/home/finch/src/proj": "~/src/proj",
		"/tmp/elsewhere":       "/tmp/elsewhere",
	}
	for in, want := range cases {
		if got := tildeAbbrev(in); got != want {
			t.Errorf("tildeAbbrev(%q) = %q, want %q", in, got, want)
		}
	}
}
