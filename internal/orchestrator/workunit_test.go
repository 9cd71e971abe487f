package orchestrator

import (
	"testing"
	"time"
)

func TestVerbRoundRobin(t *testing.T) {
	first := NewWorkUnit("q1").Verb
	idx := -1
	for i, v := range headerVerbs {
		if v == first {
			idx = i
			break
		}
	}
	if idx == -1 {
		t.Fatalf("verb %q not from the pool", first)
	}
	// Subsequent units walk the pool in order, wrapping around.
	for i := 1; i <= len(headerVerbs)+2; i++ {
		got := NewWorkUnit("qn").Verb
		want := headerVerbs[(idx+i)%len(headerVerbs)]
		if got != want {
			t.Fatalf("unit %d verb = %q, want %q", i, got, want)
		}
	}
}

func TestWorkUnitRows(t *testing.T) {
	u := NewWorkUnit("q")
	a := u.AddRow("glob(**/*.go)")
	b := u.AddRow("bash(ls)")

	u.CompleteRow(a, "3 lines")
	u.FailRow(b, "blocked in plan mode")

	rows := u.Rows()
	if rows[a].Status != RowComplete || rows[a].Summary != "3 lines" {
		t.Fatalf("row a = %+v", rows[a])
	}
	if rows[b].Status != RowFailed || rows[b].Reason != "blocked in plan mode" {
		t.Fatalf("row b = %+v", rows[b])
	}

	// Out-of-range indices are ignored, not panics.
	u.CompleteRow(99, "x")
	u.FailRow(-1, "y")
}

func TestWorkUnitFinalizeIsSticky(t *testing.T) {
	u := NewWorkUnit("q")
	u.Finalize(WorkFailed)
	u.Finalize(WorkComplete)
	if u.Status() != WorkFailed {
		t.Fatalf("terminal status was overwritten")
	}
}

func TestWorkUnitResponseAccumulates(t *testing.T) {
	u := NewWorkUnit("q")
	u.AppendResponse("hello ", 1)
	u.AppendResponse("world", 1)
	if u.Response() != "hello world" {
		t.Fatalf("response = %q", u.Response())
	}
	if u.Tokens() != 2 {
		t.Fatalf("tokens = %d", u.Tokens())
	}
}

func TestElapsedSeconds(t *testing.T) {
	u := NewWorkUnit("q")
	if got := u.ElapsedSeconds(u.CreatedAt.Add(61 * time.Second)); got != 61 {
		t.Fatalf("elapsed = %d", got)
	}
}

func TestToolLabel(t *testing.T) {
	cases := []struct {
		name  string
		input map[string]any
		want  string
	}{
		{"glob", map[string]any{"pattern": "**/*.rs"}, "glob(**/*.rs)"},
		{"bash", map[string]any{"command": "ls", "timeout": 5}, "bash(ls)"},
		{"read", map[string]any{"path": "main.go"}, "read(main.go)"},
		{"noop", nil, "noop()"},
	}
	for _, c := range cases {
		if got := toolLabel(c.name, c.input); got != c.want {
			t.Errorf("toolLabel(%s) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestCompactSummaryMatchesSpecShape(t *testing.T) {
	if got := compactSummary(""); got != "" {
		t.Errorf("empty = %q", got)
	}
	if got := compactSummary("  "); got != "" {
		t.Errorf("whitespace = %q", got)
	}
	if got := compactSummary("short line"); got != "short line" {
		t.Errorf("short = %q", got)
	}
	long := make([]byte, 61)
	for i := range long {
		long[i] = 'x'
	}
	if got := compactSummary(string(long)); len(got) == 0 || got[:57] != string(long[:57]) {
		t.Errorf("long = %q", got)
	}
	if got := compactSummary("a\nb\nc"); got != "3 lines" {
		t.Errorf("multi = %q", got)
	}
}
