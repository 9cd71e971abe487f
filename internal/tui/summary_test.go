package tui

import "testing"

func TestCompactSummary(t *testing.T) {
	sixty := make60CharLine()
	cases := map[string]string{
		"":           "",
		"  ":         "",
		"short line": "short line",
		sixty:        sixty,
	}
	for in, want := range cases {
		if got := CompactSummary(in); got != want {
			t.Errorf("CompactSummary(%q) = %q want %q", in, got, want)
		}
	}

	long := make61CharLine()
	got := CompactSummary(long)
	want := long[:57] + "…"
	if got != want {
		t.Errorf("long single line: got %q want %q", got, want)
	}

	multi := "line one\nline two\nline three"
	if got := CompactSummary(multi); got != "3 lines" {
		t.Errorf("multi-line: got %q want %q", got, "3 lines")
	}

	trailingNewline := "just one line\n"
	if got := CompactSummary(trailingNewline); got != "just one line" {
		t.Errorf("trailing newline should still count as one line: got %q", got)
	}
}

func make61CharLine() string {
	b := make([]byte, 61)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}

func make60CharLine() string {
	b := make([]byte, 60)
	for i := range b {
		b[i] = 'y'
	}
	return string(b)
}
