package tui

import (
	"strings"
	"testing"
)

func TestFormatElapsed(t *testing.T) {
	cases := map[int]string{0: "0s", 59: "59s", 60: "1m 0s", 3661: "61m 1s"}
	for in, want := range cases {
		if got := FormatElapsed(in); got != want {
			t.Errorf("FormatElapsed(%d) = %q want %q", in, got, want)
		}
	}
}

func TestFormatTokens(t *testing.T) {
	cases := map[int]string{999: "999", 1000: "1.0k", 9900: "9.9k"}
	for in, want := range cases {
		if got := FormatTokens(in); got != want {
			t.Errorf("FormatTokens(%d) = %q want %q", in, got, want)
		}
	}
}

func TestChannelingStatusFormat(t *testing.T) {
	got := ChannelingStatus(0, 59, 999)
	want := ThrobFrame(0) + " Channeling… (59s · ↓ 999 tokens)"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestEffectiveStatusPriority(t *testing.T) {
	// (ghost present and command matched) beats everything.
	got := EffectiveStatus("Show available commands", true, "some live stat")
	if got != "Show available commands" {
		t.Fatalf("ghost-match priority violated: got %q", got)
	}

	// raw status beats idle hint.
	got = EffectiveStatus("", false, "Channeling…")
	if got != "Channeling…" {
		t.Fatalf("live-stat priority violated: got %q", got)
	}

	// idle hint is the fallback and must mention Ctrl+C and /help.
	got = EffectiveStatus("", false, "")
	if !strings.Contains(got, "Ctrl+C") || !strings.Contains(got, "/help") {
		t.Fatalf("idle hint missing required mentions: %q", got)
	}
}
