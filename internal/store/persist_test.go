package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/darwin-finch/finch/internal/orchestrator"
)

func TestFeedbackAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	fs, err := NewFeedbackStore(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		err := fs.AppendFeedback(orchestrator.FeedbackEntry{
			Timestamp: time.Now(),
			SessionID: "s1",
			Query:     "q" + strconv.Itoa(i),
			Response:  "r",
			Rating:    orchestrator.RatingGood,
			Weight:    1,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	count := 0
	for scanner.Scan() {
		var entry orchestrator.FeedbackEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", count, err)
		}
		count++
	}
	if count != 3 {
		t.Fatalf("got %d lines, want 3", count)
	}
}

func TestFeedbackMirrorsIntoDatabase(t *testing.T) {
	dir := t.TempDir()
	cache, err := Open(filepath.Join(dir, "cache.db"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	fs, err := NewFeedbackStore(filepath.Join(dir, "feedback.jsonl"), cache)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.AppendFeedback(orchestrator.FeedbackEntry{
		Timestamp: time.Now(),
		SessionID: "s1",
		Query:     "q",
		Response:  "r",
		Rating:    orchestrator.RatingCritical,
		Weight:    10,
	}); err != nil {
		t.Fatal(err)
	}

	var weight int
	if err := cache.db.QueryRow("SELECT weight FROM feedback WHERE rating = 'critical'").Scan(&weight); err != nil {
		t.Fatal(err)
	}
	if weight != 10 {
		t.Fatalf("weight = %d", weight)
	}
}

func TestMetricsWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	mw, err := NewMetricsWriter(dir, "node-1")
	if err != nil {
		t.Fatal(err)
	}

	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	if err := mw.Record(MetricsEvent{Timestamp: ts, Kind: MetricQueryCompleted, Model: "m", LatencyMS: 42}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "2026-03-14.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	var evt MetricsEvent
	if err := json.Unmarshal(data[:len(data)-1], &evt); err != nil {
		t.Fatal(err)
	}
	if evt.NodeID != "node-1" || evt.Kind != MetricQueryCompleted || evt.LatencyMS != 42 {
		t.Fatalf("event = %+v", evt)
	}
}

func TestNodeIDIsStableAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node_id")
	first, err := NodeID(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := NodeID(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("node id changed: %q -> %q", first, second)
	}
}

func TestNodeIDRegeneratesOnCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node_id")
	if err := os.WriteFile(path, []byte("not-a-uuid"), 0600); err != nil {
		t.Fatal(err)
	}
	id, err := NodeID(path)
	if err != nil {
		t.Fatal(err)
	}
	if id == "not-a-uuid" || id == "" {
		t.Fatalf("corrupt file was not regenerated: %q", id)
	}
}

func TestHistoryRoundTripAndCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")

	lines := make([]string, 1200)
	for i := range lines {
		lines[i] = "input " + strconv.Itoa(i)
	}
	if err := SaveHistory(path, lines); err != nil {
		t.Fatal(err)
	}

	got, err := LoadHistory(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1000 {
		t.Fatalf("history length = %d, want 1000", len(got))
	}
	// Newest-first ordering is preserved verbatim.
	if got[0] != "input 0" || got[999] != "input 999" {
		t.Fatalf("ordering lost: first=%q last=%q", got[0], got[999])
	}
}

func TestHistoryFlattensMultiLineEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	if err := SaveHistory(path, []string{"first line\nsecond line", "plain"}); err != nil {
		t.Fatal(err)
	}
	got, err := LoadHistory(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "first line" || got[1] != "plain" {
		t.Fatalf("got %v", got)
	}
}

func TestHistoryMissingFileIsEmpty(t *testing.T) {
	got, err := LoadHistory(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("got %v", got)
	}
}
