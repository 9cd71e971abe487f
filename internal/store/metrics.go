package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MetricsEventKind tags a metrics line.
type MetricsEventKind string

const (
	MetricQueryCompleted MetricsEventKind = "query_completed"
	MetricToolExecuted   MetricsEventKind = "tool_executed"
	MetricRouterDecision MetricsEventKind = "router_decision"
)

// MetricsEvent is one line in the daily metrics log.
type MetricsEvent struct {
	Timestamp    time.Time        `json:"timestamp"`
	NodeID       string           `json:"node_id,omitempty"`
	Kind         MetricsEventKind `json:"event_kind"`
	Model        string           `json:"model,omitempty"`
	LatencyMS    int64            `json:"latency_ms,omitempty"`
	InputTokens  int              `json:"input_tokens,omitempty"`
	OutputTokens int              `json:"output_tokens,omitempty"`
	UsedLocal    bool             `json:"used_local"`
}

// MetricsWriter appends events to metrics/YYYY-MM-DD.jsonl under the data
// directory, one file per UTC day.
type MetricsWriter struct {
	mu     sync.Mutex
	dir    string
	nodeID string
}

// NewMetricsWriter prepares the metrics directory.
func NewMetricsWriter(dir, nodeID string) (*MetricsWriter, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("metrics dir: %w", err)
	}
	return &MetricsWriter{dir: dir, nodeID: nodeID}, nil
}

// Record appends one event to today's file. Timestamp defaults to now.
func (m *MetricsWriter) Record(evt MetricsEvent) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.NodeID == "" {
		evt.NodeID = m.nodeID
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal metrics event: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.dir, evt.Timestamp.UTC().Format("2006-01-02")+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open metrics file: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append metrics event: %w", err)
	}
	return nil
}
