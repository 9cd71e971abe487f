package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/darwin-finch/finch/internal/orchestrator"
)

// FeedbackStore appends rated exchanges to feedback.jsonl and mirrors them
// into the session database when one is open. The JSONL file is the
// externally documented format; the table exists so /metrics can aggregate
// without re-parsing the file.
type FeedbackStore struct {
	mu    sync.Mutex
	path  string
	cache *Cache
}

const feedbackSchema = `
CREATE TABLE IF NOT EXISTS feedback (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created    INTEGER NOT NULL,
	session_id TEXT NOT NULL,
	rating     TEXT NOT NULL,
	weight     INTEGER NOT NULL,
	query      TEXT NOT NULL,
	response   TEXT NOT NULL,
	note       TEXT
);
`

// NewFeedbackStore opens (creating if needed) the JSONL file at path.
// cache may be nil; then only the file is written.
func NewFeedbackStore(path string, cache *Cache) (*FeedbackStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("feedback dir: %w", err)
	}
	if cache != nil {
		if _, err := cache.db.Exec(feedbackSchema); err != nil {
			return nil, fmt.Errorf("feedback schema: %w", err)
		}
	}
	return &FeedbackStore{path: path, cache: cache}, nil
}

// AppendFeedback writes one entry as a single JSON line. Implements
// orchestrator.FeedbackSink.
func (f *FeedbackStore) AppendFeedback(entry orchestrator.FeedbackEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open feedback file: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}

	if f.cache != nil {
		f.cache.mu.Lock()
		_, dbErr := f.cache.db.Exec(
			"INSERT INTO feedback (created, session_id, rating, weight, query, response, note) VALUES (?, ?, ?, ?, ?, ?, ?)",
			entry.Timestamp.Unix(), entry.SessionID, string(entry.Rating), entry.Weight, entry.Query, entry.Response, entry.Note,
		)
		f.cache.mu.Unlock()
		if dbErr != nil {
			return fmt.Errorf("insert feedback row: %w", dbErr)
		}
	}
	return nil
}
