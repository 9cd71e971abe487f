package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/darwin-finch/finch/internal/conversation"
)

// Session persistence: one row per conversation message, content stored as
// the same block-structured JSON the orchestrator's append-only log uses
// (Text / ToolUse / ToolResult), so a resumed session replays through the
// conversation store's own id validation.

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id      TEXT PRIMARY KEY,
	title   TEXT NOT NULL DEFAULT '',
	created INTEGER NOT NULL,
	updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	blocks     TEXT NOT NULL,
	images     TEXT,
	created    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conv_session ON conversation_messages(session_id, id);
`

// Busy-retry tuning for concurrent writers sharing the SQLite file.
const (
	sqliteBusyMaxRetries    = 10
	sqliteBusyBackoffStepMs = 50
	sqliteBusyMaxBackoff    = time.Second
)

// SessionSummary is one row of `finch --list`.
type SessionSummary struct {
	ID        string
	Timestamp time.Time
	Preview   string
}

func (c *Cache) ensureSessionSchema() error {
	_, err := c.db.Exec(sessionSchema)
	return err
}

// CreateSession registers a new session id. Nil-receiver safe: persistence
// is optional everywhere it is wired.
func (c *Cache) CreateSession(id string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().Unix()
	_, err := c.db.Exec("INSERT OR IGNORE INTO sessions (id, created, updated) VALUES (?, ?, ?)", id, now, now)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// SessionExists reports whether id is a known session.
func (c *Cache) SessionExists(id string) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var one int
	err := c.db.QueryRow("SELECT 1 FROM sessions WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LatestSessionID returns the most recently updated session.
func (c *Cache) LatestSessionID() (string, error) {
	if c == nil {
		return "", fmt.Errorf("no session store")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var id string
	err := c.db.QueryRow("SELECT id FROM sessions ORDER BY updated DESC LIMIT 1").Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListSessions returns summaries, newest first.
func (c *Cache) ListSessions() ([]SessionSummary, error) {
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query("SELECT id, updated, title FROM sessions ORDER BY updated DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var updated int64
		if err := rows.Scan(&s.ID, &updated, &s.Preview); err != nil {
			return nil, err
		}
		s.Timestamp = time.Unix(updated, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}

// AppendConversationMessage persists one message. Implements the
// orchestrator's Persister. The first user text of a session becomes its
// title for the session list.
func (c *Cache) AppendConversationMessage(sessionID string, msg conversation.Message) error {
	if c == nil {
		return nil
	}

	blocks, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("encode blocks: %w", err)
	}
	var images []byte
	if len(msg.Images) > 0 {
		images, err = json.Marshal(msg.Images)
		if err != nil {
			return fmt.Errorf("encode images: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= sqliteBusyMaxRetries; attempt++ {
		lastErr = c.appendOnce(sessionID, msg, blocks, images)
		if lastErr == nil || !IsSQLiteBusy(lastErr) {
			return lastErr
		}
		backoff := time.Duration((attempt+1)*sqliteBusyBackoffStepMs) * time.Millisecond
		if backoff > sqliteBusyMaxBackoff {
			backoff = sqliteBusyMaxBackoff
		}
		time.Sleep(backoff)
	}
	return lastErr
}

func (c *Cache) appendOnce(sessionID string, msg conversation.Message, blocks, images []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().Unix()
	if _, err := tx.Exec(
		"INSERT INTO conversation_messages (session_id, role, blocks, images, created) VALUES (?, ?, ?, ?, ?)",
		sessionID, string(msg.Role), string(blocks), nullableText(images), now,
	); err != nil {
		return err
	}
	if _, err := tx.Exec("UPDATE sessions SET updated = ? WHERE id = ?", now, sessionID); err != nil {
		return err
	}
	if msg.Role == conversation.RoleUser {
		if title := previewText(msg); title != "" {
			if _, err := tx.Exec("UPDATE sessions SET title = ? WHERE id = ? AND title = ''", title, sessionID); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// LoadConversation replays a stored session in append order.
func (c *Cache) LoadConversation(sessionID string) ([]conversation.Message, error) {
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(
		"SELECT role, blocks, images FROM conversation_messages WHERE session_id = ? ORDER BY id ASC",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []conversation.Message
	for rows.Next() {
		var role, blocks string
		var images sql.NullString
		if err := rows.Scan(&role, &blocks, &images); err != nil {
			return nil, err
		}
		msg := conversation.Message{Role: conversation.Role(role)}
		if err := json.Unmarshal([]byte(blocks), &msg.Content); err != nil {
			return nil, fmt.Errorf("decode blocks: %w", err)
		}
		if images.Valid && images.String != "" {
			if err := json.Unmarshal([]byte(images.String), &msg.Images); err != nil {
				return nil, fmt.Errorf("decode images: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// previewText extracts the first line of a message's text for the session
// title, trimmed to 80 chars.
func previewText(msg conversation.Message) string {
	for _, b := range msg.Content {
		if b.Type != conversation.BlockText {
			continue
		}
		line := b.Text
		if idx := strings.IndexByte(line, '\n'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if len(line) > 80 {
			line = line[:80]
		}
		if line != "" {
			return line
		}
	}
	return ""
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// IsSQLiteBusy reports whether err is a lock-contention error worth
// retrying.
func IsSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
