// Package agent implements the headless autonomous agent loop (C8): a
// persona-driven worker that drains a persisted task backlog with no TUI —
// every tool call is auto-approved and progress is logged instead of drawn.
// Each task runs on internal/llm/loop.go's ProcessTurn, the headless
// tool-calling loop; the interactive REPL's loop in internal/orchestrator is
// a separate implementation and is not used here.
// Grounded on original_source/src/agent/runner.rs for the backlog/reflection
// shape.
package agent

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Status is a task's position in its lifecycle.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Task is one backlog entry. FailureReason is only meaningful when
// Status == StatusFailed, matching the spec's Failed(reason) variant.
type Task struct {
	ID            string `toml:"id"`
	Description   string `toml:"description"`
	Status        Status `toml:"status"`
	RepoPath      string `toml:"repo_path,omitempty"`
	Notes         string `toml:"notes,omitempty"`
	FailureReason string `toml:"failure_reason,omitempty"`
}

// backlogFile is the on-disk shape of tasks.toml: an ordered array of
// tasks. TOML has no native ordered-map type, so order in the array is the
// backlog's order (spec §3: "Ordered mapping id -> ...").
type backlogFile struct {
	Tasks []Task `toml:"tasks"`
}

// Backlog is the in-memory, order-preserving task list, mutated only
// through the explicit transitions below and persisted back to path on
// every mutation.
type Backlog struct {
	path  string
	tasks []Task
}

// LoadBacklog reads path, or returns an empty backlog if the file doesn't
// exist yet (a brand-new agent run with no tasks.toml is not an error).
func LoadBacklog(path string) (*Backlog, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Backlog{path: path}, nil
		}
		return nil, fmt.Errorf("agent: load backlog: %w", err)
	}
	var bf backlogFile
	if _, err := toml.DecodeFile(path, &bf); err != nil {
		return nil, fmt.Errorf("agent: load backlog: %w", err)
	}
	return &Backlog{path: path, tasks: bf.Tasks}, nil
}

// Save persists the backlog to its path.
func (b *Backlog) Save() error {
	if b.path == "" {
		return nil
	}
	f, err := os.Create(b.path)
	if err != nil {
		return fmt.Errorf("agent: save backlog: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(backlogFile{Tasks: b.tasks})
}

// NextPending returns the first task with Status==Pending, in backlog
// order, or ok=false if none remain.
func (b *Backlog) NextPending() (Task, bool) {
	for _, t := range b.tasks {
		if t.Status == StatusPending {
			return t, true
		}
	}
	return Task{}, false
}

// transition finds the task by id and applies fn, then persists.
func (b *Backlog) transition(id string, fn func(*Task)) error {
	for i := range b.tasks {
		if b.tasks[i].ID == id {
			fn(&b.tasks[i])
			return b.Save()
		}
	}
	return fmt.Errorf("agent: task %q not found", id)
}

// MarkRunning transitions a Pending task to Running.
func (b *Backlog) MarkRunning(id string) error {
	return b.transition(id, func(t *Task) { t.Status = StatusRunning })
}

// MarkDone transitions a task to Done, recording any closing notes.
func (b *Backlog) MarkDone(id, notes string) error {
	return b.transition(id, func(t *Task) {
		t.Status = StatusDone
		t.Notes = notes
	})
}

// MarkFailed transitions a task to Failed, recording the reason.
func (b *Backlog) MarkFailed(id, reason string) error {
	return b.transition(id, func(t *Task) {
		t.Status = StatusFailed
		t.FailureReason = reason
	})
}

// Len reports the number of tasks in the backlog (used by callers deciding
// whether to sleep-and-reload on an empty or fully-drained backlog).
func (b *Backlog) Len() int { return len(b.tasks) }

// Add appends a new Pending task, used by tests and by operators seeding a
// backlog file by hand before `finch agent` picks it up.
func (b *Backlog) Add(t Task) error {
	if t.Status == "" {
		t.Status = StatusPending
	}
	b.tasks = append(b.tasks, t)
	return b.Save()
}

// CompletedCount reports how many tasks are Done, used to trigger the
// reflection engine every N completions.
func (b *Backlog) CompletedCount() int {
	n := 0
	for _, t := range b.tasks {
		if t.Status == StatusDone {
			n++
		}
	}
	return n
}

// pollInterval is how long the agent sleeps when the backlog has no
// Pending tasks, before reloading from disk (spec §4.8: "sleep 60s and
// reload").
const pollInterval = 60 * time.Second
