// Package orchestrator implements the query event loop (C5): it ties the
// provider stream, the tool registry, the conversation store, and the UI's
// work units together, one submitted user input at a time.
package orchestrator

// Event is a REPL event consumed by the event loop's select. Concrete event
// types are small structs; the loop switches on the dynamic type.
type Event interface{ isEvent() }

// QueryComplete signals that a query reached its final assistant text.
type QueryComplete struct {
	QueryID string
	Text    string
}

// QueryFailed signals that a query failed with a terminal error.
type QueryFailed struct {
	QueryID string
	Reason  string
}

// ToolResultEvent carries one finished tool execution back into the loop.
type ToolResultEvent struct {
	QueryID   string
	ToolUseID string
	Content   string
	IsError   bool
}

// ToolApprovalNeeded describes an Ask decision as a dialog request. Nothing
// emits it: Ask decisions reach the UI through
// tools.PermissionManager.OnApprovalRequested, whose Decision channel the
// tool call waits on.
type ToolApprovalNeeded struct {
	QueryID string
	Tool    string
	Input   map[string]any
	Resolve chan bool
}

// StatsUpdate refreshes the status bar's model/token/latency line.
type StatsUpdate struct {
	Model        string
	InputTokens  int
	OutputTokens int
	LatencyMS    int64
}

// CancelQuery is posted on Ctrl-C.
type CancelQuery struct{}

// Shutdown asks the loop to drain and exit.
type Shutdown struct{}

// StreamingComplete signals that the provider stream for a query closed,
// before any tool execution that turn may still owe.
type StreamingComplete struct {
	QueryID string
}

// BrainQuestion relays an ask_user_question raised by the background brain
// session. Reply receives the user's answer, or nothing within the brain's
// 30s window.
type BrainQuestion struct {
	Question string
	Options  []string
	Reply    chan string
}

// BrainProposedAction relays a command the brain wants run on the user's
// behalf; the loop decides whether to execute it.
type BrainProposedAction struct {
	Command string
	Reply   chan string
}

func (QueryComplete) isEvent()       {}
func (QueryFailed) isEvent()         {}
func (ToolResultEvent) isEvent()     {}
func (ToolApprovalNeeded) isEvent()  {}
func (StatsUpdate) isEvent()         {}
func (CancelQuery) isEvent()         {}
func (Shutdown) isEvent()            {}
func (StreamingComplete) isEvent()   {}
func (BrainQuestion) isEvent()       {}
func (BrainProposedAction) isEvent() {}
