// Package conversation implements the append-only message log shared by the
// query orchestrator, the brain, and the plan loop.
package conversation

import "fmt"

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates the variants of ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is exactly one of Text, ToolUse, or ToolResult. Exactly one of
// the type-specific fields is populated, selected by Type.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text
	Text string `json:"text,omitempty"`

	// ToolUse
	ToolUseID   string `json:"id,omitempty"`
	ToolName    string `json:"name,omitempty"`
	ToolInput   any    `json:"input,omitempty"`

	// ToolResult
	ToolResultForID string `json:"tool_use_id,omitempty"`
	ToolResultText  string `json:"content,omitempty"`
	IsError         bool   `json:"is_error,omitempty"`
}

// TextBlock constructs a Text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock constructs a ToolUse content block.
func ToolUseBlock(id, name string, input any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// ToolResultBlock constructs a ToolResult content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolResultForID: toolUseID, ToolResultText: content, IsError: isError}
}

// ImageRef is a pasted image attached to a user message. Images ride
// alongside the content blocks rather than as a block variant: blocks are
// the model-visible transcript, images are request-time attachments.
type ImageRef struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"` // base64-encoded bytes
}

// Message is one entry in the conversation log.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
	Images  []ImageRef     `json:"images,omitempty"`
}

// Store is the append-only conversation log. Conversation, like Session and
// Router state in the data model, is owned by a single controller and
// mutated under a single-writer discipline — callers serialize access
// through the orchestrator, so Store itself does not lock.
type Store struct {
	messages []Message
	knownIDs map[string]bool // ToolUse ids emitted so far
}

// New returns an empty conversation store.
func New() *Store {
	return &Store{knownIDs: make(map[string]bool)}
}

// Append adds a message to the log. It validates ToolUse/ToolResult id
// matching: every ToolResult's tool_use_id must reference a ToolUse id from
// an earlier message in the log. ToolUse ids in the message being appended
// do not count, since they are registered only after the whole message
// validates. A mismatch fails the append and the message is not added.
func (s *Store) Append(msg Message) error {
	for _, b := range msg.Content {
		switch b.Type {
		case BlockToolUse:
			if b.ToolUseID == "" {
				return fmt.Errorf("conversation: tool_use block missing id")
			}
		case BlockToolResult:
			if !s.knownIDs[b.ToolResultForID] {
				return fmt.Errorf("conversation: tool_result references unknown tool_use id %q", b.ToolResultForID)
			}
		}
	}
	// Register ids after validating every block in the message, so a
	// message can legally contain both a ToolUse and (in a later message)
	// its ToolResult, but never validate against ids from its own tail
	// before its own head has been recorded.
	for _, b := range msg.Content {
		if b.Type == BlockToolUse {
			s.knownIDs[b.ToolUseID] = true
		}
	}
	s.messages = append(s.messages, msg)
	return nil
}

// Snapshot returns a shallow clone of the current message log, safe for a
// reader to range over without observing subsequent appends.
func (s *Store) Snapshot() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages currently in the log.
func (s *Store) Len() int {
	return len(s.messages)
}

// ReplacePrefix replaces the first n messages with a single assistant Text
// summary message, implementing compaction. n must not exceed the current
// length.
func (s *Store) ReplacePrefix(n int, summary string) error {
	if n < 0 || n > len(s.messages) {
		return fmt.Errorf("conversation: replace_prefix n=%d out of range (len=%d)", n, len(s.messages))
	}
	rest := make([]Message, len(s.messages)-n)
	copy(rest, s.messages[n:])
	s.messages = append([]Message{{Role: RoleAssistant, Content: []ContentBlock{TextBlock(summary)}}}, rest...)
	return nil
}

// CompactionPercentRemaining returns 1 - (tokensUsed/budget), clamped to
// [0,1]. A budget of 0 is treated as fully remaining (no limit configured).
func CompactionPercentRemaining(tokensUsed, budget int) float64 {
	if budget <= 0 {
		return 1
	}
	remaining := 1 - float64(tokensUsed)/float64(budget)
	if remaining < 0 {
		return 0
	}
	if remaining > 1 {
		return 1
	}
	return remaining
}

// FindLastExchange scans the log in reverse for the most recent non-blank
// assistant text paired with the most recent preceding non-blank user text.
// Returns ("", "") if no such pair exists (testable property 15).
func FindLastExchange(messages []Message) (userText, assistantText string) {
	lastAssistantIdx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleAssistant {
			continue
		}
		if t := extractText(messages[i]); isNonBlank(t) {
			assistantText = t
			lastAssistantIdx = i
			break
		}
	}
	if lastAssistantIdx == -1 {
		return "", ""
	}
	for i := lastAssistantIdx - 1; i >= 0; i-- {
		if messages[i].Role != RoleUser {
			continue
		}
		if t := extractText(messages[i]); isNonBlank(t) {
			userText = t
			break
		}
	}
	return userText, assistantText
}

func extractText(m Message) string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

func isNonBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}
