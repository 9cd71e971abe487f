package orchestrator

import (
	"fmt"
	"time"

	"github.com/darwin-finch/finch/internal/conversation"
)

// Rating is a user judgment of the last assistant response, from the
// quick-rate keybindings or the /good, /medium, /critical commands.
type Rating string

const (
	RatingGood     Rating = "good"
	RatingMedium   Rating = "medium"
	RatingCritical Rating = "critical"
)

// Weight returns the rating's training weight (§4.5: good=1, medium=3,
// critical=10 — worse outcomes weigh more because they carry more signal).
func (r Rating) Weight() int {
	switch r {
	case RatingMedium:
		return 3
	case RatingCritical:
		return 10
	default:
		return 1
	}
}

// FeedbackEntry is one rated (query, response) exchange, appended to the
// feedback store as a single JSON line.
type FeedbackEntry struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	Rating    Rating    `json:"rating"`
	Weight    int       `json:"weight"`
	Note      string    `json:"note,omitempty"`
}

// FeedbackSink receives captured feedback entries.
type FeedbackSink interface {
	AppendFeedback(entry FeedbackEntry) error
}

// LastExchange scans the conversation in reverse for the most recent rated
// pair: the latest non-whitespace assistant text and the most recent
// preceding non-whitespace user text.
func (o *Orchestrator) LastExchange() (userText, assistantText string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return conversation.FindLastExchange(o.conv.Snapshot())
}

// CaptureFeedback rates the latest exchange and emits a FeedbackEntry to
// the configured sink. It returns an error when there is nothing to rate or
// no sink is configured.
func (o *Orchestrator) CaptureFeedback(rating Rating, note string) (FeedbackEntry, error) {
	user, assistant := o.LastExchange()
	if assistant == "" {
		return FeedbackEntry{}, fmt.Errorf("orchestrator: no assistant response to rate")
	}
	entry := FeedbackEntry{
		Timestamp: time.Now(),
		SessionID: o.opts.SessionID,
		Query:     user,
		Response:  assistant,
		Rating:    rating,
		Weight:    rating.Weight(),
	}
	if note != "" {
		entry.Note = note
	}
	if o.opts.Feedback == nil {
		return entry, fmt.Errorf("orchestrator: no feedback sink configured")
	}
	if err := o.opts.Feedback.AppendFeedback(entry); err != nil {
		return entry, fmt.Errorf("orchestrator: append feedback: %w", err)
	}
	return entry, nil
}
