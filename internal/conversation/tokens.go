package conversation

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Token estimation for compaction accounting. The cl100k_base encoding is
// the faithful substitute for the whitespace-split approximation; if the
// encoder fails to load (its vocabulary downloads lazily), counting
// degrades to the approximation rather than failing the caller.

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	return enc
}

// EstimateTokens counts tokens in text.
func EstimateTokens(text string) int {
	if e := encoder(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}

// EstimateConversationTokens sums the token estimate across every text and
// tool-result block in the log, for compaction_percent_remaining.
func EstimateConversationTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				total += EstimateTokens(b.Text)
			case BlockToolResult:
				total += EstimateTokens(b.ToolResultText)
			}
		}
	}
	return total
}
