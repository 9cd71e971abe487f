package tools

import (
	"crypto/rand"
	"fmt"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewToolUseID returns a system-wide unique tool-use id of the form
// "toolu_" followed by 24 random alphanumeric characters. It is safe for
// concurrent use from multiple goroutines; each call draws its own random
// bytes so there is no shared counter to contend on.
func NewToolUseID() string {
	suffix := make([]byte, 24)
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable on this host;
		// panic rather than silently hand out colliding ids.
		panic(fmt.Sprintf("tools: crypto/rand unavailable: %v", err))
	}
	for i, b := range buf {
		suffix[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return "toolu_" + string(suffix)
}
