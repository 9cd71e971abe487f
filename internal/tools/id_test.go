package tools

import (
	"regexp"
	"sync"
	"testing"
)

var toolUseIDPattern = regexp.MustCompile(`^toolu_[A-Za-z0-9]{24}$`)

func TestToolUseIDUniqueness(t *testing.T) {
	const n = 2000
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = NewToolUseID()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		if !toolUseIDPattern.MatchString(id) {
			t.Fatalf("id %q does not match toolu_ + 24 alphanumerics", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %q", id)
		}
		seen[id] = true
	}
}
