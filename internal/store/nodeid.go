package store

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// NodeID returns the stable per-installation identifier stored at path,
// generating and persisting a fresh UUID on first run. The id tags metrics
// and router state so they survive across restarts.
func NodeID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			return id, nil
		}
		// Corrupt file: fall through and regenerate.
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("write node id: %w", err)
	}
	return id, nil
}
