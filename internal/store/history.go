package store

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// maxHistoryLines bounds the persisted input history (§6: last 1000 lines,
// newest first).
const maxHistoryLines = 1000

// LoadHistory reads input history from path, newest first. A missing file
// is an empty history.
func LoadHistory(path string) ([]string, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(lines) > maxHistoryLines {
		lines = lines[:maxHistoryLines]
	}
	return lines, nil
}

// SaveHistory writes lines to path, newest first, truncated to the last
// 1000 entries. Multi-line inputs are flattened to their first line so the
// file stays one entry per line.
func SaveHistory(path string, lines []string) error {
	if len(lines) > maxHistoryLines {
		lines = lines[:maxHistoryLines]
	}
	var b strings.Builder
	for _, line := range lines {
		if idx := strings.IndexByte(line, '\n'); idx >= 0 {
			line = line[:idx]
		}
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}
