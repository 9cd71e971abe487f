// Package filesearch backs the glob and grep tools: filename and content
// search over the project tree, honoring .gitignore.
package filesearch

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// maxSearchableFileSize skips huge files entirely; they are almost never
// what a code search wants and dominate walk time.
const maxSearchableFileSize = 10 * 1024 * 1024

// Result is one match: a file, or a line within one.
type Result struct {
	Path    string // relative to the search root
	Line    int    // 1-indexed; 0 for filename-only matches
	Content string // matched line; empty for filename-only matches
}

// Options configures one search.
type Options struct {
	Pattern       string // regex, matched against names or content
	ContentSearch bool   // true = grep lines, false = match filenames
	MaxResults    int    // 0 = unlimited
	CaseSensitive bool
	RootDir       string // defaults to the working directory
}

// Searcher walks the tree applying gitignore filtering.
type Searcher struct {
	gitignore *GitignoreMatcher
}

// NewSearcher builds a searcher rooted at rootDir. A missing or broken
// .gitignore degrades to no filtering rather than failing the search.
func NewSearcher(rootDir string) (*Searcher, error) {
	matcher, err := NewGitignoreMatcher(filepath.Join(rootDir, ".gitignore"))
	if err != nil {
		matcher, _ = NewGitignoreMatcher("")
	}
	return &Searcher{gitignore: matcher}, nil
}

// Search runs one query, stopping early at MaxResults or cancellation.
func (s *Searcher) Search(ctx context.Context, opts Options) ([]Result, error) {
	if opts.RootDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		opts.RootDir = cwd
	}

	pattern := opts.Pattern
	if !opts.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	var results []Result
	walkErr := filepath.WalkDir(opts.RootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(opts.RootDir, path)
		if err != nil {
			return nil
		}

		if d.IsDir() {
			if d.Name() == ".git" || s.gitignore.Matches(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.gitignore.Matches(rel, false) {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxSearchableFileSize {
			return nil
		}

		if opts.ContentSearch {
			results = append(results, grepFile(path, rel, regex)...)
		} else if regex.MatchString(filepath.Base(path)) || regex.MatchString(rel) {
			results = append(results, Result{Path: rel})
		}

		if opts.MaxResults > 0 && len(results) >= opts.MaxResults {
			return filepath.SkipAll
		}
		return nil
	})

	if walkErr != nil && walkErr != filepath.SkipAll {
		return nil, walkErr
	}
	if opts.MaxResults > 0 && len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}
	return results, nil
}

// grepFile scans one file line by line. A NUL byte marks the file binary
// and drops its matches entirely.
func grepFile(absPath, relPath string, regex *regexp.Regexp) []Result {
	file, err := os.Open(absPath)
	if err != nil {
		return nil
	}
	defer file.Close()

	var results []Result
	scanner := bufio.NewScanner(file)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := scanner.Text()
		if strings.ContainsRune(line, '\x00') {
			return nil
		}
		if regex.MatchString(line) {
			results = append(results, Result{Path: relPath, Line: lineNum, Content: line})
		}
	}
	return results
}
