package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/darwin-finch/finch/internal/hashline"
)

// editFixture is a file on disk plus a handler that has already "read" it.
type editFixture struct {
	path    string
	lines   []string
	handler *EditHandler
}

// newEditFixture writes content into a temp dir, chdirs there (path
// validation anchors at the working directory), and marks the file read.
func newEditFixture(t *testing.T, content string) *editFixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.go")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	origDir, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	tracker := NewFileReadTracker()
	tracker.MarkRead(path)
	return &editFixture{
		path:    path,
		lines:   strings.Split(content, "\n"),
		handler: NewEditHandler(tracker, nil, nil),
	}
}

// anchor builds a valid anchor for 1-indexed line n of the fixture.
func (f *editFixture) anchor(n int) hashline.Anchor {
	return hashline.Anchor{Num: n, Hash: hashline.LineHash(f.lines[n-1])}
}

// apply runs one edit and returns the result text and error flag.
func (f *editFixture) apply(t *testing.T, args EditArgs) (string, bool) {
	t.Helper()
	args.File = filepath.Base(f.path)
	return runEdit(t, f.handler, args)
}

func runEdit(t *testing.T, handler *EditHandler, args EditArgs) (string, bool) {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	result, err := handler.Handle(context.Background(), raw)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	text := ""
	if len(result.Content) > 0 {
		text = result.Content[0].Text
	}
	return text, result.IsError
}

func (f *editFixture) fileContent(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestEditOperations(t *testing.T) {
	tests := []struct {
		name    string
		content string
		op      func(f *editFixture) EditArgs
		want    string
	}{
		{
			name:    "replace spans two lines",
			content: "line one\nline two\nline three\nline four",
			op: func(f *editFixture) EditArgs {
				return EditArgs{Replace: &ReplaceOp{Start: f.anchor(2), End: f.anchor(3), Content: "replaced line"}}
			},
			want: "line one\nreplaced line\nline four",
		},
		{
			name:    "replace one line with one",
			content: "aaa\nbbb\nccc",
			op: func(f *editFixture) EditArgs {
				return EditArgs{Replace: &ReplaceOp{Start: f.anchor(2), End: f.anchor(2), Content: "BBB"}}
			},
			want: "aaa\nBBB\nccc",
		},
		{
			name:    "replace one line with several",
			content: "aaa\nbbb\nccc",
			op: func(f *editFixture) EditArgs {
				return EditArgs{Replace: &ReplaceOp{Start: f.anchor(2), End: f.anchor(2), Content: "BBB\nDDD\nEEE"}}
			},
			want: "aaa\nBBB\nDDD\nEEE\nccc",
		},
		{
			name:    "insert after first line",
			content: "line one\nline two\nline three",
			op: func(f *editFixture) EditArgs {
				return EditArgs{Insert: &InsertOp{After: f.anchor(1), Content: "inserted a\ninserted b"}}
			},
			want: "line one\ninserted a\ninserted b\nline two\nline three",
		},
		{
			name:    "delete a span",
			content: "line one\nline two\nline three\nline four",
			op: func(f *editFixture) EditArgs {
				return EditArgs{Delete: &DeleteOp{Start: f.anchor(2), End: f.anchor(3)}}
			},
			want: "line one\nline four",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEditFixture(t, tt.content)
			text, isErr := f.apply(t, tt.op(f))
			if isErr {
				t.Fatalf("edit failed: %s", text)
			}
			if got := f.fileContent(t); got != tt.want {
				t.Errorf("file content:\ngot:  %q\nwant: %q", got, tt.want)
			}
			if !strings.Contains(text, "Edited") {
				t.Errorf("result should report the edit: %s", text)
			}
		})
	}
}

func TestEditRejections(t *testing.T) {
	tests := []struct {
		name string
		op   func(f *editFixture) EditArgs
	}{
		{
			name: "stale anchor hash",
			op: func(f *editFixture) EditArgs {
				return EditArgs{Replace: &ReplaceOp{
					Start:   hashline.Anchor{Num: 1, Hash: "ff"},
					End:     hashline.Anchor{Num: 2, Hash: "ff"},
					Content: "whatever",
				}}
			},
		},
		{
			name: "no operation",
			op:   func(f *editFixture) EditArgs { return EditArgs{} },
		},
		{
			name: "two operations at once",
			op: func(f *editFixture) EditArgs {
				return EditArgs{
					Replace: &ReplaceOp{Start: f.anchor(1), End: f.anchor(1), Content: "new"},
					Delete:  &DeleteOp{Start: f.anchor(1), End: f.anchor(1)},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEditFixture(t, "single line\nsecond line")
			before := f.fileContent(t)
			if _, isErr := f.apply(t, tt.op(f)); !isErr {
				t.Fatal("edit should have been rejected")
			}
			if f.fileContent(t) != before {
				t.Error("rejected edit must not touch the file")
			}
		})
	}
}

func TestEditCreate(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	// Create needs no prior read — there is nothing to have read.
	handler := NewEditHandler(NewFileReadTracker(), nil, nil)
	text, isErr := runEdit(t, handler, EditArgs{
		File:   "newfile.go",
		Create: &CreateOp{Content: "package main\n\nfunc main() {}\n"},
	})
	if isErr {
		t.Fatalf("create failed: %s", text)
	}
	got, err := os.ReadFile(filepath.Join(dir, "newfile.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "package main\n\nfunc main() {}\n" {
		t.Errorf("file content = %q", got)
	}

	// Creating over an existing file is refused.
	if _, isErr := runEdit(t, handler, EditArgs{File: "newfile.go", Create: &CreateOp{Content: "x"}}); !isErr {
		t.Error("create over an existing file should fail")
	}
}

func TestEditPathTraversal(t *testing.T) {
	newEditFixture(t, "single line") // anchors cwd in a temp dir

	handler := NewEditHandler(NewFileReadTracker(), nil, nil)
	if _, isErr := runEdit(t, handler, EditArgs{
		File:   "../../../etc/passwd",
		Create: &CreateOp{Content: "nope"},
	}); !isErr {
		t.Error("path traversal should be rejected")
	}
}

func TestEditRequiresReadFirst(t *testing.T) {
	f := newEditFixture(t, "line one\nline two")

	// A handler whose tracker never saw the file must refuse, then accept
	// once the file is marked read.
	cold := NewEditHandler(NewFileReadTracker(), nil, nil)
	args := EditArgs{
		File:    filepath.Base(f.path),
		Replace: &ReplaceOp{Start: f.anchor(1), End: f.anchor(1), Content: "replaced"},
	}
	text, isErr := runEdit(t, cold, args)
	if !isErr {
		t.Fatal("edit without a prior read must be refused")
	}
	if !strings.Contains(text, "read") {
		t.Errorf("refusal should point at the read tool: %s", text)
	}

	cold.tracker.MarkRead(f.path)
	if _, isErr := runEdit(t, cold, args); isErr {
		t.Fatal("edit should succeed after the file was read")
	}
}

func TestEditResultWindowing(t *testing.T) {
	// 80 lines: the result shows only a window around the edit, while the
	// file on disk keeps everything.
	var b strings.Builder
	for i := 1; i <= 80; i++ {
		if i > 1 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "line %d", i)
	}
	f := newEditFixture(t, b.String())

	text, isErr := f.apply(t, EditArgs{
		Replace: &ReplaceOp{Start: f.anchor(40), End: f.anchor(40), Content: "REPLACED LINE 40"},
	})
	if isErr {
		t.Fatalf("replace failed: %s", text)
	}
	if !strings.Contains(text, "showing") {
		t.Errorf("large file should produce windowed output: %s", text)
	}
	if strings.Contains(text, "|line 1\n") {
		t.Error("window should not reach line 1")
	}
	if !strings.Contains(text, "REPLACED LINE 40") {
		t.Error("window should contain the replacement")
	}

	disk := f.fileContent(t)
	if !strings.Contains(disk, "line 1") || !strings.Contains(disk, "REPLACED LINE 40") {
		t.Error("disk content should be complete")
	}

	// A small file gets full, unwindowed output.
	small := newEditFixture(t, "a\nb\nc")
	text, isErr = small.apply(t, EditArgs{
		Replace: &ReplaceOp{Start: small.anchor(1), End: small.anchor(1), Content: "A"},
	})
	if isErr {
		t.Fatalf("small replace failed: %s", text)
	}
	if strings.Contains(text, "showing") {
		t.Errorf("small file should not window: %s", text)
	}
}

func TestEditCreateStringGivesHint(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	// The common model mistake: {"create":"content"} instead of an object.
	handler := NewEditHandler(NewFileReadTracker(), nil, nil)
	result, err := handler.Handle(context.Background(), json.RawMessage(`{"file":"TODO.md","create":"some content"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("string create must be rejected")
	}
	text := result.Content[0].Text
	if !strings.Contains(text, "expected an object") || !strings.Contains(text, `"create":{"content"`) {
		t.Errorf("rejection should show the correct shape: %s", text)
	}
}
