package mcptools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/darwin-finch/finch/internal/hashline"
)

func TestWriteCreatesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	path := filepath.Join(dir, "fresh.txt")
	h := NewWriteHandler(NewFileReadTracker(), nil, nil)

	args, _ := json.Marshal(WriteArgs{File: path, Content: "one\ntwo\n"})
	result, err := h.Handle(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("write failed: %s", firstText(result))
	}
	data, _ := os.ReadFile(path)
	if string(data) != "one\ntwo\n" {
		t.Fatalf("content = %q", data)
	}
	if !strings.HasPrefix(firstText(result), "Created ") {
		t.Fatalf("result = %q", firstText(result))
	}
}

func TestWriteRefusesUnreadOverwrite(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	path := filepath.Join(dir, "existing.txt")
	if err := os.WriteFile(path, []byte("old"), 0600); err != nil {
		t.Fatal(err)
	}
	h := NewWriteHandler(NewFileReadTracker(), nil, nil)

	args, _ := json.Marshal(WriteArgs{File: path, Content: "new"})
	result, err := h.Handle(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatalf("overwrite without a prior read must be refused")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "old" {
		t.Fatalf("file was clobbered: %q", data)
	}
}

func TestWriteOverwritesAfterRead(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	path := filepath.Join(dir, "existing.txt")
	if err := os.WriteFile(path, []byte("old"), 0600); err != nil {
		t.Fatal(err)
	}
	tracker := NewFileReadTracker()
	abs, _ := validatePath(path)
	tracker.MarkRead(abs)
	h := NewWriteHandler(tracker, nil, nil)

	args, _ := json.Marshal(WriteArgs{File: path, Content: "new content"})
	result, err := h.Handle(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("overwrite after read failed: %s", firstText(result))
	}
	data, _ := os.ReadFile(path)
	if string(data) != "new content" {
		t.Fatalf("content = %q", data)
	}
}

func TestMultiEditAppliesBottomUp(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	path := filepath.Join(dir, "code.txt")
	content := "alpha\nbeta\ngamma\ndelta"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	tracker := NewFileReadTracker()
	abs, _ := validatePath(path)
	tracker.MarkRead(abs)
	edit := NewEditHandler(tracker, nil, nil)
	h := NewMultiEditHandler(edit)

	anchor := func(line int, text string) hashline.Anchor {
		return hashline.Anchor{Num: line, Hash: hashline.LineHash(text)}
	}
	args := MultiEditArgs{
		File: path,
		Edits: []EditArgs{
			// Listed top-down; the handler must apply bottom-up so the
			// second anchor's line number stays valid.
			{Replace: &ReplaceOp{Start: anchor(1, "alpha"), End: anchor(1, "alpha"), Content: "ALPHA\nALPHA2"}},
			{Delete: &DeleteOp{Start: anchor(3, "gamma"), End: anchor(3, "gamma")}},
		},
	}
	raw, _ := json.Marshal(args)
	result, err := h.Handle(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("multi_edit failed: %s", firstText(result))
	}

	data, _ := os.ReadFile(path)
	if string(data) != "ALPHA\nALPHA2\nbeta\ndelta" {
		t.Fatalf("content = %q", data)
	}
	if !strings.Contains(firstText(result), "Applied 2 edits") {
		t.Fatalf("result = %q", firstText(result))
	}
}

func TestMultiEditRejectsCreate(t *testing.T) {
	h := NewMultiEditHandler(NewEditHandler(NewFileReadTracker(), nil, nil))
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	tracker := h.edit.tracker
	abs, _ := validatePath(path)
	tracker.MarkRead(abs)

	raw, _ := json.Marshal(MultiEditArgs{File: path, Edits: []EditArgs{{Create: &CreateOp{Content: "y"}}}})
	result, err := h.Handle(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || !strings.Contains(firstText(result), "write") {
		t.Fatalf("result = %v %q", result.IsError, firstText(result))
	}
}
