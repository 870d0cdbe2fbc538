package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMarkProcessed_MovesIntoSiblingDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeCSV(t, dir, "a.csv", "x;y\n")

	dest, err := MarkProcessed(p, "")
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if want := filepath.Join(dir, DefaultProcessedDir, "a.csv"); dest != want {
		t.Fatalf("dest = %q, want %q", dest, want)
	}
	if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("source still present: %v", err)
	}
	if b, err := os.ReadFile(dest); err != nil || string(b) != "x;y\n" {
		t.Fatalf("dest content = %q, %v", b, err)
	}
}

func TestMarkProcessed_NeverOverwrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "done"), 0o755); err != nil {
		t.Fatal(err)
	}
	old := writeCSV(t, filepath.Join(dir, "done"), "a.csv", "old\n")
	p := writeCSV(t, dir, "a.csv", "new\n")

	_, err := MarkProcessed(p, "done")
	var le *LifecycleError
	if !errors.As(err, &le) || !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected *LifecycleError wrapping ErrExist, got %v", err)
	}
	if b, _ := os.ReadFile(old); string(b) != "old\n" {
		t.Fatalf("destination overwritten: %q", b)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("source should stay in place: %v", err)
	}
}
