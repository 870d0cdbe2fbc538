package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func next(t *testing.T, ch <-chan string, within time.Duration) (string, bool) {
	t.Helper()
	select {
	case name, ok := <-ch:
		return name, ok
	case <-time.After(within):
		return "", false
	}
}

func TestStart_ReportsSettledCSVOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "existing.csv", "a;b\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := Start(ctx, Options{Dir: dir, Debounce: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	write(t, dir, "notes.txt", "x")
	write(t, dir, ".upload-1.part", "x")
	write(t, dir, ".hidden.csv", "x")
	for i := 0; i < 5; i++ {
		write(t, dir, "vendas.csv", "a;b\n")
		time.Sleep(10 * time.Millisecond)
	}

	name, ok := next(t, ch, 3*time.Second)
	if !ok || name != "vendas.csv" {
		t.Fatalf("got %q (ok=%v), want vendas.csv", name, ok)
	}
	if name, ok := next(t, ch, 400*time.Millisecond); ok {
		t.Fatalf("unexpected extra event %q", name)
	}
}

func TestStart_RenameIntoDirIsReported(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := Start(ctx, Options{Dir: dir, Debounce: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	write(t, dir, ".upload-2.part", "a;b\n")
	if err := os.Rename(filepath.Join(dir, ".upload-2.part"), filepath.Join(dir, "ready.csv")); err != nil {
		t.Fatal(err)
	}

	if name, ok := next(t, ch, 3*time.Second); !ok || name != "ready.csv" {
		t.Fatalf("got %q (ok=%v), want ready.csv", name, ok)
	}
}

func TestStart_VanishedFileIsNotReported(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := Start(ctx, Options{Dir: dir, Debounce: 150 * time.Millisecond})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	write(t, dir, "gone.csv", "a;b\n")
	if err := os.Remove(filepath.Join(dir, "gone.csv")); err != nil {
		t.Fatal(err)
	}
	if name, ok := next(t, ch, 500*time.Millisecond); ok {
		t.Fatalf("unexpected event %q", name)
	}
}

func TestStart_ShortDebounceUnderManyFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// timers fire while the loop is still re-arming other paths
	ch, err := Start(ctx, Options{Dir: dir, Debounce: time.Millisecond})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := map[string]bool{}
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("f%02d.csv", i)
		want[name] = true
		for j := 0; j < 3; j++ {
			write(t, dir, name, "a;b\n")
		}
	}

	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for len(seen) < len(want) {
		select {
		case name, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed early")
			}
			if !want[name] {
				t.Fatalf("unexpected event %q", name)
			}
			seen[name] = true
		case <-deadline:
			t.Fatalf("saw %d of %d files", len(seen), len(want))
		}
	}
}

func TestStart_ClosesOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := Start(ctx, Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}

func TestStart_MissingDir(t *testing.T) {
	t.Parallel()

	if _, err := Start(context.Background(), Options{Dir: filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Fatalf("expected error for missing directory")
	}
	if _, err := Start(context.Background(), Options{}); err == nil {
		t.Fatalf("expected error for empty directory")
	}
}

func TestWanted(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"/s/a.csv":      true,
		"/s/B.CSV":      true,
		"/s/.a.csv":     false,
		"/s/a.csv.part": false,
		"/s/a.txt":      false,
	}
	for in, want := range cases {
		if got := wanted(in); got != want {
			t.Fatalf("wanted(%q) = %v, want %v", in, got, want)
		}
	}
}
