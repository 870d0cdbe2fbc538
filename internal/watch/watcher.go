// Package watch reports CSV files that land in the staging directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options configure Start.
type Options struct {
	// Dir is watched non-recursively.
	Dir string

	// Debounce coalesces bursts of events on one path. A file is reported
	// once no event touched it for this long. Zero reports immediately.
	Debounce time.Duration

	Logger *slog.Logger
}

// Start watches opts.Dir and sends the base name of every settled .csv file
// on the returned channel. Hidden files are ignored and files already in the
// directory are not reported. The channel is closed once ctx is done.
func Start(ctx context.Context, opts Options) (<-chan string, error) {
	if opts.Dir == "" {
		return nil, errors.New("watch: no directory")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("dir", opts.Dir)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := w.Add(opts.Dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", opts.Dir, err)
	}

	out := make(chan string, 64)
	go run(ctx, w, opts.Debounce, log, out)
	log.Info("watching staging directory", "debounce", opts.Debounce)
	return out, nil
}

func run(ctx context.Context, w *fsnotify.Watcher, debounce time.Duration, log *slog.Logger, out chan<- string) {
	done := make(chan struct{})
	fired := make(chan settle)
	timers := map[string]settle{}
	var seq uint64

	defer func() {
		close(done)
		for _, p := range timers {
			p.timer.Stop()
		}
		if err := w.Close(); err != nil {
			log.Warn("closing watcher", "error", err)
		}
		close(out)
	}()

	emit := func(path string) bool {
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			// moved away or replaced before it settled
			return true
		}
		name := filepath.Base(path)
		log.Debug("file settled", "file", name)
		select {
		case out <- name:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case e, ok := <-w.Events:
			if !ok {
				return
			}
			if !e.Has(fsnotify.Create) && !e.Has(fsnotify.Write) && !e.Has(fsnotify.Rename) {
				continue
			}
			if !wanted(e.Name) {
				continue
			}
			if debounce <= 0 {
				if !emit(e.Name) {
					return
				}
				continue
			}
			if p, ok := timers[e.Name]; ok {
				p.timer.Stop()
			}
			seq++
			path, id := e.Name, seq
			timer := time.AfterFunc(debounce, func() {
				select {
				case fired <- settle{path: path, seq: id}:
				case <-done:
				}
			})
			timers[path] = settle{path: path, seq: id, timer: timer}

		case p := <-fired:
			// a timer replaced after it already fired is stale
			if cur, ok := timers[p.path]; !ok || cur.seq != p.seq {
				continue
			}
			delete(timers, p.path)
			if !emit(p.path) {
				return
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Error("watcher error", "error", err)
		}
	}
}

// settle is a pending debounce for one path. The timer callback only
// sends path and seq; timer is owned by the run loop.
type settle struct {
	path  string
	seq   uint64
	timer *time.Timer
}

// wanted reports whether path names a visible .csv file.
func wanted(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".csv")
}
