// Package watch ingests documents dropped into a directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// IngestFunc is called once per new or changed file.
type IngestFunc func(ctx context.Context, path string) error

// DefaultDebounce is how long a file must stay quiet before it is
// ingested. Editors and copies emit several writes per file.
const DefaultDebounce = 500 * time.Millisecond

// Watcher feeds files with a supported extension to an IngestFunc.
// Files are ingested one at a time, in path order within a batch.
type Watcher struct {
	fs       *fsnotify.Watcher
	formats  map[string]bool
	ingest   IngestFunc
	Debounce time.Duration
}

// New creates a watcher for the given formats (extensions without the
// dot, e.g. "pdf").
func New(formats []string, ingest IngestFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	set := make(map[string]bool, len(formats))
	for _, f := range formats {
		set[strings.ToLower(strings.TrimPrefix(f, "."))] = true
	}
	return &Watcher{fs: fw, formats: set, ingest: ingest, Debounce: DefaultDebounce}, nil
}

// Scan ingests the files already present in dir. Errors of single files
// are logged and skipped.
func (w *Watcher) Scan(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		path := filepath.Join(dir, e.Name())
		if e.IsDir() || !w.watched(path) {
			continue
		}
		if w.run(ctx, path) {
			n++
		}
	}
	return n, nil
}

// Run watches dir until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	slog.Info("watch: started", "dir", dir)

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	tick := time.NewTicker(debounce / 2)
	defer tick.Stop()

	pending := map[string]time.Time{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.watched(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				pending[event.Name] = time.Now()
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				delete(pending, event.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch: error", "error", err)
		case now := <-tick.C:
			for _, path := range due(pending, now, debounce) {
				delete(pending, path)
				w.run(ctx, path)
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) run(ctx context.Context, path string) bool {
	if err := w.ingest(ctx, path); err != nil {
		slog.Warn("watch: ingest failed", "file", path, "error", err)
		return false
	}
	slog.Info("watch: ingested", "file", path)
	return true
}

func (w *Watcher) watched(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return w.formats[ext]
}

// due returns the paths quiet for at least d, sorted.
func due(pending map[string]time.Time, now time.Time, d time.Duration) []string {
	var out []string
	for p, t := range pending {
		if now.Sub(t) >= d {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
