// Package watch keeps a transcript index in step with its directory by
// syncing whenever transcript files change on disk.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/runlog-project/runlog/internal/filename"
	"github.com/runlog-project/runlog/pkg/logging"
)

const defaultDebounce = 200 * time.Millisecond

// Syncer reconciles an index with the directory.
type Syncer interface {
	Sync() (added, removed []string)
}

// Change lists the execution ids that appeared and disappeared in one sync.
type Change struct {
	Added   []string
	Removed []string
}

// Watcher runs Syncer.Sync after bursts of file system activity in a
// directory.
type Watcher struct {
	dir      string
	syncer   Syncer
	debounce time.Duration
	log      *logging.Logger
	events   chan Change
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the directory must stay quiet before a sync.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) { w.log = l }
}

// New returns a Watcher for dir. Nothing is watched until Run is called.
func New(dir string, syncer Syncer, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		syncer:   syncer,
		debounce: defaultDebounce,
		log:      logging.Global(),
		events:   make(chan Change, 16),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.Named("watch")
	return w
}

// Events delivers every sync that changed the index. It is closed when Run
// returns.
func (w *Watcher) Events() <-chan Change {
	return w.events
}

// Run watches the directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("watching transcript dir", map[string]any{"dir": w.dir})

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			w.log.Debug("fs event", map[string]any{"op": event.Op.String(), "file": filepath.Base(event.Name)})
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.ErrorErr("watcher error", err)

		case <-timer.C:
			added, removed := w.syncer.Sync()
			if len(added) == 0 && len(removed) == 0 {
				continue
			}
			w.log.Debug("index changed", map[string]any{"added": len(added), "removed": len(removed)})
			select {
			case w.events <- Change{Added: added, Removed: removed}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// relevant reports whether event may add or remove a transcript.
func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return strings.HasSuffix(strings.ToLower(event.Name), filename.Extension)
}
