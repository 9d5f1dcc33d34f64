package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alexjbarnes/alist-sync/internal/status"
	"github.com/fsnotify/fsnotify"
)

// settleDelay batches the create/write/rename burst of one atomic status
// rewrite into a single broadcast.
const settleDelay = 100 * time.Millisecond

// StatusWatcher watches the status document and fans every new version
// out to subscribers.
type StatusWatcher struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewStatusWatcher creates a watcher for the status document at path.
func NewStatusWatcher(path string, logger *slog.Logger) *StatusWatcher {
	return &StatusWatcher{
		path:   path,
		logger: logger,
		subs:   make(map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel receiving each new status document and a
// function that ends the subscription. Slow subscribers only ever see
// the latest document.
func (w *StatusWatcher) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)

	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		delete(w.subs, ch)
		w.mu.Unlock()
	}

	return ch, cancel
}

func (w *StatusWatcher) broadcast(doc []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for ch := range w.subs {
		// Replace an unread document rather than block the watcher.
		select {
		case <-ch:
		default:
		}
		ch <- doc
	}
}

// Watch blocks until ctx is cancelled, broadcasting the status document
// whenever it is rewritten. The parent directory is watched because
// atomic rewrites replace the file rather than modify it.
func (w *StatusWatcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating status dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching status dir: %w", err)
	}

	w.logger.Debug("status watcher started", slog.String("path", w.path))

	timer := time.NewTimer(settleDelay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				timer.Reset(settleDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("status watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			doc, err := status.ReadRaw(w.path)
			if err != nil {
				w.logger.Warn("reading status document", slog.String("error", err.Error()))
				continue
			}

			w.broadcast(doc)
		}
	}
}
