package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long a star list must stay unchanged before it is read,
// so a file still being written is not parsed half-way.
const settleDelay = 250 * time.Millisecond

// isStarList reports whether path looks like a star list file.
func isStarList(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".lst", ".stars", ".xy":
		return true
	default:
		return false
	}
}

// starListWatcher reports star list files created or rewritten in a directory.
type starListWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	logger  *slog.Logger
	settle  time.Duration
}

func newStarListWatcher(dir string, logger *slog.Logger) (*starListWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	return &starListWatcher{watcher: watcher, dir: dir, logger: logger, settle: settleDelay}, nil
}

// Run calls handle for every star list that settles after a create or write
// event, until ctx is done. handle runs on a timer goroutine. Pending timers
// are dropped on return and handlers already running are waited for.
func (w *starListWatcher) Run(ctx context.Context, handle func(path string)) error {
	defer w.watcher.Close()

	var mu sync.Mutex
	pending := make(map[string]*time.Timer)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer func() {
		mu.Lock()
		for path, t := range pending {
			if t.Stop() {
				wg.Done()
			}
			delete(pending, path)
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isStarList(event.Name) {
				continue
			}

			path := event.Name
			mu.Lock()
			if t, ok := pending[path]; ok && t.Stop() {
				t.Reset(w.settle)
				mu.Unlock()
				continue
			}
			wg.Add(1)
			var t *time.Timer
			t = time.AfterFunc(w.settle, func() {
				defer wg.Done()
				mu.Lock()
				if pending[path] == t {
					delete(pending, path)
				}
				mu.Unlock()
				w.logger.Debug("star list changed", "path", path)
				handle(path)
			})
			pending[path] = t
			mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watcher error", "dir", w.dir, "error", err)
		}
	}
}
