// Package watcher monitors the feature requests directory and reports new
// or changed request files, debounced so editors that write in bursts
// trigger a single callback.
package watcher

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Callback is invoked with the request files that changed
type Callback func(changedFiles []string)

// RequestWatcher monitors a requests directory for markdown files
type RequestWatcher struct {
	watcher  *fsnotify.Watcher
	callback Callback
	debounce time.Duration

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// New creates a watcher over the given requests directory
func New(dir string, callback Callback) (*RequestWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	return &RequestWatcher{
		watcher:  watcher,
		callback: callback,
		debounce: 500 * time.Millisecond,
		pending:  make(map[string]struct{}),
	}, nil
}

// Start begins watching for file changes
func (rw *RequestWatcher) Start(ctx context.Context) {
	ctx, rw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-rw.watcher.Events:
				if !ok {
					return
				}
				rw.handleEvent(event)
			case err, ok := <-rw.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[watcher] %v", err)
			}
		}
	}()
}

// Stop stops watching for file changes
func (rw *RequestWatcher) Stop() {
	if rw.cancel != nil {
		rw.cancel()
	}
	rw.watcher.Close()
}

// SetDebounce sets the debounce duration for batching file changes
func (rw *RequestWatcher) SetDebounce(d time.Duration) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.debounce = d
}

func (rw *RequestWatcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".md") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.pending[event.Name] = struct{}{}

	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.timer = time.AfterFunc(rw.debounce, rw.flush)
}

func (rw *RequestWatcher) flush() {
	rw.mu.Lock()
	pending := rw.pending
	rw.pending = make(map[string]struct{})
	rw.mu.Unlock()

	if rw.callback == nil || len(pending) == 0 {
		return
	}

	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
	}
	rw.callback(files)
}
