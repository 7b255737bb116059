package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits after the last change in a
// directory before re-running it.
const DefaultDebounce = 500 * time.Millisecond

// Watch runs every test directory once and then again whenever a file in it
// is written or created, until ctx is done. Reruns of one directory never
// overlap.
func (h *Harness) Watch(ctx context.Context, dirs []string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	watched := make(map[string]bool)
	for _, dir := range dirs {
		if !IsTestDir(dir) {
			h.log.Warn("does not appear to be a test, not watching", "dir", dir)
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", dir, err)
		}
		if err := watcher.Add(abs); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		watched[abs] = true
	}
	if len(watched) == 0 {
		return ErrNoTests
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	triggers := make(map[string]chan struct{}, len(watched))
	for dir := range watched {
		trigger := make(chan struct{}, 1)
		triggers[dir] = trigger
		trigger <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.rerunLoop(ctx, dir, trigger, debounce)
		}()
	}

	h.log.Info("watching for changes", "dirs", len(watched))
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			trigger, ok := triggers[filepath.Dir(event.Name)]
			if !ok {
				continue
			}
			h.log.Debug("fsnotify event", "op", event.Op.String(), "file", event.Name)
			select {
			case trigger <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.log.Error("fsnotify error", "error", err)
		}
	}
}

// rerunLoop runs dir after each trigger once no further trigger arrived for
// debounce.
func (h *Harness) rerunLoop(ctx context.Context, dir string, trigger <-chan struct{}, debounce time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
		}

		timer := time.NewTimer(debounce)
	settle:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-trigger:
				timer.Reset(debounce)
			case <-timer.C:
				break settle
			}
		}
		h.RunDir(ctx, dir)
	}
}
