package cmdhelper

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/twintail/twintail/internal/logging"
)

// debounceWindow coalesces bursts of filesystem events into one rerun.
const debounceWindow = 500 * time.Millisecond

// WatchDir reruns onChange whenever the contents of dir change, until
// ctx is cancelled. Errors from onChange and errors reported by the
// watcher are logged and the watch continues; only a failure to set up
// the watcher ends it early, and it returns nil if the watcher closes.
func WatchDir(ctx context.Context, dir string, onChange func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}
	logging.Basicf("watching %s for changes", dir)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				fire = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case <-fire:
			timer = nil
			fire = nil
			logging.Debugf("%s changed, rerunning", dir)
			if err := onChange(); err != nil {
				logging.Errorf("rerun after change: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Errorf("watcher: %v", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
