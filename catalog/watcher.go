package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/danywayGit/OnChainArbitrage-sub000/types"
)

const reloadDebounce = 250 * time.Millisecond

// Watch observes the catalog file for changes and invokes cb with the diff
// against the previous working set plus the new set. Watching the parent
// directory (not the file itself) survives editors and deploy tools that
// replace the file atomically. Watch returns once the watcher goroutine is
// running; it stops when ctx is cancelled.
func (c *Catalog) Watch(ctx context.Context, cb func(Diff, []types.TradingPair)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(c.path)

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				// Coalesce bursts of events from a single save.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})

			case <-reload:
				c.reload(cb)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.log.Warn("Catalog watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

func (c *Catalog) reload(cb func(Diff, []types.TradingPair)) {
	old := c.Pairs()
	next, err := c.Load()
	if err != nil {
		c.log.Error("Catalog reload failed, keeping previous working set", zap.Error(err))
		return
	}

	d := diffPairs(old, next)
	if d.Empty() {
		c.log.Debug("Catalog reloaded with no effective changes")
		return
	}

	c.log.Info("Catalog changed",
		zap.Int("added", len(d.Added)),
		zap.Int("removed", len(d.Removed)),
		zap.Int("changed", len(d.Changed)))
	cb(d, next)
}
