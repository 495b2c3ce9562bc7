package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/compozy/policychat/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/romdo/go-debounce"
)

const defaultWatchDebounce = 2 * time.Second

// Watch re-runs ingest whenever a document matching pattern under dir changes.
// Bursts of events are coalesced by debounce; it returns when ctx ends.
func Watch(
	ctx context.Context,
	dir string,
	pattern string,
	wait time.Duration,
	ingest func(context.Context) error,
) error {
	log := logger.FromContext(ctx)
	if wait <= 0 {
		wait = defaultWatchDebounce
	}
	watcher, err := setupWatcher(ctx, dir)
	if err != nil {
		return err
	}
	defer watcher.Close()

	trigger := make(chan struct{}, 1)
	debounced, cancel := debounce.New(wait, func() {
		select {
		case trigger <- struct{}{}:
		default:
			// run already pending
		}
	})
	defer cancel()

	log.Info("Watching for document changes", "dir", dir, "pattern", pattern)
	for {
		select {
		case <-ctx.Done():
			log.Info("Context canceled, stopping document watcher")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				addIfDir(watcher, event.Name)
			}
			if !isRelevant(dir, pattern, event) {
				continue
			}
			log.Debug("Detected document change, debouncing", "file", event.Name, "op", event.Op.String())
			debounced()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		case <-trigger:
			log.Info("Documents changed, re-running ingestion")
			if err := ingest(ctx); err != nil {
				log.Error("Ingestion failed, waiting for further changes", "error", err)
			}
		}
	}
}

// setupWatcher watches dir and every directory below it.
func setupWatcher(ctx context.Context, dir string) (*fsnotify.Watcher, error) {
	log := logger.FromContext(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	count := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			log.Warn("Failed to watch directory", "path", path, "error", err)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			log.Warn("Failed to close watcher during error cleanup", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to walk document directory: %w", err)
	}
	log.Debug("File watcher initialized", "watched_directories", count)
	return watcher, nil
}

func addIfDir(watcher *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = watcher.Add(p)
		}
		return nil
	})
}

// isRelevant reports whether event touches a document selected by pattern.
func isRelevant(dir, pattern string, event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	rel, err := filepath.Rel(dir, event.Name)
	if err != nil {
		return false
	}
	matched, err := doublestar.Match(pattern, filepath.ToSlash(rel))
	return err == nil && matched
}
