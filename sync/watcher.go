package sync

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a metadata directory recursively and signals activity.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
	log     *slog.Logger
}

// NewWatcher creates a filesystem watcher for root.
func NewWatcher(root string, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:    root,
		watcher: w,
		log:     sub(logger, "watcher"),
	}, nil
}

// Start adds recursive watches and forwards the relative path of every
// event to activity, dropping events while the receiver is busy.
// Blocks until ctx is cancelled or the watcher is closed.
func (w *Watcher) Start(ctx context.Context, activity chan<- string) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	w.log.Debug("watching", "root", w.root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			relPath := w.toRelPath(event.Name)
			if relPath == "" {
				continue
			}

			// New directories need their own watch
			if event.Has(fsnotify.Create) {
				w.addRecursive(event.Name) //nolint:errcheck
			}

			select {
			case activity <- relPath:
			default:
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "err", err)
		}
	}
}

// toRelPath converts an absolute event path to a path relative to root.
func (w *Watcher) toRelPath(absPath string) string {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}

// addRecursive adds a directory and all subdirectories to the watcher.
// Non-directories are ignored.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible or vanished dirs
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// Close closes the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
