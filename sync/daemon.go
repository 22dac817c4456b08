package sync

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// DefaultIdle is how long a metadata directory must be quiet before
// IdlePacker packs it.
const DefaultIdle = 5 * time.Minute

// IdlePacker packs an unpacked metadata directory once it has seen no
// filesystem activity for the idle interval.
type IdlePacker struct {
	syncer *Syncer
	idle   time.Duration
}

// NewIdlePacker creates an IdlePacker. A non-positive idle selects DefaultIdle.
func NewIdlePacker(s *Syncer, idle time.Duration) *IdlePacker {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &IdlePacker{syncer: s, idle: idle}
}

// Run watches the metadata directory and packs it after the idle interval.
// Lock files left by a running tool postpone packing. Returns nil once the
// directory is packed, or when ctx is cancelled.
func (p *IdlePacker) Run(ctx context.Context) error {
	l := sub(p.syncer.cfg.Logger, "idle")
	metaDir := p.syncer.layout.MetaDir

	packed, err := p.syncer.IsPacked()
	if err != nil {
		return err
	}
	if packed {
		l.Info("already packed, nothing to watch", "dir", metaDir)
		return nil
	}

	watcher, err := NewWatcher(metaDir, p.syncer.cfg.Logger)
	if err != nil {
		return err
	}
	defer watcher.Close()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	activity := make(chan string, 1)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- watcher.Start(watchCtx, activity)
	}()

	l.Info("idle packer started", "dir", metaDir, "idle", p.idle)
	timer := time.NewTimer(p.idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Info("idle packer stopping, context cancelled")
			return nil

		case err := <-watchErr:
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errors.New("watcher closed")
			}
			l.Warn("watcher stopped unexpectedly", "err", err)
			return err

		case path := <-activity:
			l.Debug("activity", "path", path)
			timer.Reset(p.idle)

		case <-timer.C:
			if lock, ok := findLockFile(metaDir); ok {
				l.Info("lock file present, postponing", "lock", lock)
				timer.Reset(p.idle)
				continue
			}
			// Stop watching before our own writes start
			cancel()
			if err := p.syncer.Pack(ctx); err != nil {
				l.Error("idle pack failed", "err", err)
				return err
			}
			l.Info("packed after idle", "dir", metaDir)
			return nil
		}
	}
}

// findLockFile returns the relative path of the first *.lock file under dir.
func findLockFile(dir string) (string, bool) {
	var found string
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error { //nolint:errcheck
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".lock") {
			found, _ = filepath.Rel(dir, path)
			return filepath.SkipAll
		}
		return nil
	})
	return found, found != ""
}
