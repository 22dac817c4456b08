package sync

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// TakeSnapshot walks a directory tree and records a FileStat for every file
// and directory below root. The root itself is not included.
//
// Modification time stands in for content: a rewrite with identical bytes
// counts as a change, and a content change that keeps the exact mtime is missed.
func TakeSnapshot(fsys afero.Fs, root string, logger *slog.Logger) (Snapshot, error) {
	l := sub(logger, "scanner")
	l.Debug("scan start", "root", root)
	result := make(Snapshot)

	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			l.Warn("scan walk error", "path", path, "err", err)
			return err
		}

		// Skip the root itself
		if path == root {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		result[filepath.ToSlash(relPath)] = FileStat{
			Name:  info.Name(),
			Size:  info.Size(),
			Mtime: info.ModTime().UnixNano(),
			IsDir: info.IsDir(),
		}
		return nil
	})

	l.Debug("scan complete", "root", root, "entries", len(result))
	return result, err
}
