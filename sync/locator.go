package sync

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// LocateRoot walks upward from start until it finds a directory containing
// a metaDirName directory. Returns ErrRepoNotFound at the filesystem root.
func LocateRoot(fsys afero.Fs, start, metaDirName string) (string, error) {
	if metaDirName == "" {
		metaDirName = DefaultMetadataDirName
	}
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", start, err)
	}

	for {
		ok, err := afero.DirExists(fsys, filepath.Join(dir, metaDirName))
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", filepath.Join(dir, metaDirName), err)
		}
		if ok {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s: %w", start, ErrRepoNotFound)
		}
		dir = parent
	}
}

// IsPacked reports whether the layout's archive file exists.
func IsPacked(fsys afero.Fs, l Layout) (bool, error) {
	return afero.Exists(fsys, l.ArchivePath())
}
