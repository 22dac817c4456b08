package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const copyChunkSize = 256 * 1024 // 256KB per chunk

const (
	tmpSuffix   = ".sync-tmp"
	maxNameLen  = 255
	hashNameLen = 16
)

// ErrSourceModified is returned when SafeCopy detects that the source
// file was modified during the copy.
var ErrSourceModified = fmt.Errorf("source modified during copy")

// randLen is room for the random part os.CreateTemp inserts into a pattern.
const randLen = 20

// tmpPattern returns the os.CreateTemp pattern for temporary siblings of a
// file named base. Long names are shortened with a hash so the result stays
// a valid file name.
func tmpPattern(base string) string {
	if len(base)+1+randLen+len(tmpSuffix) > maxNameLen {
		sum := sha256.Sum256([]byte(base))
		keep := maxNameLen - 1 - randLen - len(tmpSuffix) - 1 - hashNameLen
		base = base[:keep] + "-" + hex.EncodeToString(sum[:])[:hashNameLen]
	}
	return base + ".*" + tmpSuffix
}

// isTmpSibling reports whether name is a temporary file created for a file
// named base, possibly left behind by an interrupted write.
func isTmpSibling(name, base string) bool {
	prefix, _, _ := strings.Cut(tmpPattern(base), "*")
	return strings.HasPrefix(name, prefix) && strings.HasSuffix(name, tmpSuffix)
}

// createTmpSibling creates a uniquely named temporary file next to dst.
// Concurrent writers of the same dst never share a temporary file.
func createTmpSibling(dst string) (*os.File, error) {
	return os.CreateTemp(filepath.Dir(dst), tmpPattern(filepath.Base(dst)))
}

// replaceWithTmp gives tmpPath the regular file mode and renames it over dst.
// The tmp file is removed if either step fails.
func replaceWithTmp(tmpPath, dst string) error {
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod tmp: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename tmp to dst: %w", err)
	}
	return nil
}

// SafeCopy copies src to dst atomically:
// 1. Record src mtime
// 2. Copy to a fresh tmp sibling of dst in chunks (checking ctx between chunks)
// 3. Verify src mtime unchanged
// 4. MkdirAll + atomic rename tmp → dst
//
// dst is replaced in a single rename, so readers see either the old or the
// new file, and two concurrent copies to dst leave one of the two sources
// intact. The source mtime is preserved on dst.
func SafeCopy(ctx context.Context, src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat src: %w", err)
	}
	mtime1 := srcInfo.ModTime().UnixNano()

	// Ensure destination directory exists
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("mkdir dst parent: %w", err)
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open src: %w", err)
	}
	defer srcFile.Close()

	tmpFile, err := createTmpSibling(dst)
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}
	tmpPath := tmpFile.Name()

	buf := make([]byte, copyChunkSize)
	var copyErr error
	for copyErr == nil {
		if err := ctx.Err(); err != nil {
			copyErr = err
			break
		}

		n, readErr := srcFile.Read(buf)
		if n > 0 {
			if _, writeErr := tmpFile.Write(buf[:n]); writeErr != nil {
				copyErr = fmt.Errorf("write tmp: %w", writeErr)
				break
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			copyErr = fmt.Errorf("read src: %w", readErr)
		}
	}

	if err := tmpFile.Close(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("close tmp: %w", err)
	}

	if copyErr != nil {
		os.Remove(tmpPath)
		return copyErr
	}

	// Verify source wasn't modified during copy
	srcInfo2, err := os.Stat(src)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("re-stat src: %w", err)
	}
	if mtime1 != srcInfo2.ModTime().UnixNano() {
		os.Remove(tmpPath)
		return ErrSourceModified
	}

	// Preserve source mtime on destination
	if err := os.Chtimes(tmpPath, time.Now(), srcInfo.ModTime()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chtimes tmp: %w", err)
	}

	// Atomic rename
	return replaceWithTmp(tmpPath, dst)
}

// makeWritable adds owner write permission to every entry under path, and
// owner read/execute to directories so they can be walked and emptied.
// Some tools leave object files read-only.
func makeWritable(path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode().Perm() | 0o200
		if d.IsDir() {
			mode |= 0o700
		}
		if mode == info.Mode().Perm() {
			return nil
		}
		if err := os.Chmod(p, mode); err != nil {
			return fmt.Errorf("chmod %s: %w", p, err)
		}
		return nil
	})
}

// topLevelEntries lists the names of the immediate children of dir.
func topLevelEntries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
