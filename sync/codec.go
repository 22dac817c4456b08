package sync

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mholt/archives"
)

// codec bundles the archiver and extractor for one Format.
type codec struct {
	archiver  archives.Archiver
	extractor archives.Extractor
}

func codecFor(format Format) (codec, error) {
	switch format {
	case "", FormatTarGz:
		gz := archives.CompressedArchive{
			Compression: archives.Gz{},
			Archival:    archives.Tar{},
			Extraction:  archives.Tar{},
		}
		return codec{archiver: gz, extractor: gz}, nil
	case FormatZip:
		return codec{archiver: archives.Zip{}, extractor: archives.Zip{}}, nil
	}
	return codec{}, fmt.Errorf("unknown archive format %q", format)
}

// Pack folds every entry of metaDir into a single archive file inside it.
//
// Pack fails with ErrAlreadyPacked if the archive exists. The archive is
// fully written before any original entry is deleted: a crash in between
// leaves both the archive and the originals in place, and a repeated Pack
// then fails with ErrAlreadyPacked.
func Pack(ctx context.Context, metaDir string, format Format, logger *slog.Logger) error {
	l := sub(logger, "codec")
	c, err := codecFor(format)
	if err != nil {
		return err
	}
	archiveName := format.ArchiveName()
	archivePath := filepath.Join(metaDir, archiveName)

	if _, err := os.Lstat(archivePath); err == nil {
		l.Warn("pack refused, archive exists", "archive", archivePath)
		return &PreconditionError{Op: "pack", Path: archivePath, Err: ErrAlreadyPacked}
	} else if !os.IsNotExist(err) {
		return &CodecError{Op: "pack", Path: archivePath, Err: err}
	}

	entries, err := topLevelEntries(metaDir)
	if err != nil {
		return &CodecError{Op: "pack", Path: metaDir, Err: err}
	}
	// Temporary files of an interrupted earlier write are not repository content
	var names, stale []string
	for _, name := range entries {
		if isTmpSibling(name, archiveName) {
			stale = append(stale, name)
			continue
		}
		names = append(names, name)
	}
	l.Debug("pack start", "dir", metaDir, "entries", len(names), "stale", len(stale), "format", string(format))

	filenames := make(map[string]string, len(names))
	for _, name := range names {
		p := filepath.Join(metaDir, name)
		if err := makeWritable(p); err != nil {
			return &CodecError{Op: "pack", Path: p, Err: err}
		}
		filenames[p] = name
	}

	files, err := archives.FilesFromDisk(ctx, nil, filenames)
	if err != nil {
		return &CodecError{Op: "pack", Path: metaDir, Err: fmt.Errorf("collect files: %w", err)}
	}

	if err := writeArchive(ctx, c, archivePath, files); err != nil {
		return &CodecError{Op: "pack", Path: archivePath, Err: err}
	}

	for _, name := range append(names, stale...) {
		if err := os.RemoveAll(filepath.Join(metaDir, name)); err != nil {
			return &CodecError{Op: "pack", Path: filepath.Join(metaDir, name), Err: fmt.Errorf("remove original: %w", err)}
		}
	}

	l.Info("packed", "archive", archivePath, "entries", len(names), "files", len(files))
	return nil
}

// writeArchive writes files to a fresh temporary sibling of dst and renames
// it into place once complete.
func writeArchive(ctx context.Context, c codec, dst string, files []archives.FileInfo) error {
	out, err := createTmpSibling(dst)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	tmpPath := out.Name()
	if err := c.archiver.Archive(ctx, out, files); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close archive: %w", err)
	}
	return replaceWithTmp(tmpPath, dst)
}

// Unpack extracts the archive inside metaDir into metaDir, then deletes the
// archive. It fails with ErrNotPacked if there is no archive.
func Unpack(ctx context.Context, metaDir string, format Format, logger *slog.Logger) error {
	l := sub(logger, "codec")
	c, err := codecFor(format)
	if err != nil {
		return err
	}
	archivePath := filepath.Join(metaDir, format.ArchiveName())

	if _, err := os.Stat(archivePath); os.IsNotExist(err) {
		l.Warn("unpack refused, no archive", "archive", archivePath)
		return &PreconditionError{Op: "unpack", Path: archivePath, Err: ErrNotPacked}
	} else if err != nil {
		return &CodecError{Op: "unpack", Path: archivePath, Err: err}
	}

	n, err := extractArchive(ctx, c, archivePath, metaDir)
	if err != nil {
		return &CodecError{Op: "unpack", Path: archivePath, Err: err}
	}

	if err := os.Remove(archivePath); err != nil {
		return &CodecError{Op: "unpack", Path: archivePath, Err: fmt.Errorf("remove archive: %w", err)}
	}

	l.Info("unpacked", "archive", archivePath, "entries", n)
	return nil
}

type dirTime struct {
	path  string
	mtime time.Time
}

// extractArchive recreates every entry of the archive under dst and returns
// the number of entries. Recorded mtimes are restored; directory mtimes are
// applied last, deepest first, since creating children touches them.
func extractArchive(ctx context.Context, c codec, archivePath, dst string) (int, error) {
	in, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	var dirs []dirTime
	count := 0
	err = c.extractor.Extract(ctx, in, func(ctx context.Context, f archives.FileInfo) error {
		name, err := entryName(f.NameInArchive)
		if err != nil {
			return err
		}
		if name == "" {
			return nil
		}
		target := filepath.Join(dst, filepath.FromSlash(name))
		count++

		switch {
		case f.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("mkdir %s: %w", name, err)
			}
			dirs = append(dirs, dirTime{path: target, mtime: f.ModTime()})
			return nil

		case f.Mode()&fs.ModeSymlink != 0:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("mkdir parent of %s: %w", name, err)
			}
			os.Remove(target)
			if err := os.Symlink(f.LinkTarget, target); err != nil {
				return fmt.Errorf("symlink %s: %w", name, err)
			}
			return nil
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("mkdir parent of %s: %w", name, err)
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extract %s: %w", name, err)
		}
		if mt := f.ModTime(); !mt.IsZero() {
			os.Chtimes(target, time.Now(), mt) //nolint:errcheck
		}
		return nil
	})
	if err != nil {
		return count, err
	}

	slices.SortFunc(dirs, func(a, b dirTime) int { return len(b.path) - len(a.path) })
	for _, d := range dirs {
		if !d.mtime.IsZero() {
			os.Chtimes(d.path, time.Now(), d.mtime) //nolint:errcheck
		}
	}
	return count, nil
}

func extractFile(f archives.FileInfo, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// entryName normalizes an archive entry name and rejects names that would
// land outside the extraction directory. The root entry maps to "".
func entryName(nameInArchive string) (string, error) {
	name := path.Clean(strings.TrimSuffix(filepath.ToSlash(nameInArchive), "/"))
	if name == "." || name == "" {
		return "", nil
	}
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", fmt.Errorf("entry %q escapes the metadata directory", nameInArchive)
	}
	return name, nil
}
