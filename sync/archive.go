package sync

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/maruel/natural"
	"github.com/mholt/archives"
)

// ListArchive returns the entry names of an archive without extracting it,
// in natural order. Directories carry a trailing slash.
func ListArchive(ctx context.Context, archivePath string, format Format) ([]string, error) {
	c, err := codecFor(format)
	if err != nil {
		return nil, err
	}
	in, err := os.Open(archivePath)
	if os.IsNotExist(err) {
		return nil, &PreconditionError{Op: "list", Path: archivePath, Err: ErrNotPacked}
	}
	if err != nil {
		return nil, &CodecError{Op: "list", Path: archivePath, Err: err}
	}
	defer in.Close()

	var names []string
	err = c.extractor.Extract(ctx, in, func(_ context.Context, f archives.FileInfo) error {
		name, err := entryName(f.NameInArchive)
		if err != nil || name == "" {
			return err
		}
		if f.IsDir() {
			name += "/"
		}
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, &CodecError{Op: "list", Path: archivePath, Err: fmt.Errorf("read entries: %w", err)}
	}

	sort.Sort(natural.StringSlice(names))
	return names, nil
}
