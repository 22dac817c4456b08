package sync

import (
	"fmt"
	"path/filepath"
)

// DefaultMetadataDirName is the metadata directory looked for by LocateRoot.
const DefaultMetadataDirName = ".git"

// archiveBaseName is the archive file name without its format extension.
const archiveBaseName = "gitzip"

// Format selects the archive codec.
type Format string

const (
	FormatTarGz Format = "tar.gz"
	FormatZip   Format = "zip"
)

// ParseFormat validates a format name. The empty string selects FormatTarGz.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatTarGz:
		return FormatTarGz, nil
	case FormatZip:
		return FormatZip, nil
	}
	return "", fmt.Errorf("unknown archive format %q (want %q or %q)", s, FormatTarGz, FormatZip)
}

// ArchiveName returns the archive file name used for this format.
func (f Format) ArchiveName() string {
	if f == "" {
		f = FormatTarGz
	}
	return archiveBaseName + "." + string(f)
}

// Layout holds the paths derived from a repository root.
type Layout struct {
	Root        string // repository root (work tree)
	MetaDir     string // <Root>/<metadata dir name>
	ArchiveName string // archive file name inside MetaDir
}

// NewLayout derives the metadata directory and archive paths from root.
func NewLayout(root, metaDirName string, format Format) Layout {
	if metaDirName == "" {
		metaDirName = DefaultMetadataDirName
	}
	return Layout{
		Root:        root,
		MetaDir:     filepath.Join(root, metaDirName),
		ArchiveName: format.ArchiveName(),
	}
}

// ArchivePath returns the archive file path inside the metadata directory.
func (l Layout) ArchivePath() string {
	return filepath.Join(l.MetaDir, l.ArchiveName)
}

// FileStat holds the stat information recorded in a Snapshot.
type FileStat struct {
	Name  string
	Size  int64
	Mtime int64 // nanoseconds
	IsDir bool
}

// Snapshot maps paths relative to the scanned directory to their stat at
// one instant. Only presence and Mtime take part in comparisons.
type Snapshot map[string]FileStat

// Result describes a completed Syncer.Run.
type Result struct {
	ExitCode int     // exit status of the wrapped operation
	Repacked bool    // the real archive was replaced
	Changes  Changes // what the operation changed in the ephemeral copy
}
