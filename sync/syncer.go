package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Config holds the settings shared by Syncer and IdlePacker.
type Config struct {
	// MetadataDirName is the metadata directory name, ".git" by default.
	MetadataDirName string
	// Format selects the archive codec, FormatTarGz by default.
	Format Format
	// TempDir is where ephemeral copies are created; empty means os.TempDir().
	TempDir string
	// Logger receives all engine logging; nil discards.
	Logger *slog.Logger
	// Fs is only used by Open to locate the repository root; nil means the
	// OS filesystem. Everything a Syncer does afterwards (packed check, pack,
	// unpack, snapshots of the ephemeral copy, swap) works on the OS filesystem.
	Fs afero.Fs
}

func (c Config) withDefaults() Config {
	if c.MetadataDirName == "" {
		c.MetadataDirName = DefaultMetadataDirName
	}
	if c.Format == "" {
		c.Format = FormatTarGz
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	if c.Logger == nil {
		c.Logger = discardLogger
	}
	return c
}

// Syncer runs operations against an ephemeral unpacked copy of a packed
// metadata directory and writes changes back to the archive.
type Syncer struct {
	layout Layout
	cfg    Config
	disk   afero.Fs
}

// NewSyncer creates a Syncer for the repository rooted at root.
func NewSyncer(root string, cfg Config) *Syncer {
	cfg = cfg.withDefaults()
	return &Syncer{
		layout: NewLayout(root, cfg.MetadataDirName, cfg.Format),
		cfg:    cfg,
		disk:   afero.NewOsFs(),
	}
}

// Open locates the repository containing start and returns its Syncer.
func Open(start string, cfg Config) (*Syncer, error) {
	cfg = cfg.withDefaults()
	root, err := LocateRoot(cfg.Fs, start, cfg.MetadataDirName)
	if err != nil {
		return nil, err
	}
	return NewSyncer(root, cfg), nil
}

// Layout returns the paths this Syncer works on.
func (s *Syncer) Layout() Layout {
	return s.layout
}

// IsPacked reports whether the real archive exists.
func (s *Syncer) IsPacked() (bool, error) {
	return IsPacked(s.disk, s.layout)
}

// Pack packs the real metadata directory.
func (s *Syncer) Pack(ctx context.Context) error {
	return Pack(ctx, s.layout.MetaDir, s.cfg.Format, s.cfg.Logger)
}

// Unpack unpacks the real metadata directory.
func (s *Syncer) Unpack(ctx context.Context) error {
	return Unpack(ctx, s.layout.MetaDir, s.cfg.Format, s.cfg.Logger)
}

// Run executes op against an ephemeral unpacked copy of the archive and
// replaces the archive if op changed anything.
//
// The returned Result carries op's exit code whether or not a repack
// happened. A non-nil error means the run itself failed: the archive was
// missing, it was modified or removed by someone else during the run, or
// codec work failed. In those cases the real archive is left untouched.
// An error from op.Run does not stop synchronization; it is returned once
// the archive has been brought up to date.
//
// Two runs started from the same archive both pass the concurrency check;
// the later swap wins and the earlier changes are lost without an error.
func (s *Syncer) Run(ctx context.Context, op Operation) (Result, error) {
	l := sub(s.cfg.Logger, "syncer")
	archivePath := s.layout.ArchivePath()
	l.Debug("run start", "archive", archivePath)

	// S1: Precondition + concurrency token
	info, err := os.Stat(archivePath)
	if os.IsNotExist(err) {
		l.Error("run refused, not packed", "archive", archivePath)
		return Result{ExitCode: ExitFatal}, &PreconditionError{Op: "run", Path: archivePath, Err: ErrNotPacked}
	}
	if err != nil {
		return Result{ExitCode: ExitFatal}, fmt.Errorf("stat archive: %w", err)
	}
	token := info.ModTime().UnixNano()
	l.Debug("S1 token read", "token", token)

	// S2: Materialize the ephemeral copy
	tmpRoot, err := os.MkdirTemp(s.cfg.TempDir, "gitzip-")
	if err != nil {
		return Result{ExitCode: ExitFatal}, fmt.Errorf("create ephemeral dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpRoot); err != nil {
			l.Warn("ephemeral cleanup failed", "dir", tmpRoot, "err", err)
		} else {
			l.Debug("ephemeral removed", "dir", tmpRoot)
		}
	}()

	ephMeta := filepath.Join(tmpRoot, filepath.Base(s.layout.MetaDir))
	ephArchive := filepath.Join(ephMeta, s.layout.ArchiveName)
	if err := os.MkdirAll(ephMeta, 0755); err != nil {
		return Result{ExitCode: ExitFatal}, fmt.Errorf("create ephemeral metadata dir: %w", err)
	}
	if err := SafeCopy(ctx, archivePath, ephArchive); err != nil {
		switch {
		case errors.Is(err, ErrSourceModified):
			l.Error("archive modified while copying", "archive", archivePath)
			return Result{ExitCode: ExitFatal}, &ConcurrencyError{Path: archivePath, Err: ErrExternalModification}
		case errors.Is(err, os.ErrNotExist):
			l.Error("archive removed while copying", "archive", archivePath)
			return Result{ExitCode: ExitFatal}, &ConcurrencyError{Path: archivePath, Err: ErrExternalRemoval}
		}
		return Result{ExitCode: ExitFatal}, fmt.Errorf("copy archive: %w", err)
	}
	if err := Unpack(ctx, ephMeta, s.cfg.Format, s.cfg.Logger); err != nil {
		return Result{ExitCode: ExitFatal}, err
	}
	l.Debug("S2 materialized", "dir", ephMeta)

	// S3: Snapshot before
	before, err := TakeSnapshot(s.disk, ephMeta, s.cfg.Logger)
	if err != nil {
		return Result{ExitCode: ExitFatal}, fmt.Errorf("snapshot before: %w", err)
	}

	// S4: Run the wrapped operation
	code, opErr := op.Run(ctx, Sandbox{Root: s.layout.Root, MetaDir: ephMeta})
	if opErr != nil {
		l.Warn("operation failed", "err", opErr)
		if code == 0 {
			code = ExitFatal
		}
	} else if code != 0 {
		l.Info("operation exited non-zero", "exitCode", code)
	}
	result := Result{ExitCode: code}

	// S5: Snapshot after
	after, err := TakeSnapshot(s.disk, ephMeta, s.cfg.Logger)
	if err != nil {
		return Result{ExitCode: ExitFatal}, fmt.Errorf("snapshot after: %w", err)
	}

	// S6: Concurrency guard
	if t, ok := op.(archiveTargeter); ok && t.TargetsRealArchive() {
		l.Debug("S6 skipped, operation targets the real archive")
	} else if err := s.checkToken(archivePath, token); err != nil {
		l.Error("concurrency guard failed", "archive", archivePath, "err", err)
		return Result{ExitCode: ExitFatal}, err
	}

	// S7: Change decision
	result.Changes = Compare(before, after)
	if !result.Changes.HasChanged() {
		l.Info("no changes, archive untouched", "archive", archivePath, "exitCode", code)
		return result, wrapOpErr(opErr)
	}
	l.Debug("S7 changes detected",
		"added", len(result.Changes.Added),
		"removed", len(result.Changes.Removed),
		"modified", len(result.Changes.Modified))

	// S8: Repack and swap
	if err := Pack(ctx, ephMeta, s.cfg.Format, s.cfg.Logger); err != nil {
		return Result{ExitCode: ExitFatal}, err
	}
	if err := SafeCopy(ctx, ephArchive, archivePath); err != nil {
		return Result{ExitCode: ExitFatal}, fmt.Errorf("swap archive: %w", err)
	}
	result.Repacked = true
	l.Info("archive repacked", "archive", archivePath, "changes", result.Changes.String(), "exitCode", code)

	// S9: Result (ephemeral dir removed by the deferred cleanup)
	return result, wrapOpErr(opErr)
}

// checkToken re-reads the archive mtime and compares it with the token.
func (s *Syncer) checkToken(archivePath string, token int64) error {
	info, err := os.Stat(archivePath)
	if os.IsNotExist(err) {
		return &ConcurrencyError{Path: archivePath, Err: ErrExternalRemoval}
	}
	if err != nil {
		return fmt.Errorf("re-stat archive: %w", err)
	}
	if info.ModTime().UnixNano() != token {
		return &ConcurrencyError{Path: archivePath, Err: ErrExternalModification}
	}
	return nil
}

func wrapOpErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("operation: %w", err)
}
