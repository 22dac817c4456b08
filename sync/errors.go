package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyPacked is returned by Pack when the archive file already exists.
	ErrAlreadyPacked = errors.New("already packed")
	// ErrNotPacked is returned by Unpack and Syncer.Run when there is no archive file.
	ErrNotPacked = errors.New("not packed")
	// ErrExternalModification means another actor replaced the archive during a run.
	ErrExternalModification = errors.New("archive modified externally")
	// ErrExternalRemoval means another actor deleted the archive during a run.
	ErrExternalRemoval = errors.New("archive removed externally")
	// ErrRepoNotFound is returned by LocateRoot when no metadata directory is found.
	ErrRepoNotFound = errors.New("not inside a repository")
)

// Process exit codes for the pack, unpack and do commands.
const (
	ExitOK    = 0
	ExitFatal = 1
)

// PreconditionError reports a pack on packed state or an unpack on
// unpacked state. Nothing was mutated.
type PreconditionError struct {
	Op   string
	Path string
	Err  error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// ConcurrencyError reports that the archive changed or vanished between the
// token read and the guard check. The archive is left as the other actor left it.
type ConcurrencyError struct {
	Path string
	Err  error
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ConcurrencyError) Unwrap() error { return e.Err }

// CodecError wraps a failed archive read or write.
type CodecError struct {
	Op   string // "pack", "unpack" or "list"
	Path string
	Err  error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Pack, Unpack or Syncer.Run to a process
// exit code. A nil error maps to ExitOK.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	return ExitFatal
}
