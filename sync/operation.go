package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Environment variables handed to a wrapped command so it uses the
// ephemeral metadata directory instead of discovering the real one.
const (
	EnvGitDir      = "GIT_DIR"
	EnvGitWorkTree = "GIT_WORK_TREE"
)

// Sandbox tells an Operation where to work.
type Sandbox struct {
	Root    string // real repository root (work tree)
	MetaDir string // ephemeral metadata directory, to be used instead of the real one
}

// Environ returns the environment overrides for a sandboxed process.
func (s Sandbox) Environ() []string {
	return []string{
		EnvGitDir + "=" + s.MetaDir,
		EnvGitWorkTree + "=" + s.Root,
	}
}

// Operation is the external operation run by Syncer.Run against an
// ephemeral copy. A non-zero exit code is a result, not an error; the
// error return is for failures to run at all.
type Operation interface {
	Run(ctx context.Context, sb Sandbox) (int, error)
}

// OperationFunc adapts a function to the Operation interface.
type OperationFunc func(ctx context.Context, sb Sandbox) (int, error)

func (f OperationFunc) Run(ctx context.Context, sb Sandbox) (int, error) {
	return f(ctx, sb)
}

// archiveTargeter is implemented by operations that themselves pack or
// unpack the real archive. Syncer.Run skips its concurrency guard for them.
type archiveTargeter interface {
	TargetsRealArchive() bool
}

// CommandOperation runs an external program with the sandbox overrides
// added to its environment.
type CommandOperation struct {
	Program string
	Args    []string

	// Dir is the working directory; empty means the current one.
	Dir string

	// Env is appended after the current environment and the overrides.
	Env map[string]string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewCommandOperation returns a CommandOperation wired to the process's
// standard streams.
func NewCommandOperation(program string, args ...string) *CommandOperation {
	return &CommandOperation{
		Program: program,
		Args:    args,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Run implements Operation.
func (c *CommandOperation) Run(ctx context.Context, sb Sandbox) (int, error) {
	cmd := exec.CommandContext(ctx, c.Program, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	cmd.Env = append(os.Environ(), sb.Environ()...)
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ExitStatus(exitErr), nil
	}
	if err != nil {
		return -1, fmt.Errorf("run %s: %w", c.Program, err)
	}
	return 0, nil
}

// ExitStatus returns the exit code a shell would report for a finished
// process: its own code, or 128+signal when a signal killed it.
func ExitStatus(exitErr *exec.ExitError) int {
	if code := exitErr.ExitCode(); code >= 0 {
		return code
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ExitFatal
}

// TargetsRealArchive reports whether the command is a nested
// `git zip pack` or `git zip unpack`.
func (c *CommandOperation) TargetsRealArchive() bool {
	return IsNestedPackUnpack(c.Args)
}

func (c *CommandOperation) String() string {
	return strings.Join(append([]string{c.Program}, c.Args...), " ")
}

// IsNestedPackUnpack reports whether git arguments invoke `zip pack` or
// `zip unpack`. Leading global options are skipped.
func IsNestedPackUnpack(args []string) bool {
	var words []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			continue
		}
		if len(words) == 0 && (a == "-C" || a == "-c") {
			i++ // option value
			continue
		}
		if len(words) == 0 && strings.HasPrefix(a, "-") {
			continue
		}
		words = append(words, a)
		if len(words) == 2 {
			break
		}
	}
	if len(words) < 2 || words[0] != "zip" {
		return false
	}
	return words[1] == "pack" || words[1] == "unpack"
}
