package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/kbauer/git-zip/sync"
)

const (
	verifyFlag    = "--verify-that-this-is-the-gitzip-wrapper"
	verifyMessage = "I verify, that I am the gitzip wrapper."
)

// ErrGitNotFound is returned by ResolveRealGit when PATH holds no other git.
var ErrGitNotFound = errors.New("git executable not found")

// ResolveRealGit searches pathList for a git executable, skipping the
// directory that contains self so the wrapper never finds itself.
func ResolveRealGit(self, pathList string) (string, error) {
	selfDir := filepath.Dir(self)
	selfInfo, selfErr := os.Stat(selfDir)

	name := "git"
	if runtime.GOOS == "windows" {
		name = "git.exe"
	}

	for _, dir := range filepath.SplitList(pathList) {
		if dir == "" {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if selfErr == nil && os.SameFile(info, selfInfo) {
			continue
		}
		candidate := filepath.Join(dir, name)
		fi, err := os.Stat(candidate)
		if err != nil || fi.IsDir() {
			continue
		}
		if runtime.GOOS != "windows" && fi.Mode().Perm()&0o111 == 0 {
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("%w outside %s", ErrGitNotFound, selfDir)
}

// RunShim is the entry point of the git wrapper installed ahead of the real
// git on PATH. In a packed repository it runs the command the way
// `git zip do` does; everywhere else it hands args to the real git
// unchanged. Returns the process exit code.
func RunShim(ctx context.Context, args []string, streams Streams) int {
	if len(args) == 1 && args[0] == verifyFlag {
		fmt.Fprintln(streams.Out, verifyMessage)
		return sync.ExitOK
	}

	v := newViper()
	if err := readConfig(v); err != nil {
		return exitCode(err, streams.Err)
	}
	settings, err := loadSettings(v)
	if err != nil {
		return exitCode(err, streams.Err)
	}
	logger := settings.logger(streams.Err, streams.Err)
	a := &app{streams: streams, v: v, settings: settings, logger: logger}

	git, err := a.gitBinary()
	if err != nil {
		return exitCode(err, streams.Err)
	}

	if !wantsSync(args) {
		return passThrough(ctx, git, args, settings.Dir, streams)
	}

	s, err := a.open()
	if errors.Is(err, sync.ErrRepoNotFound) {
		return passThrough(ctx, git, args, settings.Dir, streams)
	}
	if err != nil {
		return exitCode(err, streams.Err)
	}
	packed, err := s.IsPacked()
	if err != nil {
		return exitCode(err, streams.Err)
	}
	if !packed {
		return passThrough(ctx, git, args, settings.Dir, streams)
	}

	logger.With("comp", "shim").Debug("wrapping git command", "args", args)
	op := &sync.CommandOperation{
		Program: git,
		Args:    args,
		Dir:     settings.Dir,
		Stdin:   streams.In,
		Stdout:  streams.Out,
		Stderr:  streams.Err,
	}
	result, err := s.Run(ctx, op)
	if err != nil {
		return exitCode(err, streams.Err)
	}
	return result.ExitCode
}

// wantsSync reports whether a git invocation should go through the syncer.
// `git zip ...` is handled by git-zip itself, and a caller that already set
// GIT_DIR (such as a command running inside an ephemeral copy) has chosen
// its metadata directory.
func wantsSync(args []string) bool {
	if os.Getenv(sync.EnvGitDir) != "" {
		return false
	}
	for i := 0; i < len(args); i++ {
		switch a := args[i]; {
		case a == "-C" || a == "-c":
			i++ // option value
		case strings.HasPrefix(a, "-"):
		default:
			return a != "zip"
		}
	}
	return true
}

func passThrough(ctx context.Context, git string, args []string, dir string, streams Streams) int {
	cmd := exec.CommandContext(ctx, git, args...)
	cmd.Dir = dir
	cmd.Stdin = streams.In
	cmd.Stdout = streams.Out
	cmd.Stderr = streams.Err

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return sync.ExitStatus(exitErr)
	}
	if err != nil {
		return exitCode(fmt.Errorf("run %s: %w", git, err), streams.Err)
	}
	return sync.ExitOK
}
