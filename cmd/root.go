// Package cmd implements the git-zip command line and the git wrapper shim.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kbauer/git-zip/sync"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Streams are the standard streams of one invocation.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// StdStreams returns the process's standard streams.
func StdStreams() Streams {
	return Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// exitStatus carries a wrapped command's non-zero exit code out of RunE
// without printing anything.
type exitStatus struct {
	code int
}

func (e *exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// app holds what every subcommand needs once flags and config are resolved.
type app struct {
	streams  Streams
	v        *viper.Viper
	settings Settings
	logger   *slog.Logger
}

// prepare reads the config and builds the logger. Runs before every subcommand.
func (a *app) prepare(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := readConfig(a.v); err != nil {
		return err
	}
	s, err := loadSettings(a.v)
	if err != nil {
		return err
	}
	a.settings = s
	a.logger = s.logger(a.streams.Err, a.streams.Err)
	return nil
}

// open locates the repository from --dir or the working directory.
func (a *app) open() (*sync.Syncer, error) {
	start := a.settings.Dir
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		start = wd
	}
	return sync.Open(start, a.settings.syncConfig(a.logger))
}

// NewRootCommand builds the git-zip command tree.
func NewRootCommand(streams Streams) *cobra.Command {
	a := &app{streams: streams, v: newViper()}

	root := &cobra.Command{
		Use:   "git-zip",
		Short: "Keep a git metadata directory packed into a single archive",
		Long: `
git-zip keeps the metadata directory of a repository packed into a single
archive file, for storage where many small files are slow or unwanted.

    git zip pack
        Pack the metadata directory into the archive.
    git zip unpack
        Reverse the packing.
    git zip do -- ARGS...
        Run git ARGS against a temporary unpacked copy and write any
        changes back to the archive.

EXIT STATUS
===========

pack and unpack exit with 0 on success and 1 on any error.
do exits with the exit status of the wrapped command, or 1 if the
synchronization itself failed.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.prepare(cmd)
		},
	}
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)
	addFlags(root.PersistentFlags())

	root.AddCommand(
		newPackCommand(a),
		newUnpackCommand(a),
		newDoCommand(a),
		newListCommand(a),
		newStatusCommand(a),
		newWatchCommand(a),
	)
	return root
}

// Execute runs the git-zip command line with args and returns the process
// exit code.
func Execute(ctx context.Context, args []string, streams Streams) int {
	root := NewRootCommand(streams)
	root.SetArgs(args)
	return exitCode(root.ExecuteContext(ctx), streams.Err)
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return sync.ExitOK
	}
	var status *exitStatus
	if errors.As(err, &status) {
		return status.code
	}
	_, _ = fmt.Fprintf(stderr, "git-zip: %v\n", err)
	return sync.ExitCode(err)
}
