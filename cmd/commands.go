package cmd

import (
	"fmt"
	"os"

	"github.com/kbauer/git-zip/sync"
	"github.com/spf13/cobra"
)

func newPackCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pack",
		Short: "Pack the metadata directory into the archive",
		Long: `
The "pack" command replaces the contents of the metadata directory with a
single archive. The work tree is not touched. Fails if the repository is
already packed.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			return s.Pack(cmd.Context())
		},
	}
}

func newUnpackCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unpack",
		Short: "Restore the metadata directory from the archive",
		Long: `
The "unpack" command extracts the archive into the metadata directory and
removes it. Fails if the repository is not packed.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			return s.Unpack(cmd.Context())
		},
	}
}

func newDoCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "do [flags] -- ARGS...",
		Short: "Run a git command against the packed repository",
		Long: `
The "do" command unpacks the archive into a temporary directory, runs git
with ARGS against it and repacks the archive if the command changed anything.
If the archive is modified or removed by someone else in the meantime, the
changes are discarded and the command fails.

Use "--" before ARGS when they start with an option.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			git, err := a.gitBinary()
			if err != nil {
				return err
			}
			s, err := a.open()
			if err != nil {
				return err
			}
			op := &sync.CommandOperation{
				Program: git,
				Args:    args,
				Dir:     a.settings.Dir,
				Stdin:   a.streams.In,
				Stdout:  a.streams.Out,
				Stderr:  a.streams.Err,
			}
			result, err := s.Run(cmd.Context(), op)
			if err != nil {
				return err
			}
			if result.ExitCode != 0 {
				return &exitStatus{code: result.ExitCode}
			}
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List the entries of the archive",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			names, err := sync.ListArchive(cmd.Context(), s.Layout().ArchivePath(), a.settings.Format)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(a.streams.Out, name)
			}
			return nil
		},
	}
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where the repository is and whether it is packed",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			packed, err := s.IsPacked()
			if err != nil {
				return err
			}
			state := "unpacked"
			if packed {
				state = "packed"
			}
			l := s.Layout()
			fmt.Fprintf(a.streams.Out, "root:     %s\n", l.Root)
			fmt.Fprintf(a.streams.Out, "metadata: %s\n", l.MetaDir)
			fmt.Fprintf(a.streams.Out, "archive:  %s\n", l.ArchivePath())
			fmt.Fprintf(a.streams.Out, "state:    %s\n", state)
			return nil
		},
	}
}

func newWatchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Pack the repository once it has been idle",
		Long: `
The "watch" command waits until the unpacked metadata directory has seen no
changes for the idle interval and then packs it. Packing is postponed while
lock files exist. Returns immediately if the repository is already packed.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			return sync.NewIdlePacker(s, a.settings.Idle).Run(cmd.Context())
		},
	}
	cmd.Flags().Duration(keyIdle, sync.DefaultIdle, "pack after this long without changes")
	return cmd
}

// gitBinary returns the configured git, or the first git on PATH that is
// not installed next to this executable.
func (a *app) gitBinary() (string, error) {
	if a.settings.Git != "" {
		return a.settings.Git, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	return ResolveRealGit(self, os.Getenv("PATH"))
}
