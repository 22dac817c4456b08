// Command git-zip keeps a repository's metadata directory packed into a
// single archive. Installed on PATH it is reachable as `git zip`.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/kbauer/git-zip/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cmd.Execute(ctx, os.Args[1:], cmd.StdStreams())
	stop()
	os.Exit(code)
}
