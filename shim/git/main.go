// Command git is a wrapper placed ahead of the real git on PATH. Commands
// in packed repositories run through git-zip; everything else is passed on.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/kbauer/git-zip/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cmd.RunShim(ctx, os.Args[1:], cmd.StdStreams())
	stop()
	os.Exit(code)
}
