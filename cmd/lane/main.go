// Command lane runs statements against a SQLite database through a single
// worker lane.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/lane/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "lane: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}
