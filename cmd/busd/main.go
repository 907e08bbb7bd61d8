// Command busd is the broadcast message bus for a multi-window agent
// workspace: daemon, client bridge, and debugging subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/socratic-shell/symposium-sub000/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
