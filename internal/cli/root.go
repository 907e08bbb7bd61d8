// Package cli wires the busd command-line surface: daemon, client, debug
// dump-messages, and version subcommands (spec.md §6).
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "busd",
	Short: "Broadcast message bus for a multi-window agent workspace",
	Long:  "busd runs a per-workspace broadcast daemon and the client runtime that talks to it, routing line-delimited JSON envelopes between every window and agent attached to the bus.",
}

// Execute runs the busd command tree.
func Execute() error {
	return rootCmd.Execute()
}
