package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/socratic-shell/symposium-sub000/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit, and build date of busd.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("busd %s (commit: %s, built: %s)\n",
			version.Version, version.Commit, version.Date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
