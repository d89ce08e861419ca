package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of ticketintel",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := map[string]string{"version": Version, "commit": Commit, "build_time": BuildTime}
		return printReport(cmd, info, func() {
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\nCommit: %s\nBuildTime: %s\n", Version, Commit, BuildTime)
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
