package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/fournet/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		ver, commit, date := version.Info()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "fournet version %s\n", ver)
		fmt.Fprintf(out, "Commit: %s\n", commit)
		fmt.Fprintf(out, "Built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
