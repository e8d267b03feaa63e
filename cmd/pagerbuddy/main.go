// Command pagerbuddy runs the alert server and its operator tools.
//
// Usage:
//
//	pagerbuddy serve -c pagerbuddy.yaml         # run the server
//	pagerbuddy check-config -c pagerbuddy.yaml  # validate a config file
//	pagerbuddy trigger -c pagerbuddy.yaml --unit 25123 --keyword F2
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:           "pagerbuddy",
	Short:         "Alert deduplication and fan-out server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pagerbuddy %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "./pagerbuddy.yaml", "path to config file (json or yaml)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
