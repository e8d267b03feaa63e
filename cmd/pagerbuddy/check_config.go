package main

import (
	"fmt"

	"pagerbuddy/internal/config"

	"github.com/spf13/cobra"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate a config file without starting the server",
	Long: `Parse and validate the config file.

Exit codes:
  0 - config is valid
  1 - config is invalid (details on stderr)`,
	RunE: runCheckConfig,
}

func init() {
	rootCmd.AddCommand(checkConfigCmd)
}

func runCheckConfig(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "config is valid")
	fmt.Fprintf(out, "  storage:   %s\n", orDefault(cfg.Storage.Driver, "memory"))
	fmt.Fprintf(out, "  telegram:  %t\n", cfg.Telegram.Token != "")
	fmt.Fprintf(out, "  webhook:   %t\n", cfg.Webhook.Enabled)
	fmt.Fprintf(out, "  push:      %t\n", cfg.Push.Enabled)
	fmt.Fprintf(out, "  http:      %s\n", orDefault(cfg.HTTP.Addr, "disabled"))
	fmt.Fprintf(out, "  sources:   %d\n", len(cfg.Sources)+1)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
