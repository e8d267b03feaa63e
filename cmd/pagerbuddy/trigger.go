package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pagerbuddy/internal/config"
	"pagerbuddy/internal/source"

	"github.com/spf13/cobra"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Raise a manual alert on a running server",
	Long: `Send a manual alert to a running server over its HTTP API.

The address and bearer token come from the config file unless --addr or
--token are given.`,
	RunE: runTrigger,
}

func init() {
	f := triggerCmd.Flags()
	f.Int("unit", 0, "unit code to alert (required)")
	f.String("keyword", "", "alarm keyword")
	f.String("location", "", "incident location")
	f.String("message", "", "free text")
	f.String("addr", "", "server address, overrides http.addr")
	f.String("token", "", "bearer token, overrides http.manual_token")
	f.Duration("timeout", 10*time.Second, "request timeout")
	_ = triggerCmd.MarkFlagRequired("unit")
	rootCmd.AddCommand(triggerCmd)
}

func runTrigger(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	unit, _ := f.GetInt("unit")
	keyword, _ := f.GetString("keyword")
	location, _ := f.GetString("location")
	message, _ := f.GetString("message")
	addr, _ := f.GetString("addr")
	token, _ := f.GetString("token")
	timeout, _ := f.GetDuration("timeout")

	if addr == "" || token == "" {
		cfgPath, _ := f.GetString("config")
		cfg, err := config.NewManager(cfgPath).Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if addr == "" {
			addr = cfg.HTTP.Addr
		}
		if token == "" {
			token = cfg.HTTP.ManualToken
		}
	}
	if addr == "" {
		return fmt.Errorf("no server address: set http.addr or --addr")
	}

	body, err := json.Marshal(source.Trigger{UnitCode: unit, Keyword: keyword, Location: location, Message: message})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(addr)+"/api/v1/alerts", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(out)))
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(out)))
	return nil
}

// baseURL turns a listen address such as ":8080" into a dialable URL.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
