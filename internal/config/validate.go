package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pagerbuddy/internal/jobs"
)

// Validate checks everything that can be checked without side effects, so
// a broken hot reload is rejected before any component sees it.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		check(err)
	}
	nonNegative := func(path string, v int) {
		if v < 0 {
			check(fmt.Errorf("%s must be >= 0", path))
		}
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	dur("telegram.rate_window", cfg.Telegram.RateWindow)
	nonNegative("telegram.rate_limit", cfg.Telegram.RateLimit)
	if chat := strings.TrimSpace(cfg.Telegram.AdminChat); chat != "" {
		id, _, _ := strings.Cut(chat, "/")
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			check(fmt.Errorf("telegram.admin_chat: invalid chat id %q", chat))
		}
	}
	if cfg.Logging.Forward.Enabled && strings.TrimSpace(cfg.Telegram.AdminChat) == "" {
		check(errors.New("logging.forward.enabled requires telegram.admin_chat"))
	}
	nonNegative("logging.forward.rate_per_sec", cfg.Logging.Forward.RatePerSec)

	dur("alerting.double_alert_window", cfg.Alerting.DoubleAlertWindow)
	dur("alerting.stale_after", cfg.Alerting.StaleAfter)
	_, err := Location("alerting.timezone", cfg.Alerting.Timezone)
	check(err)

	dur("response.overview_cooldown", cfg.Response.OverviewCooldown)
	dur("response.react_timeout", cfg.Response.ReactTimeout)

	nonNegative("delivery.queue_size", cfg.Delivery.QueueSize)
	nonNegative("delivery.retry_max", cfg.Delivery.RetryMax)
	dur("delivery.alert_max_latency", cfg.Delivery.AlertMaxLatency)
	dur("delivery.standard_max_latency", cfg.Delivery.StandardMaxLatency)
	dur("delivery.flood_pause", cfg.Delivery.FloodPause)
	dur("delivery.server_pause", cfg.Delivery.ServerPause)
	dur("delivery.send_timeout", cfg.Delivery.SendTimeout)

	dur("webhook.timeout", cfg.Webhook.Timeout)
	nonNegative("webhook.rate_limit", cfg.Webhook.RateLimit)
	dur("push.timeout", cfg.Push.Timeout)
	dur("push.ttl", cfg.Push.TTL)
	nonNegative("push.rate_limit", cfg.Push.RateLimit)
	if cfg.Push.Enabled && strings.TrimSpace(cfg.Push.ServerKey) == "" {
		check(errors.New("push.enabled requires push.server_key"))
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			check(errors.New("storage.path is required when storage.driver=sqlite"))
		}
		dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			check(errors.New("storage.dsn is required when storage.driver=postgres"))
		}
	default:
		check(fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}

	if cfg.HTTP.Pprof && strings.TrimSpace(cfg.HTTP.ManualToken) == "" {
		check(errors.New("http.pprof requires http.manual_token"))
	}

	for _, s := range []struct{ path, raw string }{
		{"health.schedule", cfg.Health.Schedule},
		{"health.prune_schedule", cfg.Health.PruneSchedule},
	} {
		if strings.TrimSpace(s.raw) == "" {
			continue
		}
		if _, err := jobs.ParseSchedule(s.raw); err != nil {
			check(fmt.Errorf("%s: %w", s.path, err))
		}
	}
	dur("health.source_timeout", cfg.Health.SourceTimeout)
	dur("health.channel_grace", cfg.Health.ChannelGrace)

	seen := map[string]bool{}
	for i, s := range cfg.Sources {
		id := strings.TrimSpace(s.ID)
		switch {
		case id == "":
			check(fmt.Errorf("sources[%d].id is empty", i))
		case seen[id]:
			check(fmt.Errorf("sources[%d].id %q is duplicated", i, id))
		}
		seen[id] = true
		switch s.Kind {
		case "hardware", "katsys", "manual":
		default:
			check(fmt.Errorf("sources[%d].kind %q is not hardware, katsys or manual", i, s.Kind))
		}
	}
	return errors.Join(errs...)
}
