package app

import (
	"strings"
	"time"

	"pagerbuddy/internal/config"
	"pagerbuddy/internal/dedup"
	"pagerbuddy/internal/delivery"
	"pagerbuddy/internal/health"
	"pagerbuddy/internal/notify"
	"pagerbuddy/internal/response"
	"pagerbuddy/internal/storage"
	"pagerbuddy/internal/transport/push"
	"pagerbuddy/internal/transport/telegram"
	"pagerbuddy/internal/transport/webhook"
	logx "pagerbuddy/pkg/logx"
)

const (
	defaultHealthSchedule = "@every 1m"
	defaultPruneSchedule  = "@every 10m"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Forward: logx.ForwardConfig{
			Enabled:    l.Forward.Enabled,
			MinLevel:   l.Forward.MinLevel,
			RatePerSec: l.Forward.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapDedupConfig(cfg *config.Config) (dedup.Config, error) {
	a := cfg.Alerting
	window, err := config.ParseDurationOrDefault("alerting.double_alert_window", a.DoubleAlertWindow, dedup.DefaultWindow)
	if err != nil {
		return dedup.Config{}, err
	}
	stale, err := config.ParseDurationOrDefault("alerting.stale_after", a.StaleAfter, dedup.DefaultStaleAfter)
	if err != nil {
		return dedup.Config{}, err
	}
	loc, err := config.Location("alerting.timezone", a.Timezone)
	if err != nil {
		return dedup.Config{}, err
	}
	return dedup.Config{Window: window, StaleAfter: stale, Location: loc}, nil
}

func mapResponseConfig(cfg *config.Config, loc *time.Location) (response.Config, error) {
	r := cfg.Response
	cooldown, err := config.ParseDurationOrDefault("response.overview_cooldown", r.OverviewCooldown, response.DefaultCooldown)
	if err != nil {
		return response.Config{}, err
	}
	react, err := config.ParseDurationOrDefault("response.react_timeout", r.ReactTimeout, response.DefaultReactTimeout)
	if err != nil {
		return response.Config{}, err
	}
	return response.Config{Cooldown: cooldown, ReactTimeout: react, Location: loc}, nil
}

func mapNotifyConfig(cfg *config.Config, loc *time.Location) notify.Config {
	return notify.Config{
		Render:      notify.RenderOptions{Location: loc, Confidential: cfg.Alerting.Confidential},
		PinMessages: cfg.Response.PinMessages,
		AdminChat:   strings.TrimSpace(cfg.Telegram.AdminChat),
	}
}

// mapDeliveryConfig builds the queue config of one channel. rate and window
// are the channel's own limits; zero keeps the queue defaults.
func mapDeliveryConfig(cfg *config.Config, rate int, window time.Duration) (delivery.Config, error) {
	d := cfg.Delivery
	out := delivery.Config{Rate: rate, Window: window, QueueSize: d.QueueSize, RetryMax: d.RetryMax}
	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"delivery.alert_max_latency", d.AlertMaxLatency, &out.AlertMaxLatency},
		{"delivery.standard_max_latency", d.StandardMaxLatency, &out.StandardMaxLatency},
		{"delivery.flood_pause", d.FloodPause, &out.FloodPause},
		{"delivery.server_pause", d.ServerPause, &out.ServerPause},
		{"delivery.send_timeout", d.SendTimeout, &out.SendTimeout},
	}
	for _, f := range fields {
		v, err := config.ParseDurationField(f.path, f.raw)
		if err != nil {
			return delivery.Config{}, err
		}
		*f.dst = v
	}
	return out, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, time.Duration, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, 0, err
	}
	window, err := config.ParseDurationField("telegram.rate_window", cfg.Telegram.RateWindow)
	if err != nil {
		return telegram.Config{}, 0, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: poll}, window, nil
}

func mapWebhookConfig(cfg *config.Config) (webhook.Config, error) {
	timeout, err := config.ParseDurationOrDefault("webhook.timeout", cfg.Webhook.Timeout, 10*time.Second)
	if err != nil {
		return webhook.Config{}, err
	}
	return webhook.Config{Timeout: timeout, Secret: cfg.Webhook.Secret}, nil
}

func mapPushConfig(cfg *config.Config) (push.Config, error) {
	p := cfg.Push
	timeout, err := config.ParseDurationOrDefault("push.timeout", p.Timeout, 10*time.Second)
	if err != nil {
		return push.Config{}, err
	}
	ttl, err := config.ParseDurationField("push.ttl", p.TTL)
	if err != nil {
		return push.Config{}, err
	}
	return push.Config{Endpoint: strings.TrimSpace(p.Endpoint), ServerKey: strings.TrimSpace(p.ServerKey), Timeout: timeout, TTL: ttl}, nil
}

type healthSettings struct {
	cfg      health.Config
	schedule string
	prune    string
}

func mapHealthConfig(cfg *config.Config, loc *time.Location) (healthSettings, error) {
	h := cfg.Health
	timeout, err := config.ParseDurationOrDefault("health.source_timeout", h.SourceTimeout, health.DefaultSourceTimeout)
	if err != nil {
		return healthSettings{}, err
	}
	grace, err := config.ParseDurationField("health.channel_grace", h.ChannelGrace)
	if err != nil {
		return healthSettings{}, err
	}
	out := healthSettings{
		cfg:      health.Config{SourceTimeout: timeout, ChannelGrace: grace, Location: loc},
		schedule: strings.TrimSpace(h.Schedule),
		prune:    strings.TrimSpace(h.PruneSchedule),
	}
	if out.schedule == "" {
		out.schedule = defaultHealthSchedule
	}
	if out.prune == "" {
		out.prune = defaultPruneSchedule
	}
	return out, nil
}
