package config

import (
	"reflect"
	"strings"

	logx "pagerbuddy/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{
	"telegram": true,
	"storage":  true,
	"http":     true,
	"webhook":  true,
	"push":     true,
	"delivery": true,
	"sources":  true,
	"response": true,
	"health":   true,
}

// SummarizeConfigChange returns the changed section names and safe log
// fields describing them. Tokens and keys only appear as "_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot != nt {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Bool("telegram.admin_chat_set", strings.TrimSpace(nt.AdminChat) != ""),
			logx.Int("telegram.rate_limit", nt.RateLimit),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.forward", newCfg.Logging.Forward.Enabled),
		)
	}

	if oldCfg.Alerting != newCfg.Alerting {
		changed = append(changed, "alerting")
		attrs = append(attrs,
			logx.String("alerting.double_alert_window", newCfg.Alerting.DoubleAlertWindow),
			logx.String("alerting.stale_after", newCfg.Alerting.StaleAfter),
			logx.String("alerting.timezone", newCfg.Alerting.Timezone),
			logx.Bool("alerting.confidential", newCfg.Alerting.Confidential),
		)
	}

	if oldCfg.Response != newCfg.Response {
		changed = append(changed, "response")
		attrs = append(attrs,
			logx.String("response.overview_cooldown", newCfg.Response.OverviewCooldown),
			logx.String("response.react_timeout", newCfg.Response.ReactTimeout),
			logx.Bool("response.pin_messages", newCfg.Response.PinMessages),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
	}
	if oldCfg.Webhook != newCfg.Webhook {
		changed = append(changed, "webhook")
		attrs = append(attrs, logx.Bool("webhook.enabled", newCfg.Webhook.Enabled), logx.Bool("webhook.secret_set", newCfg.Webhook.Secret != ""))
	}
	if oldCfg.Push != newCfg.Push {
		changed = append(changed, "push")
		attrs = append(attrs, logx.Bool("push.enabled", newCfg.Push.Enabled), logx.Bool("push.server_key_set", newCfg.Push.ServerKey != ""))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.manual_token_set", newCfg.HTTP.ManualToken != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}
	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
		attrs = append(attrs,
			logx.String("health.schedule", newCfg.Health.Schedule),
			logx.String("health.source_timeout", newCfg.Health.SourceTimeout),
		)
	}
	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
		attrs = append(attrs, logx.Int("sources.count", len(newCfg.Sources)))
	}
	return changed, attrs
}

// RestartRequired reports which of the changed sections are only read at
// startup.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}
