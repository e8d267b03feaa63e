package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "2m"); empty strings select the component defaults.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Alerting AlertingConfig `json:"alerting"`
	Response ResponseConfig `json:"response"`
	Delivery DeliveryConfig `json:"delivery"`
	Webhook  WebhookConfig  `json:"webhook"`
	Push     PushConfig     `json:"push"`
	Storage  StorageConfig  `json:"storage"`
	HTTP     HTTPConfig     `json:"http"`
	Health   HealthConfig   `json:"health"`

	// Sources lists the alert sources known at startup. The manual source
	// always exists.
	Sources []SourceConfig `json:"sources,omitempty"`
}

type TelegramConfig struct {
	// Token may be empty; Telegram delivery is then disabled.
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AdminChat is the chat id ("-100123" or "-100123/thread") for health
	// messages and forwarded logs.
	AdminChat string `json:"admin_chat,omitempty"`
	// RateLimit sends per RateWindow for the bot account.
	RateLimit  int    `json:"rate_limit,omitempty"`
	RateWindow string `json:"rate_window,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Forward LoggingForward `json:"forward"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingForward copies log lines to the admin chat.
type LoggingForward struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// AlertingConfig is the single home of the dedup timings.
//
// Defaults:
//   - double_alert_window: "5m"
//   - stale_after: "2m"
//   - timezone: local time
type AlertingConfig struct {
	DoubleAlertWindow string `json:"double_alert_window,omitempty"`
	StaleAfter        string `json:"stale_after,omitempty"`
	Timezone          string `json:"timezone,omitempty"`
	// Confidential hides unit and alert text in delivered messages.
	Confidential bool `json:"confidential,omitempty"`
}

type ResponseConfig struct {
	OverviewCooldown string `json:"overview_cooldown,omitempty"`
	ReactTimeout     string `json:"react_timeout,omitempty"`
	PinMessages      bool   `json:"pin_messages,omitempty"`
}

// DeliveryConfig holds the queue settings shared by every channel.
type DeliveryConfig struct {
	QueueSize          int    `json:"queue_size,omitempty"`
	AlertMaxLatency    string `json:"alert_max_latency,omitempty"`
	StandardMaxLatency string `json:"standard_max_latency,omitempty"`
	FloodPause         string `json:"flood_pause,omitempty"`
	ServerPause        string `json:"server_pause,omitempty"`
	RetryMax           int    `json:"retry_max,omitempty"`
	SendTimeout        string `json:"send_timeout,omitempty"`
}

type WebhookConfig struct {
	Enabled   bool   `json:"enabled"`
	Timeout   string `json:"timeout,omitempty"`
	RateLimit int    `json:"rate_limit,omitempty"`
	Secret    string `json:"secret,omitempty"`
}

type PushConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint,omitempty"`
	ServerKey string `json:"server_key,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	TTL       string `json:"ttl,omitempty"`
	RateLimit int    `json:"rate_limit,omitempty"`
}

// StorageConfig selects the repository.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pagerbuddy.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// HTTPConfig controls the API listener. An empty Addr disables it.
type HTTPConfig struct {
	Addr        string `json:"addr,omitempty"`
	ManualToken string `json:"manual_token,omitempty"`
	// Pprof mounts /debug behind the token.
	Pprof bool `json:"pprof,omitempty"`
}

type HealthConfig struct {
	Schedule      string `json:"schedule,omitempty"`
	SourceTimeout string `json:"source_timeout,omitempty"`
	ChannelGrace  string `json:"channel_grace,omitempty"`
	// PruneSchedule runs the history garbage collection.
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

type SourceConfig struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}
