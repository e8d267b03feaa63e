package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  admin_chat: "-1001/7"
logging:
  level: debug
  console: true
  forward: { enabled: true, min_level: warn, rate_per_sec: 2 }
alerting:
  double_alert_window: 5m
  stale_after: 2m
  timezone: Europe/Berlin
response:
  pin_messages: true
storage:
  driver: sqlite
  path: ./pb.db
health:
  schedule: "@every 1m"
sources:
  - { id: hw-1, kind: hardware }
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("cfg.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode yaml: %v", err)
	}
	if cfg.Telegram.AdminChat != "-1001/7" || cfg.Alerting.Timezone != "Europe/Berlin" || !cfg.Response.PinMessages {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].Kind != "hardware" {
		t.Fatalf("sources = %+v", cfg.Sources)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if _, err := Decode("cfg.json", []byte(`{"storage":{"driver":"memory"}}`)); err != nil {
		t.Fatalf("Decode json: %v", err)
	}
}

func TestDecodeIsStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body string
	}{
		{"unknown json key", "c.json", `{"alerting":{"window":"5m"}}`},
		{"trailing data", "c.json", `{} {}`},
		{"unknown yaml key", "c.yml", "http:\n  port: 80\n"},
		{"bad yaml", "c.yaml", "telegram: [\n"},
	}
	for _, tt := range tests {
		if _, err := Decode(tt.file, []byte(tt.body)); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"empty is valid", Config{}, ""},
		{"bad duration", Config{Alerting: AlertingConfig{StaleAfter: "soon"}}, "alerting.stale_after"},
		{"negative duration", Config{Response: ResponseConfig{ReactTimeout: "-1m"}}, "response.react_timeout"},
		{"bad timezone", Config{Alerting: AlertingConfig{Timezone: "Mars/Base"}}, "alerting.timezone"},
		{"sqlite without path", Config{Storage: StorageConfig{Driver: "sqlite"}}, "storage.path"},
		{"postgres without dsn", Config{Storage: StorageConfig{Driver: "postgres"}}, "storage.dsn"},
		{"unknown driver", Config{Storage: StorageConfig{Driver: "mongo"}}, "storage.driver"},
		{"forward without chat", Config{Logging: LoggingConfig{Forward: LoggingForward{Enabled: true}}}, "admin_chat"},
		{"push without key", Config{Push: PushConfig{Enabled: true, Endpoint: "http://x"}}, "push.enabled"},
		{"pprof without token", Config{HTTP: HTTPConfig{Pprof: true}}, "http.pprof"},
		{"bad schedule", Config{Health: HealthConfig{Schedule: "whenever"}}, "health.schedule"},
		{"duplicate source", Config{Sources: []SourceConfig{{ID: "a", Kind: "katsys"}, {ID: "a", Kind: "katsys"}}}, "duplicated"},
		{"bad source kind", Config{Sources: []SourceConfig{{ID: "a", Kind: "radio"}}}, "sources[0].kind"},
	}
	for _, tt := range tests {
		cfg := tt.cfg
		err := Validate(&cfg)
		if tt.want == "" {
			if err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: err = %v, want mention of %q", tt.name, err, tt.want)
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "old-secret"}, Alerting: AlertingConfig{StaleAfter: "2m"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "new-secret"}, Alerting: AlertingConfig{StaleAfter: "3m"}}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "telegram,alerting" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs")
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "telegram" {
		t.Fatalf("RestartRequired = %v", got)
	}
	if changed, _ := SummarizeConfigChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs changed %v", changed)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "pagerbuddy.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	write(`{"alerting":{"stale_after":"2m"}}`)

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	// give the watcher time to register the directory
	time.Sleep(200 * time.Millisecond)

	write(`{"alerting":{"stale_after":"nope"}}`)
	select {
	case cfg := <-sub:
		t.Fatalf("invalid config published: %+v", cfg.Alerting)
	case <-time.After(600 * time.Millisecond):
	}

	write(`{"alerting":{"stale_after":"3m"}}`)
	select {
	case cfg := <-sub:
		if cfg.Alerting.StaleAfter != "3m" {
			t.Fatalf("published %+v", cfg.Alerting)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
	if m.Get().Alerting.StaleAfter != "3m" {
		t.Fatalf("Get not updated")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not stop")
	}
}
