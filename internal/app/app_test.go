package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pagerbuddy/internal/config"
	"pagerbuddy/internal/source"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagerbuddy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestAppServesManualTrigger(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
logging: { level: error }
http: { manual_token: tok }
webhook: { enabled: true }
sources:
  - { id: hw-1, kind: hardware, description: "decoder north" }
`)
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.queues.Webhook == nil || a.queues.Telegram != nil || len(a.all) != 1 {
		t.Fatalf("channels: %+v", a.queues)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()
	post := func(path, body string) int {
		t.Helper()
		req, _ := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer tok")
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	// the manual producer starts asynchronously
	deadline := time.Now().Add(3 * time.Second)
	status := post("/api/v1/alerts", `{"unit_code":25123,"keyword":"F2"}`)
	for status == http.StatusServiceUnavailable && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		status = post("/api/v1/alerts", `{"unit_code":25123,"keyword":"F2"}`)
	}
	if status != http.StatusCreated {
		t.Fatalf("trigger status %d", status)
	}
	if status := post("/api/v1/alerts", `{"unit_code":25123,"keyword":"F2"}`); status != http.StatusAccepted {
		t.Fatalf("repeat trigger status %d, want suppressed", status)
	}

	if status := post("/api/v1/sources/hw-1/heartbeat", ""); status != http.StatusNoContent {
		t.Fatalf("heartbeat status %d", status)
	}

	deadline = time.Now().Add(3 * time.Second)
	for a.health.Last().CheckedAt.IsZero() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if a.health.Last().CheckedAt.IsZero() {
		t.Fatalf("initial health check did not run")
	}
	deadline = time.Now().Add(time.Second)
	for len(a.Jobs()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h := a.Jobs(); len(h) == 0 || h[0].Name != jobHealth {
		t.Fatalf("job history = %+v", h)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	if _, err := New(writeConfig(t, "storage: { driver: sqlite }\n")); err == nil {
		t.Fatalf("expected error for sqlite without path")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestMapDeliveryConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Delivery: config.DeliveryConfig{QueueSize: 64, AlertMaxLatency: "90s", FloodPause: "7s", RetryMax: 2}}
	dc, err := mapDeliveryConfig(cfg, 20, time.Minute)
	if err != nil {
		t.Fatalf("mapDeliveryConfig: %v", err)
	}
	if dc.Rate != 20 || dc.Window != time.Minute || dc.QueueSize != 64 || dc.AlertMaxLatency != 90*time.Second || dc.FloodPause != 7*time.Second || dc.RetryMax != 2 {
		t.Fatalf("delivery config = %+v", dc)
	}
	if dc.StandardMaxLatency != 0 {
		t.Fatalf("unset latency should stay zero for queue defaults, got %v", dc.StandardMaxLatency)
	}

	cfg.Delivery.ServerPause = "later"
	if _, err := mapDeliveryConfig(cfg, 0, 0); err == nil {
		t.Fatalf("expected duration error")
	}
}

func TestMapHealthDefaults(t *testing.T) {
	t.Parallel()
	hs, err := mapHealthConfig(&config.Config{}, time.UTC)
	if err != nil {
		t.Fatalf("mapHealthConfig: %v", err)
	}
	if hs.schedule != defaultHealthSchedule || hs.prune != defaultPruneSchedule || hs.cfg.SourceTimeout != 10*time.Minute {
		t.Fatalf("health settings = %+v", hs)
	}
}

func TestApplyReloadsAlertingTimings(t *testing.T) {
	t.Parallel()
	a, err := New(writeConfig(t, "logging: { level: error }\nalerting: { stale_after: 2m }\n"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.repo.Close()
	defer a.agg.Close()

	newCfg := *a.cfg
	newCfg.Alerting.StaleAfter = "10m"
	newCfg.Logging.Level = "warn"
	a.apply(a.cfg, &newCfg)

	old := time.Now().Add(-5 * time.Minute)
	out, err := a.pipe.Handle(context.Background(), a.manual.Candidate(source.Trigger{UnitCode: 7, At: old}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Alert == nil {
		t.Fatalf("candidate 5m old should be accepted after reload: %+v", out)
	}
}
