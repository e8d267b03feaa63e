package logx

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

type captureForwarder struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureForwarder) ForwardLog(level, text string) {
	c.mu.Lock()
	c.lines = append(c.lines, level+"|"+text)
	c.mu.Unlock()
}

func TestFormatLine(t *testing.T) {
	t.Parallel()
	got := FormatLine([]byte(`{"level":"warn","message":"queue paused","time":"x","comp":"delivery","channel":"telegram"}`))
	want := "[WARN] queue paused\n- channel=telegram\n- comp=delivery"
	if got != want {
		t.Fatalf("FormatLine = %q, want %q", got, want)
	}
	if got := FormatLine([]byte("  not json  ")); got != "not json" {
		t.Fatalf("FormatLine(raw) = %q", got)
	}
}

func TestForwardRespectsMinLevel(t *testing.T) {
	svc, log := New(Config{Level: "debug", Console: false, File: FileConfig{Enabled: false}})
	defer svc.Close()

	fwd := &captureForwarder{}
	svc.SetForwarder(fwd)
	svc.Apply(Config{Level: "debug", Forward: ForwardConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100}})

	log.Info("routine")
	log.Warn("channel degraded", String("channel", "telegram"))

	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	if len(fwd.lines) != 1 {
		t.Fatalf("forwarded %d lines, want 1: %v", len(fwd.lines), fwd.lines)
	}
	if !strings.HasPrefix(fwd.lines[0], "warn|[WARN] channel degraded") {
		t.Fatalf("unexpected forwarded line %q", fwd.lines[0])
	}
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "dedup"))
	log.Debug("suppressed", Int("unit", 25123))
	out := buf.String()
	if !strings.Contains(out, `"comp":"dedup"`) || !strings.Contains(out, `"unit":25123`) {
		t.Fatalf("missing fields in %s", out)
	}
	if Nop().IsZero() {
		t.Fatal("Nop logger must not be zero")
	}
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero Logger must report IsZero")
	}
	zero.Info("ignored")
}
