package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pagerbuddy/internal/source"
)

func TestBaseURL(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{":8080", "http://127.0.0.1:8080"},
		{"10.0.0.2:9000", "http://10.0.0.2:9000"},
		{"https://pager.example/", "https://pager.example"},
	}
	for _, tt := range tests {
		if got := baseURL(tt.in); got != tt.want {
			t.Fatalf("baseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTriggerPostsManualAlert(t *testing.T) {
	var got source.Trigger
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/alerts" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"action":"create","alert_id":"a1"}`))
	}))
	defer srv.Close()

	cfgPath := filepath.Join(t.TempDir(), "pagerbuddy.yaml")
	if err := os.WriteFile(cfgPath, []byte("http: { addr: \""+srv.URL+"\", manual_token: tok }\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"trigger", "-c", cfgPath, "--unit", "25123", "--keyword", "F2"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.UnitCode != 25123 || got.Keyword != "F2" {
		t.Fatalf("server got %+v", got)
	}
	if auth != "Bearer tok" {
		t.Fatalf("Authorization = %q", auth)
	}
	if !strings.Contains(out.String(), `"alert_id":"a1"`) {
		t.Fatalf("output = %q", out.String())
	}
}

func TestCheckConfigRejectsInvalid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte("storage: { driver: sqlite }\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"check-config", "-c", cfgPath})
	if err := rootCmd.Execute(); err == nil {
		t.Fatalf("expected invalid config error")
	}
}
