package transport

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestFromHTTPStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		status int
		header string
		class  Class
		retry  time.Duration
	}{
		{429, "5", Flood, 5 * time.Second},
		{429, "", Flood, 0},
		{403, "", Forbidden, 0},
		{410, "", Forbidden, 0},
		{400, "", Malformed, 0},
		{502, "", Server, 0},
	}
	for _, tc := range cases {
		ce := Classify(FromHTTPStatus(tc.status, tc.header, "boom"))
		if ce.Class != tc.class || ce.RetryAfter != tc.retry {
			t.Fatalf("status %d: got %s/%s, want %s/%s", tc.status, ce.Class, ce.RetryAfter, tc.class, tc.retry)
		}
	}
}

func TestClassifyWrapped(t *testing.T) {
	t.Parallel()
	base := NewMigrated("-100200", errors.New("moved"))
	wrapped := fmt.Errorf("send: %w", base)
	ce := Classify(wrapped)
	if ce.Class != Migrated || ce.MigrateTo != "-100200" {
		t.Fatalf("got %+v", ce)
	}
	if Classify(errors.New("eof")).Class != Transient {
		t.Fatalf("plain errors should be transient")
	}
	if Classify(nil) != nil {
		t.Fatalf("nil error should classify to nil")
	}
}

func TestParseRetryAfterDate(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	v := now.Add(30 * time.Second).Format("Mon, 02 Jan 2006 15:04:05 GMT")
	if d := ParseRetryAfter(v, now); d != 30*time.Second {
		t.Fatalf("retry after = %s", d)
	}
	if d := ParseRetryAfter("soon", now); d != 0 {
		t.Fatalf("unparseable value should give 0, got %s", d)
	}
}
