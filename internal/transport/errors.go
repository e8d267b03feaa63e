package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Class groups transport failures by how the delivery queue reacts to them.
type Class int

const (
	// Transient is anything unclassified: retry after backoff.
	Transient Class = iota
	// Malformed means the request itself is wrong. Dropped, logged as error.
	Malformed
	// Forbidden means the recipient refuses delivery. Dropped, sink deactivated.
	Forbidden
	// Flood is channel-wide rate limiting. The channel pauses, the job retries.
	Flood
	// Server is an upstream 5xx. Short pause, retry, channel marked degraded.
	Server
	// Migrated means the target moved; MigrateTo holds the new address.
	Migrated
)

func (c Class) String() string {
	switch c {
	case Malformed:
		return "malformed"
	case Forbidden:
		return "forbidden"
	case Flood:
		return "flood"
	case Server:
		return "server"
	case Migrated:
		return "migrated"
	default:
		return "transient"
	}
}

// Permanent reports whether a retry can never succeed.
func (c Class) Permanent() bool { return c == Malformed || c == Forbidden }

// Error is a classified transport failure.
type Error struct {
	Class      Class
	RetryAfter time.Duration
	MigrateTo  string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Class.String())
	if e.RetryAfter > 0 {
		b.WriteString(" (retry after ")
		b.WriteString(e.RetryAfter.String())
		b.WriteString(")")
	}
	if e.MigrateTo != "" {
		b.WriteString(" (migrated to ")
		b.WriteString(e.MigrateTo)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func NewMalformed(err error) error { return &Error{Class: Malformed, Err: err} }
func NewForbidden(err error) error { return &Error{Class: Forbidden, Err: err} }
func NewServer(err error) error    { return &Error{Class: Server, Err: err} }
func NewFlood(retryAfter time.Duration, err error) error {
	return &Error{Class: Flood, RetryAfter: retryAfter, Err: err}
}
func NewMigrated(to string, err error) error {
	return &Error{Class: Migrated, MigrateTo: to, Err: err}
}

// Classify extracts the classified error; unclassified errors are Transient.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Class: Transient, Err: err}
}

// FromHTTPStatus classifies a non-2xx HTTP response. retryAfter is the raw
// Retry-After header value (seconds or HTTP date).
func FromHTTPStatus(status int, retryAfter string, body string) error {
	msg := strings.TrimSpace(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	err := fmt.Errorf("http %d: %s", status, msg)
	switch {
	case status == http.StatusTooManyRequests:
		return NewFlood(ParseRetryAfter(retryAfter, time.Now()), err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		status == http.StatusNotFound || status == http.StatusGone:
		return NewForbidden(err)
	case status >= 500:
		return NewServer(err)
	case status >= 400:
		return NewMalformed(err)
	default:
		return &Error{Class: Transient, Err: err}
	}
}

// ParseRetryAfter understands delta-seconds and HTTP dates. It returns 0 when
// the value is absent or unparseable.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
