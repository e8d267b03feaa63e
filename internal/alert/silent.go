package alert

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SilentKind selects the SilentConfig variant.
type SilentKind string

const (
	SilentNever      SilentKind = "never"
	SilentAlways     SilentKind = "always"
	SilentTime       SilentKind = "time"
	SilentDayOfWeek  SilentKind = "day_of_week"
	SilentDayOfMonth SilentKind = "day_of_month"
)

// SilentConfig classifies drill/test alerts by their timestamp.
//
// Start and End are time-of-day values ("HH:MM") for the window variants.
// A window whose End is before its Start wraps through midnight; Start == End
// covers the whole day. Evaluation happens in the location of the timestamp
// passed to InSilentPeriod.
type SilentConfig struct {
	Kind       SilentKind   `json:"kind"`
	Start      string       `json:"start,omitempty"`
	End        string       `json:"end,omitempty"`
	Weekday    time.Weekday `json:"weekday,omitempty"`
	DayOfMonth int          `json:"day_of_month,omitempty"`
}

// Validate checks that the fields the variant needs are present and parseable.
func (c SilentConfig) Validate() error {
	switch c.Kind {
	case "", SilentNever, SilentAlways:
		return nil
	case SilentTime, SilentDayOfWeek, SilentDayOfMonth:
	default:
		return fmt.Errorf("silent: unknown kind %q", c.Kind)
	}
	if _, err := parseClock(c.Start); err != nil {
		return fmt.Errorf("silent.start: %w", err)
	}
	if _, err := parseClock(c.End); err != nil {
		return fmt.Errorf("silent.end: %w", err)
	}
	if c.Kind == SilentDayOfWeek && (c.Weekday < time.Sunday || c.Weekday > time.Saturday) {
		return fmt.Errorf("silent.weekday: out of range: %d", c.Weekday)
	}
	if c.Kind == SilentDayOfMonth && (c.DayOfMonth < 1 || c.DayOfMonth > 31) {
		return fmt.Errorf("silent.day_of_month: out of range: %d", c.DayOfMonth)
	}
	return nil
}

// InSilentPeriod reports whether t falls into the configured silent period.
// Invalid window configuration never silences an alert.
func (c SilentConfig) InSilentPeriod(t time.Time) bool {
	switch c.Kind {
	case SilentAlways:
		return true
	case SilentTime:
		return c.inWindow(t)
	case SilentDayOfWeek:
		return c.dayMatches(t, func(d time.Time) bool { return d.Weekday() == c.Weekday })
	case SilentDayOfMonth:
		return c.dayMatches(t, func(d time.Time) bool { return d.Day() == c.DayOfMonth })
	default:
		return false
	}
}

// dayMatches applies the day predicate to the day the window started on, so a
// Saturday 22:00-02:00 window still matches at Sunday 01:00.
func (c SilentConfig) dayMatches(t time.Time, match func(time.Time) bool) bool {
	if !c.inWindow(t) {
		return false
	}
	start, err1 := parseClock(c.Start)
	end, err2 := parseClock(c.End)
	if err1 != nil || err2 != nil {
		return false
	}
	day := t
	if end < start && clockOf(t) < end {
		day = t.AddDate(0, 0, -1)
	}
	return match(day)
}

func (c SilentConfig) inWindow(t time.Time) bool {
	start, err := parseClock(c.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(c.End)
	if err != nil {
		return false
	}
	now := clockOf(t)
	switch {
	case start == end:
		return true
	case start < end:
		return now >= start && now < end
	default:
		return now >= start || now < end
	}
}

func clockOf(t time.Time) int { return t.Hour()*60 + t.Minute() }

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
