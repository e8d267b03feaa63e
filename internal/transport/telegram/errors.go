package telegram

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pagerbuddy/internal/transport"

	tele "gopkg.in/telebot.v4"
)

// classify maps telebot errors onto transport classes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var te *transport.Error
	if errors.As(err, &te) {
		return err
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return transport.NewFlood(time.Duration(flood.RetryAfter)*time.Second, err)
	}
	var group tele.GroupError
	if errors.As(err, &group) && group.MigratedTo != 0 {
		return transport.NewMigrated(strconv.FormatInt(group.MigratedTo, 10), err)
	}

	var api *tele.Error
	if errors.As(err, &api) && api != nil {
		return classifyAPI(api.Code, api.Description, err)
	}
	return classifyText(err)
}

func classifyAPI(code int, desc string, err error) error {
	switch {
	case code == http.StatusTooManyRequests:
		return transport.NewFlood(0, err)
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return transport.NewForbidden(err)
	case code >= 500:
		return transport.NewServer(err)
	case code == http.StatusBadRequest && recipientGone(desc):
		return transport.NewForbidden(err)
	case code >= 400:
		return transport.NewMalformed(err)
	}
	return classifyText(err)
}

// classifyText covers errors telebot builds without an API code.
func classifyText(err error) error {
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "too many requests"):
		return transport.NewFlood(0, err)
	case strings.Contains(s, "forbidden"), recipientGone(s):
		return transport.NewForbidden(err)
	case strings.Contains(s, "bad request"):
		return transport.NewMalformed(err)
	case strings.Contains(s, "bad gateway"), strings.Contains(s, "internal server error"), strings.Contains(s, "service unavailable"):
		return transport.NewServer(err)
	}
	return err
}

func recipientGone(desc string) bool {
	d := strings.ToLower(desc)
	return strings.Contains(d, "chat not found") ||
		strings.Contains(d, "blocked by the user") ||
		strings.Contains(d, "bot was kicked") ||
		strings.Contains(d, "user is deactivated")
}

func notModified(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

const textLimit = 4000

// splitText cuts text into chunks of at most limit runes. It prefers newline
// boundaries and, in HTML mode, does not cut inside a tag. It never returns
// an empty slice.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	out := make([]string, 0, len(rs)/limit+1)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if html && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
