package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	"pagerbuddy/internal/transport"

	tele "gopkg.in/telebot.v4"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}
	if got := splitText("", 10, ""); len(got) != 1 || got[0] != "" {
		t.Fatalf("empty = %q", got)
	}

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(long, 10, "")
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("newline split = %q", got)
	}

	html := "abcdef<b>bold</b>"
	got = splitText(html, 8, "HTML")
	if got[0] != "abcdef" {
		t.Fatalf("html split cut inside tag: %q", got)
	}
	if strings.Join(got, "") != html {
		t.Fatalf("html split lost text: %q", got)
	}

	for _, chunk := range splitText(strings.Repeat("ü", 25), 10, "") {
		if n := len([]rune(chunk)); n > 10 {
			t.Fatalf("chunk of %d runes", n)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		err   error
		class transport.Class
	}{
		{"flood", tele.FloodError{RetryAfter: 5}, transport.Flood},
		{"migrated", tele.GroupError{MigratedTo: -1001234}, transport.Migrated},
		{"blocked", &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}, transport.Forbidden},
		{"chat gone", &tele.Error{Code: 400, Description: "Bad Request: chat not found"}, transport.Forbidden},
		{"bad entity", &tele.Error{Code: 400, Description: "Bad Request: can't parse entities"}, transport.Malformed},
		{"server", &tele.Error{Code: 502, Description: "Bad Gateway"}, transport.Server},
		{"rate text", errors.New("telegram: Too Many Requests: retry later (429)"), transport.Flood},
		{"network", errors.New("dial tcp: i/o timeout"), transport.Transient},
	}
	for _, tc := range cases {
		ce := transport.Classify(classify(tc.err))
		if ce == nil || ce.Class != tc.class {
			t.Fatalf("%s: class = %v, want %v", tc.name, ce, tc.class)
		}
	}

	ce := transport.Classify(classify(tele.FloodError{RetryAfter: 5}))
	if ce.RetryAfter != 5*time.Second {
		t.Fatalf("retry after = %s", ce.RetryAfter)
	}
	ce = transport.Classify(classify(tele.GroupError{MigratedTo: -1001234}))
	if ce.MigrateTo != "-1001234" {
		t.Fatalf("migrate to = %q", ce.MigrateTo)
	}
	if classify(nil) != nil {
		t.Fatalf("nil error classified")
	}
}

func TestMarkup(t *testing.T) {
	t.Parallel()
	if markup(nil) != nil {
		t.Fatalf("markup for no buttons")
	}
	rm := markup([][]transport.Button{{{Text: "5 min", Data: "r:ar:5"}, {Text: "No", Data: "r:ar:no"}}})
	if rm == nil || len(rm.InlineKeyboard) != 1 || len(rm.InlineKeyboard[0]) != 2 {
		t.Fatalf("markup = %+v", rm)
	}
	if rm.InlineKeyboard[0][0].Data != "r:ar:5" {
		t.Fatalf("data = %q", rm.InlineKeyboard[0][0].Data)
	}
}
