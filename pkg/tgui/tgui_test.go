package tgui

import (
	"errors"
	"strings"
	"testing"

	"pagerbuddy/internal/transport"
)

func TestBuilderEscapesOnlyInHTML(t *testing.T) {
	t.Parallel()
	h := New().Title("🚨", "A&B").KV("Ort", "<Main St>").Build()
	if h.Text != "🚨 <b>A&amp;B</b>\n<b>Ort</b>: &lt;Main St&gt;" {
		t.Fatalf("html = %q", h.Text)
	}
	if h.Options.ParseMode != "HTML" || h.Options.Title != "A&B" {
		t.Fatalf("options = %+v", h.Options)
	}

	p := Plain().Title("", "A&B").KV("Ort", "<Main St>").KV("Empty", "").Blank().Build()
	if p.Text != "A&B\nOrt: <Main St>" {
		t.Fatalf("plain = %q", p.Text)
	}
}

func TestResponseData(t *testing.T) {
	t.Parallel()
	s, err := ResponseData("01HV8Z3K8Y4W4Q9F7T3M2N1B0C", "10")
	if err != nil {
		t.Fatalf("ResponseData: %v", err)
	}
	ar, opt, ok := ParseResponseData(s)
	if !ok || ar != "01HV8Z3K8Y4W4Q9F7T3M2N1B0C" || opt != "10" {
		t.Fatalf("parsed %q %q %v", ar, opt, ok)
	}
	if _, err := ResponseData("x", strings.Repeat("o", 64)); !errors.Is(err, ErrCallbackDataTooLong) {
		t.Fatalf("err = %v", err)
	}
	for _, bad := range []string{"", "r", "r:x", "x:a:b", "r::b"} {
		if _, _, ok := ParseResponseData(bad); ok {
			t.Fatalf("%q parsed", bad)
		}
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"äöüß", 2, "äö…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q,%d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestGrid(t *testing.T) {
	t.Parallel()
	rows := Grid(2, []transport.Button{Btn("a", "1"), Btn("b", "2"), Btn("c", "3")})
	if len(rows) != 2 || len(rows[0]) != 2 || len(rows[1]) != 1 || rows[1][0].Text != "c" {
		t.Fatalf("rows = %+v", rows)
	}
}
