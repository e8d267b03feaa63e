package tgui

import (
	"strings"

	"pagerbuddy/internal/transport"
)

// Message is a rendered payload: text plus the send options it needs.
type Message struct {
	Text    string
	Options transport.SendOptions
}

// Builder assembles a message line by line.
// Default: ParseMode=HTML, DisablePreview=true. With an empty parse mode the
// same calls produce plain text, which is what push and webhook channels get.
type Builder struct {
	parseMode string
	title     string
	lines     []string
	buttons   [][]transport.Button
}

// New creates a builder for Telegram HTML.
func New() *Builder { return &Builder{parseMode: "HTML"} }

// Plain creates a builder for plain text.
func Plain() *Builder { return &Builder{} }

func (b *Builder) html() bool { return strings.EqualFold(b.parseMode, "HTML") }

// Title adds a bold title line. Emoji is optional. The first title also
// becomes Options.Title.
func (b *Builder) Title(emoji, title string) *Builder {
	e := strings.TrimSpace(emoji)
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if b.title == "" {
		b.title = t
	}
	line := t
	if b.html() {
		line = B(t).String()
	}
	if e != "" {
		line = e + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

// Section adds a section header.
func (b *Builder) Section(title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if b.html() {
		t = B(t).String()
	}
	b.lines = append(b.lines, t)
	return b
}

// Line adds a single line, escaped in HTML mode.
func (b *Builder) Line(s string) *Builder {
	if b.html() {
		s = Esc(s).String()
	}
	b.lines = append(b.lines, s)
	return b
}

// RawLine appends safe HTML unchanged; in plain mode the tags are kept as
// given, so only pass H built from plain-compatible parts there.
func (b *Builder) RawLine(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

// Blank inserts an empty line.
func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

// Bullet adds "• text".
func (b *Builder) Bullet(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		return b
	}
	return b.Line("• " + s)
}

// KV adds a "key: value" row; rows with an empty value are skipped.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return b
	}
	if b.html() {
		b.lines = append(b.lines, B(key).String()+": "+Esc(value).String())
		return b
	}
	b.lines = append(b.lines, key+": "+value)
	return b
}

// Buttons attaches inline button rows.
func (b *Builder) Buttons(rows [][]transport.Button) *Builder {
	b.buttons = rows
	return b
}

// Build produces the message. Trailing blank lines are dropped.
func (b *Builder) Build() Message {
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")
	return Message{
		Text: text,
		Options: transport.SendOptions{
			ParseMode:      b.parseMode,
			DisablePreview: true,
			Buttons:        b.buttons,
			Title:          b.title,
		},
	}
}
