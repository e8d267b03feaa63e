package tgui

import "pagerbuddy/internal/transport"

// Keyboard builds rows of inline buttons.
type Keyboard struct {
	rows [][]transport.Button
}

func NewKeyboard() *Keyboard { return &Keyboard{} }

// Row appends a row; empty rows are skipped.
func (k *Keyboard) Row(btn ...transport.Button) *Keyboard {
	if len(btn) > 0 {
		k.rows = append(k.rows, btn)
	}
	return k
}

// Rows returns the built rows.
func (k *Keyboard) Rows() [][]transport.Button { return k.rows }

// Btn creates a callback button.
func Btn(text, data string) transport.Button {
	return transport.Button{Text: text, Data: data}
}

// Grid lays buttons out in rows of n.
func Grid(n int, buttons []transport.Button) [][]transport.Button {
	if n <= 0 {
		n = 1
	}
	var rows [][]transport.Button
	for len(buttons) > 0 {
		m := min(n, len(buttons))
		rows = append(rows, buttons[:m:m])
		buttons = buttons[m:]
	}
	return rows
}
