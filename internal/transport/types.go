// Package transport defines the contract between the delivery queue and the
// outbound channels (Telegram, push, webhook).
package transport

import (
	"context"
	"errors"
)

// Target addresses a recipient on one channel: a chat id, a device token or
// a URL. ThreadID selects a Telegram forum topic (0 if none).
type Target struct {
	Address  string
	ThreadID int
}

// MessageRef identifies a sent message so it can be edited later.
type MessageRef struct {
	Target Target
	ID     string
}

func (r MessageRef) IsZero() bool { return r.ID == "" }

// Button is an inline action attached to a message.
type Button struct {
	Text string
	Data string
}

// SendOptions are hints; channels ignore what they cannot express.
type SendOptions struct {
	ParseMode      string // "HTML" or ""
	DisablePreview bool
	// Silent delivers without sound or vibration.
	Silent bool
	// Pin pins the message after sending (Telegram chats).
	Pin     bool
	Buttons [][]Button
	// Title and Data feed structured channels (push, webhook).
	Title string
	Data  map[string]string
}

// Channel is one outbound transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, to Target, text string, opt SendOptions) (MessageRef, error)
}

// Editor is implemented by channels that can change sent messages.
type Editor interface {
	Edit(ctx context.Context, ref MessageRef, text string, opt SendOptions) error
}

// ErrEditUnsupported is returned when an edit is queued on a channel that is
// not an Editor.
var ErrEditUnsupported = errors.New("transport: edit not supported")

// Callback is an inline button press coming back from a channel.
type Callback struct {
	ID        string
	FromID    int64
	FromName  string
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// CallbackHandler answers a button press with a short toast text.
type CallbackHandler func(ctx context.Context, cb Callback) (reply string, err error)
