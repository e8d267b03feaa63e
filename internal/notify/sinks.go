package notify

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/delivery"
	"pagerbuddy/internal/routing"
	"pagerbuddy/internal/transport"
	logx "pagerbuddy/pkg/logx"
)

// ErrNoChannel is returned for sinks whose transport is not configured.
var ErrNoChannel = errors.New("notify: channel not configured")

// Delivery is one alert bound for one sink.
type Delivery struct {
	Alert  *alert.Alert
	Target routing.Target
	// Overview is the rendered response overview, empty when none is shown.
	Overview string
	Buttons  [][]transport.Button
}

// Sink delivers to one kind of endpoint. A nil future with a nil error means
// the sink accepted the work without queueing anything.
type Sink interface {
	SendAlert(ctx context.Context, d Delivery) (*delivery.Future, error)
	SendText(ctx context.Context, s alert.Sink, text string, p delivery.Priority) (*delivery.Future, error)
}

func messageKey(alertID, sinkID string) string { return "alert/" + alertID + "/" + sinkID }

// ParseTelegramTarget reads "chat" or "chat/thread".
func ParseTelegramTarget(s string) transport.Target {
	chat, thread, ok := strings.Cut(strings.TrimSpace(s), "/")
	t := transport.Target{Address: chat}
	if ok {
		t.ThreadID, _ = strconv.Atoi(thread)
	}
	return t
}

type telegramSink struct {
	q   *delivery.Queue
	opt RenderOptions
	pin bool
}

func (s telegramSink) SendAlert(_ context.Context, d Delivery) (*delivery.Future, error) {
	if s.q == nil {
		return nil, ErrNoChannel
	}
	opt := s.opt
	opt.Plain = false
	msg := RenderAlert(d.Alert, opt)
	msg.Options.Silent = d.Alert.Silent
	msg.Options.Pin = s.pin && d.Target.Sink.Owner == alert.OwnerGroup
	msg.Options.Buttons = d.Buttons
	return s.q.Enqueue(delivery.Job{
		Key:      messageKey(d.Alert.ID, d.Target.Sink.ID),
		Kind:     delivery.Send,
		Target:   ParseTelegramTarget(d.Target.Sink.Target),
		Text:     compose(msg.Text, d.Overview),
		Options:  msg.Options,
		Priority: delivery.Alert,
		SinkID:   d.Target.Sink.ID,
	})
}

func (s telegramSink) SendText(_ context.Context, sink alert.Sink, text string, p delivery.Priority) (*delivery.Future, error) {
	if s.q == nil {
		return nil, ErrNoChannel
	}
	return s.q.Enqueue(delivery.Job{
		Kind:     delivery.Send,
		Target:   ParseTelegramTarget(sink.Target),
		Text:     text,
		Options:  transport.SendOptions{DisablePreview: true},
		Priority: p,
		SinkID:   sink.ID,
	})
}

// structuredSink serves push and webhook: plain text plus alert data.
type structuredSink struct {
	q   *delivery.Queue
	opt RenderOptions
}

func (s structuredSink) SendAlert(_ context.Context, d Delivery) (*delivery.Future, error) {
	if s.q == nil {
		return nil, ErrNoChannel
	}
	opt := s.opt
	opt.Plain = true
	msg := RenderAlert(d.Alert, opt)
	msg.Options.Silent = d.Alert.Silent
	msg.Options.Data = AlertData(d.Alert, opt)
	if d.Target.Response != nil {
		msg.Options.Data["alert_response_id"] = d.Target.Response.ID
	}
	return s.q.Enqueue(delivery.Job{
		Key:      messageKey(d.Alert.ID, d.Target.Sink.ID),
		Kind:     delivery.Send,
		Target:   transport.Target{Address: d.Target.Sink.Target},
		Text:     msg.Text,
		Options:  msg.Options,
		Priority: delivery.Alert,
		SinkID:   d.Target.Sink.ID,
	})
}

func (s structuredSink) SendText(_ context.Context, sink alert.Sink, text string, p delivery.Priority) (*delivery.Future, error) {
	if s.q == nil {
		return nil, ErrNoChannel
	}
	return s.q.Enqueue(delivery.Job{
		Kind:     delivery.Send,
		Target:   transport.Target{Address: sink.Target},
		Text:     text,
		Priority: p,
		SinkID:   sink.ID,
	})
}

// defaultSink accepts everything and only logs.
type defaultSink struct {
	log logx.Logger
}

func (s defaultSink) SendAlert(_ context.Context, d Delivery) (*delivery.Future, error) {
	s.log.Info("alert for sink without transport",
		logx.String("alert", d.Alert.ID),
		logx.String("sink", d.Target.Sink.ID),
	)
	return nil, nil
}

func (s defaultSink) SendText(_ context.Context, sink alert.Sink, text string, _ delivery.Priority) (*delivery.Future, error) {
	s.log.Debug("text for sink without transport", logx.String("sink", sink.ID), logx.Int("len", len(text)))
	return nil, nil
}
