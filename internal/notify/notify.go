// Package notify turns routed alerts into delivery jobs for each sink kind
// and keeps already delivered Telegram messages up to date.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/delivery"
	"pagerbuddy/internal/response"
	"pagerbuddy/internal/routing"
	"pagerbuddy/internal/storage"
	"pagerbuddy/internal/transport"
	logx "pagerbuddy/pkg/logx"
)

// Queues are the delivery queues per transport; nil means not configured.
type Queues struct {
	Telegram *delivery.Queue
	Push     *delivery.Queue
	Webhook  *delivery.Queue
}

type Config struct {
	Render      RenderOptions
	PinMessages bool
	// AdminChat receives operator messages and forwarded logs.
	AdminChat string
}

// Notifier fans a routing plan out to sinks.
type Notifier struct {
	q     Queues
	agg   *response.Aggregator
	log   logx.Logger
	cfg   Config
	sinks map[alert.SinkKind]Sink
	now   func() time.Time

	mu   sync.Mutex
	msgs map[string]*alertMsgs // by alert id
}

type alertMsgs struct {
	at   time.Time
	list []shownMsg
}

// shownMsg is a Telegram message that displays an alert.
type shownMsg struct {
	key        string
	sinkID     string
	responseID string
	buttons    [][]transport.Button
}

func New(q Queues, agg *response.Aggregator, log logx.Logger, cfg Config) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "notify"))
	n := &Notifier{
		q:    q,
		agg:  agg,
		log:  log,
		cfg:  cfg,
		now:  time.Now,
		msgs: map[string]*alertMsgs{},
	}
	n.sinks = map[alert.SinkKind]Sink{
		alert.SinkTelegram: telegramSink{q: q.Telegram, opt: cfg.Render, pin: cfg.PinMessages},
		alert.SinkPush:     structuredSink{q: q.Push, opt: cfg.Render},
		alert.SinkWebhook:  structuredSink{q: q.Webhook, opt: cfg.Render},
		alert.SinkDefault:  defaultSink{log: log},
	}
	if agg != nil {
		agg.SetSurface(n)
	}
	return n
}

func (n *Notifier) sink(kind alert.SinkKind) Sink {
	if s, ok := n.sinks[kind]; ok {
		return s
	}
	return n.sinks[alert.SinkDefault]
}

// Report summarizes one fan-out.
type Report struct {
	Futures []*delivery.Future
	Failed  int
}

// Wait blocks until every queued job finished and counts the sent ones.
func (r Report) Wait(ctx context.Context) (sent int, err error) {
	for _, f := range r.Futures {
		res, err := f.Wait(ctx)
		if err != nil {
			return sent, err
		}
		if res.Status == delivery.StatusSent {
			sent++
		}
	}
	return sent, nil
}

// Deliver queues the alert for every target of the plan. A sink that cannot
// take the job is logged and counted; the others still get the alert.
func (n *Notifier) Deliver(ctx context.Context, plan routing.Plan) Report {
	var rep Report
	a := plan.Alert
	for _, t := range plan.Targets {
		d := Delivery{Alert: a, Target: t}
		withResponse := t.Sink.Kind == alert.SinkTelegram && t.Response != nil && t.Group.Response.Enabled && n.agg != nil
		if withResponse {
			d.Overview = n.agg.Render(t.Response)
			d.Buttons = ResponseButtons(t.Response.ID, responseOptions(t.Group))
		}
		f, err := n.sink(t.Sink.Kind).SendAlert(ctx, d)
		if err != nil {
			rep.Failed++
			n.log.Warn("alert not queued",
				logx.String("alert", a.ID),
				logx.String("sink", t.Sink.ID),
				logx.String("kind", string(t.Sink.Kind)),
				logx.Err(err),
			)
			continue
		}
		if f != nil {
			rep.Futures = append(rep.Futures, f)
		}
		if t.Sink.Kind == alert.SinkTelegram {
			m := shownMsg{key: messageKey(a.ID, t.Sink.ID), sinkID: t.Sink.ID, buttons: d.Buttons}
			if withResponse {
				m.responseID = t.Response.ID
			}
			n.remember(a.ID, m)
		}
	}
	if n.agg != nil {
		for _, g := range plan.Groups {
			if ar := plan.Responses[g.ID]; ar != nil && g.Response.Enabled {
				n.agg.Shown(a, ar)
			}
		}
	}
	n.log.Info("alert queued",
		logx.String("alert", a.ID),
		logx.Int("jobs", len(rep.Futures)),
		logx.Int("failed", rep.Failed),
	)
	return rep
}

// Update refreshes the Telegram messages of a merged alert in place. Push
// and webhook recipients are not notified again.
func (n *Notifier) Update(ctx context.Context, a *alert.Alert) error {
	msgs := n.shown(a.ID)
	if len(msgs) == 0 {
		return nil
	}
	body := n.renderTelegram(a)
	var errs []error
	overviews := false
	for _, m := range msgs {
		if m.responseID != "" {
			overviews = true
			continue
		}
		if err := n.edit(m, body); err != nil {
			errs = append(errs, err)
		}
	}
	// messages carrying an overview are redrawn with it
	if overviews && n.agg != nil {
		errs = append(errs, n.agg.RefreshAlert(ctx, a.ID))
	}
	return errors.Join(errs...)
}

// RedrawResponse edits every message that shows the overview of ar.
func (n *Notifier) RedrawResponse(_ context.Context, a *alert.Alert, ar *alert.AlertResponse, overview string) error {
	body := n.renderTelegram(a)
	var errs []error
	for _, m := range n.shown(a.ID) {
		if m.responseID != ar.ID {
			continue
		}
		if err := n.edit(m, compose(body, overview)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) renderTelegram(a *alert.Alert) string {
	opt := n.cfg.Render
	opt.Plain = false
	return RenderAlert(a, opt).Text
}

func (n *Notifier) edit(m shownMsg, text string) error {
	if n.q.Telegram == nil {
		return ErrNoChannel
	}
	_, err := n.q.Telegram.Enqueue(delivery.Job{
		Key:      m.key,
		Kind:     delivery.Edit,
		Text:     text,
		Options:  transport.SendOptions{ParseMode: "HTML", DisablePreview: true, Buttons: m.buttons},
		Priority: delivery.Alert,
		SinkID:   m.sinkID,
	})
	return err
}

// SendText delivers a plain message to one sink.
func (n *Notifier) SendText(ctx context.Context, s alert.Sink, text string, p delivery.Priority) (*delivery.Future, error) {
	return n.sink(s.Kind).SendText(ctx, s, text, p)
}

// Admin sends an operator message to the admin chat at standard priority.
func (n *Notifier) Admin(ctx context.Context, text string) (*delivery.Future, error) {
	if strings.TrimSpace(n.cfg.AdminChat) == "" {
		return nil, fmt.Errorf("%w: no admin chat", ErrNoChannel)
	}
	return n.SendText(ctx, alert.Sink{ID: "admin", Kind: alert.SinkTelegram, Target: n.cfg.AdminChat}, text, delivery.Standard)
}

// ForwardLog sends forwarded log lines to the admin chat. Lines are dropped
// while the Telegram channel is failing so delivery errors do not feed back
// into the queue.
func (n *Notifier) ForwardLog(level, text string) {
	q := n.q.Telegram
	if q == nil || n.cfg.AdminChat == "" {
		return
	}
	if _, paused := q.Paused(); paused || !q.ErrorSince().IsZero() {
		return
	}
	_, _ = n.Admin(context.Background(), "["+strings.ToUpper(level)+"] "+text)
}

// Sweep forgets messages of alerts delivered before cutoff.
func (n *Notifier) Sweep(cutoff time.Time) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	removed := 0
	for id, m := range n.msgs {
		if m.at.Before(cutoff) {
			delete(n.msgs, id)
			removed++
		}
	}
	return removed
}

func (n *Notifier) remember(alertID string, m shownMsg) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e := n.msgs[alertID]
	if e == nil {
		e = &alertMsgs{at: n.now()}
		n.msgs[alertID] = e
	}
	for _, old := range e.list {
		if old.key == m.key {
			return
		}
	}
	e.list = append(e.list, m)
}

func (n *Notifier) shown(alertID string) []shownMsg {
	n.mu.Lock()
	defer n.mu.Unlock()
	e := n.msgs[alertID]
	if e == nil {
		return nil
	}
	return append([]shownMsg(nil), e.list...)
}

func responseOptions(g alert.Group) []alert.ResponseOption {
	if len(g.Response.Options) > 0 {
		return g.Response.Options
	}
	return alert.DefaultResponseOptions()
}

// SinkHooks persist permanent target changes reported by the delivery queue.
func SinkHooks(repo storage.Repository, log logx.Logger) delivery.Hooks {
	return delivery.Hooks{
		Migrate: func(ctx context.Context, sinkID, newAddress string) error {
			s, err := repo.GetSink(ctx, sinkID)
			if err != nil {
				return err
			}
			target := newAddress
			if old := ParseTelegramTarget(s.Target); s.Kind == alert.SinkTelegram && old.ThreadID != 0 {
				target = fmt.Sprintf("%s/%d", newAddress, old.ThreadID)
			}
			log.Info("sink target migrated", logx.String("sink", sinkID), logx.String("from", s.Target), logx.String("to", target))
			return repo.SetSinkTarget(ctx, sinkID, target)
		},
		Deactivate: func(ctx context.Context, sinkID string, cause error) {
			if err := repo.SetSinkActive(ctx, sinkID, false); err != nil && !errors.Is(err, storage.ErrNotFound) {
				log.Error("sink deactivation failed", logx.String("sink", sinkID), logx.Err(err))
				return
			}
			log.Warn("sink deactivated", logx.String("sink", sinkID), logx.Err(cause))
		},
	}
}
