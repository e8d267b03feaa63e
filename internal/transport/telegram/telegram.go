// Package telegram is the Telegram channel: chat messages with inline
// response buttons, edits, pinning and callback handling via telebot.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "pagerbuddy/internal/runtime/supervisor"
	"pagerbuddy/internal/transport"
	logx "pagerbuddy/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Bot sends through one bot account and receives its button presses.
type Bot struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	cbMu     sync.RWMutex
	onButton transport.CallbackHandler
	ctx      context.Context
}

func New(cfg Config, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Bot{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b, ctx: context.Background()}
	t.registerHandlers()
	return t, nil
}

func (t *Bot) Name() string { return "telegram" }

// OnCallback sets the handler for inline button presses.
func (t *Bot) OnCallback(h transport.CallbackHandler) {
	t.cbMu.Lock()
	t.onButton = h
	t.cbMu.Unlock()
}

func (t *Bot) registerHandlers() {
	t.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || cb.Sender == nil {
			return nil
		}
		t.cbMu.RLock()
		h, ctx := t.onButton, t.ctx
		t.cbMu.RUnlock()
		if h == nil {
			return c.Respond()
		}
		reply, err := h(ctx, transport.Callback{
			ID:        cb.ID,
			FromID:    cb.Sender.ID,
			FromName:  strings.TrimSpace(cb.Sender.FirstName + " " + cb.Sender.LastName),
			ChatID:    m.Chat.ID,
			ThreadID:  m.ThreadID,
			MessageID: m.ID,
			Data:      cb.Data,
		})
		if err != nil {
			t.log.Debug("callback rejected", logx.Int64("from", cb.Sender.ID), logx.Err(err))
		}
		return c.Respond(&tele.CallbackResponse{Text: reply})
	})
}

// Start runs the long-poll loop until ctx ends or Stop is called.
func (t *Bot) Start(ctx context.Context) error {
	t.runMu.Lock()
	if t.running {
		t.runMu.Unlock()
		return nil
	}
	t.running = true
	t.sup = rtsup.New(ctx, rtsup.WithLogger(t.log), rtsup.WithCancelOnError(false))
	sup := t.sup
	t.runMu.Unlock()

	t.cbMu.Lock()
	t.ctx = sup.Context()
	t.cbMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		t.bot.Stop()
	})
	// telebot's Start can return on its own in some failure modes; restart it.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		t.log.Info("polling started")
		t.bot.Start()
		t.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop ends polling without blocking shutdown on a pending long poll.
func (t *Bot) Stop(ctx context.Context) error {
	t.runMu.Lock()
	sup := t.sup
	t.sup = nil
	wasRunning := t.running
	t.running = false
	t.runMu.Unlock()
	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			t.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		t.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// Send delivers text, split into several messages when it exceeds the
// Telegram limit. Buttons go on the first part, which is also the one
// returned and pinned.
func (t *Bot) Send(ctx context.Context, to transport.Target, text string, opt transport.SendOptions) (transport.MessageRef, error) {
	chatID, err := parseChatID(to.Address)
	if err != nil {
		return transport.MessageRef{}, err
	}
	chat := &tele.Chat{ID: chatID}

	chunks := splitText(text, textLimit, opt.ParseMode)
	var first *tele.Message
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return refOf(to, first), err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              to.ThreadID,
		}
		if i == 0 {
			sendOpt.ReplyMarkup = markup(opt.Buttons)
		}
		msg, err := t.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return refOf(to, first), classify(err)
		}
		if i == 0 {
			first = msg
		}
	}

	if opt.Pin && first != nil {
		if err := t.bot.Pin(first, &tele.SendOptions{DisableNotification: opt.Silent}); err != nil {
			t.log.Warn("pin failed", logx.String("chat", to.Address), logx.Err(err))
		}
	}
	return refOf(to, first), nil
}

// Edit replaces the text and buttons of a sent message. Overflow beyond the
// Telegram limit is sent as new messages.
func (t *Bot) Edit(ctx context.Context, ref transport.MessageRef, text string, opt transport.SendOptions) error {
	chatID, err := parseChatID(ref.Target.Address)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(ref.ID)
	if err != nil {
		return transport.NewMalformed(err)
	}

	chunks := splitText(text, textLimit, opt.ParseMode)
	m := &tele.Message{ID: msgID, Chat: &tele.Chat{ID: chatID}}
	_, err = t.bot.Edit(m, chunks[0], &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ReplyMarkup:           markup(opt.Buttons),
	})
	if err != nil && !notModified(err) {
		return classify(err)
	}

	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.bot.Send(&tele.Chat{ID: chatID}, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   true,
			ThreadID:              ref.Target.ThreadID,
		}); err != nil {
			return classify(err)
		}
	}
	return nil
}

func markup(rows [][]transport.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	out := make([]tele.Row, 0, len(rows))
	for _, r := range rows {
		btns := make([]tele.Btn, 0, len(r))
		for _, b := range r {
			btns = append(btns, tele.Btn{Text: b.Text, Data: b.Data})
		}
		out = append(out, rm.Row(btns...))
	}
	rm.Inline(out...)
	return rm
}

func parseChatID(addr string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(addr), 10, 64)
	if err != nil {
		return 0, transport.NewMalformed(err)
	}
	return id, nil
}

func refOf(to transport.Target, m *tele.Message) transport.MessageRef {
	if m == nil {
		return transport.MessageRef{}
	}
	return transport.MessageRef{Target: to, ID: strconv.Itoa(m.ID)}
}
