package notify

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/delivery"
	"pagerbuddy/internal/response"
	"pagerbuddy/internal/routing"
	"pagerbuddy/internal/storage"
	"pagerbuddy/internal/transport"
	logx "pagerbuddy/pkg/logx"
)

type sent struct {
	kind string
	to   transport.Target
	text string
	opt  transport.SendOptions
}

type recorder struct {
	name string

	mu    sync.Mutex
	calls []sent
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Send(_ context.Context, to transport.Target, text string, opt transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sent{kind: "send", to: to, text: text, opt: opt})
	return transport.MessageRef{Target: to, ID: strconv.Itoa(len(r.calls))}, nil
}

func (r *recorder) Edit(_ context.Context, ref transport.MessageRef, text string, opt transport.SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sent{kind: "edit", to: ref.Target, text: text, opt: opt})
	return nil
}

func (r *recorder) Calls() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.calls...)
}

func (r *recorder) count(kind string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func startQueue(t *testing.T, ch transport.Channel, hooks delivery.Hooks) *delivery.Queue {
	t.Helper()
	q := delivery.New(ch, delivery.Config{Rate: 1000}, logx.Nop(), nil, hooks)
	q.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sub(code int) []alert.UnitSubscription {
	return []alert.UnitSubscription{{UnitCode: code, Active: true}}
}

type fixture struct {
	repo    storage.Repository
	tg      *recorder
	push    *recorder
	hook    *recorder
	agg     *response.Aggregator
	n       *Notifier
	router  *routing.Router
	ctx     context.Context
	alertAt time.Time
}

func newFixture(t *testing.T, responses bool) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := storage.NewMemory()
	grp := alert.Group{
		ID:       "g1",
		Name:     "Team",
		Units:    []int{42},
		Response: alert.ResponseConfig{Enabled: responses},
		Members: []alert.User{{
			ID: "u1", FirstName: "Ada", TelegramID: 7,
			Sinks: []alert.Sink{
				{ID: "s-push", Kind: alert.SinkPush, Owner: alert.OwnerUser, OwnerID: "u1", Target: "dev-1", Active: true, Subscriptions: sub(42)},
				{ID: "s-hook", Kind: alert.SinkWebhook, Owner: alert.OwnerUser, OwnerID: "u1", Target: "http://hook", Active: true, Subscriptions: sub(alert.AllAlertsUnitCode)},
				{ID: "s-off", Kind: alert.SinkPush, Owner: alert.OwnerUser, OwnerID: "u1", Target: "dev-2", Active: false, Subscriptions: sub(42)},
			},
		}},
		Sinks: []alert.Sink{
			{ID: "s-chat", Kind: alert.SinkTelegram, Owner: alert.OwnerGroup, OwnerID: "g1", Target: "-100/5", Active: true, Subscriptions: sub(42)},
		},
	}
	if err := repo.SaveGroup(ctx, grp); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}

	f := &fixture{
		repo:    repo,
		tg:      &recorder{name: "telegram"},
		push:    &recorder{name: "push"},
		hook:    &recorder{name: "webhook"},
		router:  routing.New(repo, logx.Nop()),
		ctx:     ctx,
		alertAt: time.Now(),
	}
	f.agg = response.New(repo, nil, logx.Nop(), response.Config{Cooldown: 20 * time.Millisecond})
	t.Cleanup(f.agg.Close)
	f.n = New(Queues{
		Telegram: startQueue(t, f.tg, delivery.Hooks{}),
		Push:     startQueue(t, f.push, delivery.Hooks{}),
		Webhook:  startQueue(t, f.hook, delivery.Hooks{}),
	}, f.agg, logx.Nop(), Config{PinMessages: true, AdminChat: "99"})
	return f
}

func (f *fixture) commit(t *testing.T, info alert.InformationContent, msg string) *alert.Alert {
	t.Helper()
	a := alert.NewAlert(alert.Candidate{UnitCode: 42, Timestamp: f.alertAt, Info: info, Keyword: "FIRE", Message: msg}, alert.Unit{Code: 42, ShortName: "Team 42"}, alert.Source{ID: "src"})
	if err := f.repo.CommitAlert(f.ctx, a, alert.HistoryEntry{UnitCode: 42, Info: info, Timestamp: f.alertAt}); err != nil {
		t.Fatalf("CommitAlert: %v", err)
	}
	return a
}

func (f *fixture) deliver(t *testing.T, a *alert.Alert) routing.Plan {
	t.Helper()
	plan, err := f.router.Route(f.ctx, a)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	rep := f.n.Deliver(f.ctx, plan)
	ctx, cancel := context.WithTimeout(f.ctx, 2*time.Second)
	defer cancel()
	n, err := rep.Wait(ctx)
	if err != nil || rep.Failed != 0 {
		t.Fatalf("Wait: sent=%d failed=%d err=%v", n, rep.Failed, err)
	}
	return plan
}

func TestDeliverFansOutPerSinkKind(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	a := f.commit(t, alert.InfoKeyword, "Warehouse")
	plan := f.deliver(t, a)

	tg := f.tg.Calls()
	if len(tg) != 1 {
		t.Fatalf("telegram calls = %+v", tg)
	}
	if tg[0].to.Address != "-100" || tg[0].to.ThreadID != 5 || !tg[0].opt.Pin || tg[0].opt.ParseMode != "HTML" {
		t.Fatalf("telegram send = %+v", tg[0])
	}
	if !strings.Contains(tg[0].text, "Team 42") || !strings.Contains(tg[0].text, "Responses (0)") {
		t.Fatalf("telegram text = %q", tg[0].text)
	}
	if len(tg[0].opt.Buttons) == 0 {
		t.Fatalf("no response buttons")
	}
	ar := plan.Responses["g1"]
	if got := tg[0].opt.Buttons[0][0].Data; !strings.HasPrefix(got, "r:"+ar.ID+":") {
		t.Fatalf("button data = %q", got)
	}

	p := f.push.Calls()
	if len(p) != 1 || p[0].to.Address != "dev-1" {
		t.Fatalf("push calls = %+v", p)
	}
	if p[0].opt.Data["alert_response_id"] != ar.ID || p[0].opt.Data["keyword"] != "FIRE" || strings.Contains(p[0].text, "<b>") {
		t.Fatalf("push payload = %+v", p[0])
	}
	if h := f.hook.Calls(); len(h) != 1 || h[0].to.Address != "http://hook" {
		t.Fatalf("webhook calls = %+v", h)
	}
}

func TestUpdateEditsInPlaceWithoutResend(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	a := f.commit(t, alert.InfoID, "")
	f.deliver(t, a)

	a.Merge(alert.Candidate{UnitCode: 42, Timestamp: f.alertAt, Info: alert.InfoComplete, Keyword: "FIRE 2", Message: "Main street 1"}, alert.Source{ID: "src2"})
	if err := f.n.Update(f.ctx, a); err != nil {
		t.Fatalf("Update: %v", err)
	}
	eventually(t, "edit", func() bool { return f.tg.count("edit") == 1 })

	last := f.tg.Calls()[1]
	if !strings.Contains(last.text, "FIRE 2") || !strings.Contains(last.text, "Main street 1") {
		t.Fatalf("edited text = %q", last.text)
	}
	if f.push.count("send") != 1 || f.hook.count("send") != 1 {
		t.Fatalf("structured sinks were notified again")
	}
}

func TestRecordedResponseRedrawsOverview(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	a := f.commit(t, alert.InfoComplete, "Warehouse")
	plan := f.deliver(t, a)
	ar := plan.Responses["g1"]

	if _, _, err := f.agg.Record(f.ctx, response.Input{AlertResponseID: ar.ID, TelegramID: 7, OptionID: "5"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	eventually(t, "overview edit", func() bool { return f.tg.count("edit") == 1 })

	edit := f.tg.Calls()[1]
	if !strings.Contains(edit.text, "Ada") || !strings.Contains(edit.text, "Responses (1)") {
		t.Fatalf("overview = %q", edit.text)
	}
	if len(edit.opt.Buttons) == 0 {
		t.Fatalf("edit dropped the buttons")
	}
}

func TestAdminAndForwardLog(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)

	f.n.ForwardLog("warn", "disk almost full")
	eventually(t, "admin message", func() bool { return f.tg.count("send") == 1 })
	if c := f.tg.Calls()[0]; c.to.Address != "99" || c.text != "[WARN] disk almost full" {
		t.Fatalf("admin message = %+v", c)
	}

	bare := New(Queues{}, nil, logx.Nop(), Config{})
	if _, err := bare.Admin(f.ctx, "x"); err == nil {
		t.Fatalf("Admin without chat succeeded")
	}
	bare.ForwardLog("error", "ignored")
}

func TestMissingTransportIsCountedNotFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.n = New(Queues{Push: startQueue(t, f.push, delivery.Hooks{})}, nil, logx.Nop(), Config{})
	a := f.commit(t, alert.InfoID, "")
	plan, err := f.router.Route(f.ctx, a)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	rep := f.n.Deliver(f.ctx, plan)
	if rep.Failed != 2 || len(rep.Futures) != 1 {
		t.Fatalf("report = failed %d futures %d", rep.Failed, len(rep.Futures))
	}
}

func TestSinkHooks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	hooks := SinkHooks(f.repo, logx.Nop())

	if err := hooks.Migrate(f.ctx, "s-chat", "-200"); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	s, err := f.repo.GetSink(f.ctx, "s-chat")
	if err != nil || s.Target != "-200/5" {
		t.Fatalf("migrated sink = %+v, %v", s, err)
	}

	hooks.Deactivate(f.ctx, "s-push", transport.NewForbidden(errors.New("bot was blocked")))
	s, err = f.repo.GetSink(f.ctx, "s-push")
	if err != nil || s.Active {
		t.Fatalf("deactivated sink = %+v, %v", s, err)
	}
}

func TestSweepForgetsOldMessages(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	a := f.commit(t, alert.InfoID, "")
	f.deliver(t, a)

	if n := f.n.Sweep(time.Now().Add(-time.Hour)); n != 0 {
		t.Fatalf("Sweep removed %d fresh entries", n)
	}
	if n := f.n.Sweep(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if err := f.n.Update(f.ctx, a); err != nil {
		t.Fatalf("Update: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if f.tg.count("edit") != 0 {
		t.Fatalf("forgotten message was edited")
	}
}
