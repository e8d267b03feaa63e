package routing

import (
	"context"
	"testing"
	"time"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/storage"
	logx "pagerbuddy/pkg/logx"
)

func sink(id string, kind alert.SinkKind, codes ...int) alert.Sink {
	s := alert.Sink{ID: id, Kind: kind, Active: true, Target: id}
	for _, c := range codes {
		s.Subscribe(c)
	}
	return s
}

func ids(ts []Target) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Sink.ID)
	}
	return out
}

func TestMatchWildcardGroup(t *testing.T) {
	t.Parallel()
	a := &alert.Alert{ID: "a", Unit: alert.Unit{Code: 25123}}
	groups := []alert.Group{
		{ID: "rescue", Units: []int{25123}, Sinks: []alert.Sink{sink("chat-rescue", alert.SinkTelegram, 25123)}},
		{ID: "ops", Units: []int{alert.AllAlertsUnitCode}, Sinks: []alert.Sink{sink("chat-ops", alert.SinkTelegram, alert.AllAlertsUnitCode)}},
		{ID: "other", Units: []int{11111}, Sinks: []alert.Sink{sink("chat-other", alert.SinkTelegram, 11111)}},
	}
	relevant, targets := Match(a, groups)
	if len(relevant) != 2 {
		t.Fatalf("relevant groups = %d, want 2", len(relevant))
	}
	got := ids(targets)
	if len(got) != 2 || got[0] != "chat-rescue" || got[1] != "chat-ops" {
		t.Fatalf("targets = %v", got)
	}
}

func TestMatchSinkMustAgreeWithGroup(t *testing.T) {
	t.Parallel()
	a := &alert.Alert{Unit: alert.Unit{Code: 25123}}
	inactive := sink("inactive", alert.SinkTelegram, 25123)
	inactive.Active = false
	g := alert.Group{
		ID:    "g",
		Units: []int{25123},
		Sinks: []alert.Sink{sink("narrow", alert.SinkTelegram, 4711), inactive},
	}
	if _, targets := Match(a, []alert.Group{g}); len(targets) != 0 {
		t.Fatalf("targets = %v, want none", ids(targets))
	}
}

func TestMatchDeduplicatesMemberSinks(t *testing.T) {
	t.Parallel()
	a := &alert.Alert{Unit: alert.Unit{Code: 25123}}
	alice := alert.User{ID: "alice", Sinks: []alert.Sink{sink("alice-phone", alert.SinkPush, 25123)}}
	groups := []alert.Group{
		{ID: "g1", Units: []int{25123}, Members: []alert.User{alice}},
		{ID: "g2", Units: []int{alert.AllAlertsUnitCode}, Members: []alert.User{alice}},
	}
	_, targets := Match(a, groups)
	if len(targets) != 1 || targets[0].User == nil || targets[0].User.ID != "alice" || targets[0].Group.ID != "g1" {
		t.Fatalf("targets = %+v", targets)
	}
}

func TestRouteIsMonotonicInSubscriptions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := storage.NewMemory()
	r := New(repo, logx.Nop())

	phone := sink("phone", alert.SinkPush)
	phone.Owner, phone.OwnerID = alert.OwnerUser, "u"
	_ = repo.SaveGroup(ctx, alert.Group{ID: "g", Units: []int{25123},
		Members: []alert.User{{ID: "u", Sinks: []alert.Sink{phone}}}})

	route := func(id string) []string {
		t.Helper()
		p, err := r.Route(ctx, &alert.Alert{ID: id, Unit: alert.Unit{Code: 25123}, Timestamp: time.Now()})
		if err != nil {
			t.Fatalf("route: %v", err)
		}
		return ids(p.Targets)
	}

	if got := route("a1"); len(got) != 0 {
		t.Fatalf("unsubscribed sink received alert: %v", got)
	}
	phone.Subscribe(25123)
	_ = repo.SaveSink(ctx, phone)
	if got := route("a2"); len(got) != 1 {
		t.Fatalf("subscribed sink missed alert: %v", got)
	}
	phone.Unsubscribe(25123)
	_ = repo.SaveSink(ctx, phone)
	if got := route("a3"); len(got) != 0 {
		t.Fatalf("unsubscribed sink still receives alerts: %v", got)
	}
}

func TestRouteReusesAlertResponse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := storage.NewMemory()
	r := New(repo, logx.Nop())
	_ = repo.SaveGroup(ctx, alert.Group{ID: "g", Units: []int{25123},
		Sinks: []alert.Sink{sink("chat", alert.SinkTelegram, 25123)}})

	a := &alert.Alert{ID: "a", Unit: alert.Unit{Code: 25123}}
	p1, err := r.Route(ctx, a)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	p2, err := r.Route(ctx, a)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if p1.Responses["g"].ID != p2.Responses["g"].ID {
		t.Fatalf("second routing created another AlertResponse")
	}
	if p1.Targets[0].Response == nil || p1.Targets[0].Response.ID != p1.Responses["g"].ID {
		t.Fatalf("target not linked to its AlertResponse")
	}
	all, _ := repo.AlertResponsesForAlert(ctx, "a")
	if len(all) != 1 {
		t.Fatalf("alert responses = %d, want 1", len(all))
	}
}
