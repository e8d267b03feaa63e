package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"pagerbuddy/internal/alert"
	logx "pagerbuddy/pkg/logx"
)

func backends(t *testing.T) map[string]func(t *testing.T) Repository {
	t.Helper()
	return map[string]func(t *testing.T) Repository{
		"memory": func(t *testing.T) Repository { return NewMemory() },
		"sqlite": func(t *testing.T) Repository {
			r, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "pb.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return r
		},
	}
}

func eachBackend(t *testing.T, fn func(t *testing.T, r Repository)) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			r := mk(t)
			defer r.Close()
			fn(t, r)
		})
	}
}

func TestAlertCommitAndLatest(t *testing.T) {
	t.Parallel()
	eachBackend(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		now := time.UnixMilli(time.Now().UnixMilli())
		unit := alert.Unit{Code: 25123, Name: "Rescue 1", Silent: alert.SilentConfig{Kind: alert.SilentAlways}}
		if err := r.SaveUnit(ctx, unit); err != nil {
			t.Fatalf("save unit: %v", err)
		}
		hw := alert.Source{ID: "hw-1", Kind: alert.SourceHardware, Description: "site a"}
		ks := alert.Source{ID: "katsys", Kind: alert.SourceKatSys}
		for _, s := range []alert.Source{hw, ks} {
			if err := r.SaveSource(ctx, s); err != nil {
				t.Fatalf("save source: %v", err)
			}
		}

		a := alert.NewAlert(alert.Candidate{UnitCode: 25123, Timestamp: now, Info: alert.InfoID, SourceID: hw.ID}, unit, hw)
		if err := r.CommitAlert(ctx, a, alert.HistoryEntry{UnitCode: 25123, Info: alert.InfoID, Timestamp: now}); err != nil {
			t.Fatalf("commit: %v", err)
		}
		a.Merge(alert.Candidate{UnitCode: 25123, Timestamp: now, Info: alert.InfoComplete, Keyword: "#R9012#KTP", SourceID: ks.ID}, ks)
		if err := r.CommitAlert(ctx, a, alert.HistoryEntry{UnitCode: 25123, Info: alert.InfoComplete, Timestamp: now}); err != nil {
			t.Fatalf("commit merge: %v", err)
		}

		got, err := r.LatestAlert(ctx, 25123, now.Add(-time.Minute))
		if err != nil {
			t.Fatalf("latest: %v", err)
		}
		if got.ID != a.ID || got.Keyword != "#R9012#KTP" || got.Info != alert.InfoComplete {
			t.Fatalf("unexpected alert: %+v", got)
		}
		if len(got.Sources) != 2 || got.Sources[0].ID != "hw-1" || got.Sources[1].ID != "katsys" {
			t.Fatalf("sources: %+v", got.Sources)
		}
		if got.Unit.Silent.Kind != alert.SilentAlways {
			t.Fatalf("unit silent config not loaded: %+v", got.Unit)
		}
		if _, err := r.LatestAlert(ctx, 25123, now.Add(time.Second)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		peak, ok, err := r.HistoryPeak(ctx, 25123, now.Add(-time.Minute))
		if err != nil || !ok || peak != alert.InfoComplete {
			t.Fatalf("peak = %v %v %v", peak, ok, err)
		}
		if n, err := r.PruneHistory(ctx, now.Add(time.Second)); err != nil || n != 2 {
			t.Fatalf("prune = %d %v", n, err)
		}
		if _, ok, _ := r.HistoryPeak(ctx, 25123, now.Add(-time.Minute)); ok {
			t.Fatalf("history should be empty after prune")
		}
	})
}

func TestGroupsForUnitIncludesWildcard(t *testing.T) {
	t.Parallel()
	eachBackend(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		alice := alert.User{
			ID: "u1", FirstName: "Alice", TelegramID: 42,
			Sinks: []alert.Sink{{ID: "s-alice", Kind: alert.SinkPush, Target: "tok", Active: true,
				Subscriptions: []alert.UnitSubscription{{UnitCode: 25123, Active: true}}}},
		}
		groups := []alert.Group{
			{ID: "g-rescue", Name: "Rescue", Units: []int{25123}, Members: []alert.User{alice}, Leaders: []string{"u1"},
				Response: alert.ResponseConfig{Enabled: true, Options: alert.DefaultResponseOptions()},
				Sinks: []alert.Sink{{ID: "s-chat", Kind: alert.SinkTelegram, Target: "-100", Active: true,
					Subscriptions: []alert.UnitSubscription{{UnitCode: 25123, Active: true}}}}},
			{ID: "g-ops", Name: "Ops", Units: []int{alert.AllAlertsUnitCode}},
			{ID: "g-other", Name: "Other", Units: []int{11111}},
		}
		for _, g := range groups {
			if err := r.SaveGroup(ctx, g); err != nil {
				t.Fatalf("save group: %v", err)
			}
		}

		got, err := r.GroupsForUnit(ctx, 25123)
		if err != nil {
			t.Fatalf("groups for unit: %v", err)
		}
		if len(got) != 2 || got[0].ID != "g-ops" || got[1].ID != "g-rescue" {
			t.Fatalf("unexpected groups: %+v", got)
		}
		rescue := got[1]
		if len(rescue.Members) != 1 || len(rescue.Members[0].Sinks) != 1 || rescue.Members[0].Sinks[0].Owner != alert.OwnerUser {
			t.Fatalf("members not loaded: %+v", rescue.Members)
		}
		if !rescue.IsLeader("u1") || len(rescue.Sinks) != 1 || rescue.Sinks[0].Owner != alert.OwnerGroup {
			t.Fatalf("group not loaded: %+v", rescue)
		}
		if len(rescue.Response.Options) != 5 {
			t.Fatalf("response config not loaded: %+v", rescue.Response)
		}

		if err := r.SetSinkTarget(ctx, "s-chat", "-200"); err != nil {
			t.Fatalf("set target: %v", err)
		}
		if err := r.SetSinkActive(ctx, "s-alice", false); err != nil {
			t.Fatalf("set active: %v", err)
		}
		if err := r.SetSinkActive(ctx, "missing", false); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		chat, _ := r.GetSink(ctx, "s-chat")
		push, _ := r.GetSink(ctx, "s-alice")
		if chat.Target != "-200" || push.Active {
			t.Fatalf("sink updates lost: %+v %+v", chat, push)
		}
	})
}

func TestUserResponseReplace(t *testing.T) {
	t.Parallel()
	eachBackend(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		now := time.UnixMilli(time.Now().UnixMilli())

		ar, created, err := r.EnsureAlertResponse(ctx, "a1", "g1", now)
		if err != nil || !created {
			t.Fatalf("ensure = %v %v", created, err)
		}
		again, created, err := r.EnsureAlertResponse(ctx, "a1", "g1", now)
		if err != nil || created || again.ID != ar.ID {
			t.Fatalf("ensure twice created a second record: %v %v %v", again, created, err)
		}

		opts := alert.DefaultResponseOptions()
		first := alert.UserResponse{Timestamp: now, UserID: "u1", UserName: "Alice", Option: opts[0]}
		second := alert.UserResponse{Timestamp: now.Add(time.Second), UserID: "u1", UserName: "Alice", Option: opts[4]}
		for _, resp := range []alert.UserResponse{first, second} {
			if err := r.SaveUserResponse(ctx, ar.ID, resp); err != nil {
				t.Fatalf("save response: %v", err)
			}
		}
		got, err := r.GetAlertResponse(ctx, ar.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if len(got.Responses) != 1 || got.Responses[0].Option.Type != alert.ResponseDeny {
			t.Fatalf("expected one replaced response, got %+v", got.Responses)
		}
		if err := r.SaveUserResponse(ctx, "missing", first); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestDeleteUnitCascades(t *testing.T) {
	t.Parallel()
	eachBackend(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		now := time.UnixMilli(time.Now().UnixMilli())
		unit := alert.Unit{Code: 30000, Name: "Team"}
		src := alert.Source{ID: "m", Kind: alert.SourceManual}
		_ = r.SaveUnit(ctx, unit)
		_ = r.SaveSource(ctx, src)
		a := alert.NewAlert(alert.Candidate{UnitCode: 30000, Timestamp: now, Info: alert.InfoComplete, SourceID: "m"}, unit, src)
		if err := r.CommitAlert(ctx, a, alert.HistoryEntry{UnitCode: 30000, Info: alert.InfoComplete, Timestamp: now}); err != nil {
			t.Fatalf("commit: %v", err)
		}
		_ = r.SaveGroup(ctx, alert.Group{ID: "g", Units: []int{30000}})

		if err := r.DeleteUnit(ctx, 30000); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := r.GetUnit(ctx, 30000); !errors.Is(err, ErrNotFound) {
			t.Fatalf("unit still present: %v", err)
		}
		if _, err := r.GetAlert(ctx, a.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("alert still present: %v", err)
		}
		gs, _ := r.GroupsForUnit(ctx, 30000)
		if len(gs) != 0 {
			t.Fatalf("group binding survived: %+v", gs)
		}
	})
}

func TestSettings(t *testing.T) {
	t.Parallel()
	eachBackend(t, func(t *testing.T, r Repository) {
		ctx := context.Background()
		if _, ok, err := r.GetSetting(ctx, "k"); err != nil || ok {
			t.Fatalf("unexpected setting: %v %v", ok, err)
		}
		_ = r.PutSetting(ctx, "k", "v1")
		_ = r.PutSetting(ctx, "k", "v2")
		if v, ok, _ := r.GetSetting(ctx, "k"); !ok || v != "v2" {
			t.Fatalf("setting = %q %v", v, ok)
		}
	})
}

func TestRebind(t *testing.T) {
	t.Parallel()
	s := &sqlStore{dollarPH: true}
	if got := s.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind = %q", got)
	}
}
