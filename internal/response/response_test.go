package response

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/storage"
	logx "pagerbuddy/pkg/logx"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeSurface struct {
	mu    sync.Mutex
	texts []string
}

func (s *fakeSurface) RedrawResponse(_ context.Context, _ *alert.Alert, _ *alert.AlertResponse, overview string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, overview)
	return nil
}

func (s *fakeSurface) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func setup(t *testing.T) (*Aggregator, *fakeSurface, *alert.Alert, *alert.AlertResponse) {
	t.Helper()
	ctx := context.Background()
	repo := storage.NewMemory()
	grp := alert.Group{
		ID:    "g1",
		Name:  "Crew",
		Units: []int{25123},
		Members: []alert.User{
			{ID: "u1", FirstName: "Anna", TelegramID: 111},
			{ID: "u2", FirstName: "Ben"},
		},
		Response: alert.ResponseConfig{Enabled: true},
	}
	if err := repo.SaveGroup(ctx, grp); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}
	a := alert.NewAlert(alert.Candidate{
		UnitCode: 25123, Timestamp: t0, Info: alert.InfoComplete, Keyword: "#R9012#KTP", SourceID: "s1",
	}, alert.SyntheticUnit(25123), alert.Source{ID: "s1", Kind: alert.SourceManual})
	if err := repo.CommitAlert(ctx, a, alert.HistoryEntry{UnitCode: 25123, Info: a.Info, Timestamp: t0}); err != nil {
		t.Fatalf("CommitAlert: %v", err)
	}
	ar, _, err := repo.EnsureAlertResponse(ctx, a.ID, grp.ID, t0)
	if err != nil {
		t.Fatalf("EnsureAlertResponse: %v", err)
	}

	g := New(repo, nil, logx.Nop(), Config{Cooldown: 50 * time.Millisecond, ReactTimeout: 30 * time.Minute, Location: time.UTC})
	g.now = func() time.Time { return t0.Add(time.Minute) }
	s := &fakeSurface{}
	g.SetSurface(s)
	t.Cleanup(g.Close)
	return g, s, a, ar
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("debounced run never resolved")
		return nil
	}
}

func TestConfirmOrderedByArrival(t *testing.T) {
	t.Parallel()
	ar := &alert.AlertResponse{ID: "ar"}
	confirm := func(eta time.Duration) alert.ResponseOption {
		return alert.ResponseOption{ID: eta.String(), Type: alert.ResponseConfirm, ETA: eta}
	}
	ar.Upsert(alert.UserResponse{UserID: "a", UserName: "Anna", Timestamp: t0, Option: confirm(15 * time.Minute)})
	ar.Upsert(alert.UserResponse{UserID: "c", UserName: "Carl", Timestamp: t0, Option: confirm(0)})
	ar.Upsert(alert.UserResponse{UserID: "b", UserName: "Ben", Timestamp: t0, Option: confirm(5 * time.Minute)})
	ar.Upsert(alert.UserResponse{UserID: "d", UserName: "Dora", Timestamp: t0, Option: alert.ResponseOption{ID: "no", Type: alert.ResponseDeny}})

	bk := Split(ar)
	var got []string
	for _, r := range bk.Confirm {
		got = append(got, r.UserName)
	}
	if strings.Join(got, ",") != "Ben,Anna,Carl" {
		t.Fatalf("confirm order = %v", got)
	}
	if len(bk.Deny) != 1 || len(bk.Delay) != 0 {
		t.Fatalf("buckets = %+v", bk)
	}

	text := Render(ar, RenderOptions{Location: time.UTC, Plain: true})
	want := []string{"Responses (4)", "✅ Coming (3)", "• Ben · ETA 10:05", "• Anna · ETA 10:15", "• Carl", "🕓 Later (0)", "❌ Not coming (1)", "• Dora"}
	if text != strings.Join(want, "\n") {
		t.Fatalf("render =\n%s", text)
	}
}

func TestRecordReplacesAndRedraws(t *testing.T) {
	t.Parallel()
	g, s, _, ar := setup(t)
	ctx := context.Background()

	if _, _, err := g.Record(ctx, Input{AlertResponseID: ar.ID, TelegramID: 111, OptionID: "5", Timestamp: t0.Add(time.Minute)}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, ur, err := g.Record(ctx, Input{AlertResponseID: ar.ID, UserID: "u1", OptionID: "no", Timestamp: t0.Add(2 * time.Minute)})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(got.Responses) != 1 || got.Responses[0].Option.Type != alert.ResponseDeny || ur.UserName != "Anna" {
		t.Fatalf("responses = %+v", got.Responses)
	}
	if err := waitErr(t, g.Refresh(ar.ID)); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	calls := s.calls()
	if len(calls) != 1 {
		t.Fatalf("redraws = %d, want 1 (coalesced)", len(calls))
	}
	if !strings.Contains(calls[0], "Not coming (1)") || !strings.Contains(calls[0], "Coming (0)") {
		t.Fatalf("overview = %s", calls[0])
	}
}

func TestRedrawSkippedWhenUnchanged(t *testing.T) {
	t.Parallel()
	g, s, a, ar := setup(t)

	g.Shown(a, ar)
	if err := waitErr(t, g.Refresh(ar.ID)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n := len(s.calls()); n != 0 {
		t.Fatalf("redraws = %d, want 0", n)
	}

	if _, _, err := g.Record(context.Background(), Input{AlertResponseID: ar.ID, UserID: "u2", OptionID: "later"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := waitErr(t, g.Refresh(ar.ID)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := waitErr(t, g.Refresh(ar.ID)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n := len(s.calls()); n != 1 {
		t.Fatalf("redraws = %d, want 1", n)
	}
}

func TestRecordRejects(t *testing.T) {
	t.Parallel()
	g, _, _, ar := setup(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   Input
		want error
	}{
		{"unknown option", Input{AlertResponseID: ar.ID, UserID: "u1", OptionID: "maybe"}, ErrUnknownOption},
		{"stranger", Input{AlertResponseID: ar.ID, TelegramID: 999, OptionID: "5"}, ErrNotMember},
		{"too late", Input{AlertResponseID: ar.ID, UserID: "u1", OptionID: "5", Timestamp: t0.Add(31 * time.Minute)}, ErrTooLate},
		{"missing", Input{AlertResponseID: "nope", UserID: "u1", OptionID: "5"}, storage.ErrNotFound},
	}
	for _, tc := range cases {
		if _, _, err := g.Record(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestDebouncerCarriesWaitersOver(t *testing.T) {
	t.Parallel()
	d := NewDebouncer(context.Background(), 20*time.Millisecond)
	var runs atomic.Int32
	var last atomic.Int32
	var chans []<-chan error
	for i := 1; i <= 3; i++ {
		chans = append(chans, d.Trigger("k", func(context.Context) error {
			runs.Add(1)
			last.Store(int32(i))
			return nil
		}))
	}
	for _, ch := range chans {
		if err := waitErr(t, ch); err != nil {
			t.Fatalf("err = %v", err)
		}
	}
	if runs.Load() != 1 || last.Load() != 3 {
		t.Fatalf("runs = %d last = %d", runs.Load(), last.Load())
	}
}

func TestDebouncerCancelResolvesWaiters(t *testing.T) {
	t.Parallel()
	d := NewDebouncer(context.Background(), time.Hour)
	a := d.Trigger("k", func(context.Context) error { return nil })
	b := d.Trigger("k", func(context.Context) error { return nil })
	if !d.Cancel("k") {
		t.Fatalf("Cancel reported no pending run")
	}
	for _, ch := range []<-chan error{a, b} {
		if err := waitErr(t, ch); !errors.Is(err, ErrCanceled) {
			t.Fatalf("err = %v", err)
		}
	}
	if d.Pending() != 0 {
		t.Fatalf("pending = %d", d.Pending())
	}
	d.Close()
	if err := waitErr(t, d.Trigger("k", func(context.Context) error { return nil })); !errors.Is(err, ErrCanceled) {
		t.Fatalf("after close err = %v", err)
	}
}

func TestRefreshAlertRedrawsAfterMerge(t *testing.T) {
	t.Parallel()
	g, s, a, ar := setup(t)
	ctx := context.Background()
	g.Shown(a, ar)

	merged := *a
	merged.Message = "Bahnhofstr. 4"
	if err := g.repo.CommitAlert(ctx, &merged, alert.HistoryEntry{UnitCode: 25123, Info: merged.Info, Timestamp: t0.Add(time.Second)}); err != nil {
		t.Fatalf("CommitAlert: %v", err)
	}
	if err := g.RefreshAlert(ctx, a.ID); err != nil {
		t.Fatalf("RefreshAlert: %v", err)
	}
	if err := waitErr(t, g.Refresh(ar.ID)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n := len(s.calls()); n != 1 {
		t.Fatalf("redraws = %d, want 1", n)
	}
}
