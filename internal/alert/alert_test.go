package alert

import (
	"testing"
	"time"
)

func TestSilentPeriods(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	// 2024-06-01 is a Saturday.
	at := func(day, h, m int) time.Time { return time.Date(2024, 6, day, h, m, 0, 0, loc) }

	cases := []struct {
		name string
		cfg  SilentConfig
		t    time.Time
		want bool
	}{
		{"never", SilentConfig{Kind: SilentNever}, at(1, 12, 0), false},
		{"zero value", SilentConfig{}, at(1, 12, 0), false},
		{"always", SilentConfig{Kind: SilentAlways}, at(1, 12, 0), true},
		{"time inside", SilentConfig{Kind: SilentTime, Start: "10:00", End: "11:00"}, at(1, 10, 30), true},
		{"time end exclusive", SilentConfig{Kind: SilentTime, Start: "10:00", End: "11:00"}, at(1, 11, 0), false},
		{"time wraps before midnight", SilentConfig{Kind: SilentTime, Start: "22:00", End: "02:00"}, at(1, 23, 0), true},
		{"time wraps after midnight", SilentConfig{Kind: SilentTime, Start: "22:00", End: "02:00"}, at(2, 1, 59), true},
		{"time wraps outside", SilentConfig{Kind: SilentTime, Start: "22:00", End: "02:00"}, at(2, 12, 0), false},
		{"time whole day", SilentConfig{Kind: SilentTime, Start: "00:00", End: "00:00"}, at(2, 5, 0), true},
		{"weekday match", SilentConfig{Kind: SilentDayOfWeek, Weekday: time.Saturday, Start: "09:00", End: "12:00"}, at(1, 10, 0), true},
		{"weekday other day", SilentConfig{Kind: SilentDayOfWeek, Weekday: time.Saturday, Start: "09:00", End: "12:00"}, at(2, 10, 0), false},
		{"weekday window started yesterday", SilentConfig{Kind: SilentDayOfWeek, Weekday: time.Saturday, Start: "22:00", End: "02:00"}, at(2, 1, 0), true},
		{"weekday wrapped window on start day only", SilentConfig{Kind: SilentDayOfWeek, Weekday: time.Saturday, Start: "22:00", End: "02:00"}, at(1, 1, 0), false},
		{"day of month", SilentConfig{Kind: SilentDayOfMonth, DayOfMonth: 1, Start: "18:00", End: "19:00"}, at(1, 18, 30), true},
		{"day of month other", SilentConfig{Kind: SilentDayOfMonth, DayOfMonth: 1, Start: "18:00", End: "19:00"}, at(2, 18, 30), false},
		{"bad window never silences", SilentConfig{Kind: SilentTime, Start: "xx", End: "11:00"}, at(1, 10, 30), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.InSilentPeriod(tc.t); got != tc.want {
				t.Fatalf("InSilentPeriod(%s) = %v, want %v", tc.t.Format(time.RFC3339), got, tc.want)
			}
		})
	}
}

func TestSilentValidate(t *testing.T) {
	t.Parallel()
	bad := []SilentConfig{
		{Kind: "sometimes"},
		{Kind: SilentTime, Start: "25:00", End: "01:00"},
		{Kind: SilentDayOfMonth, DayOfMonth: 32, Start: "01:00", End: "02:00"},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("expected error for %+v", c)
		}
	}
	if err := (SilentConfig{Kind: SilentDayOfWeek, Weekday: time.Monday, Start: "07:00", End: "08:30"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMergeIsIdempotentOnSources(t *testing.T) {
	t.Parallel()
	now := time.Now()
	hw := Source{ID: "hw", Kind: SourceHardware}
	ks := Source{ID: "ks", Kind: SourceKatSys}
	a := NewAlert(Candidate{UnitCode: 25123, Timestamp: now, Info: InfoID, SourceID: "hw"}, SyntheticUnit(25123), hw)

	c := Candidate{UnitCode: 25123, Timestamp: now, Info: InfoComplete, Keyword: "#R9012#KTP", Location: "Main St", SourceID: "ks"}
	if !a.Merge(c, ks) {
		t.Fatalf("first merge should add the source")
	}
	if a.Merge(c, ks) {
		t.Fatalf("second merge must not add the source again")
	}
	if len(a.Sources) != 2 {
		t.Fatalf("sources = %+v", a.Sources)
	}
	if a.Keyword != "#R9012#KTP" || a.Location != "Main St" || a.Info != InfoComplete {
		t.Fatalf("merge did not replace fields: %+v", a)
	}
}

func TestManualFlag(t *testing.T) {
	t.Parallel()
	now := time.Now()
	a := NewAlert(Candidate{UnitCode: 1000, Timestamp: now, Info: InfoComplete, SourceID: "manual"}, SyntheticUnit(1000), Source{ID: "manual", Kind: SourceManual})
	if !a.Manual {
		t.Fatalf("alert from the manual source only must be manual")
	}
	a.Merge(Candidate{UnitCode: 1000, Timestamp: now, Info: InfoComplete, SourceID: "hw"}, Source{ID: "hw", Kind: SourceHardware})
	if a.Manual {
		t.Fatalf("corroborated alert is no longer manual")
	}
}

func TestRelevance(t *testing.T) {
	t.Parallel()
	a := &Alert{Unit: Unit{Code: 25123}}

	sink := Sink{ID: "s", Active: true}
	if sink.IsRelevant(a) {
		t.Fatalf("sink without subscriptions must not be relevant")
	}
	sink.Subscribe(25123)
	if !sink.IsRelevant(a) {
		t.Fatalf("subscribed sink must be relevant")
	}
	sink.Active = false
	if sink.IsRelevant(a) {
		t.Fatalf("inactive sink must not be relevant")
	}
	sink.Active = true
	sink.Unsubscribe(25123)
	if sink.IsRelevant(a) {
		t.Fatalf("unsubscribed sink must not be relevant")
	}
	sink.Subscribe(AllAlertsUnitCode)
	if !sink.IsRelevant(a) {
		t.Fatalf("wildcard subscription must match")
	}

	if (Group{Units: []int{11111}}).IsRelevant(a) {
		t.Fatalf("unrelated group must not be relevant")
	}
	if !(Group{Units: []int{AllAlertsUnitCode}}).IsRelevant(a) {
		t.Fatalf("wildcard group must be relevant")
	}
}

func TestUpsertReplacesSameUser(t *testing.T) {
	t.Parallel()
	now := time.Now()
	opts := DefaultResponseOptions()
	ar := NewAlertResponse("a", "g", now)
	ar.Upsert(UserResponse{UserID: "u1", Timestamp: now, Option: opts[0]})
	ar.Upsert(UserResponse{UserID: "u2", Timestamp: now, Option: opts[1]})
	ar.Upsert(UserResponse{UserID: "u1", Timestamp: now.Add(time.Minute), Option: opts[4]})

	if len(ar.Responses) != 2 {
		t.Fatalf("responses = %+v", ar.Responses)
	}
	r, ok := ar.ResponseOf("u1")
	if !ok || r.Option.Type != ResponseDeny {
		t.Fatalf("u1 response = %+v", r)
	}
	if ar.Responses[1].UserID != "u1" {
		t.Fatalf("replaced response should move to the end")
	}
}
