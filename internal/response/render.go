// Package response aggregates user acknowledgements per alert and group and
// keeps every displayed overview in sync with them.
package response

import (
	"fmt"
	"slices"
	"time"

	"pagerbuddy/internal/alert"
	"pagerbuddy/pkg/tgui"
)

// Buckets are the responses of one AlertResponse split by type.
type Buckets struct {
	Confirm []alert.UserResponse
	Delay   []alert.UserResponse
	Deny    []alert.UserResponse
}

// Split groups responses by type. Confirmations are ordered by estimated
// arrival; those without an ETA follow in answer order.
func Split(ar *alert.AlertResponse) Buckets {
	var b Buckets
	if ar == nil {
		return b
	}
	for _, r := range ar.Responses {
		switch r.Option.Type {
		case alert.ResponseConfirm:
			b.Confirm = append(b.Confirm, r)
		case alert.ResponseDelay:
			b.Delay = append(b.Delay, r)
		default:
			b.Deny = append(b.Deny, r)
		}
	}
	slices.SortStableFunc(b.Confirm, func(x, y alert.UserResponse) int {
		tx, okx := x.ArrivalTime()
		ty, oky := y.ArrivalTime()
		switch {
		case okx && oky:
			return tx.Compare(ty)
		case okx:
			return -1
		case oky:
			return 1
		}
		return 0
	})
	return b
}

// RenderOptions control the overview text.
type RenderOptions struct {
	Location *time.Location
	// Plain renders without HTML markup.
	Plain bool
}

// Render returns the response overview block shown under an alert message.
func Render(ar *alert.AlertResponse, opt RenderOptions) string {
	loc := opt.Location
	if loc == nil {
		loc = time.Local
	}
	b := tgui.New()
	if opt.Plain {
		b = tgui.Plain()
	}
	bk := Split(ar)
	total := len(bk.Confirm) + len(bk.Delay) + len(bk.Deny)
	b.Section(fmt.Sprintf("Responses (%d)", total))

	b.Line(fmt.Sprintf("✅ Coming (%d)", len(bk.Confirm)))
	for _, r := range bk.Confirm {
		if t, ok := r.ArrivalTime(); ok {
			b.Bullet(fmt.Sprintf("%s · ETA %s", r.UserName, t.In(loc).Format("15:04")))
			continue
		}
		b.Bullet(r.UserName)
	}
	b.Line(fmt.Sprintf("🕓 Later (%d)", len(bk.Delay)))
	for _, r := range bk.Delay {
		b.Bullet(r.UserName)
	}
	b.Line(fmt.Sprintf("❌ Not coming (%d)", len(bk.Deny)))
	for _, r := range bk.Deny {
		b.Bullet(r.UserName)
	}
	return b.Build().Text
}
