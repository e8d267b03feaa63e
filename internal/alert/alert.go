package alert

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Alert is the canonical, persisted record of one real-world event.
//
// Its identity is fixed at creation; later candidates for the same event are
// merged into it in place.
type Alert struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Keyword   string             `json:"keyword"`
	Message   string             `json:"message"`
	Location  string             `json:"location"`
	Info      InformationContent `json:"information_content"`
	Unit      Unit               `json:"unit"`
	Sources   []Source           `json:"sources"`
	Silent    bool               `json:"silent"`
	Manual    bool               `json:"manual"`
}

// NewAlert creates an Alert from the first accepted candidate.
func NewAlert(c Candidate, unit Unit, src Source) *Alert {
	a := &Alert{
		ID:        ulid.Make().String(),
		Timestamp: c.Timestamp,
		Keyword:   c.Keyword,
		Message:   c.Message,
		Location:  c.Location,
		Info:      c.Info,
		Unit:      unit,
	}
	a.addSource(src)
	return a
}

// Merge applies a higher-information candidate: free text is replaced and the
// source is added to the contributing set unless already present. It reports
// whether the source set grew.
func (a *Alert) Merge(c Candidate, src Source) bool {
	a.Keyword = c.Keyword
	a.Message = c.Message
	a.Location = c.Location
	if c.Info > a.Info {
		a.Info = c.Info
	}
	return a.addSource(src)
}

func (a *Alert) addSource(src Source) bool {
	for _, s := range a.Sources {
		if s.ID == src.ID {
			return false
		}
	}
	a.Sources = append(a.Sources, src)
	a.Manual = a.onlyManual()
	return true
}

func (a *Alert) onlyManual() bool {
	return len(a.Sources) == 1 && a.Sources[0].Kind == SourceManual
}

// HasSource reports whether src contributed to the alert.
func (a *Alert) HasSource(id string) bool {
	for _, s := range a.Sources {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Classify recomputes the derived silent flag at the alert timestamp in loc.
func (a *Alert) Classify(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	a.Silent = a.Unit.Silent.InSilentPeriod(a.Timestamp.In(loc))
	a.Manual = a.onlyManual()
}

// Clone returns a deep copy safe to hand to other goroutines.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Sources = append([]Source(nil), a.Sources...)
	return &cp
}

// HistoryEntry records that a candidate for a unit arrived, independent of
// whether it produced an Alert. It only lives for the dedup window.
type HistoryEntry struct {
	UnitCode  int                `json:"unit_code"`
	Info      InformationContent `json:"information_content"`
	Timestamp time.Time          `json:"timestamp"`
}
