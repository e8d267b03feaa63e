package source

import (
	"context"
	"strings"
	"sync"
	"time"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/pipeline"
)

// Manual turns operator triggers into candidates with complete information.
type Manual struct {
	src alert.Source

	mu   sync.RWMutex
	feed Feed
}

func NewManual(id, description string) *Manual {
	if strings.TrimSpace(id) == "" {
		id = "manual"
	}
	return &Manual{src: alert.Source{ID: id, Kind: alert.SourceManual, Description: description}}
}

func (m *Manual) Source() alert.Source { return m.src }

// Run makes the source available for Trigger until ctx ends.
func (m *Manual) Run(ctx context.Context, feed Feed) error {
	m.mu.Lock()
	m.feed = feed
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.feed = nil
		m.mu.Unlock()
	}()
	if err := feed.Heartbeat(ctx, m.src.ID, time.Time{}); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Trigger is one manual alert.
type Trigger struct {
	UnitCode int       `json:"unit_code"`
	Keyword  string    `json:"keyword"`
	Location string    `json:"location"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Candidate builds the candidate for t. A zero At means now.
func (m *Manual) Candidate(t Trigger) alert.Candidate {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	return alert.Candidate{
		UnitCode:  t.UnitCode,
		Timestamp: at,
		Info:      alert.InfoComplete,
		Keyword:   strings.TrimSpace(t.Keyword),
		Location:  strings.TrimSpace(t.Location),
		Message:   strings.TrimSpace(t.Message),
		SourceID:  m.src.ID,
	}
}

// Fire submits a manual alert.
func (m *Manual) Fire(ctx context.Context, t Trigger) (pipeline.Outcome, error) {
	m.mu.RLock()
	feed := m.feed
	m.mu.RUnlock()
	if feed == nil {
		return pipeline.Outcome{}, ErrNotRunning
	}
	return feed.Handle(ctx, m.Candidate(t))
}
