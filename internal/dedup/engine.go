// Package dedup decides whether an alert candidate is a new alert, an update
// of a recent one, or a repeat to be suppressed.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/eventbus"
	"pagerbuddy/internal/storage"
	logx "pagerbuddy/pkg/logx"
)

// Action is the outcome of resolving a candidate.
type Action int

const (
	Suppress Action = iota
	Create
	Merge
)

func (a Action) String() string {
	switch a {
	case Create:
		return "CREATE"
	case Merge:
		return "MERGE"
	default:
		return "SUPPRESS"
	}
}

// Suppress reasons.
const (
	ReasonStale  = "stale"
	ReasonRepeat = "repeat"
)

// Result is returned by Resolve. Alert is set for Create and Merge.
type Result struct {
	Action Action
	Alert  *alert.Alert
	Reason string
}

// Config holds the dedup windows.
type Config struct {
	// Window is the double-alert lookback from the candidate timestamp.
	Window time.Duration
	// StaleAfter discards candidates older than this relative to now.
	StaleAfter time.Duration
	// Location evaluates unit silent periods.
	Location *time.Location
}

const (
	DefaultWindow     = 5 * time.Minute
	DefaultStaleAfter = 2 * time.Minute
)

// Engine resolves candidates against recent history. Resolution for one unit
// is serialized; different units resolve concurrently.
type Engine struct {
	repo  storage.Repository
	bus   eventbus.Bus
	log   logx.Logger
	locks *keyedMutex
	now   func() time.Time

	cfg atomic.Pointer[Config]
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

func New(repo storage.Repository, bus eventbus.Bus, log logx.Logger, cfg Config) *Engine {
	if bus == nil {
		bus = eventbus.Discard()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		repo:  repo,
		bus:   bus,
		log:   log.With(logx.String("comp", "dedup")),
		locks: newKeyedMutex(),
		now:   time.Now,
	}
	e.Apply(cfg)
	return e
}

// Apply swaps the timings; resolutions already running keep the old ones.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.cfg.Store(&cfg)
}

// SetClock overrides the wall clock; tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Resolve applies the double-alert rules to c. Persistence failures are
// returned as errors and leave neither alert nor history committed.
func (e *Engine) Resolve(ctx context.Context, c alert.Candidate) (Result, error) {
	return e.ResolveThen(ctx, c, nil)
}

// ResolveThen is Resolve followed by then, which runs after the decision is
// committed and before the unit is unlocked. The next candidate for the unit
// is resolved only once then returned. An error from then is returned with
// the committed result.
func (e *Engine) ResolveThen(ctx context.Context, c alert.Candidate, then func(context.Context, Result) error) (Result, error) {
	res, unlock, err := e.resolve(ctx, c)
	if unlock != nil {
		defer unlock()
	}
	if err != nil || then == nil {
		return res, err
	}
	return res, then(ctx, res)
}

func (e *Engine) resolve(ctx context.Context, c alert.Candidate) (Result, func(), error) {
	if err := c.Validate(); err != nil {
		return Result{}, nil, err
	}
	now := e.now()
	cfg := *e.cfg.Load()
	log := e.log.With(logx.Int("unit", c.UnitCode), logx.String("source", c.SourceID), logx.String("info", c.Info.String()))

	if age := now.Sub(c.Timestamp); age > cfg.StaleAfter {
		log.Info("stale candidate suppressed", logx.Duration("age", age))
		e.publish(eventbus.AlertSuppressed, eventbus.AlertEvent{UnitCode: c.UnitCode, SourceID: c.SourceID, Info: c.Info.String(), Reason: ReasonStale})
		return Result{Action: Suppress, Reason: ReasonStale}, nil, nil
	}

	unlock, err := e.locks.Lock(ctx, c.UnitCode)
	if err != nil {
		return Result{}, nil, err
	}
	keep := false
	defer func() {
		if !keep {
			unlock()
		}
	}()

	src, err := e.touchSource(ctx, c, now)
	if err != nil {
		return Result{}, nil, err
	}
	unit, err := e.unit(ctx, c.UnitCode)
	if err != nil {
		return Result{}, nil, err
	}

	since := c.Timestamp.Add(-cfg.Window)
	if _, err := e.repo.PruneHistory(ctx, now.Add(-cfg.Window).Add(-cfg.StaleAfter)); err != nil {
		return Result{}, nil, fmt.Errorf("dedup: prune history: %w", err)
	}
	peak, seen, err := e.repo.HistoryPeak(ctx, c.UnitCode, since)
	if err != nil {
		return Result{}, nil, fmt.Errorf("dedup: history: %w", err)
	}
	existing, err := e.repo.LatestAlert(ctx, c.UnitCode, since)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Result{}, nil, fmt.Errorf("dedup: latest alert: %w", err)
	}
	entry := alert.HistoryEntry{UnitCode: c.UnitCode, Info: c.Info, Timestamp: c.Timestamp}

	switch {
	case !seen || (existing == nil && c.Info > peak):
		a := alert.NewAlert(c, unit, src)
		a.Classify(cfg.Location)
		if err := e.repo.CommitAlert(ctx, a, entry); err != nil {
			log.Error("alert not persisted", logx.Err(err))
			return Result{}, nil, fmt.Errorf("dedup: create alert: %w", err)
		}
		log.Info("alert created", logx.String("alert", a.ID), logx.Bool("silent", a.Silent))
		e.publish(eventbus.AlertCreated, eventbus.AlertEvent{AlertID: a.ID, UnitCode: c.UnitCode, SourceID: c.SourceID, Info: c.Info.String()})
		keep = true
		return Result{Action: Create, Alert: a}, unlock, nil

	case existing != nil && c.Info > peak:
		existing.Merge(c, src)
		existing.Unit = unit
		existing.Classify(cfg.Location)
		if err := e.repo.CommitAlert(ctx, existing, entry); err != nil {
			log.Error("alert merge not persisted", logx.Err(err))
			return Result{}, nil, fmt.Errorf("dedup: merge alert: %w", err)
		}
		log.Info("alert merged", logx.String("alert", existing.ID), logx.String("previous_peak", peak.String()))
		e.publish(eventbus.AlertMerged, eventbus.AlertEvent{AlertID: existing.ID, UnitCode: c.UnitCode, SourceID: c.SourceID, Info: c.Info.String()})
		keep = true
		return Result{Action: Merge, Alert: existing}, unlock, nil

	default:
		if err := e.repo.AppendHistory(ctx, entry); err != nil {
			return Result{}, nil, fmt.Errorf("dedup: record history: %w", err)
		}
		log.Debug("repeat candidate suppressed", logx.String("peak", peak.String()))
		e.publish(eventbus.AlertSuppressed, eventbus.AlertEvent{UnitCode: c.UnitCode, SourceID: c.SourceID, Info: c.Info.String(), Reason: ReasonRepeat})
		keep = true
		return Result{Action: Suppress, Reason: ReasonRepeat}, unlock, nil
	}
}

// PruneHistory drops history older than the lookback horizon. It runs from a
// schedule so the table stays bounded without traffic.
func (e *Engine) PruneHistory(ctx context.Context) (int64, error) {
	cfg := *e.cfg.Load()
	n, err := e.repo.PruneHistory(ctx, e.now().Add(-cfg.Window).Add(-cfg.StaleAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Debug("history pruned", logx.Int64("rows", n))
	}
	return n, nil
}

func (e *Engine) touchSource(ctx context.Context, c alert.Candidate, now time.Time) (alert.Source, error) {
	src, err := e.repo.GetSource(ctx, c.SourceID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		src = alert.Source{ID: c.SourceID, Kind: alert.SourceHardware, Description: c.SourceID}
	case err != nil:
		return alert.Source{}, fmt.Errorf("dedup: source %s: %w", c.SourceID, err)
	}
	src.LastAlert = now
	if err := e.repo.SaveSource(ctx, src); err != nil {
		return alert.Source{}, fmt.Errorf("dedup: source %s: %w", c.SourceID, err)
	}
	return src, nil
}

func (e *Engine) unit(ctx context.Context, code int) (alert.Unit, error) {
	u, err := e.repo.GetUnit(ctx, code)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return alert.Unit{}, fmt.Errorf("dedup: unit %d: %w", code, err)
	}
	u = alert.SyntheticUnit(code)
	if err := e.repo.SaveUnit(ctx, u); err != nil {
		return alert.Unit{}, fmt.Errorf("dedup: unit %d: %w", code, err)
	}
	e.log.Warn("unknown unit, synthesized", logx.Int("unit", code))
	return u, nil
}

func (e *Engine) publish(typ string, data eventbus.AlertEvent) {
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: data})
}
