// Package source keeps track of alert producers: hardware interfaces, the
// KatSys feed and the manual trigger. Producers push structured candidates
// into the pipeline and report liveness through heartbeats.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/pipeline"
	rtsup "pagerbuddy/internal/runtime/supervisor"
	"pagerbuddy/internal/storage"
	logx "pagerbuddy/pkg/logx"
)

var (
	ErrUnknownSource = errors.New("source: unknown source")
	ErrNotRunning    = errors.New("source: producer not running")
)

// Handler consumes candidates. *pipeline.Pipeline satisfies it.
type Handler interface {
	Handle(ctx context.Context, c alert.Candidate) (pipeline.Outcome, error)
}

// Feed is what a running producer talks to.
type Feed interface {
	Handler
	Heartbeat(ctx context.Context, sourceID string, at time.Time) error
}

// Producer is a pluggable candidate source. Run blocks until ctx ends; a
// returned error restarts it with backoff.
type Producer interface {
	Source() alert.Source
	Run(ctx context.Context, feed Feed) error
}

// Status is the health view of one source.
type Status struct {
	alert.Source
	Stale bool `json:"stale"`
}

// Registry owns the known sources and the lifecycle of their producers.
type Registry struct {
	repo storage.Repository
	h    Handler
	log  logx.Logger
	now  func() time.Time

	mu        sync.Mutex
	producers map[string]Producer
	sup       *rtsup.Supervisor
}

func NewRegistry(repo storage.Repository, h Handler, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		repo:      repo,
		h:         h,
		log:       log.With(logx.String("comp", "source")),
		now:       time.Now,
		producers: map[string]Producer{},
	}
}

// Register persists a source definition. Timestamps already stored are kept.
func (r *Registry) Register(ctx context.Context, s alert.Source) error {
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		return errors.New("source: empty id")
	}
	switch s.Kind {
	case alert.SourceHardware, alert.SourceKatSys, alert.SourceManual:
	default:
		return fmt.Errorf("source: unknown kind %q", s.Kind)
	}
	old, err := r.repo.GetSource(ctx, s.ID)
	switch {
	case err == nil:
		s.LastAlert, s.LastStatus = old.LastAlert, old.LastStatus
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("source: load %s: %w", s.ID, err)
	}
	if err := r.repo.SaveSource(ctx, s); err != nil {
		return fmt.Errorf("source: save %s: %w", s.ID, err)
	}
	return nil
}

// Add registers p and, when the registry already runs, starts it.
func (r *Registry) Add(ctx context.Context, p Producer) error {
	src := p.Source()
	if err := r.Register(ctx, src); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.producers[src.ID]; dup {
		return fmt.Errorf("source: producer %s already added", src.ID)
	}
	r.producers[src.ID] = p
	if r.sup != nil {
		r.startLocked(src.ID, p)
	}
	return nil
}

// Start runs every added producer under a supervisor.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sup != nil {
		return
	}
	r.sup = rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	for id, p := range r.producers {
		r.startLocked(id, p)
	}
	r.log.Info("sources started", logx.Int("producers", len(r.producers)))
}

func (r *Registry) startLocked(id string, p Producer) {
	r.sup.GoRestart("source."+id, func(ctx context.Context) error {
		return p.Run(ctx, r)
	}, rtsup.WithRestartBackoff(time.Second, time.Minute))
}

// Stop cancels all producers and waits for them.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	sup := r.sup
	r.sup = nil
	r.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Handle forwards a candidate to the pipeline.
func (r *Registry) Handle(ctx context.Context, c alert.Candidate) (pipeline.Outcome, error) {
	if strings.TrimSpace(c.SourceID) == "" {
		return pipeline.Outcome{}, errors.New("source: candidate without source id")
	}
	return r.h.Handle(ctx, c)
}

// Heartbeat records that the source reported status at at. A zero time
// means now.
func (r *Registry) Heartbeat(ctx context.Context, sourceID string, at time.Time) error {
	if at.IsZero() {
		at = r.now()
	}
	s, err := r.repo.GetSource(ctx, sourceID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}
	if err != nil {
		return fmt.Errorf("source: load %s: %w", sourceID, err)
	}
	if at.Before(s.LastStatus) {
		return nil
	}
	s.LastStatus = at
	if err := r.repo.SaveSource(ctx, s); err != nil {
		return fmt.Errorf("source: save %s: %w", sourceID, err)
	}
	r.log.Debug("heartbeat", logx.String("source", sourceID), logx.Time("at", at))
	return nil
}

// Statuses lists every source. Non-manual sources whose last status is older
// than timeout are stale; a timeout of 0 disables the check.
func (r *Registry) Statuses(ctx context.Context, timeout time.Duration) ([]Status, error) {
	srcs, err := r.repo.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("source: list: %w", err)
	}
	now := r.now()
	out := make([]Status, 0, len(srcs))
	for _, s := range srcs {
		st := Status{Source: s}
		if timeout > 0 && s.Kind != alert.SourceManual {
			st.Stale = now.Sub(s.LastStatus) > timeout
		}
		out = append(out, st)
	}
	return out, nil
}
