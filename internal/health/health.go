// Package health watches alert sources and delivery channels and tells the
// operators when one of them fails or recovers.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"pagerbuddy/internal/delivery"
	"pagerbuddy/internal/eventbus"
	"pagerbuddy/internal/source"
	"pagerbuddy/internal/storage"
	logx "pagerbuddy/pkg/logx"
	"pagerbuddy/pkg/tgui"
)

const (
	KindSource  = "source"
	KindChannel = "channel"

	// settingKey stores the last known state so restarts do not repeat
	// notifications.
	settingKey = "health.state"

	DefaultSourceTimeout = 10 * time.Minute
)

// Channel is the health view of an outbound queue. *delivery.Queue
// satisfies it.
type Channel interface {
	Name() string
	ErrorSince() time.Time
	Paused() (until time.Time, paused bool)
}

// Sources lists source health. *source.Registry satisfies it.
type Sources interface {
	Statuses(ctx context.Context, timeout time.Duration) ([]source.Status, error)
}

// Admin receives transition messages.
type Admin interface {
	Admin(ctx context.Context, text string) (*delivery.Future, error)
}

type Config struct {
	SourceTimeout time.Duration
	// ChannelGrace is how long a failure streak may last before the channel
	// counts as unhealthy.
	ChannelGrace time.Duration
	Location     *time.Location
}

// Component is one watched thing.
type Component struct {
	Kind    string    `json:"kind"`
	Name    string    `json:"name"`
	Healthy bool      `json:"healthy"`
	Since   time.Time `json:"since,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

func (c Component) key() string { return c.Kind + "/" + c.Name }

// Report is the result of one check.
type Report struct {
	Healthy    bool        `json:"healthy"`
	CheckedAt  time.Time   `json:"checked_at"`
	Components []Component `json:"components"`
}

// Monitor runs checks and notifies on transitions only.
type Monitor struct {
	sources  Sources
	channels []Channel
	admin    Admin
	repo     storage.Repository
	bus      eventbus.Bus
	log      logx.Logger
	cfg      Config
	now      func() time.Time

	mu     sync.Mutex
	known  map[string]bool // component key -> healthy
	loaded bool
	last   Report
}

func New(sources Sources, channels []Channel, admin Admin, repo storage.Repository, bus eventbus.Bus, log logx.Logger, cfg Config) *Monitor {
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if bus == nil {
		bus = eventbus.Discard()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{
		sources:  sources,
		channels: channels,
		admin:    admin,
		repo:     repo,
		bus:      bus,
		log:      log.With(logx.String("comp", "health")),
		cfg:      cfg,
		now:      time.Now,
		known:    map[string]bool{},
	}
}

// Last returns the most recent report.
func (m *Monitor) Last() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Check evaluates every component. Components seen for the first time are
// assumed to have been healthy, so a failure found at startup is reported.
func (m *Monitor) Check(ctx context.Context) (Report, error) {
	now := m.now()
	rep := Report{Healthy: true, CheckedAt: now}

	if m.sources != nil {
		sts, err := m.sources.Statuses(ctx, m.cfg.SourceTimeout)
		if err != nil {
			return Report{}, fmt.Errorf("health: sources: %w", err)
		}
		for _, s := range sts {
			c := Component{Kind: KindSource, Name: s.ID, Healthy: !s.Stale, Since: s.LastStatus}
			if s.Stale {
				c.Detail = "no status since " + m.clock(s.LastStatus)
			}
			rep.Components = append(rep.Components, c)
		}
	}
	for _, ch := range m.channels {
		c := Component{Kind: KindChannel, Name: ch.Name(), Healthy: true}
		if since := ch.ErrorSince(); !since.IsZero() && now.Sub(since) >= m.cfg.ChannelGrace {
			c.Healthy = false
			c.Since = since
			c.Detail = "failing since " + m.clock(since)
			if until, paused := ch.Paused(); paused {
				c.Detail += ", paused until " + m.clock(until)
			}
		}
		rep.Components = append(rep.Components, c)
	}
	sort.Slice(rep.Components, func(i, j int) bool { return rep.Components[i].key() < rep.Components[j].key() })
	for _, c := range rep.Components {
		if !c.Healthy {
			rep.Healthy = false
		}
	}

	m.mu.Lock()
	if !m.loaded {
		m.loadLocked(ctx)
	}
	var changed []Component
	next := make(map[string]bool, len(rep.Components))
	for _, c := range rep.Components {
		prev, seen := m.known[c.key()]
		if !seen {
			prev = true
		}
		if prev != c.Healthy {
			changed = append(changed, c)
		}
		next[c.key()] = c.Healthy
	}
	m.known = next
	m.last = rep
	m.mu.Unlock()

	if len(changed) > 0 {
		m.announce(ctx, changed)
		m.persist(ctx, next)
	}
	return rep, nil
}

func (m *Monitor) announce(ctx context.Context, changed []Component) {
	b := tgui.Plain().Title("🩺", "Health")
	for _, c := range changed {
		m.bus.Publish(eventbus.Event{Type: eventbus.HealthChanged, Data: eventbus.HealthEvent{
			Component: c.key(),
			Healthy:   c.Healthy,
			Detail:    c.Detail,
		}})
		if c.Healthy {
			m.log.Info("component recovered", logx.String("kind", c.Kind), logx.String("name", c.Name))
			b.Bullet(fmt.Sprintf("✅ %s %s recovered", c.Kind, c.Name))
			continue
		}
		m.log.Warn("component unhealthy", logx.String("kind", c.Kind), logx.String("name", c.Name), logx.String("detail", c.Detail))
		b.Bullet(fmt.Sprintf("⚠️ %s %s: %s", c.Kind, c.Name, c.Detail))
	}
	if m.admin == nil {
		return
	}
	if _, err := m.admin.Admin(ctx, b.Build().Text); err != nil {
		m.log.Warn("health notification not queued", logx.Err(err))
	}
}

func (m *Monitor) loadLocked(ctx context.Context) {
	m.loaded = true
	if m.repo == nil {
		return
	}
	raw, ok, err := m.repo.GetSetting(ctx, settingKey)
	if err != nil {
		m.log.Warn("health state not loaded", logx.Err(err))
		return
	}
	if !ok {
		return
	}
	var state map[string]bool
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		m.log.Warn("health state unreadable, starting fresh", logx.Err(err))
		return
	}
	m.known = state
}

func (m *Monitor) persist(ctx context.Context, state map[string]bool) {
	if m.repo == nil {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := m.repo.PutSetting(ctx, settingKey, string(raw)); err != nil {
		m.log.Warn("health state not saved", logx.Err(err))
	}
}

func (m *Monitor) clock(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.In(m.cfg.Location).Format("02.01. 15:04")
}
