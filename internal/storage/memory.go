package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"pagerbuddy/internal/alert"

	"github.com/oklog/ulid/v2"
)

// memoryStore keeps everything in maps behind one mutex. Values are copied on
// the way in and out so callers never share state with the store.
type memoryStore struct {
	mu sync.Mutex

	closed    bool
	units     map[int]alert.Unit
	sources   map[string]alert.Source
	alerts    map[string]*alert.Alert
	history   []alert.HistoryEntry
	groups    map[string]alert.Group
	users     map[string]alert.User
	sinks     map[string]alert.Sink
	responses map[string]*alert.AlertResponse
	settings  map[string]string
}

// NewMemory returns an empty in-memory repository.
func NewMemory() Repository {
	return &memoryStore{
		units:     map[int]alert.Unit{},
		sources:   map[string]alert.Source{},
		alerts:    map[string]*alert.Alert{},
		groups:    map[string]alert.Group{},
		users:     map[string]alert.User{},
		sinks:     map[string]alert.Sink{},
		responses: map[string]*alert.AlertResponse{},
		settings:  map[string]string{},
	}
}

func (m *memoryStore) lock() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) GetUnit(_ context.Context, code int) (alert.Unit, error) {
	if err := m.lock(); err != nil {
		return alert.Unit{}, err
	}
	defer m.mu.Unlock()
	u, ok := m.units[code]
	if !ok {
		return alert.Unit{}, ErrNotFound
	}
	return u, nil
}

func (m *memoryStore) SaveUnit(_ context.Context, u alert.Unit) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.units[u.Code] = u
	return nil
}

func (m *memoryStore) ListUnits(_ context.Context) ([]alert.Unit, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	out := make([]alert.Unit, 0, len(m.units))
	for _, u := range m.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memoryStore) DeleteUnit(_ context.Context, code int) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	delete(m.units, code)
	for id, a := range m.alerts {
		if a.Unit.Code == code {
			delete(m.alerts, id)
			for rid, ar := range m.responses {
				if ar.AlertID == id {
					delete(m.responses, rid)
				}
			}
		}
	}
	kept := m.history[:0]
	for _, h := range m.history {
		if h.UnitCode != code {
			kept = append(kept, h)
		}
	}
	m.history = kept
	for id, g := range m.groups {
		g.Units = removeInt(g.Units, code)
		m.groups[id] = g
	}
	for id, s := range m.sinks {
		s.Unsubscribe(code)
		m.sinks[id] = s
	}
	return nil
}

func (m *memoryStore) GetSource(_ context.Context, id string) (alert.Source, error) {
	if err := m.lock(); err != nil {
		return alert.Source{}, err
	}
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return alert.Source{}, ErrNotFound
	}
	return s, nil
}

func (m *memoryStore) SaveSource(_ context.Context, s alert.Source) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.sources[s.ID] = s
	return nil
}

func (m *memoryStore) ListSources(_ context.Context) ([]alert.Source, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	out := make([]alert.Source, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) GetAlert(_ context.Context, id string) (*alert.Alert, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *memoryStore) LatestAlert(_ context.Context, unitCode int, since time.Time) (*alert.Alert, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var best *alert.Alert
	for _, a := range m.alerts {
		if a.Unit.Code != unitCode || a.Timestamp.Before(since) {
			continue
		}
		if best == nil || a.Timestamp.After(best.Timestamp) {
			best = a
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best.Clone(), nil
}

func (m *memoryStore) CommitAlert(_ context.Context, a *alert.Alert, h alert.HistoryEntry) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.alerts[a.ID] = a.Clone()
	m.history = append(m.history, h)
	return nil
}

func (m *memoryStore) AppendHistory(_ context.Context, h alert.HistoryEntry) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.history = append(m.history, h)
	return nil
}

func (m *memoryStore) HistoryPeak(_ context.Context, unitCode int, since time.Time) (alert.InformationContent, bool, error) {
	if err := m.lock(); err != nil {
		return 0, false, err
	}
	defer m.mu.Unlock()
	var (
		peak  alert.InformationContent
		found bool
	)
	for _, h := range m.history {
		if h.UnitCode != unitCode || h.Timestamp.Before(since) {
			continue
		}
		if !found || h.Info > peak {
			peak = h.Info
		}
		found = true
	}
	return peak, found, nil
}

func (m *memoryStore) PruneHistory(_ context.Context, before time.Time) (int64, error) {
	if err := m.lock(); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()
	kept := m.history[:0]
	var n int64
	for _, h := range m.history {
		if h.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, h)
	}
	m.history = kept
	return n, nil
}

func (m *memoryStore) GetGroup(_ context.Context, id string) (alert.Group, error) {
	if err := m.lock(); err != nil {
		return alert.Group{}, err
	}
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return alert.Group{}, ErrNotFound
	}
	return m.loadGroup(g), nil
}

func (m *memoryStore) SaveGroup(_ context.Context, g alert.Group) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	for _, u := range g.Members {
		m.saveUser(u)
	}
	for _, s := range g.Sinks {
		s.Owner, s.OwnerID = alert.OwnerGroup, g.ID
		m.sinks[s.ID] = cloneSink(s)
	}
	stored := g
	stored.Units = append([]int(nil), g.Units...)
	stored.Leaders = append([]string(nil), g.Leaders...)
	stored.Members = make([]alert.User, 0, len(g.Members))
	for _, u := range g.Members {
		stored.Members = append(stored.Members, alert.User{ID: u.ID})
	}
	stored.Sinks = nil
	m.groups[g.ID] = stored
	return nil
}

func (m *memoryStore) ListGroups(_ context.Context) ([]alert.Group, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	out := make([]alert.Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, m.loadGroup(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) GroupsForUnit(_ context.Context, code int) ([]alert.Group, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var out []alert.Group
	for _, g := range m.groups {
		for _, c := range g.Units {
			if c == code || c == alert.AllAlertsUnitCode {
				out = append(out, m.loadGroup(g))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// loadGroup resolves member references and attaches sinks. Caller holds mu.
func (m *memoryStore) loadGroup(g alert.Group) alert.Group {
	out := g
	out.Units = append([]int(nil), g.Units...)
	out.Leaders = append([]string(nil), g.Leaders...)
	out.Members = make([]alert.User, 0, len(g.Members))
	for _, ref := range g.Members {
		if u, ok := m.users[ref.ID]; ok {
			out.Members = append(out.Members, m.loadUser(u))
		}
	}
	out.Sinks = m.sinksOf(alert.OwnerGroup, g.ID)
	return out
}

func (m *memoryStore) GetUser(_ context.Context, id string) (alert.User, error) {
	if err := m.lock(); err != nil {
		return alert.User{}, err
	}
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return alert.User{}, ErrNotFound
	}
	return m.loadUser(u), nil
}

func (m *memoryStore) SaveUser(_ context.Context, u alert.User) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.saveUser(u)
	return nil
}

func (m *memoryStore) saveUser(u alert.User) {
	for _, s := range u.Sinks {
		s.Owner, s.OwnerID = alert.OwnerUser, u.ID
		m.sinks[s.ID] = cloneSink(s)
	}
	u.Sinks = nil
	m.users[u.ID] = u
}

func (m *memoryStore) loadUser(u alert.User) alert.User {
	u.Sinks = m.sinksOf(alert.OwnerUser, u.ID)
	return u
}

func (m *memoryStore) sinksOf(kind alert.OwnerKind, id string) []alert.Sink {
	var out []alert.Sink
	for _, s := range m.sinks {
		if s.Owner == kind && s.OwnerID == id {
			out = append(out, cloneSink(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memoryStore) GetSink(_ context.Context, id string) (alert.Sink, error) {
	if err := m.lock(); err != nil {
		return alert.Sink{}, err
	}
	defer m.mu.Unlock()
	s, ok := m.sinks[id]
	if !ok {
		return alert.Sink{}, ErrNotFound
	}
	return cloneSink(s), nil
}

func (m *memoryStore) SaveSink(_ context.Context, s alert.Sink) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.sinks[s.ID] = cloneSink(s)
	return nil
}

func (m *memoryStore) SetSinkActive(_ context.Context, id string, active bool) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	s, ok := m.sinks[id]
	if !ok {
		return ErrNotFound
	}
	s.Active = active
	m.sinks[id] = s
	return nil
}

func (m *memoryStore) SetSinkTarget(_ context.Context, id, target string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	s, ok := m.sinks[id]
	if !ok {
		return ErrNotFound
	}
	s.Target = target
	m.sinks[id] = s
	return nil
}

func (m *memoryStore) EnsureAlertResponse(_ context.Context, alertID, groupID string, now time.Time) (*alert.AlertResponse, bool, error) {
	if err := m.lock(); err != nil {
		return nil, false, err
	}
	defer m.mu.Unlock()
	for _, ar := range m.responses {
		if ar.AlertID == alertID && ar.GroupID == groupID {
			return ar.Clone(), false, nil
		}
	}
	ar := alert.NewAlertResponse(alertID, groupID, now)
	m.responses[ar.ID] = ar
	return ar.Clone(), true, nil
}

func (m *memoryStore) GetAlertResponse(_ context.Context, id string) (*alert.AlertResponse, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	ar, ok := m.responses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ar.Clone(), nil
}

func (m *memoryStore) AlertResponsesForAlert(_ context.Context, alertID string) ([]*alert.AlertResponse, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var out []*alert.AlertResponse
	for _, ar := range m.responses {
		if ar.AlertID == alertID {
			out = append(out, ar.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

func (m *memoryStore) SaveUserResponse(_ context.Context, alertResponseID string, r alert.UserResponse) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	ar, ok := m.responses[alertResponseID]
	if !ok {
		return ErrNotFound
	}
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	ar.Upsert(r)
	return nil
}

func (m *memoryStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	if err := m.lock(); err != nil {
		return "", false, err
	}
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *memoryStore) PutSetting(_ context.Context, key, value string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func cloneSink(s alert.Sink) alert.Sink {
	s.Subscriptions = append([]alert.UnitSubscription(nil), s.Subscriptions...)
	return s
}

func removeInt(xs []int, v int) []int {
	out := xs[:0]
	for _, x := range xs {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
