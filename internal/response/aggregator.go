package response

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/eventbus"
	"pagerbuddy/internal/storage"
	logx "pagerbuddy/pkg/logx"

	"github.com/oklog/ulid/v2"
)

var (
	ErrDisabled      = errors.New("response: responses disabled for group")
	ErrUnknownOption = errors.New("response: unknown option")
	ErrNotMember     = errors.New("response: user is not a group member")
	ErrTooLate       = errors.New("response: react timeout exceeded")
)

const (
	DefaultCooldown     = 2 * time.Second
	DefaultReactTimeout = 30 * time.Minute
)

// Surface shows overviews to recipients. Redraw replaces the overview of ar
// wherever it has been displayed.
type Surface interface {
	RedrawResponse(ctx context.Context, a *alert.Alert, ar *alert.AlertResponse, overview string) error
}

type Config struct {
	// Cooldown coalesces redraws of one overview.
	Cooldown     time.Duration
	ReactTimeout time.Duration
	Location     *time.Location
}

// Input is one button press or API call.
type Input struct {
	AlertResponseID string
	// UserID or TelegramID identify the responder among the group members.
	UserID     string
	TelegramID int64
	OptionID   string
	SinkID     string
	Timestamp  time.Time
}

// Aggregator records responses and redraws overviews when their text changes.
type Aggregator struct {
	repo storage.Repository
	bus  eventbus.Bus
	log  logx.Logger
	cfg  Config
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	deb    *Debouncer

	mu      sync.Mutex
	surface Surface
	shown   map[string]shownEntry // by alert response id
}

type shownEntry struct {
	fp string
	at time.Time
}

func New(repo storage.Repository, bus eventbus.Bus, log logx.Logger, cfg Config) *Aggregator {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.ReactTimeout <= 0 {
		cfg.ReactTimeout = DefaultReactTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Aggregator{
		repo:   repo,
		bus:    bus,
		log:    log.With(logx.String("comp", "response")),
		cfg:    cfg,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		deb:    NewDebouncer(ctx, cfg.Cooldown),
		shown:  map[string]shownEntry{},
	}
}

// SetSurface connects the component that displays overviews.
func (g *Aggregator) SetSurface(s Surface) {
	g.mu.Lock()
	g.surface = s
	g.mu.Unlock()
}

// Render returns the overview text of ar.
func (g *Aggregator) Render(ar *alert.AlertResponse) string {
	return Render(ar, RenderOptions{Location: g.cfg.Location})
}

// Shown records that the overview of ar was displayed for a. Redraws with
// identical content are skipped.
func (g *Aggregator) Shown(a *alert.Alert, ar *alert.AlertResponse) {
	fp := fingerprint(a, g.Render(ar))
	g.mu.Lock()
	g.shown[ar.ID] = shownEntry{fp: fp, at: g.now()}
	g.mu.Unlock()
}

// Record stores the response of one user, replacing an earlier one, and
// schedules a redraw of the overview.
func (g *Aggregator) Record(ctx context.Context, in Input) (*alert.AlertResponse, alert.UserResponse, error) {
	ar, err := g.repo.GetAlertResponse(ctx, in.AlertResponseID)
	if err != nil {
		return nil, alert.UserResponse{}, fmt.Errorf("response: load %s: %w", in.AlertResponseID, err)
	}
	grp, err := g.repo.GetGroup(ctx, ar.GroupID)
	if err != nil {
		return nil, alert.UserResponse{}, fmt.Errorf("response: group %s: %w", ar.GroupID, err)
	}
	if !grp.Response.Enabled {
		return nil, alert.UserResponse{}, ErrDisabled
	}

	options := grp.Response
	if len(options.Options) == 0 {
		options.Options = alert.DefaultResponseOptions()
	}
	opt, ok := options.Option(in.OptionID)
	if !ok {
		return nil, alert.UserResponse{}, fmt.Errorf("%w: %q", ErrUnknownOption, in.OptionID)
	}

	var user alert.User
	if in.UserID != "" {
		user, ok = grp.Member(in.UserID)
	} else {
		user, ok = grp.MemberByTelegramID(in.TelegramID)
	}
	if !ok {
		return nil, alert.UserResponse{}, ErrNotMember
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = g.now()
	}
	if ts.Sub(ar.CreatedAt) > g.cfg.ReactTimeout {
		return nil, alert.UserResponse{}, ErrTooLate
	}

	ur := alert.UserResponse{
		ID:        ulid.Make().String(),
		Timestamp: ts,
		UserID:    user.ID,
		UserName:  user.DisplayName(),
		Option:    opt,
		SinkID:    in.SinkID,
	}
	if err := g.repo.SaveUserResponse(ctx, ar.ID, ur); err != nil {
		return nil, alert.UserResponse{}, fmt.Errorf("response: save: %w", err)
	}
	ar.Upsert(ur)

	g.log.Info("response recorded",
		logx.String("alert_response", ar.ID),
		logx.String("user", user.ID),
		logx.String("option", opt.ID),
	)
	g.bus.Publish(eventbus.Event{Type: eventbus.ResponseRecorded, Time: ts, Data: eventbus.ResponseEvent{
		AlertResponseID: ar.ID,
		AlertID:         ar.AlertID,
		GroupID:         ar.GroupID,
		UserID:          user.ID,
		Type:            string(opt.Type),
	}})
	g.Refresh(ar.ID)
	return ar, ur, nil
}

// Refresh schedules a redraw of one overview. The channel receives the
// outcome once the debounced redraw ran.
func (g *Aggregator) Refresh(alertResponseID string) <-chan error {
	return g.deb.Trigger(alertResponseID, func(ctx context.Context) error {
		err := g.redraw(ctx, alertResponseID)
		if err != nil && !errors.Is(err, context.Canceled) {
			g.log.Warn("overview redraw failed", logx.String("alert_response", alertResponseID), logx.Err(err))
		}
		return err
	})
}

// RefreshAlert schedules redraws for every overview of an alert, e.g. after
// a merge changed its text.
func (g *Aggregator) RefreshAlert(ctx context.Context, alertID string) error {
	ars, err := g.repo.AlertResponsesForAlert(ctx, alertID)
	if err != nil {
		return fmt.Errorf("response: overviews of %s: %w", alertID, err)
	}
	for _, ar := range ars {
		g.Refresh(ar.ID)
	}
	return nil
}

func (g *Aggregator) redraw(ctx context.Context, id string) error {
	g.mu.Lock()
	surface := g.surface
	g.mu.Unlock()
	if surface == nil {
		return nil
	}
	ar, err := g.repo.GetAlertResponse(ctx, id)
	if err != nil {
		return err
	}
	a, err := g.repo.GetAlert(ctx, ar.AlertID)
	if err != nil {
		return err
	}
	text := g.Render(ar)
	fp := fingerprint(a, text)

	g.mu.Lock()
	same := g.shown[id].fp == fp
	g.mu.Unlock()
	if same {
		g.log.Debug("overview unchanged, skipping edit", logx.String("alert_response", id))
		return nil
	}
	if err := surface.RedrawResponse(ctx, a, ar, text); err != nil {
		return err
	}
	g.mu.Lock()
	g.shown[id] = shownEntry{fp: fp, at: g.now()}
	g.mu.Unlock()
	return nil
}

// Forget drops bookkeeping for overviews that can no longer change.
func (g *Aggregator) Forget(alertResponseID string) {
	g.deb.Cancel(alertResponseID)
	g.mu.Lock()
	delete(g.shown, alertResponseID)
	g.mu.Unlock()
}

// Sweep forgets overviews not redrawn for twice the react timeout; no
// response can change them anymore.
func (g *Aggregator) Sweep() int {
	cutoff := g.now().Add(-2 * g.cfg.ReactTimeout)
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, e := range g.shown {
		if e.at.Before(cutoff) {
			delete(g.shown, id)
			n++
		}
	}
	return n
}

// Close cancels pending redraws.
func (g *Aggregator) Close() {
	g.deb.Close()
	g.cancel()
}

func fingerprint(a *alert.Alert, overview string) string {
	if a == nil {
		return overview
	}
	return fmt.Sprintf("%d\x00%s\x00%s\x00%s\x00%t\x00%s", a.Info, a.Keyword, a.Message, a.Location, a.Silent, overview)
}
