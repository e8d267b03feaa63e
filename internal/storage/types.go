package storage

import (
	"context"
	"errors"
	"time"

	"pagerbuddy/internal/alert"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps, lost on restart (default)
//   - "sqlite": SQLite database file (pure Go driver)
//   - "postgres": PostgreSQL via DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Repository is the persistence API consumed by the pipeline.
//
// Lookups that find nothing return ErrNotFound. Groups and users are returned
// fully loaded: units, members, leaders and sinks with their subscriptions.
type Repository interface {
	GetUnit(ctx context.Context, code int) (alert.Unit, error)
	SaveUnit(ctx context.Context, u alert.Unit) error
	ListUnits(ctx context.Context) ([]alert.Unit, error)
	// DeleteUnit removes the unit with its alerts, history, group bindings
	// and sink subscriptions.
	DeleteUnit(ctx context.Context, code int) error

	GetSource(ctx context.Context, id string) (alert.Source, error)
	SaveSource(ctx context.Context, s alert.Source) error
	ListSources(ctx context.Context) ([]alert.Source, error)

	GetAlert(ctx context.Context, id string) (*alert.Alert, error)
	// LatestAlert returns the newest alert for unitCode with a timestamp at or
	// after since.
	LatestAlert(ctx context.Context, unitCode int, since time.Time) (*alert.Alert, error)
	// CommitAlert upserts the alert and its source set and appends h in one
	// transaction. Nothing is written when it fails.
	CommitAlert(ctx context.Context, a *alert.Alert, h alert.HistoryEntry) error

	AppendHistory(ctx context.Context, h alert.HistoryEntry) error
	// HistoryPeak returns the highest information content recorded for
	// unitCode at or after since; ok is false when there is no entry.
	HistoryPeak(ctx context.Context, unitCode int, since time.Time) (peak alert.InformationContent, ok bool, err error)
	PruneHistory(ctx context.Context, before time.Time) (int64, error)

	GetGroup(ctx context.Context, id string) (alert.Group, error)
	SaveGroup(ctx context.Context, g alert.Group) error
	ListGroups(ctx context.Context) ([]alert.Group, error)
	// GroupsForUnit returns groups bound to code or to the all-alerts unit.
	GroupsForUnit(ctx context.Context, code int) ([]alert.Group, error)

	GetUser(ctx context.Context, id string) (alert.User, error)
	SaveUser(ctx context.Context, u alert.User) error

	GetSink(ctx context.Context, id string) (alert.Sink, error)
	SaveSink(ctx context.Context, s alert.Sink) error
	SetSinkActive(ctx context.Context, id string, active bool) error
	SetSinkTarget(ctx context.Context, id, target string) error

	// EnsureAlertResponse returns the response record for (alertID, groupID),
	// creating it on first call. created reports whether this call made it.
	EnsureAlertResponse(ctx context.Context, alertID, groupID string, now time.Time) (ar *alert.AlertResponse, created bool, err error)
	GetAlertResponse(ctx context.Context, id string) (*alert.AlertResponse, error)
	AlertResponsesForAlert(ctx context.Context, alertID string) ([]*alert.AlertResponse, error)
	// SaveUserResponse replaces any earlier response of the same user.
	SaveUserResponse(ctx context.Context, alertResponseID string, r alert.UserResponse) error

	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	PutSetting(ctx context.Context, key, value string) error

	Close() error
}
