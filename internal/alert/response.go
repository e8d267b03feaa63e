package alert

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// ResponseType is the kind of acknowledgement a recipient gives.
type ResponseType string

const (
	ResponseConfirm ResponseType = "confirm"
	ResponseDelay   ResponseType = "delay"
	ResponseDeny    ResponseType = "deny"
)

// ResponseOption is one answer a recipient can pick. ETA is the optional
// estimated arrival offset from the response time; zero means no ETA.
type ResponseOption struct {
	ID    string        `json:"id"`
	Label string        `json:"label"`
	Type  ResponseType  `json:"type"`
	ETA   time.Duration `json:"eta,omitempty"`
}

// ResponseConfig controls whether and how a group collects responses.
type ResponseConfig struct {
	Enabled bool             `json:"enabled"`
	Options []ResponseOption `json:"options,omitempty"`
}

// Option looks up a configured option by id.
func (c ResponseConfig) Option(id string) (ResponseOption, bool) {
	for _, o := range c.Options {
		if o.ID == id {
			return o, true
		}
	}
	return ResponseOption{}, false
}

// DefaultResponseOptions is used by groups that enable responses without
// configuring their own options.
func DefaultResponseOptions() []ResponseOption {
	return []ResponseOption{
		{ID: "5", Label: "5 min", Type: ResponseConfirm, ETA: 5 * time.Minute},
		{ID: "10", Label: "10 min", Type: ResponseConfirm, ETA: 10 * time.Minute},
		{ID: "15", Label: "15+ min", Type: ResponseConfirm, ETA: 15 * time.Minute},
		{ID: "later", Label: "Later", Type: ResponseDelay},
		{ID: "no", Label: "No", Type: ResponseDeny},
	}
}

// UserResponse is one user's answer on an AlertResponse.
type UserResponse struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id"`
	UserName  string         `json:"user_name"`
	Option    ResponseOption `json:"option"`
	SinkID    string         `json:"sink_id,omitempty"`
}

// ArrivalTime is the response time plus the option's ETA; ok is false when
// the option carries no ETA.
func (r UserResponse) ArrivalTime() (t time.Time, ok bool) {
	if r.Option.ETA <= 0 {
		return time.Time{}, false
	}
	return r.Timestamp.Add(r.Option.ETA), true
}

// AlertResponse tracks one group's acknowledgements for one alert.
// Responses are kept in arrival order with at most one entry per user.
type AlertResponse struct {
	ID        string         `json:"id"`
	AlertID   string         `json:"alert_id"`
	GroupID   string         `json:"group_id"`
	CreatedAt time.Time      `json:"created_at"`
	Responses []UserResponse `json:"responses"`
}

// NewAlertResponse creates the tracking record for (alertID, groupID).
func NewAlertResponse(alertID, groupID string, now time.Time) *AlertResponse {
	return &AlertResponse{
		ID:        ulid.Make().String(),
		AlertID:   alertID,
		GroupID:   groupID,
		CreatedAt: now,
	}
}

// Upsert stores r, replacing any earlier response by the same user. The new
// response moves to the end: arrival order reflects the latest answer.
func (ar *AlertResponse) Upsert(r UserResponse) {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	out := ar.Responses[:0]
	for _, old := range ar.Responses {
		if old.UserID != r.UserID {
			out = append(out, old)
		}
	}
	ar.Responses = append(out, r)
}

// ResponseOf returns the current response of userID.
func (ar *AlertResponse) ResponseOf(userID string) (UserResponse, bool) {
	for _, r := range ar.Responses {
		if r.UserID == userID {
			return r, true
		}
	}
	return UserResponse{}, false
}

// Clone returns a deep copy.
func (ar *AlertResponse) Clone() *AlertResponse {
	if ar == nil {
		return nil
	}
	cp := *ar
	cp.Responses = append([]UserResponse(nil), ar.Responses...)
	return &cp
}
