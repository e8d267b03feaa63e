package alert

import "strings"

// SinkKind selects the delivery transport of a sink.
type SinkKind string

const (
	SinkTelegram SinkKind = "telegram"
	SinkPush     SinkKind = "push"
	SinkWebhook  SinkKind = "webhook"
	SinkDefault  SinkKind = "default"
)

// OwnerKind tells whether a sink belongs to a user or a group.
type OwnerKind string

const (
	OwnerUser  OwnerKind = "user"
	OwnerGroup OwnerKind = "group"
)

// UnitSubscription gates sink relevance by unit.
type UnitSubscription struct {
	UnitCode int  `json:"unit_code"`
	Active   bool `json:"active"`
}

// Sink is a delivery endpoint: a Telegram chat, a push device, a webhook URL.
// Target is the transport address (chat id, device token, URL).
type Sink struct {
	ID            string             `json:"id"`
	Kind          SinkKind           `json:"kind"`
	Owner         OwnerKind          `json:"owner"`
	OwnerID       string             `json:"owner_id"`
	Target        string             `json:"target"`
	Active        bool               `json:"active"`
	Subscriptions []UnitSubscription `json:"subscriptions"`
}

// IsRelevant reports whether the sink wants the alert: it must be active and
// hold an active subscription for the alert's unit or the all-alerts unit.
func (s Sink) IsRelevant(a *Alert) bool {
	if !s.Active || a == nil {
		return false
	}
	for _, sub := range s.Subscriptions {
		if sub.Active && matchesUnit(sub.UnitCode, a.Unit.Code) {
			return true
		}
	}
	return false
}

// Subscribe adds or re-activates a subscription for code.
func (s *Sink) Subscribe(code int) {
	for i := range s.Subscriptions {
		if s.Subscriptions[i].UnitCode == code {
			s.Subscriptions[i].Active = true
			return
		}
	}
	s.Subscriptions = append(s.Subscriptions, UnitSubscription{UnitCode: code, Active: true})
}

// Unsubscribe removes the subscription for code.
func (s *Sink) Unsubscribe(code int) {
	out := s.Subscriptions[:0]
	for _, sub := range s.Subscriptions {
		if sub.UnitCode != code {
			out = append(out, sub)
		}
	}
	s.Subscriptions = out
}

func matchesUnit(subscribed, alerted int) bool {
	return subscribed == alerted || subscribed == AllAlertsUnitCode
}

// User is a person that receives alerts and may respond to them.
type User struct {
	ID         string `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	TelegramID int64  `json:"telegram_id,omitempty"`
	Sinks      []Sink `json:"sinks,omitempty"`
}

// DisplayName is the name shown in response overviews.
func (u User) DisplayName() string {
	n := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if n == "" {
		return u.ID
	}
	return n
}

// Group is a named collection of units of interest, member and leader users,
// a response configuration and group sinks (e.g. Telegram chat bindings).
type Group struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Units    []int          `json:"units"`
	Members  []User         `json:"members,omitempty"`
	Leaders  []string       `json:"leaders,omitempty"`
	Response ResponseConfig `json:"response"`
	Sinks    []Sink         `json:"sinks,omitempty"`
}

// IsRelevant reports whether any of the group's units matches the alert.
func (g Group) IsRelevant(a *Alert) bool {
	if a == nil {
		return false
	}
	for _, code := range g.Units {
		if matchesUnit(code, a.Unit.Code) {
			return true
		}
	}
	return false
}

// IsLeader reports whether userID leads the group.
func (g Group) IsLeader(userID string) bool {
	for _, id := range g.Leaders {
		if id == userID {
			return true
		}
	}
	return false
}

// Member returns the member with the given id.
func (g Group) Member(userID string) (User, bool) {
	for _, u := range g.Members {
		if u.ID == userID {
			return u, true
		}
	}
	return User{}, false
}

// MemberByTelegramID resolves a Telegram sender to a group member.
func (g Group) MemberByTelegramID(tgID int64) (User, bool) {
	if tgID == 0 {
		return User{}, false
	}
	for _, u := range g.Members {
		if u.TelegramID == tgID {
			return u, true
		}
	}
	return User{}, false
}
