// Package routing expands an alert into the sinks that must receive it.
package routing

import (
	"context"
	"fmt"
	"time"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/storage"
	logx "pagerbuddy/pkg/logx"
)

// Target is one concrete delivery: a sink reached through a group. User is
// set for personal sinks of group members.
type Target struct {
	Sink     alert.Sink
	Group    alert.Group
	User     *alert.User
	Response *alert.AlertResponse
}

// Plan is the result of routing an alert.
type Plan struct {
	Alert     *alert.Alert
	Groups    []alert.Group
	Responses map[string]*alert.AlertResponse // by group id
	Targets   []Target
}

// Match is the pure part of routing. A group is relevant when any of its
// units matches the alert or it holds the all-alerts unit; within relevant
// groups every group sink and member sink that is itself relevant becomes a
// target. A sink reachable through several groups is targeted once, through
// the first group in input order.
func Match(a *alert.Alert, groups []alert.Group) (relevant []alert.Group, targets []Target) {
	seen := map[string]struct{}{}
	add := func(t Target) {
		if _, dup := seen[t.Sink.ID]; dup {
			return
		}
		seen[t.Sink.ID] = struct{}{}
		targets = append(targets, t)
	}
	for _, g := range groups {
		if !g.IsRelevant(a) {
			continue
		}
		relevant = append(relevant, g)
		for _, s := range g.Sinks {
			if s.IsRelevant(a) {
				add(Target{Sink: s, Group: g})
			}
		}
		for i := range g.Members {
			u := g.Members[i]
			for _, s := range u.Sinks {
				if s.IsRelevant(a) {
					add(Target{Sink: s, Group: g, User: &u})
				}
			}
		}
	}
	return relevant, targets
}

// Router resolves groups from the repository and makes sure every relevant
// group has exactly one AlertResponse for the alert.
type Router struct {
	repo storage.Repository
	log  logx.Logger
	now  func() time.Time
}

func New(repo storage.Repository, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{repo: repo, log: log.With(logx.String("comp", "routing")), now: time.Now}
}

// Route builds the delivery plan for a. Calling it again for the same alert
// reuses the existing AlertResponses.
func (r *Router) Route(ctx context.Context, a *alert.Alert) (Plan, error) {
	groups, err := r.repo.GroupsForUnit(ctx, a.Unit.Code)
	if err != nil {
		return Plan{}, fmt.Errorf("routing: groups for unit %d: %w", a.Unit.Code, err)
	}
	relevant, targets := Match(a, groups)

	plan := Plan{Alert: a, Groups: relevant, Responses: make(map[string]*alert.AlertResponse, len(relevant))}
	for _, g := range relevant {
		ar, created, err := r.repo.EnsureAlertResponse(ctx, a.ID, g.ID, r.now())
		if err != nil {
			return Plan{}, fmt.Errorf("routing: alert response for group %s: %w", g.ID, err)
		}
		if created {
			r.log.Debug("alert response created", logx.String("alert", a.ID), logx.String("group", g.ID))
		}
		plan.Responses[g.ID] = ar
	}
	for _, t := range targets {
		t.Response = plan.Responses[t.Group.ID]
		plan.Targets = append(plan.Targets, t)
	}
	r.log.Info("alert routed",
		logx.String("alert", a.ID),
		logx.Int("groups", len(relevant)),
		logx.Int("targets", len(plan.Targets)),
	)
	return plan, nil
}
