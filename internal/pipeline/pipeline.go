// Package pipeline connects alert candidates to recipients: it resolves
// candidates against recent history, routes new alerts, delivers them and
// propagates merges to messages that are already on screen.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/dedup"
	"pagerbuddy/internal/notify"
	"pagerbuddy/internal/response"
	"pagerbuddy/internal/routing"
	"pagerbuddy/internal/transport"
	logx "pagerbuddy/pkg/logx"
	"pagerbuddy/pkg/tgui"
)

// Resolver decides what a candidate means for the alert history. then runs
// before another candidate of the same unit is resolved.
type Resolver interface {
	ResolveThen(ctx context.Context, c alert.Candidate, then func(context.Context, dedup.Result) error) (dedup.Result, error)
}

// Router expands an alert into delivery targets.
type Router interface {
	Route(ctx context.Context, a *alert.Alert) (routing.Plan, error)
}

// Outcome is the result of handling one candidate.
type Outcome struct {
	Action dedup.Action
	Alert  *alert.Alert
	Reason string
	// Report is set when the alert was delivered.
	Report notify.Report
}

// Pipeline is the alert router.
type Pipeline struct {
	resolver Resolver
	router   Router
	notifier *notify.Notifier
	agg      *response.Aggregator
	log      logx.Logger
}

func New(resolver Resolver, router Router, notifier *notify.Notifier, agg *response.Aggregator, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		resolver: resolver,
		router:   router,
		notifier: notifier,
		agg:      agg,
		log:      log.With(logx.String("comp", "pipeline")),
	}
}

// Handle runs one candidate through the pipeline.
//
// A new alert is routed and delivered to every relevant sink. A merged alert
// only updates the messages and overviews already shown; push and webhook
// recipients are not notified again. A suppressed candidate has no effect
// beyond the history entry written by the resolver.
func (p *Pipeline) Handle(ctx context.Context, c alert.Candidate) (Outcome, error) {
	var out Outcome
	resolved := false
	res, err := p.resolver.ResolveThen(ctx, c, func(ctx context.Context, res dedup.Result) error {
		resolved = true
		out = Outcome{Action: res.Action, Alert: res.Alert, Reason: res.Reason}
		return p.fanOut(ctx, res, &out)
	})
	if err != nil && !resolved {
		return Outcome{}, fmt.Errorf("pipeline: resolve: %w", err)
	}
	if !resolved {
		out = Outcome{Action: res.Action, Alert: res.Alert, Reason: res.Reason}
	}
	return out, err
}

// fanOut runs with the unit locked, so a merge never overtakes the delivery
// of the alert it updates.
func (p *Pipeline) fanOut(ctx context.Context, res dedup.Result, out *Outcome) error {
	switch res.Action {
	case dedup.Create:
		plan, err := p.router.Route(ctx, res.Alert)
		if err != nil {
			return fmt.Errorf("pipeline: route %s: %w", res.Alert.ID, err)
		}
		if len(plan.Targets) == 0 {
			p.log.Warn("alert has no recipients", logx.String("alert", res.Alert.ID), logx.Int("unit", res.Alert.Unit.Code))
		}
		out.Report = p.notifier.Deliver(ctx, plan)

	case dedup.Merge:
		if err := p.notifier.Update(ctx, res.Alert); err != nil {
			p.log.Warn("merged alert not fully updated", logx.String("alert", res.Alert.ID), logx.Err(err))
		}
	}
	return nil
}

// Respond records a response from the API or another non-Telegram surface.
func (p *Pipeline) Respond(ctx context.Context, in response.Input) (*alert.AlertResponse, alert.UserResponse, error) {
	if p.agg == nil {
		return nil, alert.UserResponse{}, response.ErrDisabled
	}
	return p.agg.Record(ctx, in)
}

// OnButton handles inline response buttons. The reply is shown to the user
// who pressed the button.
func (p *Pipeline) OnButton(ctx context.Context, cb transport.Callback) (string, error) {
	arID, optID, ok := tgui.ParseResponseData(cb.Data)
	if !ok {
		return "", fmt.Errorf("pipeline: unknown callback %q", cb.Data)
	}
	_, ur, err := p.Respond(ctx, response.Input{
		AlertResponseID: arID,
		TelegramID:      cb.FromID,
		OptionID:        optID,
		SinkID:          strconv.FormatInt(cb.ChatID, 10),
	})
	switch {
	case err == nil:
		return "Recorded: " + ur.Option.Label, nil
	case errors.Is(err, response.ErrNotMember):
		return "You are not a member of this group.", err
	case errors.Is(err, response.ErrTooLate):
		return "Responses for this alert are closed.", err
	case errors.Is(err, response.ErrDisabled), errors.Is(err, response.ErrUnknownOption):
		return "This option is not available.", err
	default:
		p.log.Error("response not recorded", logx.String("alert_response", arID), logx.Int64("from", cb.FromID), logx.Err(err))
		return "Could not record your response, please retry.", err
	}
}
