package app

import (
	"context"
	"time"

	"pagerbuddy/internal/jobs"
	logx "pagerbuddy/pkg/logx"
)

const (
	jobHealth = "health.check"
	jobPrune  = "history.prune"
	jobSweep  = "messages.sweep"
)

// registerJobs installs the periodic maintenance: health checks, history
// garbage collection and the sweep of response state for expired alerts.
func (a *App) registerJobs(hs healthSettings) error {
	defs := []jobs.Job{
		{
			Name:     jobHealth,
			Schedule: hs.schedule,
			Timeout:  30 * time.Second,
			Run: func(ctx context.Context) error {
				_, err := a.health.Check(ctx)
				return err
			},
		},
		{
			Name:     jobPrune,
			Schedule: hs.prune,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				n, err := a.engine.PruneHistory(ctx)
				if err == nil && n > 0 {
					a.log.Debug("history pruned", logx.Int64("entries", n))
				}
				return err
			},
		},
		{
			Name:     jobSweep,
			Schedule: hs.prune,
			Run: func(context.Context) error {
				overviews := a.agg.Sweep()
				msgs := a.notifier.Sweep(time.Now().Add(-a.reactTimeout))
				if overviews+msgs > 0 {
					a.log.Debug("expired alert state swept", logx.Int("overviews", overviews), logx.Int("alerts", msgs))
				}
				return nil
			},
		},
	}
	for _, j := range defs {
		if err := a.jobs.Add(j); err != nil {
			return err
		}
	}
	return nil
}

// Jobs exposes the maintenance runner history.
func (a *App) Jobs() []jobs.HistoryItem { return a.jobs.History() }
