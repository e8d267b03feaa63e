package app

import (
	"context"
	"strings"

	"pagerbuddy/internal/config"
	logx "pagerbuddy/pkg/logx"
)

// validateReload rejects configs whose sections cannot be mapped even
// though they decode.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if _, err := mapDedupConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

// reloadLoop applies the sections that can change at runtime: logging and
// the alerting timings. Everything else is logged as needing a restart.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// keep only the newest of a burst
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.apply(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(newCfg))
	if newCfg.Logging.Forward.Enabled {
		a.logs.SetForwarder(a.notifier)
	} else {
		a.logs.SetForwarder(nil)
	}

	if dc, err := mapDedupConfig(newCfg); err != nil {
		a.log.Warn("invalid alerting config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(dc)
	}

	restart := config.RestartRequired(sections)
	if oldCfg != nil && oldCfg.Alerting.Confidential != newCfg.Alerting.Confidential {
		restart = append(restart, "alerting.confidential")
	}
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
