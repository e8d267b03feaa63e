package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pagerbuddy/internal/alert"
	"pagerbuddy/internal/config"
	"pagerbuddy/internal/dedup"
	"pagerbuddy/internal/delivery"
	"pagerbuddy/internal/eventbus"
	"pagerbuddy/internal/health"
	"pagerbuddy/internal/httpapi"
	"pagerbuddy/internal/jobs"
	"pagerbuddy/internal/metrics"
	"pagerbuddy/internal/notify"
	"pagerbuddy/internal/pipeline"
	"pagerbuddy/internal/response"
	"pagerbuddy/internal/routing"
	rtsup "pagerbuddy/internal/runtime/supervisor"
	"pagerbuddy/internal/source"
	"pagerbuddy/internal/storage"
	"pagerbuddy/internal/transport"
	"pagerbuddy/internal/transport/push"
	"pagerbuddy/internal/transport/telegram"
	"pagerbuddy/internal/transport/webhook"
	logx "pagerbuddy/pkg/logx"
)

// App owns every long-running component of the server.
type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	repo storage.Repository

	bot    *telegram.Bot
	queues notify.Queues
	all    []*delivery.Queue

	engine   *dedup.Engine
	agg      *response.Aggregator
	notifier *notify.Notifier
	pipe     *pipeline.Pipeline
	sources  *source.Registry
	manual   *source.Manual
	health   *health.Monitor
	metrics  *metrics.Metrics
	api      *httpapi.API
	jobs     *jobs.Runner

	reactTimeout time.Duration
	sup          *rtsup.Supervisor
}

// New loads the config at cfgPath and builds the component graph. Nothing
// runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.Manager, cfg *config.Config) (a *App, err error) {
	logs, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	repo, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	defer func() {
		if err != nil {
			_ = repo.Close()
			_ = logs.Close()
		}
	}()
	log.Info("storage ready", logx.String("driver", firstNonEmpty(sc.Driver, "memory")))

	dc, err := mapDedupConfig(cfg)
	if err != nil {
		return nil, err
	}
	rc, err := mapResponseConfig(cfg, dc.Location)
	if err != nil {
		return nil, err
	}
	hs, err := mapHealthConfig(cfg, dc.Location)
	if err != nil {
		return nil, err
	}

	a = &App{
		cfgm:         cfgm,
		cfg:          cfg,
		log:          log,
		logs:         logs,
		bus:          bus,
		repo:         repo,
		metrics:      metrics.New(),
		reactTimeout: rc.ReactTimeout,
	}
	if err := a.buildChannels(cfg, root); err != nil {
		return nil, err
	}

	a.engine = dedup.New(repo, bus, root, dc)
	a.agg = response.New(repo, bus, root, rc)
	a.notifier = notify.New(a.queues, a.agg, root, mapNotifyConfig(cfg, dc.Location))
	a.pipe = pipeline.New(a.engine, routing.New(repo, root), a.notifier, a.agg, root)
	a.sources = source.NewRegistry(repo, a.pipe, root)
	if a.bot != nil {
		a.bot.OnCallback(a.pipe.OnButton)
	}
	if cfg.Logging.Forward.Enabled {
		logs.SetForwarder(a.notifier)
	}

	if err := a.registerSources(cfg); err != nil {
		return nil, err
	}

	channels := make([]health.Channel, 0, len(a.all))
	for _, q := range a.all {
		channels = append(channels, q)
		a.metrics.QueueLength(q.Name(), q.Len)
	}
	var admin health.Admin
	if a.queues.Telegram != nil && strings.TrimSpace(cfg.Telegram.AdminChat) != "" {
		admin = a.notifier
	}
	a.health = health.New(a.sources, channels, admin, repo, bus, root, hs.cfg)

	var metricsHandler http.Handler = a.metrics.Handler()
	a.api = httpapi.New(root, cfg.HTTP.ManualToken, httpapi.Deps{
		Trigger:   a.manual,
		Feed:      a.sources,
		Responder: a.pipe,
		Health:    a.health,
		Metrics:   metricsHandler,
		Pprof:     cfg.HTTP.Pprof,
	})

	a.jobs = jobs.New(root, dc.Location)
	if err := a.registerJobs(hs); err != nil {
		return nil, err
	}
	return a, nil
}

// buildChannels creates one delivery queue per configured transport.
func (a *App) buildChannels(cfg *config.Config, root logx.Logger) error {
	hooks := notify.SinkHooks(a.repo, root)
	add := func(ch transport.Channel, rate int, window time.Duration) (*delivery.Queue, error) {
		qc, err := mapDeliveryConfig(cfg, rate, window)
		if err != nil {
			return nil, err
		}
		q := delivery.New(ch, qc, root, a.bus, hooks)
		a.all = append(a.all, q)
		return q, nil
	}

	tc, window, err := mapTelegramConfig(cfg)
	if err != nil {
		return err
	}
	if tc.Token != "" {
		bot, err := telegram.New(tc, root.With(logx.String("comp", "telegram")))
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		a.bot = bot
		if a.queues.Telegram, err = add(bot, cfg.Telegram.RateLimit, window); err != nil {
			return err
		}
	} else {
		a.log.Warn("telegram token not set; telegram delivery disabled")
	}

	if cfg.Webhook.Enabled {
		wc, err := mapWebhookConfig(cfg)
		if err != nil {
			return err
		}
		if a.queues.Webhook, err = add(webhook.New(wc), cfg.Webhook.RateLimit, 0); err != nil {
			return err
		}
	}
	if cfg.Push.Enabled {
		pc, err := mapPushConfig(cfg)
		if err != nil {
			return err
		}
		ch, err := push.New(pc)
		if err != nil {
			return err
		}
		if a.queues.Push, err = add(ch, cfg.Push.RateLimit, 0); err != nil {
			return err
		}
	}
	return nil
}

// registerSources adds the manual producer and the configured external
// sources, whose candidates and heartbeats arrive over the API.
func (a *App) registerSources(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.manual = source.NewManual("", "manual trigger")
	if err := a.sources.Add(ctx, a.manual); err != nil {
		return err
	}
	for _, s := range cfg.Sources {
		src := alert.Source{ID: strings.TrimSpace(s.ID), Kind: alert.SourceKind(s.Kind), Description: s.Description}
		if src.ID == a.manual.Source().ID {
			continue
		}
		if err := a.sources.Register(ctx, src); err != nil {
			return err
		}
	}
	return nil
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Handler exposes the HTTP API, mainly for tests.
func (a *App) Handler() http.Handler { return a.api.Handler() }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.sup.Go0("metrics.consume", func(c context.Context) { a.metrics.Consume(c, a.bus) })
	a.sup.Go0("eventbus.log", a.logEvents)

	for _, q := range a.all {
		q.Start(run)
	}
	if a.bot != nil {
		if err := a.bot.Start(run); err != nil {
			return err
		}
	}
	a.sources.Start(run)
	a.jobs.Start(run)
	a.sup.Go0("health.initial", func(c context.Context) {
		if err := a.jobs.RunNow(c, jobHealth); err != nil && !errors.Is(err, jobs.ErrBusy) {
			a.log.Warn("initial health check failed", logx.Err(err))
		}
	})

	if addr := strings.TrimSpace(a.cfg.HTTP.Addr); addr != "" {
		h := a.api.Handler()
		a.sup.Go("http", func(c context.Context) error {
			return httpapi.Serve(c, addr, h, a.log.With(logx.String("comp", "http")))
		})
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateReload)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Int("channels", len(a.all)),
		logx.Bool("telegram", a.bot != nil),
		logx.String("http", a.cfg.HTTP.Addr),
	)
	return nil
}

func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "sources", 2*time.Second, a.sources.Stop)
	a.step(ctx, "jobs", 2*time.Second, a.jobs.Stop)
	for _, q := range a.all {
		a.step(ctx, "delivery."+q.Name(), 2*time.Second, q.Stop)
	}
	if a.bot != nil {
		a.step(ctx, "telegram", 2*time.Second, a.bot.Stop)
	}
	a.step(ctx, "response", time.Second, func(context.Context) error { a.agg.Close(); return nil })
	a.step(ctx, "supervisor", 6*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.repo.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline. A
// step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
