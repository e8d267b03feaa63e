// Package jobs runs periodic maintenance work on cron schedules: health
// checks, history pruning and the sweeps of in-memory bookkeeping.
//
// # Overlap
//
// A job never runs twice at the same time. A tick that fires while the
// previous run is still executing is skipped.
//
// # Lifecycle
//
// Jobs may be added before or after Start. Stop waits for running jobs
// until its context ends.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "pagerbuddy/pkg/logx"

	"github.com/robfig/cron/v3"
)

var (
	ErrUnknownJob = errors.New("jobs: unknown job")
	ErrBusy       = errors.New("jobs: job already running")
)

const defaultHistorySize = 64

// Job is one scheduled function.
type Job struct {
	Name     string
	Schedule string
	// Timeout bounds one run; 0 means no limit.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// HistoryItem records one finished run.
type HistoryItem struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type def struct {
	job     Job
	spec    string
	running atomic.Bool
}

// Runner is a cron scheduler for named jobs.
type Runner struct {
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser

	mu     sync.Mutex
	defs   map[string]*def
	order  []string
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	hmu     sync.Mutex
	history []HistoryItem
}

func New(log logx.Logger, loc *time.Location) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Runner{
		log: log.With(logx.String("comp", "jobs")),
		loc: loc,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*def{},
	}
}

// Add registers j. Names are unique.
func (r *Runner) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return errors.New("jobs: name and run func required")
	}
	ps, err := ParseSchedule(j.Schedule)
	if err != nil {
		return fmt.Errorf("jobs: %s: %w", j.Name, err)
	}
	spec := ps.CronSpec()
	if _, err := r.parser.Parse(spec); err != nil {
		return fmt.Errorf("jobs: %s: %w", j.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.defs[j.Name]; dup {
		return fmt.Errorf("jobs: %s already registered", j.Name)
	}
	d := &def{job: j, spec: spec}
	r.defs[j.Name] = d
	r.order = append(r.order, j.Name)
	if r.c != nil {
		return r.scheduleLocked(d)
	}
	return nil
}

// Start begins firing schedules.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.c = cron.New(cron.WithParser(r.parser), cron.WithLocation(r.loc))
	for _, name := range r.order {
		if err := r.scheduleLocked(r.defs[name]); err != nil {
			r.log.Error("job not scheduled", logx.String("job", name), logx.Err(err))
		}
	}
	r.c.Start()
	r.log.Info("jobs started", logx.Int("jobs", len(r.order)), logx.String("tz", r.loc.String()))
}

func (r *Runner) scheduleLocked(d *def) error {
	ctx := r.ctx
	_, err := r.c.AddFunc(d.spec, func() { r.exec(ctx, d) })
	return err
}

// Stop halts the schedules and waits for running jobs.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	c, cancel := r.c, r.cancel
	r.c, r.cancel = nil, nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	cancel()
	select {
	case <-c.Stop().Done():
		r.log.Info("jobs stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes a job synchronously, outside its schedule.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.Lock()
	d := r.defs[name]
	r.mu.Unlock()
	if d == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	ran, err := r.exec(ctx, d)
	if !ran {
		return ErrBusy
	}
	return err
}

// History returns the most recent runs, oldest first.
func (r *Runner) History() []HistoryItem {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	return append([]HistoryItem(nil), r.history...)
}

func (r *Runner) exec(ctx context.Context, d *def) (ran bool, err error) {
	if !d.running.CompareAndSwap(false, true) {
		r.log.Debug("job still running, tick skipped", logx.String("job", d.job.Name))
		return false, nil
	}
	defer d.running.Store(false)

	if d.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.job.Timeout)
		defer cancel()
	}
	start := time.Now()
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
				r.log.Error("job panicked", logx.String("job", d.job.Name), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = d.job.Run(ctx)
	}()

	item := HistoryItem{Name: d.job.Name, Started: start, Duration: time.Since(start)}
	if err != nil {
		item.Error = err.Error()
		r.log.Warn("job failed", logx.String("job", d.job.Name), logx.Err(err))
	} else {
		r.log.Debug("job ok", logx.String("job", d.job.Name), logx.Duration("took", item.Duration))
	}

	r.hmu.Lock()
	r.history = append(r.history, item)
	if len(r.history) > defaultHistorySize {
		r.history = r.history[len(r.history)-defaultHistorySize:]
	}
	r.hmu.Unlock()
	return true, err
}
