package delivery

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"pagerbuddy/internal/eventbus"
	rtsup "pagerbuddy/internal/runtime/supervisor"
	"pagerbuddy/internal/transport"
	logx "pagerbuddy/pkg/logx"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type itemState int

const (
	stQueued itemState = iota
	stParked
	stSending
	stDone
)

type item struct {
	id         string
	job        Job
	enqueuedAt time.Time
	deadline   time.Time
	attempts   int
	migrated   bool
	futures    []*Future
	elem       *list.Element
	state      itemState
}

type refEntry struct {
	ref transport.MessageRef
	at  time.Time
}

const (
	refTTL        = 48 * time.Hour
	refPruneEvery = 256
)

// Queue delivers jobs to one channel, one at a time.
//
// Alert jobs are sent before standard jobs, FIFO within a tier. A token
// bucket caps the send rate. Flood and server errors pause the whole queue.
// The queue is the only owner of the references of messages it has sent.
type Queue struct {
	name  string
	ch    transport.Channel
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	hooks Hooks
	clk   clock

	limiter *rate.Limiter

	mu          sync.Mutex
	tiers       [2]*list.List
	queuedSend  map[string]*item
	queuedEdit  map[string]*item
	parked      map[string]*item
	inflight    *item
	refs        map[string]refEntry
	finished    int
	pausedUntil time.Time
	errorSince  time.Time
	stopped     bool
	sup         *rtsup.Supervisor

	wake chan struct{}
}

func New(ch transport.Channel, cfg Config, log logx.Logger, bus eventbus.Bus, hooks Hooks) *Queue {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Discard()
	}
	q := &Queue{
		name:       ch.Name(),
		ch:         ch,
		cfg:        cfg,
		log:        log.With(logx.String("comp", "delivery"), logx.String("channel", ch.Name())),
		bus:        bus,
		hooks:      hooks,
		clk:        realClock{},
		limiter:    rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.Rate)), cfg.Rate),
		queuedSend: map[string]*item{},
		queuedEdit: map[string]*item{},
		parked:     map[string]*item{},
		refs:       map[string]refEntry{},
		wake:       make(chan struct{}, 1),
	}
	q.tiers[Standard] = list.New()
	q.tiers[Alert] = list.New()
	return q
}

func (q *Queue) Name() string { return q.name }

// Start runs the dispatch loop until Stop or ctx cancellation.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sup != nil || q.stopped {
		return
	}
	q.sup = rtsup.New(ctx, rtsup.WithLogger(q.log), rtsup.WithCancelOnError(false))
	q.sup.GoRestart("delivery."+q.name, q.run, rtsup.WithPublishFirstError(true))
}

// Stop ends intake, waits for the loop and resolves every pending job as
// canceled.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = true
	sup := q.sup
	q.mu.Unlock()

	var err error
	if sup != nil {
		sup.Cancel()
		if werr := sup.Wait(ctx); errors.Is(werr, context.DeadlineExceeded) || errors.Is(werr, context.Canceled) {
			err = werr
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, l := range q.tiers {
		for e := l.Front(); e != nil; e = e.Next() {
			q.resolveLocked(e.Value.(*item), Result{Status: StatusCanceled, Err: ErrStopped})
			n++
		}
		l.Init()
	}
	for _, it := range q.parked {
		q.resolveLocked(it, Result{Status: StatusCanceled, Err: ErrStopped})
		n++
	}
	q.parked = map[string]*item{}
	q.queuedSend = map[string]*item{}
	q.queuedEdit = map[string]*item{}
	if n > 0 {
		q.log.Warn("queue stopped with pending jobs", logx.Int("pending", n))
	}
	return err
}

// Enqueue adds a job. Edits for a key whose message is still queued or in
// flight are folded into that job instead of being queued separately.
func (q *Queue) Enqueue(job Job) (*Future, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return nil, ErrStopped
	}
	if job.Priority != Alert {
		job.Priority = Standard
	}
	now := q.clk.Now()
	f := newFuture(q)

	if job.Kind == Edit {
		if job.Key == "" {
			return nil, errors.New("delivery: edit without key")
		}
		for _, it := range []*item{q.queuedSend[job.Key], q.queuedEdit[job.Key], q.parked[job.Key]} {
			if it != nil {
				q.absorbLocked(it, job, f, now)
				return f, nil
			}
		}
		if q.inflight != nil && q.inflight.job.Key == job.Key {
			it := q.newItem(job, now)
			it.state = stParked
			it.futures = []*Future{f}
			f.it = it
			q.parked[job.Key] = it
			return f, nil
		}
		if _, ok := q.refs[job.Key]; !ok {
			f.resolve(Result{Status: StatusFailed, Err: ErrUnknownMessage})
			return f, nil
		}
	}

	if q.lenLocked() >= q.cfg.QueueSize {
		return nil, ErrQueueFull
	}
	it := q.newItem(job, now)
	it.futures = []*Future{f}
	f.it = it
	q.pushLocked(it, false)
	q.signal()
	return f, nil
}

// Ref returns the reference of the message sent under key.
func (q *Queue) Ref(key string) (transport.MessageRef, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.refs[key]
	return e.ref, ok
}

// Len counts queued and parked jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Paused reports whether the channel is paused and until when.
func (q *Queue) Paused() (until time.Time, paused bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pausedUntil, q.clk.Now().Before(q.pausedUntil)
}

// ErrorSince is the start of the current failure streak, zero when healthy.
func (q *Queue) ErrorSince() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.errorSince
}

func (q *Queue) lenLocked() int {
	return q.tiers[Standard].Len() + q.tiers[Alert].Len() + len(q.parked)
}

func (q *Queue) newItem(job Job, now time.Time) *item {
	return &item{
		id:         uuid.NewString(),
		job:        job,
		enqueuedAt: now,
		deadline:   now.Add(q.maxLatency(job)),
	}
}

func (q *Queue) maxLatency(job Job) time.Duration {
	if job.MaxLatency > 0 {
		return job.MaxLatency
	}
	if job.Priority == Alert {
		return q.cfg.AlertMaxLatency
	}
	return q.cfg.StandardMaxLatency
}

// absorbLocked folds a newer edit into an existing job for the same key. A
// pending send keeps its target, deadline and notification options.
func (q *Queue) absorbLocked(it *item, job Job, f *Future, now time.Time) {
	if it.job.Kind == Send {
		it.job.Text = job.Text
		it.job.Options.Buttons = job.Options.Buttons
		it.job.Options.ParseMode = job.Options.ParseMode
	} else {
		it.job.Text = job.Text
		it.job.Options = job.Options
		it.deadline = now.Add(q.maxLatency(job))
	}
	if job.Priority > it.job.Priority {
		if it.state == stQueued {
			q.tiers[it.job.Priority].Remove(it.elem)
			it.job.Priority = job.Priority
			it.elem = q.tiers[it.job.Priority].PushBack(it)
		} else {
			it.job.Priority = job.Priority
		}
	}
	it.futures = append(it.futures, f)
	f.it = it
}

func (q *Queue) pushLocked(it *item, front bool) {
	l := q.tiers[it.job.Priority]
	if front {
		it.elem = l.PushFront(it)
	} else {
		it.elem = l.PushBack(it)
	}
	it.state = stQueued
	if it.job.Key == "" {
		return
	}
	if it.job.Kind == Send {
		q.queuedSend[it.job.Key] = it
	} else {
		q.queuedEdit[it.job.Key] = it
	}
}

func (q *Queue) unregisterLocked(it *item) {
	if it.job.Key == "" {
		return
	}
	for _, m := range []map[string]*item{q.queuedSend, q.queuedEdit, q.parked} {
		if m[it.job.Key] == it {
			delete(m, it.job.Key)
		}
	}
}

func (q *Queue) resolveLocked(it *item, r Result) {
	it.state = stDone
	r.Attempts = it.attempts
	for _, f := range it.futures {
		f.resolve(r)
	}
	it.futures = nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) cancel(f *Future) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, done := f.Result(); done {
		return false
	}
	it := f.it
	if it == nil || it.state == stSending || it.state == stDone {
		return false
	}
	for i, other := range it.futures {
		if other == f {
			it.futures = append(it.futures[:i], it.futures[i+1:]...)
			break
		}
	}
	f.resolve(Result{Status: StatusCanceled, Err: ErrCanceled, Attempts: it.attempts})
	if len(it.futures) == 0 {
		if it.state == stQueued {
			q.tiers[it.job.Priority].Remove(it.elem)
		}
		q.unregisterLocked(it)
		it.state = stDone
	}
	return true
}

// run is the dispatch loop.
func (q *Queue) run(ctx context.Context) error {
	for {
		wait, ready := q.poll()
		if !ready {
			var timer <-chan time.Time
			if wait > 0 {
				timer = q.clk.After(wait)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-q.wake:
			case <-timer:
			}
			continue
		}
		it, wait := q.next()
		if it == nil {
			if wait > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-q.clk.After(wait):
				}
			}
			continue
		}
		q.dispatch(ctx, it)
	}
}

// poll expires overdue jobs and reports whether a job can be sent now; when
// paused it returns the remaining pause.
func (q *Queue) poll() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clk.Now()
	q.expireLocked(now)
	if now.Before(q.pausedUntil) {
		return q.pausedUntil.Sub(now), false
	}
	return 0, q.tiers[Alert].Len()+q.tiers[Standard].Len() > 0
}

func (q *Queue) expireLocked(now time.Time) {
	for _, l := range q.tiers {
		for e := l.Front(); e != nil; {
			next := e.Next()
			it := e.Value.(*item)
			if now.After(it.deadline) {
				l.Remove(e)
				q.unregisterLocked(it)
				q.expiredLocked(it, now)
			}
			e = next
		}
	}
	for key, it := range q.parked {
		if now.After(it.deadline) {
			delete(q.parked, key)
			q.expiredLocked(it, now)
		}
	}
}

func (q *Queue) expiredLocked(it *item, now time.Time) {
	waited := now.Sub(it.enqueuedAt)
	q.log.Warn("delivery dropped after max latency",
		logx.String("job", it.id),
		logx.String("key", it.job.Key),
		logx.String("priority", it.job.Priority.String()),
		logx.Duration("waited", waited),
	)
	q.publish(eventbus.DeliveryExpired, it, "", 0, waited)
	q.resolveLocked(it, Result{Status: StatusExpired, Err: ErrExpired})
}

// next takes a send token together with the job to spend it on. Without a
// token it returns the wait until one is available; without a job the token
// is put back.
func (q *Queue) next() (*item, time.Duration) {
	now := q.clk.Now()
	r := q.limiter.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return nil, d
	}
	it := q.pop()
	if it == nil {
		r.CancelAt(now)
	}
	return it, 0
}

func (q *Queue) pop() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.clk.Now().Before(q.pausedUntil) {
		return nil
	}
	for _, p := range []Priority{Alert, Standard} {
		l := q.tiers[p]
		if e := l.Front(); e != nil {
			l.Remove(e)
			it := e.Value.(*item)
			q.unregisterLocked(it)
			it.state = stSending
			q.inflight = it
			return it
		}
	}
	return nil
}

func (q *Queue) call(ctx context.Context, it *item) (transport.MessageRef, error) {
	cctx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
	defer cancel()
	if it.job.Kind == Edit {
		ed, ok := q.ch.(transport.Editor)
		if !ok {
			return transport.MessageRef{}, transport.NewMalformed(transport.ErrEditUnsupported)
		}
		ref, ok := q.Ref(it.job.Key)
		if !ok {
			return transport.MessageRef{}, transport.NewMalformed(ErrUnknownMessage)
		}
		return ref, ed.Edit(cctx, ref, it.job.Text, it.job.Options)
	}
	return q.ch.Send(cctx, it.job.Target, it.job.Text, it.job.Options)
}

func (q *Queue) dispatch(ctx context.Context, it *item) {
	it.attempts++
	ref, err := q.call(ctx, it)
	if err == nil {
		q.finish(it, Result{Status: StatusSent, Ref: ref})
		return
	}
	if ctx.Err() != nil {
		q.requeueFront(it)
		return
	}

	ce := transport.Classify(err)
	log := q.log.With(
		logx.String("job", it.id),
		logx.String("key", it.job.Key),
		logx.String("target", it.job.Target.Address),
		logx.String("class", ce.Class.String()),
		logx.Int("attempt", it.attempts),
	)
	switch ce.Class {
	case transport.Malformed:
		log.Error("delivery rejected as malformed", logx.Err(err))
		q.finish(it, Result{Status: StatusFailed, Err: err})

	case transport.Forbidden:
		log.Warn("recipient refused delivery", logx.Err(err))
		if q.hooks.Deactivate != nil && it.job.SinkID != "" {
			q.hooks.Deactivate(ctx, it.job.SinkID, err)
		}
		q.finish(it, Result{Status: StatusFailed, Err: err})

	case transport.Flood:
		d := ce.RetryAfter
		if d <= 0 {
			d = q.cfg.FloodPause
		}
		q.markError()
		q.pause(d, it, ce)
		q.requeueFront(it)

	case transport.Server:
		q.markError()
		q.pause(q.cfg.ServerPause, it, ce)
		q.requeueFront(it)

	case transport.Migrated:
		if it.migrated || ce.MigrateTo == "" || it.job.Kind == Edit {
			log.Error("delivery target migrated and cannot be resent", logx.Err(err))
			q.finish(it, Result{Status: StatusFailed, Err: err})
			return
		}
		if q.hooks.Migrate != nil && it.job.SinkID != "" {
			if herr := q.hooks.Migrate(ctx, it.job.SinkID, ce.MigrateTo); herr != nil {
				log.Warn("sink migration not persisted", logx.Err(herr))
			}
		}
		log.Info("delivery target migrated, resending", logx.String("new_target", ce.MigrateTo))
		it.migrated = true
		it.job.Target.Address = ce.MigrateTo
		q.requeueFront(it)

	default:
		q.markError()
		if it.attempts > q.cfg.RetryMax {
			log.Warn("delivery failed after retries", logx.Err(err))
			q.finish(it, Result{Status: StatusFailed, Err: err})
			return
		}
		log.Debug("delivery failed, retrying", logx.Err(err))
		q.pause(retryDelay(q.cfg, it.attempts), it, ce)
		q.requeueFront(it)
	}
}

func (q *Queue) finish(it *item, r Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clk.Now()
	q.inflight = nil

	if r.Status == StatusSent {
		q.errorSince = time.Time{}
		if it.job.Key != "" {
			q.refs[it.job.Key] = refEntry{ref: r.Ref, at: now}
		}
		q.publish(eventbus.DeliverySent, it, "", 0, now.Sub(it.enqueuedAt))
	} else {
		q.publish(eventbus.DeliveryFailed, it, transport.Classify(r.Err).Class.String(), 0, now.Sub(it.enqueuedAt))
	}
	q.resolveLocked(it, r)

	if p := q.parked[it.job.Key]; p != nil && it.job.Key != "" {
		delete(q.parked, it.job.Key)
		if _, ok := q.refs[it.job.Key]; ok {
			q.pushLocked(p, true)
			q.signal()
		} else {
			q.resolveLocked(p, Result{Status: StatusFailed, Err: ErrUnknownMessage})
		}
	}

	q.finished++
	if q.finished%refPruneEvery == 0 {
		for k, e := range q.refs {
			if now.Sub(e.at) > refTTL {
				delete(q.refs, k)
			}
		}
	}
}

// requeueFront puts a job back at the head of its tier, folding in any edit
// that was parked while it was in flight.
func (q *Queue) requeueFront(it *item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight = nil
	if p := q.parked[it.job.Key]; p != nil && it.job.Key != "" {
		delete(q.parked, it.job.Key)
		for _, f := range p.futures {
			q.absorbLocked(it, p.job, f, q.clk.Now())
		}
		p.futures = nil
	}
	q.pushLocked(it, true)
	q.signal()
}

func (q *Queue) pause(d time.Duration, it *item, ce *transport.Error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	until := q.clk.Now().Add(d)
	if until.After(q.pausedUntil) {
		q.pausedUntil = until
	}
	q.log.Warn("channel paused", logx.Duration("pause", d), logx.String("class", ce.Class.String()), logx.Err(ce.Err))
	q.publish(eventbus.DeliveryPaused, it, ce.Class.String(), d, 0)
}

func (q *Queue) markError() {
	q.mu.Lock()
	if q.errorSince.IsZero() {
		q.errorSince = q.clk.Now()
	}
	q.mu.Unlock()
}

func (q *Queue) publish(typ string, it *item, class string, pause, latency time.Duration) {
	q.bus.Publish(eventbus.Event{Type: typ, Time: q.clk.Now(), Data: eventbus.DeliveryEvent{
		Channel:  q.name,
		JobID:    it.id,
		Priority: it.job.Priority.String(),
		Class:    class,
		Pause:    pause,
		Latency:  latency,
	}})
}
