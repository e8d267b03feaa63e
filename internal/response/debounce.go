package response

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCanceled resolves waiters of a debounced run that was canceled.
var ErrCanceled = errors.New("response: debounced run canceled")

// Debouncer coalesces bursts of triggers per key into one trailing run.
//
// A newer trigger replaces the pending run; callers waiting on the replaced
// run are carried over and receive the result of the run that finally
// executes. Every returned channel receives exactly one value.
type Debouncer struct {
	delay time.Duration
	ctx   context.Context

	mu      sync.Mutex
	pending map[string]*debounced
	closed  bool
}

type debounced struct {
	timer   *time.Timer
	fn      func(ctx context.Context) error
	waiters []chan error
}

func NewDebouncer(ctx context.Context, delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay, ctx: ctx, pending: map[string]*debounced{}}
}

// Trigger schedules fn for key after the delay.
func (d *Debouncer) Trigger(key string, fn func(ctx context.Context) error) <-chan error {
	ch := make(chan error, 1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		ch <- ErrCanceled
		return ch
	}
	p := d.pending[key]
	if p != nil {
		p.timer.Stop()
	} else {
		p = &debounced{}
		d.pending[key] = p
	}
	p.fn = fn
	p.waiters = append(p.waiters, ch)
	p.timer = time.AfterFunc(d.delay, func() { d.fire(key, p) })
	return ch
}

func (d *Debouncer) fire(key string, p *debounced) {
	d.mu.Lock()
	if d.pending[key] != p {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	fn, waiters := p.fn, p.waiters
	d.mu.Unlock()

	err := fn(d.ctx)
	for _, w := range waiters {
		w <- err
	}
}

// Cancel drops the pending run for key and resolves its waiters with
// ErrCanceled. It reports whether a run was pending.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	p := d.pending[key]
	if p == nil || !p.timer.Stop() {
		d.mu.Unlock()
		return false
	}
	delete(d.pending, key)
	d.mu.Unlock()
	for _, w := range p.waiters {
		w <- ErrCanceled
	}
	return true
}

// Close cancels every pending run.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	var keys []string
	for k := range d.pending {
		keys = append(keys, k)
	}
	d.mu.Unlock()
	for _, k := range keys {
		d.Cancel(k)
	}
}

// Pending counts scheduled runs.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
