package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"pagerbuddy/internal/transport"
)

var (
	ErrStopped        = errors.New("delivery: queue stopped")
	ErrQueueFull      = errors.New("delivery: queue full")
	ErrCanceled       = errors.New("delivery: canceled")
	ErrExpired        = errors.New("delivery: max latency exceeded")
	ErrUnknownMessage = errors.New("delivery: no sent message for key")
)

// Priority orders jobs on one channel. Alert jobs always go first.
type Priority int

const (
	Standard Priority = iota
	Alert
)

func (p Priority) String() string {
	if p == Alert {
		return "alert"
	}
	return "standard"
}

// Kind selects the channel operation.
type Kind int

const (
	Send Kind = iota
	Edit
)

// Job is one outbound operation.
//
// Key names the logical message: a Send stores the resulting reference under
// Key, and an Edit with the same Key changes that message. A newer Edit
// replaces the text of a queued Send or Edit for the same Key.
type Job struct {
	Key      string
	Kind     Kind
	Target   transport.Target
	Text     string
	Options  transport.SendOptions
	Priority Priority
	// MaxLatency bounds how long the job may wait; 0 uses the priority default.
	MaxLatency time.Duration
	// SinkID lets migration and deactivation hooks update the persisted sink.
	SinkID string
}

// Status is the terminal state of a job.
type Status int

const (
	StatusSent Status = iota
	StatusFailed
	StatusExpired
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	case StatusExpired:
		return "expired"
	default:
		return "canceled"
	}
}

// Result is what a Future resolves to.
type Result struct {
	Status   Status
	Ref      transport.MessageRef
	Err      error
	Attempts int
}

// Future is the handle returned by Enqueue.
type Future struct {
	q    *Queue
	it   *item
	once sync.Once
	done chan struct{}
	res  Result
}

func newFuture(q *Queue) *Future {
	return &Future{q: q, done: make(chan struct{})}
}

func (f *Future) resolve(r Result) {
	f.once.Do(func() {
		f.res = r
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the job finished or ctx ends.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the result if available.
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return Result{}, false
	}
}

// Cancel withdraws the job if it has not been handed to the transport yet.
// It reports whether the cancellation took effect.
func (f *Future) Cancel() bool {
	if f.q == nil {
		return false
	}
	return f.q.cancel(f)
}

// Config tunes one channel queue.
type Config struct {
	// Rate sends per Window; bursts up to Rate.
	Rate   int
	Window time.Duration

	QueueSize int

	AlertMaxLatency    time.Duration
	StandardMaxLatency time.Duration

	// FloodPause is used when a flood error carries no retry-after.
	FloodPause  time.Duration
	ServerPause time.Duration

	// RetryMax caps attempts for unclassified failures.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Rate <= 0 {
		c.Rate = 10
	}
	if c.Window <= 0 {
		c.Window = time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.AlertMaxLatency <= 0 {
		c.AlertMaxLatency = 2 * time.Minute
	}
	if c.StandardMaxLatency <= 0 {
		c.StandardMaxLatency = 10 * time.Minute
	}
	if c.FloodPause <= 0 {
		c.FloodPause = 5 * time.Second
	}
	if c.ServerPause <= 0 {
		c.ServerPause = 3 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	return c
}

// Hooks connect permanent target changes back to persistence.
type Hooks struct {
	// Migrate is called before a job is resent to its new address.
	Migrate func(ctx context.Context, sinkID, newAddress string) error
	// Deactivate is called when a recipient refuses delivery.
	Deactivate func(ctx context.Context, sinkID string, cause error)
}
