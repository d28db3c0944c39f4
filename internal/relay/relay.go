package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/groundlink/internal/logging"
)

// DefaultPollTimeout bounds each blocking queue read in the consumer loop.
const DefaultPollTimeout = time.Second

// Sink delivers one item downstream.
type Sink[T any] interface {
	Send(ctx context.Context, item T) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] func(ctx context.Context, item T) error

// Send calls f.
func (f SinkFunc[T]) Send(ctx context.Context, item T) error { return f(ctx, item) }

// MetricsRecorder observes relay activity.
type MetricsRecorder interface {
	RecordRelayed(err error)
	SetQueueDepth(n int)
}

// Option customises a Relay.
type Option func(*options)

type options struct {
	pollTimeout time.Duration
	log         logging.Logger
	metrics     MetricsRecorder
}

// WithPollTimeout overrides the consumer's queue poll timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollTimeout = d
		}
	}
}

// WithLogger sets the relay logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetricsRecorder reports forwarded items and queue depth to r.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(o *options) { o.metrics = r }
}

// Relay moves items from producers to a Sink on a single consumer goroutine.
// Producers may call Enqueue concurrently. Stop waits for every queued item
// to be forwarded before the consumer exits.
type Relay[T any] struct {
	queue *Queue[T]
	sink  Sink[T]
	opts  options

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
}

// New constructs a Relay delivering to sink.
func New[T any](sink Sink[T], opts ...Option) *Relay[T] {
	o := options{pollTimeout: DefaultPollTimeout, log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Relay[T]{
		queue: NewQueue[T](),
		sink:  sink,
		opts:  o,
		done:  make(chan struct{}),
	}
}

// Enqueue queues an item for delivery. It fails once Stop has been called.
func (r *Relay[T]) Enqueue(item T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	r.queue.Put(item)
	r.setDepth()
	return nil
}

// Pending returns the number of items queued or in flight.
func (r *Relay[T]) Pending() int { return r.queue.Unfinished() }

// Start launches the consumer. ctx bounds deliveries; cancelling it abandons
// whatever is still queued, so use Stop for an orderly shutdown.
func (r *Relay[T]) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if r.started {
		return fmt.Errorf("relay already started")
	}
	r.started = true
	go r.run(ctx)
	return nil
}

func (r *Relay[T]) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Relay[T]) run(ctx context.Context) {
	defer close(r.done)
	for {
		item, err := r.queue.Get(ctx, r.opts.pollTimeout)
		switch {
		case err == nil:
			r.forward(ctx, item)
		case errors.Is(err, ErrTimeout):
		default:
			r.opts.log.Warn(ctx, "relay consumer exiting", logging.Err(err), logging.Int("abandoned", r.queue.Len()))
			return
		}
		if r.isStopped() {
			r.drain(ctx)
			return
		}
	}
}

func (r *Relay[T]) drain(ctx context.Context) {
	n := 0
	for {
		item, ok := r.queue.TryGet()
		if !ok {
			break
		}
		r.forward(ctx, item)
		n++
	}
	r.opts.log.Debug(ctx, "relay drained", logging.Int("items", n))
}

func (r *Relay[T]) forward(ctx context.Context, item T) {
	err := r.sink.Send(ctx, item)
	if err != nil {
		r.opts.log.Warn(ctx, "failed to forward item", logging.Err(err))
	}
	if r.opts.metrics != nil {
		r.opts.metrics.RecordRelayed(err)
	}
	_ = r.queue.TaskDone()
	r.setDepth()
}

func (r *Relay[T]) setDepth() {
	if r.opts.metrics != nil {
		r.opts.metrics.SetQueueDepth(r.queue.Len())
	}
}

// Stop marks the relay stopped, waits for the queue to drain, then waits
// for the consumer to exit. ctx bounds the wait. A relay that was never
// started forwards its queue on the calling goroutine.
func (r *Relay[T]) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	if !started {
		r.drain(ctx)
		return nil
	}
	if err := r.queue.Join(ctx); err != nil {
		return fmt.Errorf("drain relay queue: %w", err)
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for relay consumer: %w", ctx.Err())
	}
}
