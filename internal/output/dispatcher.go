// Package output delivers inference results to sinks: the log, the latest
// result cache behind the HTTP API, MQTT and the result history database.
//
// The worker hands results to a Dispatcher, which never blocks; sinks run on
// the dispatcher's own goroutine.
package output

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/inference"
	"github.com/tphakala/pitchnet-go/internal/logger"
	"github.com/tphakala/pitchnet-go/internal/observability/metrics"
)

// DefaultQueueSize is the dispatcher backlog when none is configured.
const DefaultQueueSize = 256

// Sink consumes results. Write is called from a single goroutine.
type Sink interface {
	Name() string
	Write(ctx context.Context, r inference.Result) error
	Close() error
}

// QueueObserver receives the dispatcher backlog after each delivery.
type QueueObserver interface {
	SetQueueDepth(n int)
}

// Dispatcher fans results out to sinks through a bounded queue.
type Dispatcher struct {
	queue    chan inference.Result
	sinks    []Sink
	recorder metrics.Recorder
	depth    QueueObserver
	dropped  atomic.Uint64
	emitted  atomic.Uint64

	errLimiter *rate.Limiter
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
	log        logger.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRecorder records dispatch and sink outcomes.
func WithRecorder(r metrics.Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithQueueObserver reports the backlog.
func WithQueueObserver(o QueueObserver) DispatcherOption {
	return func(d *Dispatcher) { d.depth = o }
}

// NewDispatcher creates a dispatcher delivering to sinks in order.
func NewDispatcher(queueSize int, sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		queue:      make(chan inference.Result, queueSize),
		sinks:      sinks,
		recorder:   metrics.NoOpRecorder{},
		errLimiter: rate.NewLimiter(rate.Every(5*time.Second), 3),
		log:        GetLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Go(func() { d.run(ctx) })
}

// Emit queues r. A full queue drops the result and counts it.
func (d *Dispatcher) Emit(r inference.Result) {
	select {
	case d.queue <- r:
		d.emitted.Add(1)
	default:
		d.dropped.Add(1)
		d.recorder.RecordOperation(metrics.OpEmit, metrics.StatusDropped)
	}
}

// Dropped returns the number of results discarded on a full queue.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Emitted returns the number of results accepted into the queue.
func (d *Dispatcher) Emitted() uint64 { return d.emitted.Load() }

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case r := <-d.queue:
			d.deliver(ctx, r)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

// drain delivers what is still queued at shutdown with a short deadline.
func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case r := <-d.queue:
			d.deliver(ctx, r)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, r inference.Result) {
	for _, s := range d.sinks {
		start := time.Now()
		err := d.write(ctx, s, r)
		d.recorder.RecordDuration(s.Name(), time.Since(start).Seconds())
		if err != nil {
			d.recorder.RecordError(s.Name(), string(errorType(err)))
			if d.errLimiter.Allow() {
				d.log.Warn("sink write failed",
					logger.String("sink", s.Name()),
					logger.Uint64("sequence", r.Sequence),
					logger.Error(err))
			}
			continue
		}
		d.recorder.RecordOperation(s.Name(), metrics.StatusSuccess)
	}
	if d.depth != nil {
		d.depth.SetQueueDepth(len(d.queue))
	}
}

func (d *Dispatcher) write(ctx context.Context, s Sink, r inference.Result) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("sink %s panicked: %v", s.Name(), p).
				Component("output").
				Category(errors.CategorySystem).
				Build()
		}
	}()
	return s.Write(ctx, r)
}

func errorType(err error) errors.ErrorCategory {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return errors.CategoryGeneric
}

// Close stops delivery after draining the queue and closes all sinks.
func (d *Dispatcher) Close() error {
	var errs []error
	d.closeOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
			d.wg.Wait()
		}
		for _, s := range d.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if n := d.dropped.Load(); n > 0 {
			d.log.Info("dispatcher closed with dropped results", logger.Uint64("dropped", n))
		}
	})
	return errors.Join(errs...)
}
