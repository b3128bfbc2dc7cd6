// Package notify delivers decision alerts to external sinks without blocking the caller.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"optionbot-go/internal/metrics"
)

// Event kinds.
const (
	KindBias   = "bias_decision"
	KindSignal = "signal_accepted"
	KindExit   = "position_exit"
)

// Event is one alert.
type Event struct {
	Kind      string         `json:"kind"`
	Subject   string         `json:"subject"`
	Direction string         `json:"direction,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	At        time.Time      `json:"at"`
}

// Sink delivers an event somewhere.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// Dispatcher queues events for a single delivery goroutine.
// A full queue drops the new event rather than blocking the producer.
type Dispatcher struct {
	sink    Sink
	log     zerolog.Logger
	timeout time.Duration
	queue   chan Event

	mu      sync.RWMutex
	closed  bool
	started atomic.Bool
	dropped atomic.Int64
	done    chan struct{}
}

// NewDispatcher builds a dispatcher with the given queue size. Call Start to begin delivery.
func NewDispatcher(sink Sink, buffer int, log zerolog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{
		sink:    sink,
		log:     log,
		timeout: 5 * time.Second,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
	}
}

// Enqueue never blocks. It reports whether the event was queued.
func (d *Dispatcher) Enqueue(ev Event) bool {
	if d == nil {
		return false
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.dropped.Add(1)
		metrics.NotificationsDropped.Inc()
		d.log.Warn().Str("kind", ev.Kind).Str("subject", ev.Subject).Msg("notification queue full, dropping")
		return false
	}
}

// Dropped counts events discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Start launches the delivery goroutine. It runs until ctx is cancelled or Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("kind", ev.Kind).Msg("notification sink panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.sink.Notify(ctx, ev); err != nil {
		d.log.Warn().Err(err).Str("kind", ev.Kind).Str("subject", ev.Subject).Msg("notification delivery failed")
	}
}

// Close stops accepting events and waits for the worker to drain what is queued.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	if d.started.Load() {
		<-d.done
	}
}

// LogSink writes events to the logger. It is the default when no webhook is configured.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Notify(_ context.Context, ev Event) error {
	s.Log.Info().
		Str("kind", ev.Kind).
		Str("subject", ev.Subject).
		Str("direction", ev.Direction).
		Fields(ev.Fields).
		Msg(ev.Message)
	return nil
}
