package activation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/straja-ai/vlaguard/internal/redact"
)

// Sink consumes decision log events (file, webhook, etc.).
type Sink interface {
	Name() string
	Deliver(context.Context, *Event) error
	Close(context.Context) error
}

// Stats is a point-in-time copy of emitter counters.
type Stats struct {
	Enqueued    uint64
	Dropped     uint64
	SinkSuccess map[string]uint64
	SinkFailure map[string]uint64
}

type sinkCounters struct {
	success atomic.Uint64
	failure atomic.Uint64
}

// Emitter buffers events and delivers them to sinks off the request path.
type Emitter struct {
	queue           chan *Event
	sinks           []Sink
	counters        map[string]*sinkCounters
	deliverTimeout  time.Duration
	shutdownTimeout time.Duration

	enqueued atomic.Uint64
	dropped  atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// EmitterConfig controls worker and queue sizing.
type EmitterConfig struct {
	QueueSize       int
	Workers         int
	DeliverTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// NewEmitter starts background workers delivering to sinks.
func NewEmitter(cfg EmitterConfig, sinks []Sink) *Emitter {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	deliverTimeout := cfg.DeliverTimeout
	if deliverTimeout <= 0 {
		deliverTimeout = 5 * time.Second
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 2 * time.Second
	}

	em := &Emitter{
		queue:           make(chan *Event, queueSize),
		sinks:           sinks,
		counters:        make(map[string]*sinkCounters, len(sinks)),
		deliverTimeout:  deliverTimeout,
		shutdownTimeout: shutdownTimeout,
	}
	for _, s := range sinks {
		em.counters[s.Name()] = &sinkCounters{}
	}

	for i := 0; i < workers; i++ {
		em.wg.Add(1)
		go em.worker()
	}
	return em
}

// Emit enqueues ev without blocking. A full queue drops the event.
func (e *Emitter) Emit(ev *Event) {
	if e == nil || ev == nil {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- ev:
		e.enqueued.Add(1)
	default:
		e.dropped.Add(1)
	}
}

// Close stops accepting events and waits up to the shutdown timeout for the
// queue to drain before closing sinks.
func (e *Emitter) Close(ctx context.Context) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, e.shutdownTimeout)
	defer cancel()

	select {
	case <-done:
	case <-waitCtx.Done():
	}

	for _, s := range e.sinks {
		if err := s.Close(waitCtx); err != nil {
			redact.Logf("activation: sink %s close error: %v", s.Name(), err)
		}
	}
}

// Stats copies the current counters.
func (e *Emitter) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	st := Stats{
		Enqueued:    e.enqueued.Load(),
		Dropped:     e.dropped.Load(),
		SinkSuccess: make(map[string]uint64, len(e.counters)),
		SinkFailure: make(map[string]uint64, len(e.counters)),
	}
	for name, c := range e.counters {
		st.SinkSuccess[name] = c.success.Load()
		st.SinkFailure[name] = c.failure.Load()
	}
	return st
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for ev := range e.queue {
		e.deliver(ev)
	}
}

func (e *Emitter) deliver(ev *Event) {
	for _, s := range e.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), e.deliverTimeout)
		err := s.Deliver(ctx, ev)
		cancel()

		c := e.counters[s.Name()]
		if err != nil {
			redact.Logf("activation: sink %s failed: %v", s.Name(), err)
			c.failure.Add(1)
			continue
		}
		c.success.Add(1)
	}
}
