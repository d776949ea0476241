package streaming

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/metrics"
)

// Sink writes one event to the client. Implementations need not be goroutine
// safe; the Outbox calls WriteEvent from a single goroutine.
type Sink interface {
	WriteEvent(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

func (f SinkFunc) WriteEvent(e Event) error { return f(e) }

// Outbox serializes the events of one session. Events are numbered and stamped in
// publish order and written by a single pump goroutine, so the client observes
// them in exactly that order.
type Outbox struct {
	sink   Sink
	logger *zap.Logger

	mu     sync.Mutex
	ch     chan Event
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	closed bool
	seq    uint64
	failed bool
}

// NewOutbox starts the writer pump. buffer bounds how far publishers may run
// ahead of the sink.
func NewOutbox(sink Sink, buffer int, logger *zap.Logger) *Outbox {
	if buffer <= 0 {
		buffer = 64
	}
	o := &Outbox{
		sink:   sink,
		logger: logger,
		ch:     make(chan Event, buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go o.pump()
	return o
}

// Emit publishes evt. It blocks while the buffer is full and returns false if the
// outbox was closed before the event could be queued.
func (o *Outbox) Emit(evt Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		metrics.EventsDropped.Inc()
		return false
	}
	select {
	case <-o.quit:
		metrics.EventsDropped.Inc()
		return false
	default:
	}
	evt.Seq = o.seq
	evt.Timestamp = time.Now().UTC()

	select {
	case o.ch <- evt:
	case <-o.quit:
		metrics.EventsDropped.Inc()
		return false
	}
	o.seq++
	return true
}

// Close stops accepting events, flushes what is queued and waits for the pump.
func (o *Outbox) Close() {
	o.once.Do(func() { close(o.quit) })
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	<-o.done
}

func (o *Outbox) pump() {
	defer close(o.done)
	for {
		select {
		case evt := <-o.ch:
			o.write(evt)
		case <-o.quit:
			for {
				select {
				case evt := <-o.ch:
					o.write(evt)
				default:
					return
				}
			}
		}
	}
}

func (o *Outbox) write(evt Event) {
	if o.failed {
		metrics.EventsDropped.Inc()
		return
	}
	if err := o.sink.WriteEvent(evt); err != nil {
		// Keep draining so publishers never block on a dead connection.
		o.failed = true
		metrics.EventsDropped.Inc()
		o.logger.Debug("Event write failed, discarding further events",
			zap.String("type", evt.Type),
			zap.Uint64("seq", evt.Seq),
			zap.Error(err))
	}
}
