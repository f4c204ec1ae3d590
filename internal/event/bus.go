// Package event carries scan lifecycle notifications between the
// orchestrator and anything observing it, decoupled through a buffered
// in-process bus.
package event

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies a category of event.
type Type string

// Events published over the lifetime of a scan run.
const (
	ScanStarted   Type = "scan.started"
	ScanCompleted Type = "scan.completed"
	ScanCancelled Type = "scan.cancelled"
	ScanFailed    Type = "scan.failed"
	ItemUpdated   Type = "item.updated"
)

// Event is one notification with a free-form payload.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler processes one event. Handlers run sequentially on the bus
// goroutine, so they must not block for long.
type Handler func(Event)

// Bus fans events out to subscribers through a buffered channel. Publishing
// never blocks the scan loop; a full buffer drops the event instead.
type Bus struct {
	ch     chan Event
	done   chan struct{}
	stop   sync.Once
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[Type][]Handler
}

// NewBus creates a bus with the given buffer size.
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		ch:     make(chan Event, bufSize),
		done:   make(chan struct{}),
		logger: logger,
		subs:   make(map[Type][]Handler),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// Publish enqueues an event, stamping the time if unset. Non-blocking.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.ch <- e:
	default:
		b.logger.Warn("event bus full, dropping event", "type", string(e.Type))
	}
}

// Start dispatches events until Stop is called, then drains whatever is
// still buffered. Run it in its own goroutine.
func (b *Bus) Start() {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-b.done:
			b.drain()
			return
		}
	}
}

// Stop ends dispatching after a final drain. Idempotent.
func (b *Bus) Stop() {
	b.stop.Do(func() { close(b.done) })
}

func (b *Bus) drain() {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := b.subs[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.call(h, e)
	}
}

// call isolates one handler so a panic cannot take down the bus goroutine.
func (b *Bus) call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "type", string(e.Type), "panic", r)
		}
	}()
	h(e)
}
