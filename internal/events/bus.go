package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/logger"
)

// DefaultBufferSize is the per-subscriber queue length
const DefaultBufferSize = 256

// Handler processes a delivered event
type Handler func(event Event) error

// Subscription is one observer with its own queue and goroutine
type Subscription struct {
	ID     string
	Name   string
	types  map[EventType]struct{}
	ch     chan Event
	active atomic.Bool
}

func (s *Subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// IsActive returns whether subscription is active
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// BusStats tracks delivery counters
type BusStats struct {
	Published         int64 `json:"published"`
	Delivered         int64 `json:"delivered"`
	Dropped           int64 `json:"dropped"`
	HandlerErrors     int64 `json:"handler_errors"`
	ActiveSubscribers int   `json:"active_subscribers"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose queue is full misses the event and the drop is counted.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
	wg     sync.WaitGroup
	logger *logger.Logger

	published     atomic.Int64
	delivered     atomic.Int64
	dropped       atomic.Int64
	handlerErrors atomic.Int64
}

// NewBus creates an event bus
func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.NewNop()
	}
	return &Bus{
		subs:   make(map[string]*Subscription),
		logger: log,
	}
}

// Subscribe registers handler for the given types (all types when none given).
// The handler runs on a dedicated goroutine, one event at a time.
func (b *Bus) Subscribe(name string, bufferSize int, handler Handler, types ...EventType) *Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	sub := &Subscription{
		ID:    uuid.NewString(),
		Name:  name,
		types: make(map[EventType]struct{}, len(types)),
		ch:    make(chan Event, bufferSize),
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}
	sub.active.Store(true)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.active.Store(false)
		close(sub.ch)
		return sub
	}
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(sub, handler)

	return sub
}

func (b *Bus) run(sub *Subscription, handler Handler) {
	defer b.wg.Done()
	for event := range sub.ch {
		b.deliver(sub, handler, event)
	}
}

// deliver executes a handler with panic recovery
func (b *Bus) deliver(sub *Subscription, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerErrors.Add(1)
			b.logger.Error("event handler %s panicked on %s: %v", sub.Name, event.GetType(), r)
		}
	}()

	if err := handler(event); err != nil {
		b.handlerErrors.Add(1)
		b.logger.LogWarning("events", "handler %s failed on %s: %v", sub.Name, event.GetType(), err)
		return
	}
	b.delivered.Add(1)
}

// Publish enqueues event for every interested subscriber
func (b *Bus) Publish(event Event) {
	if event == nil {
		return
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.dropped.Add(1)
		return
	}

	for _, sub := range b.subs {
		if !sub.wants(event.GetType()) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			b.logger.Debug("event %s dropped for slow subscriber %s", event.GetType(), sub.Name)
		}
	}
}

// Unsubscribe stops delivery to sub; queued events are still handled
func (b *Bus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.ID]; !ok {
		return fmt.Errorf("subscription %s not found", sub.ID)
	}
	delete(b.subs, sub.ID)
	sub.active.Store(false)
	close(sub.ch)
	return nil
}

// Close stops accepting events and waits for subscribers to drain
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.active.Store(false)
		close(sub.ch)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

// Stats returns a snapshot of the bus counters
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	active := len(b.subs)
	b.mu.RUnlock()

	return BusStats{
		Published:         b.published.Load(),
		Delivered:         b.delivered.Load(),
		Dropped:           b.dropped.Load(),
		HandlerErrors:     b.handlerErrors.Load(),
		ActiveSubscribers: active,
	}
}
