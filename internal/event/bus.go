package event

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Listener handles one event. Listeners run outside the emitter's call path;
// whatever they return or panic with is logged and goes no further.
type Listener func(ctx context.Context, evt *WorkflowEvent) error

// Bus is an in-process publish/subscribe fan-out.
//
// Contract: Emit returns immediately. Each subscriber is an independent unit
// of work; a listener failure or panic is log-only and never reaches the
// emitter or the workflow transition that produced the event.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Type]map[int]Listener
	nextID    int
	wg        sync.WaitGroup
	log       zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		listeners: make(map[Type]map[int]Listener),
		log:       log,
	}
}

// Subscribe registers a listener for an event type (or Wildcard) and returns
// an unsubscribe handle.
func (b *Bus) Subscribe(eventType Type, l Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.listeners[eventType] == nil {
		b.listeners[eventType] = make(map[int]Listener)
	}
	b.listeners[eventType][id] = l

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[eventType], id)
	}
}

// Emit delivers the event to every matching listener, each on its own
// goroutine, and returns without waiting for any of them.
func (b *Bus) Emit(ctx context.Context, evt *WorkflowEvent) {
	b.mu.RLock()
	var targets []Listener
	for _, l := range b.listeners[evt.EventType] {
		targets = append(targets, l)
	}
	for _, l := range b.listeners[Wildcard] {
		targets = append(targets, l)
	}
	b.mu.RUnlock()

	// Listener work must outlive the emitting request.
	ctx = context.WithoutCancel(ctx)
	for _, l := range targets {
		b.wg.Add(1)
		go b.dispatch(ctx, evt, l)
	}
}

// Drain blocks until all in-flight listener invocations finish. Used on
// shutdown and in tests; emitters never call it.
func (b *Bus) Drain() {
	b.wg.Wait()
}

func (b *Bus) dispatch(ctx context.Context, evt *WorkflowEvent, l Listener) {
	defer b.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			b.log.Error().
				Interface("panic", p).
				Str("event_id", evt.EventID).
				Str("event_type", string(evt.EventType)).
				Msg("event listener panicked")
		}
	}()

	if err := l(ctx, evt); err != nil {
		b.log.Warn().Err(err).
			Str("event_id", evt.EventID).
			Str("event_type", string(evt.EventType)).
			Msg("event listener failed")
	}
}
