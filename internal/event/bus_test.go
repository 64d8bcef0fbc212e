package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testEvent(t Type) *WorkflowEvent {
	return New(t, "co-1", "PURCHASE_REQUEST", "pr-1")
}

func TestBusDeliversToMatchingListeners(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	var got []string

	bus.Subscribe(TypeEntityApproved, func(ctx context.Context, evt *WorkflowEvent) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "approved")
		return nil
	})
	bus.Subscribe(TypeEntityRejected, func(ctx context.Context, evt *WorkflowEvent) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "rejected")
		return nil
	})

	bus.Emit(context.Background(), testEvent(TypeEntityApproved))
	bus.Drain()

	assert.Equal(t, []string{"approved"}, got)
}

func TestBusWildcardSeesEverything(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	bus.Subscribe(Wildcard, func(ctx context.Context, evt *WorkflowEvent) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})

	bus.Emit(context.Background(), testEvent(TypeEntityApproved))
	bus.Emit(context.Background(), testEvent(TypeEntityRejected))
	bus.Emit(context.Background(), testEvent(TypeWorkflowCompleted))
	bus.Drain()

	assert.Equal(t, 3, count)
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	unsub := bus.Subscribe(TypeEntityApproved, func(ctx context.Context, evt *WorkflowEvent) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})

	bus.Emit(context.Background(), testEvent(TypeEntityApproved))
	bus.Drain()
	unsub()
	bus.Emit(context.Background(), testEvent(TypeEntityApproved))
	bus.Drain()

	assert.Equal(t, 1, count)
}

func TestBusIsolatesFailingAndPanickingListeners(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	healthy := 0
	bus.Subscribe(TypeEntityApproved, func(ctx context.Context, evt *WorkflowEvent) error {
		panic("listener bug")
	})
	bus.Subscribe(TypeEntityApproved, func(ctx context.Context, evt *WorkflowEvent) error {
		return errors.New("listener failure")
	})
	bus.Subscribe(TypeEntityApproved, func(ctx context.Context, evt *WorkflowEvent) error {
		mu.Lock()
		defer mu.Unlock()
		healthy++
		return nil
	})

	// Emit must not panic and must still reach the healthy listener.
	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), testEvent(TypeEntityApproved))
		bus.Drain()
	})
	assert.Equal(t, 1, healthy)
}
