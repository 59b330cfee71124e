package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan *CloudEvent) *CloudEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBusFiltersByIdentity(t *testing.T) {
	bus := NewEventBus(nil)
	u1 := bus.Subscribe("u1")
	all := bus.Subscribe("")
	defer bus.Unsubscribe(u1)
	defer bus.Unsubscribe(all)

	bus.Emit(TypeHagglePenalty, "/chat", "u2", nil)
	bus.Emit(TypeCouponIssued, "/chat", "u1", map[string]interface{}{"code": "SAVE10-AB"})

	ev := recv(t, u1.C)
	assert.Equal(t, TypeCouponIssued, ev.Type)
	assert.Equal(t, "1.0", ev.SpecVersion)
	assert.NotEmpty(t, ev.ID)

	assert.Equal(t, TypeHagglePenalty, recv(t, all.C).Type)
	assert.Equal(t, TypeCouponIssued, recv(t, all.C).Type)
	assert.Len(t, u1.C, 0)
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	bus := NewEventBus(nil)
	sub := bus.Subscribe("u1")
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestFullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus(nil)
	bus.bufferSize = 1
	sub := bus.Subscribe("u1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(TypeToolFailed, "/chat", "u1", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, sub.C, 1)
}

// loopback is a single-channel broker shared by relays in one test.
type loopback struct {
	mu       sync.Mutex
	handlers []func([]byte)
}

func (l *loopback) Publish(_ context.Context, _ string, msg []byte) error {
	l.mu.Lock()
	hs := append([]func([]byte){}, l.handlers...)
	l.mu.Unlock()
	for _, h := range hs {
		h(msg)
	}
	return nil
}

func (l *loopback) Subscribe(_ context.Context, _ string, h func([]byte)) (func(), error) {
	l.mu.Lock()
	l.handlers = append(l.handlers, h)
	l.mu.Unlock()
	return func() {}, nil
}

func TestRedisRelayCrossInstance(t *testing.T) {
	broker := &loopback{}
	ctx := context.Background()

	a, err := NewRedisRelay(ctx, NewEventBus(nil), broker, "events", nil)
	require.NoError(t, err)
	b, err := NewRedisRelay(ctx, NewEventBus(nil), broker, "events", nil)
	require.NoError(t, err)

	subA := a.Subscribe("u1")
	subB := b.Subscribe("u1")

	a.Emit(TypeHaggleReset, "/chat", "u1", nil)

	evA := recv(t, subA.C)
	evB := recv(t, subB.C)
	assert.Equal(t, evA.ID, evB.ID)
	// The origin instance must not see its own event twice.
	assert.Len(t, subA.C, 0)
}
