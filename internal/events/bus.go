package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the chat pipeline.
const (
	TypeHagglePenalty     = "shopkeeper.haggle.penalty"
	TypeHaggleReset       = "shopkeeper.haggle.reset"
	TypeCouponIssued      = "shopkeeper.coupon.issued"
	TypeToolFailed        = "shopkeeper.tool.failed"
	TypeProviderExhausted = "shopkeeper.provider.exhausted"
)

// Emitter publishes events. Both EventBus and RedisRelay satisfy it.
type Emitter interface {
	Emit(eventType, source, subject string, data map[string]interface{})
}

// CloudEvent is the CloudEvents 1.0 envelope. Subject carries the shopper
// identity the event concerns.
type CloudEvent struct {
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Subject     string                 `json:"subject,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

func NewCloudEvent(eventType, source, subject string, data map[string]interface{}) *CloudEvent {
	return &CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      source,
		ID:          uuid.NewString(),
		Time:        time.Now().UTC(),
		Subject:     subject,
		Data:        data,
	}
}

func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// Subscription receives events for one identity, or all identities when
// Identity is empty.
type Subscription struct {
	Identity string
	C        chan *CloudEvent
}

// EventBus is an in-process pub/sub bus. Slow subscribers drop events rather
// than stall a chat turn.
type EventBus struct {
	mu         sync.RWMutex
	subs       map[*Subscription]struct{}
	bufferSize int
	logger     *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		subs:       make(map[*Subscription]struct{}),
		bufferSize: 100,
		logger:     logger,
	}
}

// Subscribe registers a subscriber. Pass "" to receive every identity's events.
func (eb *EventBus) Subscribe(identity string) *Subscription {
	sub := &Subscription{Identity: identity, C: make(chan *CloudEvent, eb.bufferSize)}
	eb.mu.Lock()
	eb.subs[sub] = struct{}{}
	eb.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if _, ok := eb.subs[sub]; !ok {
		return
	}
	delete(eb.subs, sub)
	close(sub.C)
}

// Publish delivers event to every matching subscriber without blocking.
func (eb *EventBus) Publish(event *CloudEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for sub := range eb.subs {
		if sub.Identity != "" && sub.Identity != event.Subject {
			continue
		}
		select {
		case sub.C <- event:
		default:
			eb.logger.Warn("[Events] subscriber buffer full, dropping event", "type", event.Type, "identity", sub.Identity)
		}
	}
}

func (eb *EventBus) Emit(eventType, source, subject string, data map[string]interface{}) {
	eb.Publish(NewCloudEvent(eventType, source, subject, data))
}

func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}
