package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// PubSub is the subset of infra.GoRedisAdapter the relay uses.
type PubSub interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error)
}

// RedisRelay fans events out through a Redis channel so WebSocket clients
// connected to any instance see events from every instance. Local delivery
// happens when the message comes back from Redis; events this instance
// published are recognised by origin and delivered immediately instead.
type RedisRelay struct {
	*EventBus

	ps      PubSub
	channel string
	origin  string
	unsub   func()
	logger  *slog.Logger
}

type relayEnvelope struct {
	Origin string      `json:"origin"`
	Event  *CloudEvent `json:"event"`
}

func NewRedisRelay(ctx context.Context, bus *EventBus, ps PubSub, channel string, logger *slog.Logger) (*RedisRelay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &RedisRelay{
		EventBus: bus,
		ps:       ps,
		channel:  channel,
		origin:   uuid.NewString(),
		logger:   logger,
	}

	unsub, err := ps.Subscribe(ctx, channel, r.receive)
	if err != nil {
		return nil, fmt.Errorf("relay subscribe: %w", err)
	}
	r.unsub = unsub
	logger.Info("[Events] redis relay active", "channel", channel)
	return r, nil
}

func (r *RedisRelay) Emit(eventType, source, subject string, data map[string]interface{}) {
	event := NewCloudEvent(eventType, source, subject, data)
	r.EventBus.Publish(event)

	payload, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: event})
	if err != nil {
		r.logger.Error("[Events] marshal failed", "id", event.ID, "error", err)
		return
	}
	if err := r.ps.Publish(context.Background(), r.channel, payload); err != nil {
		r.logger.Warn("[Events] redis publish failed", "id", event.ID, "error", err)
	}
}

func (r *RedisRelay) receive(payload []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == nil {
		r.logger.Warn("[Events] dropping malformed relay message", "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.EventBus.Publish(env.Event)
}

func (r *RedisRelay) Close() {
	if r.unsub != nil {
		r.unsub()
	}
}

var (
	_ Emitter = (*EventBus)(nil)
	_ Emitter = (*RedisRelay)(nil)
)
