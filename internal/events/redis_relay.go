package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay forwards dispatcher events to a Redis Pub/Sub channel so chat
// UIs and dashboards in other processes can react to protocol changes.
// Pub/Sub gives no delivery guarantee to absent subscribers; present ones
// may still see duplicates when the facade retries, so handlers stay
// idempotent either way.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisRelay creates the relay. A nil client disables forwarding.
func NewRedisRelay(client *redis.Client, channel string, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, logger: logger}
}

// RegisterHandlers subscribes the relay to every event type the facade emits.
func (r *RedisRelay) RegisterHandlers(dispatcher Dispatcher) {
	if r.client == nil || dispatcher == nil {
		return
	}
	for _, eventType := range []EventType{
		EventTicketCreated,
		EventTicketLocked,
		EventTicketUnlocked,
		EventTicketStatusChanged,
		EventTicketAssigneeChanged,
		EventTicketPriorityChanged,
		EventTicketRated,
		EventMessageAppended,
		EventMessageRead,
	} {
		dispatcher.Subscribe(eventType, r.forward)
	}
}

func (r *RedisRelay) forward(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("marshal event", zap.Error(err), zap.String("event_type", string(event.Type)))
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("publish event to redis",
			zap.Error(err),
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID))
		return err
	}
	return nil
}
