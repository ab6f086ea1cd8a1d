package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const relayChannel = "eventsync:broadcast"

type relayMessage struct {
	Origin  string          `json:"origin"`
	Exclude string          `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay shares broadcasts between server instances over Redis pub/sub.
// Messages published by this instance are ignored on receipt since the hub
// already delivered them locally.
type RedisRelay struct {
	client     *redis.Client
	hub        *Hub
	instanceID string
	logger     *slog.Logger
}

func NewRedisRelay(client *redis.Client, hub *Hub, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{
		client:     client,
		hub:        hub,
		instanceID: uuid.NewString(),
		logger:     logger,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, payload []byte, excludeDeviceID string) error {
	data, err := json.Marshal(relayMessage{
		Origin:  r.instanceID,
		Exclude: excludeDeviceID,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	if err := r.client.Publish(ctx, relayChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish relay message: %w", err)
	}
	return nil
}

// Run delivers messages from peer instances until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, relayChannel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to relay channel: %w", err)
	}
	r.logger.Info("broadcast relay subscribed", "channel", relayChannel, "instance_id", r.instanceID)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(data string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		r.logger.Warn("invalid relay message", "error", err)
		return
	}
	if msg.Origin == r.instanceID {
		return
	}
	r.hub.Deliver(msg.Payload, msg.Exclude)
}
