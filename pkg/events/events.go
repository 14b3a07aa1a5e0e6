// Package events fans number state changes out over Redis pub/sub so every
// API instance can stream them to public listeners.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Channel is the Redis channel number events are published on.
	Channel    = "numbers:events"
	publishTTL = 5 * time.Second
)

// Event types.
const (
	TypeClaimed  = "claimed"
	TypeReserved = "reserved"
	TypeReleased = "released"
	TypeUpdated  = "updated"
	TypeDeleted  = "deleted"
)

// NumberEvent is a public notification about one number. It never carries
// customer data.
type NumberEvent struct {
	Type        string    `json:"type"`
	NumberID    uuid.UUID `json:"number_id"`
	NumberValue string    `json:"number_value"`
	State       string    `json:"state"`
	At          int64     `json:"at"`
}

// Publisher publishes number events.
type Publisher interface {
	Publish(ctx context.Context, ev NumberEvent) error
}

// Nop drops every event; used when Redis is not configured.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, NumberEvent) error { return nil }

// RedisBus implements Publisher using Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBus creates a Redis pub/sub bridge for number events.
func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, logger: logger}
}

// Publish sends ev to Channel.
func (b *RedisBus) Publish(ctx context.Context, ev NumberEvent) error {
	if ev.At == 0 {
		ev.At = time.Now().Unix()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTTL)
	defer cancel()
	return b.client.Publish(ctx, Channel, body).Err()
}

// Subscribe calls handler for every event until the returned cancel function
// is called or ctx ends.
func (b *RedisBus) Subscribe(ctx context.Context, handler func(NumberEvent)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := b.client.Subscribe(ctx, Channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev NumberEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Debug("dropping malformed number event", zap.Error(err))
					continue
				}
				handler(ev)
			}
		}
	}()
	return cancelCtx, nil
}
