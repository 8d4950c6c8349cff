package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chequemate/backend/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel is the Redis pub/sub channel carrying per-user match events.
const Channel = "match_events"

// Event types delivered to clients
const (
	EventPlayerRedirected = "player-redirected"
	EventMatchStarted     = "match-started"
	EventVictory          = "victory-notification"
	EventMatchResult      = "match-result"
	EventDraw             = "draw-notification"
	EventPaymentStatus    = "payment-status-update"
)

// Event is what a connected client receives.
type Event struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

type envelope struct {
	UserID int64 `json:"user_id"`
	Event
}

// Notifier delivers an event to one user.
type Notifier interface {
	Notify(ctx context.Context, userID int64, ev Event) error
}

// Publisher fans events out through Redis so any API instance holding the
// user's socket can deliver them.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb, channel: Channel}
}

func (p *Publisher) Notify(ctx context.Context, userID int64, ev Event) error {
	payload, err := json.Marshal(envelope{UserID: userID, Event: ev})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// Subscribe forwards events from Redis to the hub until ctx is cancelled.
// It returns once the subscription is confirmed.
func Subscribe(ctx context.Context, rdb *redis.Client, hub *Hub) error {
	log := logger.L().Named("notify")

	pubsub := rdb.Subscribe(ctx, Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", Channel, err)
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		log.Info("match event subscriber started", zap.String("channel", Channel))
		for {
			select {
			case <-ctx.Done():
				log.Info("match event subscriber stopped")
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Warn("invalid event payload", zap.Error(err))
					continue
				}
				data, err := json.Marshal(env.Event)
				if err != nil {
					continue
				}
				if !hub.SendToUser(env.UserID, data) {
					log.Debug("no client for event", zap.Int64("user_id", env.UserID), zap.String("type", env.Type))
				}
			}
		}
	}()
	return nil
}

// Discard drops every event. Used when Redis is not available.
type Discard struct{}

func (Discard) Notify(context.Context, int64, Event) error { return nil }
