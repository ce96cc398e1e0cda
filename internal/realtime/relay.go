package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/intermernet/climbsignups/internal/logger"
)

// envelope is what travels over the redis channel between instances.
type envelope struct {
	Origin  string  `json:"origin"`
	Topic   string  `json:"topic"`
	Message Message `json:"message"`
}

// Relay publishes to the local broker and mirrors every message to a redis
// channel, so live queries on other server instances see writes made here.
type Relay struct {
	broker  *Broker
	client  *redis.Client
	channel string
	origin  string
}

// NewRelay creates a Relay. The origin id lets Run ignore this instance's
// own messages when they come back from redis.
func NewRelay(broker *Broker, client *redis.Client, channel string) *Relay {
	return &Relay{
		broker:  broker,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// Publish delivers locally first, then forwards to redis. A redis failure
// is logged; local subscribers are already notified.
func (r *Relay) Publish(ctx context.Context, topic string, msg Message) int {
	delivered := r.broker.Publish(ctx, topic, msg)

	raw, err := json.Marshal(envelope{Origin: r.origin, Topic: topic, Message: msg})
	if err != nil {
		logger.Error.Printf("could not marshal relay message for %s: %v", topic, err)
		return delivered
	}
	if err := r.client.Publish(ctx, r.channel, raw).Err(); err != nil {
		logger.Warn.Printf("redis publish on %s failed: %v", r.channel, err)
	}
	return delivered
}

// Run forwards messages published by other instances to the local broker
// until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			logger.Warn.Printf("redis pubsub close error: %v", err)
		}
	}()

	logger.Info.Printf("realtime relay listening on redis channel %s", r.channel)
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, open := <-ch:
			if !open {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				logger.Warn.Printf("dropping malformed relay message: %v", err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.broker.Publish(ctx, env.Topic, env.Message)
		}
	}
}
