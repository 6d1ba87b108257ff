package stream

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-tracker/domain"
)

// RedisRelay shares events between instances: Broadcast publishes to a Redis
// channel and Run feeds every message on that channel to the local hub.
type RedisRelay struct {
	rc      *redis.Client
	channel string
	hub     *Hub
	// reconnectDelay is the pause before resubscribing after the
	// subscription drops.
	reconnectDelay time.Duration
}

func NewRedisRelay(rc *redis.Client, channel string, hub *Hub) *RedisRelay {
	return &RedisRelay{rc: rc, channel: channel, hub: hub, reconnectDelay: time.Second}
}

// Broadcast publishes ev. When Redis is unavailable the event is still
// delivered to local subscribers.
func (r *RedisRelay) Broadcast(ctx context.Context, ev domain.Event) {
	frame, err := sonic.Marshal(ev)
	if err != nil {
		log.WithError(err).WithField("type", ev.Type).Error("failed to encode event")
		return
	}
	if err := r.rc.Publish(ctx, r.channel, frame).Err(); err != nil {
		log.WithError(err).WithField("type", ev.Type).Warn("event publish failed, delivering locally")
		r.hub.Send(frame)
	}
}

// Run relays channel messages to the hub until ctx is done, resubscribing
// when the subscription drops.
func (r *RedisRelay) Run(ctx context.Context) {
	for {
		sub := r.rc.Subscribe(ctx, r.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				r.hub.Send([]byte(msg.Payload))
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.WithField("channel", r.channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.reconnectDelay):
		}
	}
}
