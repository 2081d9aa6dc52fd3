package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/betting-exchange/pkg/contracts/events"
)

// DefaultChannel é o canal Redis Pub/Sub usado para levar eventos aos hubs WebSocket.
const DefaultChannel = "exchange_ws_broadcast"

// RedisPublisher publica envelopes no Redis Pub/Sub; qualquer processo com um Hub
// e StartRedisSubscriber ativo os entrega aos seus clientes.
type RedisPublisher struct {
	r       *redis.Client
	channel string
}

func NewRedisPublisher(r *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{r: r, channel: channel}
}

func (p *RedisPublisher) publish(ctx context.Context, room, event string, payload any) error {
	env, err := NewEnvelope(room, event, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.r.Publish(ctx, p.channel, b).Err()
}

func (p *RedisPublisher) PublishOrderMatched(ctx context.Context, e events.OrderMatched) error {
	return p.publish(ctx, MatchRoom(e.MarketID), EventOrdersUpdated, e)
}

func (p *RedisPublisher) PublishUserUpdated(ctx context.Context, e events.UserUpdated) error {
	return p.publish(ctx, UserRoom(e.UserID), EventUserUpdated, e)
}

// StartRedisSubscriber escuta o canal e repassa cada envelope ao hub até ctx ser cancelado.
func StartRedisSubscriber(ctx context.Context, log *zap.Logger, r *redis.Client, channel string, hub *Hub) {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg == nil {
					continue
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Warn("ws subscriber unmarshal", zap.Error(err))
					continue
				}
				hub.Broadcast(env)
			}
		}
	}()
}
