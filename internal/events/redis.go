package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisClient is the subset of *redis.Client the publisher uses.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes events as JSON to a Redis pub/sub channel so
// realtime gateways in other processes can fan them out.
type RedisPublisher struct {
	client  redisClient
	channel string
	timeout time.Duration
	log     zerolog.Logger
}

// NewRedisPublisher connects to url and verifies the connection.
func NewRedisPublisher(ctx context.Context, url, channel string, log zerolog.Logger) (*RedisPublisher, *redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("events: parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("events: ping redis: %w", err)
	}
	return newRedisPublisher(client, channel, log), client, nil
}

func newRedisPublisher(client redisClient, channel string, log zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, timeout: 2 * time.Second, log: log}
}

// Publish implements Publisher. It waits for Redis for at most the publish
// timeout, even when ctx is already cancelled. Failures are logged and dropped.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Error().Err(err).Str("type", e.Type).Msg("events: marshal")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.Warn().Err(err).Str("type", e.Type).Str("channel", p.channel).Msg("events: redis publish failed")
	}
}
