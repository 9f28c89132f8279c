package cachex

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"sentinelai-backend/shared/config"
	"sentinelai-backend/shared/events"
)

type Client struct {
	redis *redis.Client
}

func New(cfg config.Config) (*Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Client{redis: rdb}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return errors.New("redis client not initialized")
	}
	return c.redis.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.redis == nil {
		return errors.New("redis client not initialized")
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, key, b, ttl).Err()
}

func (c *Client) PublishJSON(ctx context.Context, channel string, value any) error {
	if c == nil || c.redis == nil {
		return errors.New("redis client not initialized")
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.redis.Publish(ctx, channel, b).Err()
}

func (c *Client) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.redis
}

const lastEventTTL = time.Hour

// EventPublisher pushes appended events to live subscribers over pub/sub and
// keeps the most recent event of each type under mission:last:<type>.
type EventPublisher struct {
	client  *Client
	channel string
}

func NewEventPublisher(client *Client, channel string) *EventPublisher {
	if channel == "" {
		channel = events.TopicMissionEvents
	}
	return &EventPublisher{client: client, channel: channel}
}

func (p *EventPublisher) Name() string { return "redis" }

func (p *EventPublisher) Publish(ctx context.Context, e events.Event) error {
	env := events.NewEnvelope(p.channel, e, time.Now())
	if err := p.client.PublishJSON(ctx, p.channel, env); err != nil {
		return err
	}
	return p.client.SetJSON(ctx, "mission:last:"+string(e.EventType), e, lastEventTTL)
}
