package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/harborchat/harbor/config"
)

// RedisClient is the coordination surface the services use: per-channel
// sequence numbers, the online-state mirror, and the pub/sub event mirror.
type RedisClient interface {
	Close() error
	Ping(ctx context.Context) error
	NextSeq(ctx context.Context, channelID string) (int64, error)
	SetUserOnline(ctx context.Context, userID string, ttl time.Duration) error
	IsUserOnline(ctx context.Context, userID string) (bool, error)
	RemoveUserOnline(ctx context.Context, userID string) error
	Publish(ctx context.Context, channel string, message any) error
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type Client struct {
	client *redis.Client
}

func NewClient(cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Client{client: rdb}, nil
}

// NewClientFromRedis wraps an existing go-redis client. Used by tests with
// miniredis.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{client: rdb}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// NextSeq atomically increments the channel's commit sequence.
func (c *Client) NextSeq(ctx context.Context, channelID string) (int64, error) {
	return c.client.Incr(ctx, "channel:seq:"+channelID).Result()
}

func (c *Client) SetUserOnline(ctx context.Context, userID string, ttl time.Duration) error {
	return c.client.Set(ctx, "user:online:"+userID, "1", ttl).Err()
}

func (c *Client) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.client.Exists(ctx, "user:online:"+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) RemoveUserOnline(ctx context.Context, userID string) error {
	return c.client.Del(ctx, "user:online:"+userID).Err()
}

func (c *Client) Publish(ctx context.Context, channel string, message any) error {
	return c.client.Publish(ctx, channel, message).Err()
}

func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.client.Subscribe(ctx, channels...)
}
