// Package redis holds the visitor cache and the voice notification bus.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"curiousminds/internal/config"

	goredis "github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss is returned by GetJSON for absent keys.
	ErrCacheMiss = goredis.Nil
	// ErrNotConfigured is returned by every call on a nil Client.
	ErrNotConfigured = errors.New("redis not configured")
)

const pingTimeout = 3 * time.Second

type Client struct {
	rdb *goredis.Client
}

// Addr applies the local defaults to cfg's host and port.
func Addr(cfg config.RedisConfig) string {
	host, port := cfg.Host, cfg.Port
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = 6379
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// New connects and pings; an unreachable server is an error.
func New(cfg config.RedisConfig) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     Addr(cfg),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", Addr(cfg), err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) ready() bool { return c != nil && c.rdb != nil }

// SetJSON stores v encoded as JSON under key for ttl.
func (c *Client) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	if !c.ready() {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, payload, ttl).Err()
}

// GetJSON decodes key into dst. A corrupt entry is deleted and reported as a miss.
func (c *Client) GetJSON(ctx context.Context, key string, dst interface{}) error {
	if !c.ready() {
		return ErrNotConfigured
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		_ = c.rdb.Del(ctx, key).Err()
		return ErrCacheMiss
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if !c.ready() {
		return ErrNotConfigured
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// PublishJSON sends v encoded as JSON to channel.
func (c *Client) PublishJSON(ctx context.Context, channel string, v interface{}) error {
	if !c.ready() {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", channel, err)
	}
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe returns once the server has confirmed the subscription, so nothing
// published afterwards is missed. Callers Close the result.
func (c *Client) Subscribe(ctx context.Context, channel string) (*goredis.PubSub, error) {
	if !c.ready() {
		return nil, ErrNotConfigured
	}
	sub := c.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return sub, nil
}

func (c *Client) Close() error {
	if !c.ready() {
		return nil
	}
	return c.rdb.Close()
}
