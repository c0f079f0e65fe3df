package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis connection shared by the violation publisher and the
// failed transaction queue.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"` // key and channel namespace, default "invmon"
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb, prefix: prefixOrDefault(cfg.Prefix)}, nil
}

func prefixOrDefault(prefix string) string {
	if prefix == "" {
		return "invmon"
	}
	return strings.TrimSuffix(prefix, ":")
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func (c *Client) violationsChannel(protocol string) string {
	return fmt.Sprintf("%s:violations:%s", c.prefix, strings.ToLower(protocol))
}

func (c *Client) recentKey(protocol string) string {
	return fmt.Sprintf("%s:recent:%s", c.prefix, strings.ToLower(protocol))
}

func (c *Client) failedQueueKey(protocol string) string {
	return fmt.Sprintf("%s:failed_txs:%s", c.prefix, strings.ToLower(protocol))
}

func (c *Client) failedTxKey(protocol, id string) string {
	return fmt.Sprintf("%s:failed_tx:%s:%s", c.prefix, strings.ToLower(protocol), id)
}
