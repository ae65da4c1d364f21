// internal/common/database/redis.go
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"companion-workers/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the shared go-redis client and the namespace every
// redis-backed seen-set writes under.
type RedisClient struct {
	Client    *redis.Client
	KeyPrefix string
}

// NewRedis accepts either host:port or a redis:// URL as the address. An
// explicit password in cfg wins over one embedded in the URL.
func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	opts := &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	if strings.Contains(cfg.Address, "://") {
		parsed, err := redis.ParseURL(cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if cfg.Password != "" {
			parsed.Password = cfg.Password
		}
		opts = parsed
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	return &RedisClient{Client: redis.NewClient(opts), KeyPrefix: cfg.KeyPrefix}, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// Key joins the prefix and parts with ':'; empty parts are skipped.
func (c *RedisClient) Key(parts ...string) string {
	segs := make([]string, 0, len(parts)+1)
	for _, p := range append([]string{c.KeyPrefix}, parts...) {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return strings.Join(segs, ":")
}
