// Package cache tracks mailbox poll status in Redis so that
// operators and other services can inspect recent poll results
// without touching the database.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusKeyPrefix = "mail_poll_status:"

// PollStatus is a per-account summary of the most recent poll.
type PollStatus struct {
	AccountID     int64     `json:"account_id"`
	Host          string    `json:"host"`
	PolledAt      time.Time `json:"polled_at"`
	MessagesSeen  int       `json:"messages_seen"`
	Succeeded     bool      `json:"succeeded"`
	LastError     string    `json:"last_error,omitempty"`
	ErrorCount    int       `json:"error_count"`
	NextEligible  time.Time `json:"next_eligible"`
}

// StatusCache stores PollStatus entries with a TTL.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// StatusConfig configures the Redis connection for the status cache.
type StatusConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewStatusCache connects to Redis and verifies the connection.
func NewStatusCache(cfg StatusConfig) (*StatusCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusCache{client: client, ttl: ttl}, nil
}

func statusKey(accountID int64) string {
	return fmt.Sprintf("%s%d", statusKeyPrefix, accountID)
}

// Record stores the poll status for an account, replacing any prior entry.
func (c *StatusCache) Record(ctx context.Context, status PollStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal poll status: %w", err)
	}
	if err := c.client.Set(ctx, statusKey(status.AccountID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set poll status: %w", err)
	}
	return nil
}

// Get returns the stored status for an account, or (nil, nil) when absent.
func (c *StatusCache) Get(ctx context.Context, accountID int64) (*PollStatus, error) {
	data, err := c.client.Get(ctx, statusKey(accountID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get poll status: %w", err)
	}
	var status PollStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal poll status: %w", err)
	}
	return &status, nil
}

// Close releases the Redis connection.
func (c *StatusCache) Close() error {
	return c.client.Close()
}
