// Package pubsub wraps a go-redis client with the two external channels
// this engine needs: mirroring fired TriggerEvents out, and receiving
// rule-mutation notices in, both over Redis pub/sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/apperrors"
	"github.com/p9labs/alertengine/internal/domain"
)

// TriggerChannel is the Redis pub/sub channel TriggerEvents are mirrored on.
const TriggerChannel = "triggers"

// RuleMutationChannel is the inbound channel the external rule store
// publishes rule CRUD notices on.
const RuleMutationChannel = "alertengine:rule-mutations"

// Client wraps a go-redis client with the engine's publish/subscribe surface.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// Config holds Redis connection parameters.
type Config struct {
	URL          string
	DB           int
	Password     string
	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	addr := cfg.URL
	addr = strings.TrimPrefix(addr, "redis://")
	addr = strings.TrimPrefix(addr, "rediss://")

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DB:          cfg.DB,
		Password:    cfg.Password,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, apperrors.New(apperrors.KindTransientUpstream, fmt.Errorf("redis connect: %w", err))
	}

	return &Client{rdb: rdb, logger: logger.Named("pubsub")}, nil
}

// PublishTrigger mirrors a fired TriggerEvent onto TriggerChannel.
func (c *Client) PublishTrigger(ctx context.Context, event domain.TriggerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return apperrors.New(apperrors.KindConfiguration, err)
	}
	if err := c.rdb.Publish(ctx, TriggerChannel, data).Err(); err != nil {
		c.logger.Warn("trigger mirror publish failed",
			zap.String("trigger_id", event.ID), zap.Error(err))
		return apperrors.New(apperrors.KindTransientUpstream, err)
	}
	return nil
}

// RuleMutation is the wire shape of an inbound rule CRUD notice.
type RuleMutation struct {
	Op   string      `json:"op"` // "upsert" | "remove" | "bulk_load"
	Rule *domain.Rule `json:"rule,omitempty"`
	ID   domain.RuleID `json:"id,omitempty"`
	Rules []domain.Rule `json:"rules,omitempty"`
}

// SubscribeRuleMutations returns a channel of decoded RuleMutation notices.
// Malformed payloads are logged and dropped rather than surfaced to the
// caller, matching C4's "never fail the index on one bad message" posture.
func (c *Client) SubscribeRuleMutations(ctx context.Context) <-chan RuleMutation {
	out := make(chan RuleMutation, 128)
	sub := c.rdb.Subscribe(ctx, RuleMutationChannel)

	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var mutation RuleMutation
				if err := json.Unmarshal([]byte(msg.Payload), &mutation); err != nil {
					c.logger.Warn("dropping malformed rule mutation message", zap.Error(err))
					continue
				}
				select {
				case out <- mutation:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Close releases the underlying Redis client.
func (c *Client) Close() error {
	return c.rdb.Close()
}
