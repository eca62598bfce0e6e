package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ProcessedInteraction records that a command invocation finished.
type ProcessedInteraction struct {
	ID          string    `json:"id"`
	Command     string    `json:"command"`
	GuildID     string    `json:"guild_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// InteractionCache marks command invocations as processed so a redelivered
// command message is not executed twice.
type InteractionCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewInteractionCache(client *goredis.Client, ttl time.Duration) *InteractionCache {
	return &InteractionCache{client: client, ttl: ttl}
}

func (c *InteractionCache) key(id string) string { return fmt.Sprintf("knock:interaction:%s", id) }

// Get returns the processed marker, or nil when the interaction is unseen.
func (c *InteractionCache) Get(ctx context.Context, id string) (*ProcessedInteraction, error) {
	v, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p ProcessedInteraction
	if err := json.Unmarshal(v, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Mark stores the marker. It reports false when one already existed.
func (c *InteractionCache) Mark(ctx context.Context, p *ProcessedInteraction) (bool, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return false, err
	}
	return c.client.SetNX(ctx, c.key(p.ID), b, c.ttl).Result()
}
