// Package kbredis is an optional, fail-open KnowledgeBase backed by
// Redis: queries and source text are cached so repeated questions
// across sessions don't re-hit the same upstream source. Every method
// swallows transport errors into an empty result, per the
// KnowledgeBase capability's contract — this package never blocks the
// orchestration loop.
package kbredis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/swarmrepair/core/internal/obslog"
)

const defaultTTL = 24 * time.Hour

// KnowledgeBase is a Redis-backed KnowledgeBase capability
// implementation.
type KnowledgeBase struct {
	client *redis.Client
	ttl    time.Duration
}

// New parses redisURL (redis://[:password@]host:port[/db]) and pings
// it with a short timeout. Unlike Query and AddSourceText, which
// swallow Redis errors, a connection failure here is returned rather than silently
// degraded — callers decide whether a broken KB URL at startup should
// be fatal or simply skip wiring the capability.
func New(redisURL string) (*KnowledgeBase, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &KnowledgeBase{client: client, ttl: defaultTTL}, nil
}

func key(role, question string) string {
	return "kb:" + role + ":" + question
}

// Query looks up a cached answer for (role, question). Any Redis error
// — including a cache miss — yields an empty string, never an error,
// matching the capability's fail-open contract.
func (k *KnowledgeBase) Query(ctx context.Context, role, question string) (string, error) {
	val, err := k.client.Get(ctx, key(role, question)).Result()
	if err != nil {
		if err != redis.Nil {
			obslog.S().Debugw("kbredis: query failed, returning empty", "err", err)
		}
		return "", nil
	}
	return val, nil
}

// AddSourceText caches content under (role, title) for future Query
// calls. Errors are logged and swallowed.
func (k *KnowledgeBase) AddSourceText(ctx context.Context, role, title, content string) error {
	if err := k.client.Set(ctx, key(role, title), content, k.ttl).Err(); err != nil {
		obslog.S().Debugw("kbredis: add source text failed", "err", err)
	}
	return nil
}

// Close releases the underlying connection.
func (k *KnowledgeBase) Close() error {
	return k.client.Close()
}
