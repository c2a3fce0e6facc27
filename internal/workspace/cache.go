package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lanebird/inbox-ai-platform/pkg/logging"
)

const defaultCacheTTL = 10 * time.Minute

// CachedProvider fronts a Provider with a Redis cache. Cache failures
// fall through to the inner provider; a cold or broken cache only costs
// latency.
type CachedProvider struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedProvider wraps the provider with a Redis cache.
func NewCachedProvider(inner Provider, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedProvider {
	if inner == nil {
		panic("workspace: inner provider cannot be nil")
	}
	if client == nil {
		panic("workspace: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedProvider{inner: inner, client: client, ttl: ttl, logger: logger}
}

func cacheKey(workspaceID string) string {
	return fmt.Sprintf("workspace:context:%s", workspaceID)
}

// LoadContext returns the cached context when present, otherwise loads
// from the inner provider and caches the result.
func (p *CachedProvider) LoadContext(ctx context.Context, workspaceID string) (*Context, error) {
	key := cacheKey(workspaceID)

	raw, err := p.client.Get(ctx, key).Result()
	if err == nil {
		var cached Context
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			return &cached, nil
		}
		// Corrupt entry: drop it and reload.
		_ = p.client.Del(ctx, key).Err()
	} else if !errors.Is(err, redis.Nil) {
		p.logger.Warn("workspace cache read failed", "error", err, "workspace_id", workspaceID)
	}

	loaded, err := p.inner.LoadContext(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	if data, jsonErr := json.Marshal(loaded); jsonErr == nil {
		if setErr := p.client.Set(ctx, key, data, p.ttl).Err(); setErr != nil {
			p.logger.Warn("workspace cache write failed", "error", setErr, "workspace_id", workspaceID)
		}
	}
	return loaded, nil
}

// Invalidate drops the cached context for a workspace.
func (p *CachedProvider) Invalidate(ctx context.Context, workspaceID string) error {
	if err := p.client.Del(ctx, cacheKey(workspaceID)).Err(); err != nil {
		return fmt.Errorf("workspace: cache invalidate: %w", err)
	}
	return nil
}
