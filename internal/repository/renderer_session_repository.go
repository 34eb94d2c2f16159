package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-station/internal/config"
)

// RendererSessionRepository tracks the one renderer attached to the station.
type RendererSessionRepository struct {
	rdb *redis.Client
}

// NewRendererSessionRepository creates a new RendererSessionRepository.
func NewRendererSessionRepository(rdb *redis.Client) *RendererSessionRepository {
	return &RendererSessionRepository{rdb: rdb}
}

// Register makes jti the attached renderer, replacing any earlier one.
func (r *RendererSessionRepository) Register(ctx context.Context, jti string, ttl time.Duration) error {
	return r.rdb.Set(ctx, config.CacheKey.RendererSessionKey(), jti, ttl).Err()
}

// Current returns the attached renderer's JTI, or "" when none is attached.
func (r *RendererSessionRepository) Current(ctx context.Context) (string, error) {
	jti, err := r.rdb.Get(ctx, config.CacheKey.RendererSessionKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return jti, err
}
