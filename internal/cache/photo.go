// Package cache is a Redis cache-aside layer for single photo lookups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sujalbistaa/skyarchive/internal/models"
)

// PhotoTTL bounds how long a like or report count may be served stale if an
// invalidation is lost.
const PhotoTTL = 5 * time.Minute

// PhotoCache stores visible photos by id. With a nil client every operation
// is a no-op and every lookup misses.
type PhotoCache struct {
	rdb *redis.Client
}

// New connects to redisURL. An empty URL, a bad URL or a failed ping disables
// caching rather than failing startup.
func New(redisURL string, log zerolog.Logger) *PhotoCache {
	if redisURL == "" {
		log.Info().Msg("redis: no URL configured, caching disabled")
		return &PhotoCache{}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis: invalid URL, caching disabled")
		return &PhotoCache{}
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis: connection failed, caching disabled")
		_ = rdb.Close()
		return &PhotoCache{}
	}

	log.Info().Msg("redis: connected, caching enabled")
	return &PhotoCache{rdb: rdb}
}

// Enabled reports whether a Redis client is configured.
func (c *PhotoCache) Enabled() bool {
	return c.rdb != nil
}

// Ping reports whether Redis answers. A disabled cache is always healthy.
func (c *PhotoCache) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// GetPhoto returns nil, nil on a miss.
func (c *PhotoCache) GetPhoto(ctx context.Context, id string) (*models.Photo, error) {
	if c.rdb == nil {
		return nil, nil
	}
	data, err := c.rdb.Get(ctx, photoKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p models.Photo
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode cached photo: %w", err)
	}
	p.Normalize()
	return &p, nil
}

func (c *PhotoCache) SetPhoto(ctx context.Context, p *models.Photo) error {
	if c.rdb == nil || p == nil {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, photoKey(p.ID), b, PhotoTTL).Err()
}

// InvalidatePhoto is called after every counter or moderation change.
func (c *PhotoCache) InvalidatePhoto(ctx context.Context, id string) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, photoKey(id)).Err()
}

func (c *PhotoCache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func photoKey(id string) string {
	return fmt.Sprintf("photo:%s", id)
}
