package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// PaperCache caches the sanitized paper of an exam in definition order.
// Get returns nil without error on a miss.
type PaperCache interface {
	Get(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error)
	Set(ctx context.Context, paper *model.ExamPaper) error
}

// RedisPaperCache stores papers as JSON strings in Redis.
type RedisPaperCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisPaperCache creates a new RedisPaperCache.
func NewRedisPaperCache(rdb *redis.Client, ttl time.Duration) *RedisPaperCache {
	return &RedisPaperCache{rdb: rdb, ttl: ttl}
}

func (c *RedisPaperCache) Get(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	raw, err := c.rdb.Get(ctx, config.CacheKey.ExamPaperKey(examID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get paper: %w", err)
	}

	var p model.ExamPaper
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode paper: %w", err)
	}
	return &p, nil
}

func (c *RedisPaperCache) Set(ctx context.Context, paper *model.ExamPaper) error {
	raw, err := json.Marshal(paper)
	if err != nil {
		return fmt.Errorf("encode paper: %w", err)
	}
	return c.rdb.Set(ctx, config.CacheKey.ExamPaperKey(paper.ExamID.String()), raw, c.ttl).Err()
}
