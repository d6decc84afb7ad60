package rag

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bonvision/receipt-processor/config"
)

const exemplarHashKey = "receipt_exemplars"

// RedisIndex keeps exemplars in a redis hash so they survive restarts
// and are shared between the server and worker processes. Vectors are
// compared in process; redis is storage here, not a vector engine.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(cfg *config.RedisConfig) *RedisIndex {
	return &RedisIndex{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		key: exemplarHashKey,
	}
}

func (ix *RedisIndex) Add(ctx context.Context, ex Exemplar) error {
	if ex.ID == "" {
		return fmt.Errorf("exemplar id is empty")
	}
	if len(ex.Vector) == 0 {
		return fmt.Errorf("exemplar vector is empty")
	}

	data, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("failed to marshal exemplar: %w", err)
	}
	if err := ix.client.HSet(ctx, ix.key, ex.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to store exemplar: %w", err)
	}
	return nil
}

func (ix *RedisIndex) Search(ctx context.Context, vec []float32, k int) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}

	entries, err := ix.client.HGetAll(ctx, ix.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load exemplars: %w", err)
	}

	scored := make([]Scored, 0, len(entries))
	for _, raw := range entries {
		var ex Exemplar
		if err := json.Unmarshal([]byte(raw), &ex); err != nil {
			continue
		}
		sim, ok := cosine(vec, ex.Vector)
		if !ok {
			continue
		}
		scored = append(scored, Scored{Exemplar: ex, Similarity: sim})
	}
	sortBySimilarity(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (ix *RedisIndex) Count(ctx context.Context) (int, error) {
	n, err := ix.client.HLen(ctx, ix.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count exemplars: %w", err)
	}
	return int(n), nil
}

func (ix *RedisIndex) Close() error {
	return ix.client.Close()
}
