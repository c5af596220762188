package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Embeddings keeps a per-user history of embedding requests under a single
// embeddings:{username} key, mirroring how transcripts are stored.
type Embeddings struct {
	redis *redis.Client
}

func NewEmbeddings(rdb *redis.Client) *Embeddings {
	return &Embeddings{redis: rdb}
}

func (e *Embeddings) History(ctx context.Context, username string) ([]EmbeddingRecord, error) {
	raw, err := e.redis.Get(ctx, embeddingsKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []EmbeddingRecord{}, nil
		}
		return nil, fmt.Errorf("get embedding history: %w", err)
	}
	var history []EmbeddingRecord
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("decode embedding history: %w", err)
	}
	if history == nil {
		history = []EmbeddingRecord{}
	}
	return history, nil
}

func (e *Embeddings) Append(ctx context.Context, username, prompt string, embedding []float64) ([]EmbeddingRecord, error) {
	history, err := e.History(ctx, username)
	if err != nil {
		return nil, err
	}
	history = append(history, EmbeddingRecord{Prompt: prompt, Embedding: embedding})

	b, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding history: %w", err)
	}
	if err := e.redis.Set(ctx, embeddingsKey(username), string(b), 0).Err(); err != nil {
		return nil, fmt.Errorf("save embedding history: %w", err)
	}
	return history, nil
}
