// Package idempotency remembers the confirmation returned for an
// Idempotency-Key so a repeated submission gets the same answer instead of a
// second order.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/electronics-store/internal/models"
)

const keyPrefix = "electronics-store:idempotency:"

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func Connect(redisURL string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewStore(client, ttl), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Lookup returns the record stored under key, if any.
func (s *Store) Lookup(ctx context.Context, key string) (*models.IdempotencyRecord, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get idempotency key: %w", err)
	}

	var record models.IdempotencyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &record, true, nil
}

// Remember stores record under key unless the key is already taken.
// The first stored record wins.
func (s *Store) Remember(ctx context.Context, key string, record models.IdempotencyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}

	if err := s.client.SetNX(ctx, keyPrefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}
