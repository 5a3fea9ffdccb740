// Package redisstore keeps coordination records in Redis for deployments that
// share a Redis instance between clients instead of Nakama storage.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tictactoe/internal/domain"
	"tictactoe/internal/ports"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tictactoe:coordination:"

// Store implements ports.CoordinationStore with SETNX.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps an existing client. Records expire after ttl; 0 keeps them forever.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Open connects to a redis:// URL and checks the connection.
func Open(ctx context.Context, rawURL string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, ttl), nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func recordKey(ownerID, key string) string {
	return keyPrefix + ownerID + ":" + key
}

// Put stores rec under the caller's namespace unless a record is already there,
// in which case the stored record wins.
func (s *Store) Put(ctx context.Context, sess *domain.Session, rec domain.CoordinationRecord) (domain.CoordinationRecord, error) {
	if rec.Key == "" || rec.SessionID == "" {
		return domain.CoordinationRecord{}, fmt.Errorf("coordination record needs a key and a session id")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return domain.CoordinationRecord{}, fmt.Errorf("failed to marshal coordination record: %w", err)
	}

	stored, err := s.rdb.SetNX(ctx, recordKey(sess.UserID, rec.Key), raw, s.ttl).Result()
	if err != nil {
		return domain.CoordinationRecord{}, fmt.Errorf("failed to write coordination record: %w", err)
	}
	if stored {
		return rec, nil
	}

	existing, found, err := s.Get(ctx, sess, rec.Key, sess.UserID)
	if err != nil {
		return domain.CoordinationRecord{}, err
	}
	if !found {
		// expired between SETNX and GET
		return domain.CoordinationRecord{}, fmt.Errorf("coordination record %s vanished", rec.Key)
	}
	return existing, nil
}

// Get reads the record key written by ownerID.
func (s *Store) Get(ctx context.Context, _ *domain.Session, key, ownerID string) (domain.CoordinationRecord, bool, error) {
	raw, err := s.rdb.Get(ctx, recordKey(ownerID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CoordinationRecord{}, false, nil
	}
	if err != nil {
		return domain.CoordinationRecord{}, false, fmt.Errorf("failed to read coordination record: %w", err)
	}

	var rec domain.CoordinationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.CoordinationRecord{}, false, fmt.Errorf("failed to unmarshal coordination record: %w", err)
	}
	rec.Key = key
	return rec, true, nil
}

var _ ports.CoordinationStore = (*Store)(nil)
