// Package redisstore implements session.Store backed by Redis, grounded on
// _examples/intelligencedev-manifold/internal/skills/redis_cache.go's
// redis.UniversalClient-based cache wrapper (Get/Set/Ping, redis.Nil
// handling) and go.mod's github.com/redis/go-redis/v9 dependency.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fudanyi/agentflow/internal/session"
)

// Store persists session.Snapshots as JSON strings under a "agentflow:session:"
// key prefix.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// Config configures a Store's Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	// TTL expires snapshots after the given duration of inactivity; zero
	// means snapshots never expire.
	TTL time.Duration
}

// New connects to Redis and verifies the connection with a Ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: ping: %w", err)
	}
	return &Store{client: client, ttl: cfg.TTL}, nil
}

func (s *Store) key(sessionID string) string {
	return "agentflow:session:" + sessionID
}

// Save writes snap under its session key, refreshing the TTL if configured.
func (s *Store) Save(ctx context.Context, snap session.Snapshot) error {
	if snap.SessionID == "" {
		return fmt.Errorf("redisstore: snapshot has empty session id")
	}
	snap.SavedAt = time.Now()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redisstore: marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snap.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: set: %w", err)
	}
	return nil
}

// Load reads the snapshot for sessionID, returning session.ErrNotFound when
// the key is absent.
func (s *Store) Load(ctx context.Context, sessionID string) (session.Snapshot, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return session.Snapshot{}, session.ErrNotFound
		}
		return session.Snapshot{}, fmt.Errorf("redisstore: get: %w", err)
	}
	var snap session.Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("redisstore: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Has reports whether a snapshot key exists for sessionID.
func (s *Store) Has(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: exists: %w", err)
	}
	return n > 0, nil
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
