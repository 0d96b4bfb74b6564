// Package redisstore keeps the notification feed in Redis, for deployments
// where several dashboard instances share one operator feed.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/appointment-desk/backend/internal/storage/models"
	"github.com/redis/go-redis/v9"
)

// Store persists notifications under a single Redis key.
type Store struct {
	client redis.Cmdable
	key    string
}

// New creates a store. prefix namespaces the key and may be empty.
func New(client redis.Cmdable, prefix string) *Store {
	return &Store{client: client, key: prefix + models.NotificationsKey}
}

// Dial connects to Redis and checks the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Key returns the Redis key in use.
func (s *Store) Key() string {
	return s.key
}

// LoadNotifications returns the stored feed, or nil when the key is absent.
func (s *Store) LoadNotifications(ctx context.Context) ([]models.Notification, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.key, err)
	}
	var list []models.Notification
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.key, err)
	}
	return list, nil
}

// SaveNotifications replaces the stored feed. The key never expires.
func (s *Store) SaveNotifications(ctx context.Context, list []models.Notification) error {
	if list == nil {
		list = []models.Notification{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encoding notifications: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", s.key, err)
	}
	return nil
}

// PingContext checks the connection.
func (s *Store) PingContext(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
