package statestore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	seenIDsKey       = "seen:ids"
	lastCheckKey     = "check:last"
	tokenFallbackKey = "session:token"
	cachePrefix      = "cache:"
)

// Store exposes the advisory state the page and the worker share.
type Store struct {
	client *Client
	logger *zap.Logger
}

// NewStore creates a store on top of an established client.
func NewStore(client *Client, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// AddSeenIDs records notification ids that have been surfaced as native
// alerts. SADD makes the at-most-once membership invariant hold even when the
// page and the worker write concurrently.
func (s *Store) AddSeenIDs(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	if err := s.client.rdb.SAdd(ctx, seenIDsKey, members...).Err(); err != nil {
		return fmt.Errorf("add seen ids: %w", err)
	}

	return nil
}

// SeenIDs returns the full seen-notification-id set.
func (s *Store) SeenIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.rdb.SMembers(ctx, seenIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read seen ids: %w", err)
	}
	return ids, nil
}

// SetLastCheck persists the wall-clock timestamp of the last periodic check.
func (s *Store) SetLastCheck(ctx context.Context, t time.Time) error {
	if err := s.client.rdb.Set(ctx, lastCheckKey, strconv.FormatInt(t.UnixMilli(), 10), 0).Err(); err != nil {
		return fmt.Errorf("set last check: %w", err)
	}
	return nil
}

// LastCheck returns the persisted last-check timestamp, or the zero time when
// no check has ever completed.
func (s *Store) LastCheck(ctx context.Context) (time.Time, error) {
	val, err := s.client.rdb.Get(ctx, lastCheckKey).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last check: %w", err)
	}

	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last check: %w", err)
	}

	return time.UnixMilli(ms), nil
}

// SaveTokenFallback persists the page's credential fallback. Owned by the
// page side; the worker never writes it.
func (s *Store) SaveTokenFallback(ctx context.Context, token string) error {
	if err := s.client.rdb.Set(ctx, tokenFallbackKey, token, 0).Err(); err != nil {
		return fmt.Errorf("save token fallback: %w", err)
	}
	return nil
}

// TokenFallback returns the persisted credential, or "" when absent.
func (s *Store) TokenFallback(ctx context.Context) (string, error) {
	val, err := s.client.rdb.Get(ctx, tokenFallbackKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get token fallback: %w", err)
	}
	return val, nil
}

// ClearTokenFallback removes the persisted credential on logout.
func (s *Store) ClearTokenFallback(ctx context.Context) error {
	if err := s.client.rdb.Del(ctx, tokenFallbackKey).Err(); err != nil {
		return fmt.Errorf("clear token fallback: %w", err)
	}
	return nil
}

// PurgeStaleCaches deletes every cache namespace except the one tagged with
// the current agent version. Runs once during activation so at most one
// version's cached resources survive. Returns the number of keys removed.
func (s *Store) PurgeStaleCaches(ctx context.Context, version string) (int, error) {
	keep := cachePrefix + version + ":"

	var purged int
	var cursor uint64
	for {
		keys, next, err := s.client.rdb.Scan(ctx, cursor, cachePrefix+"*", 100).Result()
		if err != nil {
			return purged, fmt.Errorf("scan caches: %w", err)
		}

		var stale []string
		for _, key := range keys {
			if !strings.HasPrefix(key, keep) {
				stale = append(stale, key)
			}
		}

		if len(stale) > 0 {
			if err := s.client.rdb.Del(ctx, stale...).Err(); err != nil {
				return purged, fmt.Errorf("delete stale caches: %w", err)
			}
			purged += len(stale)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if purged > 0 {
		s.logger.Info("stale cache namespaces purged",
			zap.Int("keys", purged),
			zap.String("kept_version", version),
		)
	}

	return purged, nil
}

// CacheSet writes a value into the current version's cache namespace.
func (s *Store) CacheSet(ctx context.Context, version, key, value string, ttl time.Duration) error {
	full := cachePrefix + version + ":" + key
	if err := s.client.rdb.Set(ctx, full, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// CacheGet reads a value from the current version's cache namespace.
// Returns "" when absent.
func (s *Store) CacheGet(ctx context.Context, version, key string) (string, error) {
	full := cachePrefix + version + ":" + key
	val, err := s.client.rdb.Get(ctx, full).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cache get: %w", err)
	}
	return val, nil
}
