package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "idempotency:"

// CachedStore answers replays from Redis and falls back to the wrapped store.
// The wrapped store stays the source of truth; Redis errors are logged and
// treated as cache misses.
type CachedStore struct {
	next   Store
	client *redis.Client
}

func NewCachedStore(next Store, client *redis.Client) *CachedStore {
	return &CachedStore{next: next, client: client}
}

type cachedRecord struct {
	TenantID    string          `json:"tenantId,omitempty"`
	RequestHash string          `json:"requestHash,omitempty"`
	Response    json.RawMessage `json:"response"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

func (s *CachedStore) Get(ctx context.Context, key string, now time.Time) (*Record, error) {
	raw, err := s.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	switch {
	case err == nil:
		var cached cachedRecord
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil && cached.ExpiresAt.After(now) {
			return &Record{
				Key:         key,
				TenantID:    cached.TenantID,
				RequestHash: cached.RequestHash,
				Response:    cached.Response,
				ExpiresAt:   cached.ExpiresAt,
			}, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		log.Warnf("[Idempotency] cache read failed for %s: %v", key, err)
	}

	rec, err := s.next.Get(ctx, key, now)
	if err != nil || rec == nil {
		return rec, err
	}
	s.remember(ctx, rec, now)
	return rec, nil
}

func (s *CachedStore) Save(ctx context.Context, rec Record, now time.Time) (*Record, bool, error) {
	stored, created, err := s.next.Save(ctx, rec, now)
	if err != nil {
		return nil, false, err
	}
	s.remember(ctx, stored, now)
	return stored, created, nil
}

func (s *CachedStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.next.PurgeExpired(ctx, now)
}

func (s *CachedStore) remember(ctx context.Context, rec *Record, now time.Time) {
	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return
	}
	payload, err := json.Marshal(cachedRecord{
		TenantID:    rec.TenantID,
		RequestHash: rec.RequestHash,
		Response:    rec.Response,
		ExpiresAt:   rec.ExpiresAt,
	})
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, cacheKeyPrefix+rec.Key, payload, ttl).Err(); err != nil {
		log.Warnf("[Idempotency] cache write failed for %s: %v", rec.Key, err)
	}
}
