// Package idempotency records the result of the first successful execution
// of an operation under a key and replays it for later calls with that key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/metrics"
)

const (
	PaymentTTL       = 30 * time.Minute
	RefundTTL        = 30 * time.Minute
	ComplianceTTL    = time.Hour
	ManualPaymentTTL = 24 * time.Hour
	// ForeverTTL outlives any realistic retry of an invoice request.
	ForeverTTL = 100 * 365 * 24 * time.Hour
)

type Ledger struct {
	store Store
	now   func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the clock used for expiry decisions.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Purge removes expired records.
func (l *Ledger) Purge(ctx context.Context) (int64, error) {
	return l.store.PurgeExpired(ctx, l.now())
}

type Options struct {
	Key      string
	TTL      time.Duration
	TenantID string
	// Request is hashed and stored next to the result for diagnostics.
	Request any
}

// Execute runs op at most once per live key. A stored result is decoded and
// returned with replayed=true without invoking op. A failing op stores
// nothing so the caller can retry with the same key. When two callers race
// past the lookup, both converge on the result that was stored first.
func Execute[T any](ctx context.Context, l *Ledger, opts Options, op func(ctx context.Context) (T, error)) (result T, replayed bool, err error) {
	var zero T
	if strings.TrimSpace(opts.Key) == "" {
		return zero, false, apperror.Validation("idempotencyKey", "must not be empty")
	}
	if opts.TTL <= 0 {
		return zero, false, apperror.Validation("ttl", "must be positive")
	}

	now := l.now()
	existing, err := l.store.Get(ctx, opts.Key, now)
	if err != nil {
		return zero, false, fmt.Errorf("idempotency lookup %s: %w", opts.Key, err)
	}
	if existing != nil {
		var stored T
		if err := json.Unmarshal(existing.Response, &stored); err != nil {
			return zero, false, fmt.Errorf("idempotency decode %s: %w", opts.Key, err)
		}
		metrics.IdempotencyReplays.WithLabelValues(Scope(opts.Key)).Inc()
		return stored, true, nil
	}

	result, err = op(ctx)
	if err != nil {
		return zero, false, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return zero, false, fmt.Errorf("idempotency encode %s: %w", opts.Key, err)
	}

	saved, created, err := l.store.Save(ctx, Record{
		Key:         opts.Key,
		TenantID:    opts.TenantID,
		RequestHash: RequestHash(opts.Request),
		Response:    payload,
		ExpiresAt:   now.Add(opts.TTL),
	}, now)
	if err != nil {
		// The side effect already happened; failing here would invite a
		// duplicate on retry.
		log.Errorf("[Idempotency] failed to persist result for %s: %v", opts.Key, err)
		return result, false, nil
	}

	if !created {
		var winner T
		if err := json.Unmarshal(saved.Response, &winner); err == nil {
			log.Warnf("[Idempotency] concurrent execution for %s, returning first stored result", opts.Key)
			return winner, true, nil
		}
	}
	return result, false, nil
}

// RequestHash returns the hex sha256 of the JSON encoding of req.
func RequestHash(req any) string {
	if req == nil {
		return ""
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Scope is the key prefix up to the first colon, used as a metrics label.
func Scope(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "custom"
}
