package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/database/dbtest"
)

type intentResult struct {
	IntentID string `json:"intentId"`
	Status   string `json:"status"`
}

type runResult struct {
	Run int `json:"run"`
}

func newTestLedger(t *testing.T, now *time.Time) (*Ledger, *GormStore) {
	t.Helper()
	store := NewGormStore(dbtest.New(t))
	return NewLedger(store).WithClock(func() time.Time { return *now }), store
}

func TestExecuteReplaysStoredResult(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger, _ := newTestLedger(t, &now)
	ctx := context.Background()

	calls := 0
	op := func(ctx context.Context) (intentResult, error) {
		calls++
		return intentResult{IntentID: "pi_1", Status: "requires_action"}, nil
	}

	first, replayed, err := Execute(ctx, ledger, Options{Key: "payment:o-1", TTL: PaymentTTL}, op)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := Execute(ctx, ledger, Options{Key: "payment:o-1", TTL: PaymentTTL}, func(ctx context.Context) (intentResult, error) {
		calls++
		return intentResult{IntentID: "pi_2"}, nil
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestExecuteFailureDoesNotPoisonKey(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger, store := newTestLedger(t, &now)
	ctx := context.Background()

	providerDown := errors.New("provider unreachable")
	_, _, err := Execute(ctx, ledger, Options{Key: "payment:o-2", TTL: PaymentTTL}, func(ctx context.Context) (intentResult, error) {
		return intentResult{}, providerDown
	})
	require.ErrorIs(t, err, providerDown)

	rec, err := store.Get(ctx, "payment:o-2", now)
	require.NoError(t, err)
	assert.Nil(t, rec)

	res, replayed, err := Execute(ctx, ledger, Options{Key: "payment:o-2", TTL: PaymentTTL}, func(ctx context.Context) (intentResult, error) {
		return intentResult{IntentID: "pi_ok"}, nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "pi_ok", res.IntentID)
}

func TestExecuteReRunsAfterExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger, _ := newTestLedger(t, &now)
	ctx := context.Background()

	calls := 0
	op := func(ctx context.Context) (runResult, error) {
		calls++
		return runResult{Run: calls}, nil
	}

	_, _, err := Execute(ctx, ledger, Options{Key: "compliance:t:s:export", TTL: time.Hour}, op)
	require.NoError(t, err)

	now = now.Add(59 * time.Minute)
	got, replayed, err := Execute(ctx, ledger, Options{Key: "compliance:t:s:export", TTL: time.Hour}, op)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, 1, got.Run)

	now = now.Add(2 * time.Minute)
	got, replayed, err = Execute(ctx, ledger, Options{Key: "compliance:t:s:export", TTL: time.Hour}, op)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 2, got.Run)
}

func TestExecuteConvergesOnFirstStoredResult(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger, store := newTestLedger(t, &now)
	ctx := context.Background()

	// Simulate a concurrent caller that stored its result between our
	// lookup and our save.
	res, replayed, err := Execute(ctx, ledger, Options{Key: "invoice:o-9", TTL: ForeverTTL}, func(ctx context.Context) (intentResult, error) {
		_, created, err := store.Save(ctx, Record{
			Key:       "invoice:o-9",
			Response:  []byte(`{"intentId":"winner","status":"issued"}`),
			ExpiresAt: now.Add(ForeverTTL),
		}, now)
		require.True(t, created)
		return intentResult{IntentID: "loser"}, err
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, "winner", res.IntentID)
}

func TestExecuteValidatesOptions(t *testing.T) {
	now := time.Now().UTC()
	ledger, _ := newTestLedger(t, &now)

	_, _, err := Execute(context.Background(), ledger, Options{Key: " ", TTL: time.Minute}, func(ctx context.Context) (int, error) {
		t.Fatal("operation must not run without a key")
		return 0, nil
	})
	assert.True(t, apperror.IsValidation(err))
}

func TestPurgeRemovesExpiredRecords(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger, store := newTestLedger(t, &now)
	ctx := context.Background()

	_, _, err := store.Save(ctx, Record{Key: "old", Response: []byte(`{"run":1}`), ExpiresAt: now.Add(-time.Minute)}, now.Add(-time.Hour))
	require.NoError(t, err)
	_, _, err = store.Save(ctx, Record{Key: "live", Response: []byte(`{"run":2}`), ExpiresAt: now.Add(time.Minute)}, now)
	require.NoError(t, err)

	n, err := ledger.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var count int64
	require.NoError(t, store.db.Model(&models.IdempotencyRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestKeyDerivation(t *testing.T) {
	amount := int64(2500)
	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "header wins", got: FromHeader("payment", " abc ", PaymentKey("o-1")), want: "payment:key:abc"},
		{name: "fallback", got: FromHeader("payment", "", PaymentKey("o-1")), want: "payment:o-1"},
		{name: "invoice", got: InvoiceKey("o-1"), want: "invoice:o-1"},
		{name: "compliance", got: ComplianceKey("t", "s", "delete"), want: "compliance:t:s:delete"},
		{name: "full refund", got: RefundKey("tx", nil), want: "refund:tx:full"},
		{name: "partial refund", got: RefundKey("tx", &amount), want: "refund:tx:2500"},
		{name: "manual", got: ManualPaymentKey("chk"), want: "sumup-manual:chk"},
		{name: "scope", got: Scope("refund:tx:full"), want: "refund"},
		{name: "scope custom", got: Scope("opaque"), want: "custom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}
