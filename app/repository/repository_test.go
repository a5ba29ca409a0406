package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/database/dbtest"
)

func TestOrderTransitionStatus(t *testing.T) {
	ctx := context.Background()
	repos := NewFactory(dbtest.New(t)).GetRepositories()

	require.NoError(t, repos.Order.Create(ctx, &models.Order{ID: "o-1", TenantID: "t-1", Status: models.OrderStatusPending, TotalCents: 100, Currency: "CHF"}))

	changed, err := repos.Order.TransitionStatus(ctx, "o-1", models.OrderStatusPaid, []string{models.OrderStatusPending})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repos.Order.TransitionStatus(ctx, "o-1", models.OrderStatusPending, []string{models.OrderStatusDraft})
	require.NoError(t, err)
	assert.False(t, changed)

	order, err := repos.Order.GetByID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)

	_, err = repos.Order.GetByID(ctx, "missing")
	assert.True(t, apperror.IsNotFound(err))
}

func TestTransactionUpsertAndRefundReservation(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(dbtest.New(t))

	first := &models.PaymentTransaction{ID: "tx-1", TenantID: "t", OrderID: "o", Provider: "stripe", ProviderPaymentID: "pi_1", AmountCents: 1000, Currency: "CHF", Status: models.TransactionStatusRequiresAction}
	require.NoError(t, repos.Transaction.Upsert(ctx, first))

	second := &models.PaymentTransaction{ID: "tx-2", TenantID: "t", OrderID: "o", Provider: "stripe", ProviderPaymentID: "pi_1", AmountCents: 1000, Currency: "CHF", Status: models.TransactionStatusSucceeded}
	require.NoError(t, repos.Transaction.Upsert(ctx, second))
	assert.Equal(t, "tx-1", second.ID)
	assert.Equal(t, models.TransactionStatusSucceeded, second.Status)

	ok, err := repos.Transaction.ReserveRefund(ctx, "tx-1", 600)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Transaction.ReserveRefund(ctx, "tx-1", 600)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repos.Transaction.ReleaseRefund(ctx, "tx-1", 600))
	got, err := repos.Transaction.GetByID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.RefundedCents)
}

func TestTransactionUpsertConvergesOnStoredRow(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repos := NewRepositories(db)

	for i, id := range []string{"tx-intent", "tx-new", "tx-newer"} {
		txn := &models.PaymentTransaction{ID: id, TenantID: "t", OrderID: "o", Provider: "sumup", ProviderPaymentID: "chk_9", AmountCents: 2500, Currency: "CHF", Status: models.TransactionStatusPending}
		if i > 0 {
			txn.Status = models.TransactionStatusSucceeded
		}
		require.NoError(t, repos.Transaction.Upsert(ctx, txn), "upsert %d", i)
		assert.Equal(t, "tx-intent", txn.ID)
	}

	var count int64
	require.NoError(t, db.Model(&models.PaymentTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := repos.Transaction.FindByProviderPayment(ctx, "sumup", "chk_9")
	require.NoError(t, err)
	assert.Equal(t, "tx-intent", got.ID)
	assert.Equal(t, models.TransactionStatusSucceeded, got.Status)
}

func TestWebhookEventCreateAndReclaim(t *testing.T) {
	ctx := context.Background()
	repo := NewWebhookEventRepository(dbtest.New(t))
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	created, stored, err := repo.CreateIfNotExists(ctx, &models.WebhookEvent{Provider: "stripe", EventID: "evt_1", EventType: "x", Payload: "{}", Attempts: 1, ClaimedAt: &now})
	require.NoError(t, err)
	assert.True(t, created)

	created, again, err := repo.CreateIfNotExists(ctx, &models.WebhookEvent{Provider: "stripe", EventID: "evt_1", EventType: "x", Payload: "{}"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)

	ok, err := repo.Reclaim(ctx, stored.ID, 1, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	// A second caller holding the stale attempt count loses.
	ok, err = repo.Reclaim(ctx, stored.ID, 1, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.MarkProcessed(ctx, stored.ID, now))
	ok, err = repo.Reclaim(ctx, stored.ID, 2, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppointmentConfirm(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repo := NewAppointmentRepository(db)
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&models.Appointment{ID: "a-1", TenantID: "t", CustomerID: "c", Status: models.AppointmentStatusPending, StartAt: start, EndAt: start.Add(time.Hour)}).Error)

	ok, err := repo.Confirm(ctx, "a-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Confirm(ctx, "a-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReminderClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewReminderRepository(dbtest.New(t))
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, &models.Reminder{ID: "r-1", TenantID: "t", ResourceType: "appointment", ResourceID: "a-1", Channel: models.ReminderChannelEmail, DeliverAt: now.Add(-time.Minute), Status: models.ReminderStatusScheduled}))
	require.NoError(t, repo.Create(ctx, &models.Reminder{ID: "r-2", TenantID: "t", ResourceType: "appointment", ResourceID: "a-2", Channel: models.ReminderChannelEmail, DeliverAt: now.Add(time.Hour), Status: models.ReminderStatusScheduled}))

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "r-1", due[0].ID)

	ok, err := repo.Claim(ctx, "r-1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(ctx, "r-1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	// Not stale yet.
	ok, err = repo.Release(ctx, "r-1", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	stale, err := repo.ListStale(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)

	ok, err = repo.Release(ctx, "r-1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReminderStatusScheduled, got.Status)
	assert.Nil(t, got.ClaimedAt)
	assert.Equal(t, 1, got.Attempts)
}

func TestInvoiceMaxSequenceAndVatLookup(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repo := NewInvoiceRepository(db)

	seq, err := repo.MaxSequence(ctx, "t", 2025)
	require.NoError(t, err)
	assert.Zero(t, seq)

	issued := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, number := range []string{"2025-001", "2025-002"} {
		inv := &models.Invoice{ID: number, TenantID: "t", OrderID: "o-" + number, InvoiceNumber: number, Year: 2025, Sequence: i + 1, IssuedAt: issued, Currency: "CHF", TotalCents: 100, QRBillPayload: "x"}
		require.NoError(t, repo.Create(ctx, inv, &models.InvoiceArchive{ID: "a-" + number, InvoiceID: inv.ID, StoragePath: "p", Checksum: "c"}, nil))
	}

	seq, err = repo.MaxSequence(ctx, "t", 2025)
	require.NoError(t, err)
	assert.Equal(t, 2, seq)

	seq, err = repo.MaxSequence(ctx, "t", 2026)
	require.NoError(t, err)
	assert.Zero(t, seq)

	_, err = repo.CurrentVatSetting(ctx, "t", issued)
	assert.True(t, apperror.IsNotFound(err))
}

func TestProfileAnonymise(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repo := NewProfileRepository(db)
	name, phone := "Anna Muster", "+41 79 000 00 00"
	require.NoError(t, db.Create(&models.Profile{ID: "p-1", TenantID: "t", FullName: &name, Phone: &phone}).Error)

	ok, err := repo.Anonymise(ctx, "t", "p-1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, "p-1")
	require.NoError(t, err)
	assert.Nil(t, got.FullName)
	assert.Nil(t, got.Phone)
	assert.Equal(t, true, got.Metadata["anonymised"])

	ok, err = repo.Anonymise(ctx, "other-tenant", "p-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
