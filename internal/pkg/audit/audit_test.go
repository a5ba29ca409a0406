package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/database/dbtest"
)

func TestRecordAndList(t *testing.T) {
	db := dbtest.New(t)
	rec := NewRecorder(db)
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, Entry{
		TenantID: "t-1",
		Action:   ActionOrderStatusUpdated,
		Resource: "o-1",
		Changes:  map[string]any{"status": "paid"},
	}))
	require.NoError(t, rec.Record(ctx, Entry{
		TenantID:  "t-1",
		ActorRole: models.InitiatedByStaff,
		Action:    ActionPaymentRefundCreated,
		Resource:  "o-1",
	}))

	rows, err := rec.List(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ActionOrderStatusUpdated, rows[0].Action)
	assert.Equal(t, "paid", rows[0].Changes["status"])

	n, err := rec.CountByAction(ctx, "o-1", ActionPaymentRefundCreated)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEntriesAreAppendOnly(t *testing.T) {
	db := dbtest.New(t)
	rec := NewRecorder(db)
	ctx := context.Background()
	require.NoError(t, rec.Record(ctx, Entry{TenantID: "t-1", Action: ActionInvoiceGenerated, Resource: "inv-1"}))

	rows, err := rec.List(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	err = db.Model(&rows[0]).Update("action", "tampered").Error
	assert.ErrorIs(t, err, models.ErrAuditLogImmutable)

	err = db.Delete(&rows[0]).Error
	assert.ErrorIs(t, err, models.ErrAuditLogImmutable)

	rows, err = rec.List(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ActionInvoiceGenerated, rows[0].Action)
}
