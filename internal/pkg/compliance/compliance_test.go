package compliance

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/app/repository"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/audit"
	"github.com/ManuelReschke/Plan5/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/Plan5/internal/pkg/idempotency"
)

const (
	tenant  = "tenant-1"
	subject = "cust-1"
)

type failingStore struct{}

func (failingStore) Put(context.Context, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

type fixture struct {
	db       *gorm.DB
	repos    *repository.Repositories
	recorder *audit.GormRecorder
	svc      *Service
	now      time.Time
}

func newFixture(t *testing.T, store ArtifactStore) *fixture {
	t.Helper()
	db := dbtest.New(t)
	f := &fixture{
		db:       db,
		repos:    repository.NewRepositories(db),
		recorder: audit.NewRecorder(db),
		now:      time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	ledger := idempotency.NewLedger(idempotency.NewGormStore(db)).WithClock(clock)
	ids := 0
	f.svc = NewService(f.repos, ledger, f.recorder, store).
		WithClock(clock).
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("req-%d", ids)
		})
	return f
}

func (f *fixture) seedSubject(t *testing.T) {
	t.Helper()
	name, phone, notes := "Anna Muster", "+41 79 000 00 00", "allergic to nuts"
	start := f.now.Add(48 * time.Hour)
	require.NoError(t, f.db.Create(&models.Profile{
		ID: subject, TenantID: tenant, FullName: &name, Phone: &phone, Email: "anna@example.com",
		Metadata: datatypes.JSONMap{"vip": true},
	}).Error)
	require.NoError(t, f.db.Create(&models.Order{
		ID: "o-1", TenantID: tenant, CustomerID: subject, Status: models.OrderStatusPaid, TotalCents: 12000, Currency: "CHF",
	}).Error)
	require.NoError(t, f.db.Create(&models.Order{
		ID: "o-other", TenantID: "tenant-2", CustomerID: subject, Status: models.OrderStatusPaid, TotalCents: 500, Currency: "CHF",
	}).Error)
	require.NoError(t, f.db.Create(&models.Appointment{
		ID: "a-1", TenantID: tenant, CustomerID: subject, Status: models.AppointmentStatusConfirmed,
		StartAt: start, EndAt: start.Add(time.Hour), Notes: &notes, Metadata: datatypes.JSONMap{"room": "12"},
	}).Error)
	require.NoError(t, f.db.Create(&models.Consent{
		ID: "c-1", TenantID: tenant, SubjectID: subject, ConsentType: "marketing", Granted: true, GrantedAt: f.now.Add(-time.Hour),
		Metadata: datatypes.JSONMap{},
	}).Error)
}

func decodeDataURL(t *testing.T, url string) Export {
	t.Helper()
	raw, ok := strings.CutPrefix(url, "data:application/json;base64,")
	require.True(t, ok, url)
	body, err := base64.StdEncoding.DecodeString(raw)
	require.NoError(t, err)
	var doc Export
	require.NoError(t, json.Unmarshal(body, &doc))
	return doc
}

func TestExportCollectsSubjectData(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSubject(t)
	ctx := context.Background()

	res, err := f.svc.Process(ctx, Input{TenantID: tenant, SubjectID: subject, Type: models.ComplianceTypeExport})
	require.NoError(t, err)
	assert.Equal(t, models.ComplianceStatusCompleted, res.Status)
	assert.False(t, res.Replayed)

	doc := decodeDataURL(t, res.ExportURL)
	require.Len(t, doc.Orders, 1)
	assert.Equal(t, "o-1", doc.Orders[0].ID)
	assert.Equal(t, int64(12000), doc.Orders[0].TotalCents)
	require.Len(t, doc.Appointments, 1)
	require.Len(t, doc.Consents, 1)
	assert.Equal(t, "marketing", doc.Consents[0].ConsentType)
	assert.True(t, doc.GeneratedAt.Equal(f.now))

	status, err := f.svc.Status(ctx, res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.ComplianceStatusCompleted, status.Status)
	assert.Equal(t, res.ExportURL, status.ExportURL)
	require.NotNil(t, status.CompletedAt)

	entries, err := f.recorder.List(ctx, res.RequestID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionComplianceExportComplete, entries[0].Action)
	assert.Equal(t, models.InitiatedByCustomer, entries[0].ActorRole)
	assert.Equal(t, subject, entries[0].ActorID)
}

func TestExportReplaysWithinTheHour(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSubject(t)
	ctx := context.Background()
	in := Input{TenantID: tenant, SubjectID: subject, Type: models.ComplianceTypeExport}

	first, err := f.svc.Process(ctx, in)
	require.NoError(t, err)

	f.now = f.now.Add(30 * time.Minute)
	second, err := f.svc.Process(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.RequestID, second.RequestID)

	f.now = f.now.Add(31 * time.Minute)
	third, err := f.svc.Process(ctx, in)
	require.NoError(t, err)
	assert.False(t, third.Replayed)
	assert.NotEqual(t, first.RequestID, third.RequestID)

	var count int64
	require.NoError(t, f.db.Model(&models.ComplianceRequest{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestDeleteAnonymisesSubject(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSubject(t)
	ctx := context.Background()

	res, err := f.svc.Process(ctx, Input{TenantID: tenant, SubjectID: subject, Type: models.ComplianceTypeDelete, InitiatedBy: models.InitiatedByStaff, Reason: "guest request"})
	require.NoError(t, err)
	assert.Equal(t, models.ComplianceStatusCompleted, res.Status)
	assert.Empty(t, res.ExportURL)

	profile, err := f.repos.Profile.GetByID(ctx, subject)
	require.NoError(t, err)
	assert.Nil(t, profile.FullName)
	assert.Nil(t, profile.Phone)
	assert.Equal(t, true, profile.Metadata["anonymised"])
	assert.NotContains(t, profile.Metadata, "vip")

	appt, err := f.repos.Appointment.GetByID(ctx, "a-1")
	require.NoError(t, err)
	assert.Nil(t, appt.Notes)
	assert.Empty(t, appt.Metadata)

	n, err := f.recorder.CountByAction(ctx, res.RequestID, audit.ActionComplianceDeleteComplete)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	req, err := f.repos.Compliance.GetByID(ctx, res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.InitiatedByStaff, req.InitiatedBy)
	assert.Equal(t, "guest request", req.Reason)
}

func TestDeleteTwiceLeavesSameState(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSubject(t)
	ctx := context.Background()
	in := Input{TenantID: tenant, SubjectID: subject, Type: models.ComplianceTypeDelete}

	_, err := f.svc.Process(ctx, in)
	require.NoError(t, err)
	before, err := f.repos.Profile.GetByID(ctx, subject)
	require.NoError(t, err)

	// Past the replay window the erasure runs again.
	f.now = f.now.Add(2 * time.Hour)
	res, err := f.svc.Process(ctx, in)
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	after, err := f.repos.Profile.GetByID(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, before.FullName, after.FullName)
	assert.Equal(t, before.Phone, after.Phone)
	assert.Equal(t, before.Metadata, after.Metadata)
}

func TestProcessResumesOpenRequest(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSubject(t)
	ctx := context.Background()
	require.NoError(t, f.db.Create(&models.ComplianceRequest{
		ID: "queued-1", TenantID: tenant, SubjectID: subject, RequestType: models.ComplianceTypeExport, Status: models.ComplianceStatusQueued,
	}).Error)

	res, err := f.svc.Process(ctx, Input{TenantID: tenant, SubjectID: subject, Type: models.ComplianceTypeExport})
	require.NoError(t, err)
	assert.Equal(t, "queued-1", res.RequestID)

	var count int64
	require.NoError(t, f.db.Model(&models.ComplianceRequest{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestExportFailureRejectsRequest(t *testing.T) {
	f := newFixture(t, failingStore{})
	f.seedSubject(t)
	ctx := context.Background()
	in := Input{TenantID: tenant, SubjectID: subject, Type: models.ComplianceTypeExport}

	_, err := f.svc.Process(ctx, in)
	require.ErrorContains(t, err, "bucket unavailable")

	req, err := f.repos.Compliance.GetByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.ComplianceStatusRejected, req.Status)
	assert.Contains(t, req.FailureReason, "bucket unavailable")
	assert.Nil(t, req.CompletedAt)

	n, err := f.recorder.CountByAction(ctx, "req-1", audit.ActionComplianceRejected)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Nothing was stored in the ledger, so a retry starts a fresh request.
	_, err = f.svc.Process(ctx, in)
	require.Error(t, err)
	_, err = f.repos.Compliance.GetByID(ctx, "req-2")
	require.NoError(t, err)
}

func TestProcessRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name string
		in   Input
	}{
		{name: "missing tenant", in: Input{SubjectID: subject, Type: "export"}},
		{name: "missing subject", in: Input{TenantID: tenant, Type: "export"}},
		{name: "unknown type", in: Input{TenantID: tenant, SubjectID: subject, Type: "rectify"}},
		{name: "unknown initiator", in: Input{TenantID: tenant, SubjectID: subject, Type: "export", InitiatedBy: "robot"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Process(context.Background(), tt.in)
			assert.True(t, apperror.IsValidation(err), "%v", err)
		})
	}
}

func TestRecordConsent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	granted, err := f.svc.RecordConsent(ctx, ConsentInput{TenantID: tenant, SubjectID: subject, ConsentType: "marketing", Granted: true, Metadata: map[string]any{"source": "checkout"}})
	require.NoError(t, err)
	assert.Nil(t, granted.RevokedAt)

	f.now = f.now.Add(time.Minute)
	revoked, err := f.svc.RecordConsent(ctx, ConsentInput{TenantID: tenant, SubjectID: subject, ConsentType: "marketing", Granted: false})
	require.NoError(t, err)
	require.NotNil(t, revoked.RevokedAt)
	assert.True(t, revoked.RevokedAt.Equal(f.now))

	rows, err := f.repos.Consent.ListBySubject(ctx, tenant, subject)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "checkout", rows[0].Metadata["source"])

	n, err := f.recorder.CountByAction(ctx, "marketing", audit.ActionConsentUpdated)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = f.svc.RecordConsent(ctx, ConsentInput{TenantID: tenant, SubjectID: subject})
	assert.True(t, apperror.IsValidation(err))
}

func TestStatusNotFound(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Status(context.Background(), "missing")
	assert.True(t, apperror.IsNotFound(err))
}
