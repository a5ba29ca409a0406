package payments

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/app/repository"
	"github.com/ManuelReschke/Plan5/internal/pkg/audit"
	"github.com/ManuelReschke/Plan5/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/Plan5/internal/pkg/idempotency"
	"github.com/ManuelReschke/Plan5/internal/pkg/providers"
)

const (
	testTenant = "tenant-1"
	testSecret = "whsec_test"
)

type harness struct {
	t        *testing.T
	db       *gorm.DB
	repos    *repository.Repositories
	recorder *audit.GormRecorder
	svc      *Service
	now      time.Time
}

func newHarness(t *testing.T, recorder audit.Recorder, adapters ...providers.Adapter) *harness {
	t.Helper()
	db := dbtest.New(t)
	h := &harness{
		t:        t,
		db:       db,
		repos:    repository.NewRepositories(db),
		recorder: audit.NewRecorder(db),
		now:      time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if recorder == nil {
		recorder = h.recorder
	}
	clock := func() time.Time { return h.now }
	ledger := idempotency.NewLedger(idempotency.NewGormStore(db)).WithClock(clock)

	ids := 0
	h.svc = NewService(h.repos, providers.NewRegistry(adapters...), ledger, recorder).
		WithClock(clock).
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		})
	return h
}

func (h *harness) seedOrder(id, status string, total int64) {
	h.t.Helper()
	require.NoError(h.t, h.db.Create(&models.Order{
		ID: id, TenantID: testTenant, CustomerID: "cust-1", Status: status, TotalCents: total, Currency: "CHF",
	}).Error)
}

func (h *harness) seedAppointment(id string) {
	h.t.Helper()
	start := h.now.Add(24 * time.Hour)
	require.NoError(h.t, h.db.Create(&models.Appointment{
		ID: id, TenantID: testTenant, CustomerID: "cust-1", Status: models.AppointmentStatusPending, StartAt: start, EndAt: start.Add(time.Hour),
	}).Error)
}

func (h *harness) seedTransaction(txn models.PaymentTransaction) *models.PaymentTransaction {
	h.t.Helper()
	if txn.TenantID == "" {
		txn.TenantID = testTenant
	}
	if txn.Currency == "" {
		txn.Currency = "CHF"
	}
	require.NoError(h.t, h.db.Create(&txn).Error)
	return &txn
}

func (h *harness) order(id string) *models.Order {
	h.t.Helper()
	o, err := h.repos.Order.GetByID(context.Background(), id)
	require.NoError(h.t, err)
	return o
}

func (h *harness) auditCount(resource, action string) int64 {
	h.t.Helper()
	n, err := h.recorder.CountByAction(context.Background(), resource, action)
	require.NoError(h.t, err)
	return n
}

// fakeAdapter records calls and returns canned provider responses.
type fakeAdapter struct {
	name        string
	intents     []*providers.IntentResult
	intentErrs  []error
	refund      *providers.RefundResult
	refundErr   error
	status      *providers.CheckoutStatus
	intentCalls int
	refundCalls int
	lastRefund  providers.RefundRequest
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) CreateIntent(_ context.Context, req providers.IntentRequest) (*providers.IntentResult, error) {
	i := f.intentCalls
	f.intentCalls++
	if i < len(f.intentErrs) && f.intentErrs[i] != nil {
		return nil, f.intentErrs[i]
	}
	if i >= len(f.intents) {
		i = len(f.intents) - 1
	}
	return f.intents[i], nil
}

func (f *fakeAdapter) Refund(_ context.Context, req providers.RefundRequest) (*providers.RefundResult, error) {
	f.refundCalls++
	f.lastRefund = req
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return f.refund, nil
}

func (f *fakeAdapter) VerifyWebhookSignature(rawBody []byte, header, secret string) bool {
	return header == secret
}

func (f *fakeAdapter) WebhookSecret() (string, error) { return testSecret, nil }

func (f *fakeAdapter) SignatureHeader() string { return "X-Test-Signature" }

func (f *fakeAdapter) ParseWebhookEvent(rawBody []byte) (*providers.WebhookEvent, error) {
	return &providers.WebhookEvent{Provider: f.name}, nil
}

func (f *fakeAdapter) CheckoutStatus(_ context.Context, checkoutID string) (*providers.CheckoutStatus, error) {
	return f.status, nil
}

// toggleRecorder fails entries for one action while fail is set.
type toggleRecorder struct {
	*audit.GormRecorder
	failAction string
	fail       bool
}

func (r *toggleRecorder) Record(ctx context.Context, e audit.Entry) error {
	if r.fail && e.Action == r.failAction {
		return fmt.Errorf("audit store down")
	}
	return r.GormRecorder.Record(ctx, e)
}
