package reminders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
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
	"github.com/ManuelReschke/Plan5/internal/pkg/env"
	"github.com/ManuelReschke/Plan5/internal/pkg/idempotency"
	"github.com/ManuelReschke/Plan5/internal/pkg/mail"
)

const tenant = "tenant-1"

type recordingSender struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (r *recordingSender) Send(_ context.Context, msg mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

type fixture struct {
	db       *gorm.DB
	repo     repository.ReminderRepository
	recorder *audit.GormRecorder
	mailer   *recordingSender
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.New(t)
	return &fixture{
		db:       db,
		repo:     repository.NewReminderRepository(db),
		recorder: audit.NewRecorder(db),
		mailer:   &recordingSender{},
		now:      time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) dispatcher(repo repository.ReminderRepository) *Dispatcher {
	if repo == nil {
		repo = f.repo
	}
	return NewDispatcher(repo, f.recorder, NewEmailChannel(f.mailer), NewWebhookChannel(nil)).
		WithClock(func() time.Time { return f.now })
}

func (f *fixture) seed(t *testing.T, r models.Reminder) {
	t.Helper()
	if r.TenantID == "" {
		r.TenantID = tenant
	}
	if r.ResourceType == "" {
		r.ResourceType = "appointment"
	}
	if r.ResourceID == "" {
		r.ResourceID = "appt-" + r.ID
	}
	if r.Status == "" {
		r.Status = models.ReminderStatusScheduled
	}
	require.NoError(t, f.db.Create(&r).Error)
}

func (f *fixture) reminder(t *testing.T, id string) *models.Reminder {
	t.Helper()
	r, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

func emailPayload(to string) datatypes.JSONType[models.ReminderPayload] {
	return datatypes.NewJSONType(models.ReminderPayload{To: to, Locale: "de-CH", Data: map[string]any{"guest": "Anna"}})
}

func webhookPayload(url string) datatypes.JSONType[models.ReminderPayload] {
	return datatypes.NewJSONType(models.ReminderPayload{WebhookURL: url, Data: map[string]any{"room": "12"}})
}

func TestDispatchDeliversDueReminders(t *testing.T) {
	f := newFixture(t)
	var hook webhookBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&hook))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	f.seed(t, models.Reminder{ID: "r-email", Channel: models.ReminderChannelEmail, Payload: emailPayload("anna@example.com"), DeliverAt: f.now.Add(-time.Hour)})
	f.seed(t, models.Reminder{ID: "r-hook", Channel: models.ReminderChannelWebhook, Template: "checkin", Payload: webhookPayload(server.URL), DeliverAt: f.now.Add(-time.Minute)})
	f.seed(t, models.Reminder{ID: "r-later", Channel: models.ReminderChannelEmail, Payload: emailPayload("anna@example.com"), DeliverAt: f.now.Add(time.Hour)})

	summary, err := f.dispatcher(nil).Dispatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 2, Sent: 2}, *summary)

	sent := f.reminder(t, "r-email")
	assert.Equal(t, models.ReminderStatusSent, sent.Status)
	assert.Equal(t, 1, sent.Attempts)
	require.NotNil(t, sent.SentAt)
	assert.Equal(t, models.ReminderStatusSent, f.reminder(t, "r-hook").Status)
	assert.Equal(t, models.ReminderStatusScheduled, f.reminder(t, "r-later").Status)

	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	assert.Equal(t, []string{"anna@example.com"}, msg.To)
	assert.Equal(t, mail.TemplateReminderUpcoming, msg.Template)
	assert.Equal(t, "de-CH", msg.Locale)
	assert.Equal(t, "Anna", msg.Data["guest"])

	assert.Equal(t, "r-hook", hook.ReminderID)
	assert.Equal(t, "checkin", hook.Template)
	assert.Equal(t, "12", hook.Data["room"])

	n, err := f.recorder.CountByAction(context.Background(), "appt-r-email", audit.ActionReminderSent)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDispatchRecordsFailures(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	f.seed(t, models.Reminder{ID: "r-hook", Channel: models.ReminderChannelWebhook, Payload: webhookPayload(server.URL), DeliverAt: f.now.Add(-3 * time.Minute)})
	f.seed(t, models.Reminder{ID: "r-norcpt", Channel: models.ReminderChannelEmail, Payload: emailPayload(""), DeliverAt: f.now.Add(-2 * time.Minute)})
	f.seed(t, models.Reminder{ID: "r-sms", Channel: "sms", DeliverAt: f.now.Add(-time.Minute)})

	summary, err := f.dispatcher(nil).Dispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 3, Failed: 3}, *summary)

	hook := f.reminder(t, "r-hook")
	assert.Equal(t, models.ReminderStatusFailed, hook.Status)
	assert.Contains(t, hook.LastError, "upstream down")
	assert.Equal(t, 1, hook.Attempts)
	assert.Contains(t, f.reminder(t, "r-norcpt").LastError, "no recipient")
	assert.Contains(t, f.reminder(t, "r-sms").LastError, `unsupported reminder channel "sms"`)
	assert.Empty(t, f.mailer.sent)

	n, err := f.recorder.CountByAction(context.Background(), "appt-r-hook", audit.ActionReminderFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Failed reminders are not picked up again.
	summary, err = f.dispatcher(nil).Dispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Due)
}

// racingRepo lets a competing run claim every due reminder between the
// listing and our own claim.
type racingRepo struct {
	repository.ReminderRepository
	now time.Time
}

func (r racingRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	due, err := r.ReminderRepository.ListDue(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	for _, rem := range due {
		if _, err := r.ReminderRepository.Claim(ctx, rem.ID, r.now); err != nil {
			return nil, err
		}
	}
	return due, nil
}

func TestDispatchSkipsRemindersClaimedElsewhere(t *testing.T) {
	f := newFixture(t)
	f.seed(t, models.Reminder{ID: "r-1", Channel: models.ReminderChannelEmail, Payload: emailPayload("a@example.com"), DeliverAt: f.now.Add(-time.Minute)})

	summary, err := f.dispatcher(racingRepo{ReminderRepository: f.repo, now: f.now}).Dispatch(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 1, Skipped: 1}, *summary)
	assert.Empty(t, f.mailer.sent)
	assert.Equal(t, models.ReminderStatusProcessing, f.reminder(t, "r-1").Status)
}

func TestDispatchHonoursLimitAndOrder(t *testing.T) {
	f := newFixture(t)
	offsets := map[string]time.Duration{"r-3": -time.Hour, "r-1": -3 * time.Hour, "r-2": -2 * time.Hour}
	for id, offset := range offsets {
		f.seed(t, models.Reminder{ID: id, Channel: models.ReminderChannelEmail, Payload: emailPayload(id + "@example.com"), DeliverAt: f.now.Add(offset)})
	}

	summary, err := f.dispatcher(nil).Dispatch(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sent)
	require.Len(t, f.mailer.sent, 2)
	assert.Equal(t, []string{"r-1@example.com"}, f.mailer.sent[0].To)
	assert.Equal(t, []string{"r-2@example.com"}, f.mailer.sent[1].To)
	assert.Equal(t, models.ReminderStatusScheduled, f.reminder(t, "r-3").Status)
}

func TestDispatchValidatesLimit(t *testing.T) {
	f := newFixture(t)
	for _, limit := range []int{-1, 101} {
		_, err := f.dispatcher(nil).Dispatch(context.Background(), limit)
		assert.True(t, apperror.IsValidation(err), "limit %d", limit)
	}
}

func TestRecoverStaleReschedulesOnlyStaleClaims(t *testing.T) {
	f := newFixture(t)
	stale := f.now.Add(-20 * time.Minute)
	fresh := f.now.Add(-5 * time.Minute)
	f.seed(t, models.Reminder{ID: "r-stale", Channel: models.ReminderChannelEmail, Payload: emailPayload("a@example.com"), DeliverAt: f.now.Add(-time.Hour), Status: models.ReminderStatusProcessing, ClaimedAt: &stale, Attempts: 1})
	f.seed(t, models.Reminder{ID: "r-fresh", Channel: models.ReminderChannelEmail, Payload: emailPayload("b@example.com"), DeliverAt: f.now.Add(-time.Hour), Status: models.ReminderStatusProcessing, ClaimedAt: &fresh, Attempts: 1})
	f.seed(t, models.Reminder{ID: "r-sent", Channel: models.ReminderChannelEmail, DeliverAt: f.now.Add(-time.Hour), Status: models.ReminderStatusSent, ClaimedAt: &stale})

	summary, err := f.dispatcher(nil).Dispatch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Summary{Recovered: 1, Due: 1, Sent: 1}, *summary)

	recovered := f.reminder(t, "r-stale")
	assert.Equal(t, models.ReminderStatusSent, recovered.Status)
	assert.Equal(t, 2, recovered.Attempts)
	assert.Equal(t, models.ReminderStatusProcessing, f.reminder(t, "r-fresh").Status)
	assert.Equal(t, models.ReminderStatusSent, f.reminder(t, "r-sent").Status)

	n, err := f.recorder.CountByAction(context.Background(), "appt-r-stale", audit.ActionReminderRecovered)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecoverStaleRespectsConfiguredWindow(t *testing.T) {
	f := newFixture(t)
	claimed := f.now.Add(-5 * time.Minute)
	f.seed(t, models.Reminder{ID: "r-1", Channel: models.ReminderChannelEmail, DeliverAt: f.now.Add(time.Hour), Status: models.ReminderStatusProcessing, ClaimedAt: &claimed})

	n, err := f.dispatcher(nil).WithStaleAfter(2 * time.Minute).RecoverStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r := f.reminder(t, "r-1")
	assert.Equal(t, models.ReminderStatusScheduled, r.Status)
	assert.Nil(t, r.ClaimedAt)
}

func TestSchedulerRunsDispatchAndPurge(t *testing.T) {
	f := newFixture(t)
	f.seed(t, models.Reminder{ID: "r-1", Channel: models.ReminderChannelEmail, Payload: emailPayload("a@example.com"), DeliverAt: f.now.Add(-time.Minute)})

	store := idempotency.NewGormStore(f.db)
	ledger := idempotency.NewLedger(store).WithClock(func() time.Time { return f.now })
	_, _, err := store.Save(context.Background(), idempotency.Record{Key: "old", Response: []byte(`{"run":1}`), ExpiresAt: f.now.Add(-time.Minute)}, f.now.Add(-time.Hour))
	require.NoError(t, err)

	s := NewScheduler(f.dispatcher(nil), ledger, SchedulerConfig{Interval: time.Hour, PurgeInterval: time.Hour, Limit: DefaultLimit})
	s.RunDispatch()
	s.RunPurge()

	assert.Equal(t, models.ReminderStatusSent, f.reminder(t, "r-1").Status)
	var count int64
	require.NoError(t, f.db.Model(&models.IdempotencyRecord{}).Count(&count).Error)
	assert.Zero(t, count)

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestLoadSchedulerConfig(t *testing.T) {
	cfg := LoadSchedulerConfig(env.Static{"REMINDER_SCHEDULER_ENABLED": "true", "REMINDER_SCHEDULER_INTERVAL_SECONDS": "30", "REMINDER_SCHEDULER_LIMIT": "500"})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, time.Hour, cfg.PurgeInterval)
	assert.Equal(t, DefaultLimit, cfg.Limit)

	assert.Equal(t, 15*time.Minute, StaleAfterFromEnv(env.Static{}))
	assert.Equal(t, 3*time.Minute, StaleAfterFromEnv(env.Static{"REMINDER_STALE_AFTER_MINUTES": "3"}))
}
