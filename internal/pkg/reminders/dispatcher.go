// Package reminders delivers scheduled reminders through email or outbound
// webhooks. Each reminder is claimed with a conditional update so concurrent
// dispatch runs never deliver the same reminder twice.
package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/app/repository"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/audit"
	"github.com/ManuelReschke/Plan5/internal/pkg/env"
	"github.com/ManuelReschke/Plan5/internal/pkg/errorreport"
	"github.com/ManuelReschke/Plan5/internal/pkg/metrics"
)

const (
	DefaultLimit      = 25
	MaxLimit          = 100
	DefaultStaleAfter = 15 * time.Minute
)

// Summary reports what one dispatch run did.
type Summary struct {
	Recovered int `json:"recovered"`
	Due       int `json:"due"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	// Skipped counts due reminders another run claimed first.
	Skipped int `json:"skipped"`
}

type Dispatcher struct {
	repo       repository.ReminderRepository
	audit      audit.Recorder
	channels   map[string]Channel
	reporter   errorreport.Reporter
	staleAfter time.Duration
	now        func() time.Time
}

func NewDispatcher(repo repository.ReminderRepository, recorder audit.Recorder, channels ...Channel) *Dispatcher {
	d := &Dispatcher{
		repo:       repo,
		audit:      recorder,
		channels:   make(map[string]Channel, len(channels)),
		reporter:   errorreport.LogReporter{},
		staleAfter: DefaultStaleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, c := range channels {
		d.channels[c.Name()] = c
	}
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

func (d *Dispatcher) WithReporter(r errorreport.Reporter) *Dispatcher {
	d.reporter = r
	return d
}

func (d *Dispatcher) WithStaleAfter(after time.Duration) *Dispatcher {
	if after > 0 {
		d.staleAfter = after
	}
	return d
}

// StaleAfterFromEnv reads REMINDER_STALE_AFTER_MINUTES.
func StaleAfterFromEnv(p env.Provider) time.Duration {
	return time.Duration(env.Int(p, "REMINDER_STALE_AFTER_MINUTES", int(DefaultStaleAfter/time.Minute))) * time.Minute
}

// Dispatch delivers up to limit due reminders, earliest first. A limit of 0
// selects DefaultLimit. Delivery failures are recorded on the reminder and
// are not retried within the run.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (*Summary, error) {
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, apperror.Validation("limit", "must be between 1 and %d", MaxLimit)
	}

	summary := &Summary{}
	recovered, err := d.RecoverStale(ctx)
	if err != nil {
		return nil, err
	}
	summary.Recovered = recovered

	now := d.now()
	due, err := d.repo.ListDue(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	summary.Due = len(due)
	log.Infof("[Reminders] dispatch start: %d due", len(due))

	for i := range due {
		reminder := &due[i]
		claimed, err := d.repo.Claim(ctx, reminder.ID, now)
		if err != nil {
			log.Errorf("[Reminders] claim %s failed: %v", reminder.ID, err)
			summary.Skipped++
			continue
		}
		if !claimed {
			summary.Skipped++
			continue
		}
		if d.deliver(ctx, reminder) {
			summary.Sent++
		} else {
			summary.Failed++
		}
	}

	log.Infof("[Reminders] dispatch done: sent=%d failed=%d skipped=%d recovered=%d",
		summary.Sent, summary.Failed, summary.Skipped, summary.Recovered)
	return summary, nil
}

// deliver reports whether the reminder ended up sent.
func (d *Dispatcher) deliver(ctx context.Context, reminder *models.Reminder) bool {
	err := d.send(ctx, reminder)
	if err == nil {
		if err = d.repo.MarkSent(ctx, reminder.ID, d.now()); err == nil {
			metrics.Reminders.WithLabelValues(reminder.Channel, "sent").Inc()
			d.record(ctx, reminder, audit.ActionReminderSent, nil)
			return true
		}
	}

	metrics.Reminders.WithLabelValues(reminder.Channel, "failed").Inc()
	d.reporter.Capture(ctx, errorreport.Event{
		Err:      err,
		Route:    "reminders.dispatch",
		TenantID: reminder.TenantID,
		Extra:    map[string]any{"reminderId": reminder.ID, "channel": reminder.Channel},
	})
	if markErr := d.repo.MarkFailed(ctx, reminder.ID, err.Error()); markErr != nil {
		log.Errorf("[Reminders] failed to mark %s failed: %v", reminder.ID, markErr)
	}
	d.record(ctx, reminder, audit.ActionReminderFailed, map[string]any{"error": err.Error()})
	return false
}

func (d *Dispatcher) send(ctx context.Context, reminder *models.Reminder) error {
	channel, ok := d.channels[reminder.Channel]
	if !ok {
		return fmt.Errorf("unsupported reminder channel %q", reminder.Channel)
	}
	return channel.Deliver(ctx, reminder)
}

// RecoverStale puts reminders stuck in processing for longer than the stale
// window back to scheduled.
func (d *Dispatcher) RecoverStale(ctx context.Context) (int, error) {
	cutoff := d.now().Add(-d.staleAfter)
	stale, err := d.repo.ListStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale reminders: %w", err)
	}

	recovered := 0
	for i := range stale {
		released, err := d.repo.Release(ctx, stale[i].ID, cutoff)
		if err != nil {
			return recovered, fmt.Errorf("release reminder %s: %w", stale[i].ID, err)
		}
		if !released {
			continue
		}
		recovered++
		log.Warnf("[Reminders] recovered stale reminder %s (attempt %d)", stale[i].ID, stale[i].Attempts)
		d.record(ctx, &stale[i], audit.ActionReminderRecovered, map[string]any{"attempts": stale[i].Attempts})
	}
	return recovered, nil
}

func (d *Dispatcher) record(ctx context.Context, reminder *models.Reminder, action string, extra map[string]any) {
	changes := map[string]any{"reminderId": reminder.ID, "channel": reminder.Channel}
	for k, v := range extra {
		changes[k] = v
	}
	err := d.audit.Record(ctx, audit.Entry{
		TenantID:  reminder.TenantID,
		ActorRole: models.InitiatedBySystem,
		Action:    action,
		Resource:  reminder.ResourceID,
		Changes:   changes,
	})
	if err != nil {
		log.Errorf("[Reminders] audit %s for %s failed: %v", action, reminder.ID, err)
	}
}
