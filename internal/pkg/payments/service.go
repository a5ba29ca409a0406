// Package payments orchestrates payment intents, provider webhooks, refunds
// and SumUp terminal flows on top of the provider adapters.
package payments

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/app/repository"
	"github.com/ManuelReschke/Plan5/internal/pkg/audit"
	"github.com/ManuelReschke/Plan5/internal/pkg/errorreport"
	"github.com/ManuelReschke/Plan5/internal/pkg/idempotency"
	"github.com/ManuelReschke/Plan5/internal/pkg/providers"
)

// DefaultInFlightWindow is how long a claimed but unfinished webhook event
// blocks redeliveries.
const DefaultInFlightWindow = 5 * time.Minute

// Service provides provider-neutral payment orchestration.
type Service struct {
	repos    *repository.Repositories
	registry *providers.Registry
	ledger   *idempotency.Ledger
	audit    audit.Recorder
	reporter errorreport.Reporter

	now      func() time.Time
	newID    func() string
	inFlight time.Duration
}

// NewService creates a payment service from injected collaborators.
func NewService(repos *repository.Repositories, registry *providers.Registry, ledger *idempotency.Ledger, recorder audit.Recorder) *Service {
	return &Service{
		repos:    repos,
		registry: registry,
		ledger:   ledger,
		audit:    recorder,
		reporter: errorreport.LogReporter{},
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		inFlight: DefaultInFlightWindow,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(newID func() string) *Service {
	s.newID = newID
	return s
}

func (s *Service) WithReporter(r errorreport.Reporter) *Service {
	s.reporter = r
	return s
}

func (s *Service) WithInFlightWindow(d time.Duration) *Service {
	s.inFlight = d
	return s
}

var orderAllowedFrom = map[string][]string{
	models.OrderStatusPaid:     {models.OrderStatusDraft, models.OrderStatusPending, models.OrderStatusErrored},
	models.OrderStatusPending:  {models.OrderStatusDraft, models.OrderStatusErrored},
	models.OrderStatusRefunded: {models.OrderStatusPaid, models.OrderStatusCompleted},
}

// transitionOrder applies a guarded status change and audits it only when a
// row actually changed.
func (s *Service) transitionOrder(ctx context.Context, tenantID, orderID, target, actorID, actorRole string) (bool, error) {
	changed, err := s.repos.Order.TransitionStatus(ctx, orderID, target, orderAllowedFrom[target])
	if err != nil || !changed {
		return false, err
	}
	return true, s.audit.Record(ctx, audit.Entry{
		TenantID:  tenantID,
		ActorID:   actorID,
		ActorRole: actorRole,
		Action:    audit.ActionOrderStatusUpdated,
		Resource:  orderID,
		Changes:   map[string]any{"status": target},
	})
}
