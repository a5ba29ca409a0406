// Package compliance runs GDPR export and erasure requests for a data
// subject and records consent changes.
package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/app/repository"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/audit"
	"github.com/ManuelReschke/Plan5/internal/pkg/idempotency"
	"github.com/ManuelReschke/Plan5/internal/pkg/metrics"
	"github.com/ManuelReschke/Plan5/internal/pkg/s3archive"
)

// ArtifactStore keeps export documents and returns a URL the subject can
// download them from.
type ArtifactStore interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
}

type Service struct {
	repos     *repository.Repositories
	ledger    *idempotency.Ledger
	audit     audit.Recorder
	artifacts ArtifactStore

	now   func() time.Time
	newID func() string
}

// NewService creates a compliance service. Exports are inlined as data URLs
// when artifacts is nil.
func NewService(repos *repository.Repositories, ledger *idempotency.Ledger, recorder audit.Recorder, artifacts ArtifactStore) *Service {
	if artifacts == nil {
		artifacts = s3archive.InlineStore{}
	}
	return &Service{
		repos:     repos,
		ledger:    ledger,
		audit:     recorder,
		artifacts: artifacts,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
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

// Process executes an export or delete request. Repeating the same request
// within an hour returns the first result.
func (s *Service) Process(ctx context.Context, in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.InitiatedBy == "" {
		in.InitiatedBy = models.InitiatedByCustomer
	}

	res, replayed, err := idempotency.Execute(ctx, s.ledger, idempotency.Options{
		Key:      idempotency.ComplianceKey(in.TenantID, in.SubjectID, in.Type),
		TTL:      idempotency.ComplianceTTL,
		TenantID: in.TenantID,
		Request:  in,
	}, func(ctx context.Context) (Result, error) {
		return s.process(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	res.Replayed = replayed
	return &res, nil
}

func (s *Service) process(ctx context.Context, in Input) (Result, error) {
	req, err := s.openRequest(ctx, in)
	if err != nil {
		metrics.ComplianceRequests.WithLabelValues(in.Type, "error").Inc()
		return Result{}, err
	}

	var (
		exportURL string
		action    string
	)
	switch in.Type {
	case models.ComplianceTypeExport:
		action = audit.ActionComplianceExportComplete
		exportURL, err = s.export(ctx, in, req.ID)
	default:
		action = audit.ActionComplianceDeleteComplete
		err = s.erase(ctx, in)
	}
	if err == nil {
		err = s.repos.Compliance.MarkCompleted(ctx, req.ID, exportURL, s.now())
	}
	if err != nil {
		s.reject(ctx, in, req.ID, err)
		return Result{}, err
	}

	metrics.ComplianceRequests.WithLabelValues(in.Type, "completed").Inc()
	log.Infof("[Compliance] %s request %s completed for subject %s", in.Type, req.ID, in.SubjectID)
	s.record(ctx, audit.Entry{
		TenantID:  in.TenantID,
		ActorID:   in.SubjectID,
		ActorRole: in.InitiatedBy,
		Action:    action,
		Resource:  req.ID,
	})
	return Result{RequestID: req.ID, Status: models.ComplianceStatusCompleted, ExportURL: exportURL}, nil
}

// openRequest continues a queued or running request for the same subject
// and type, or starts a new one.
func (s *Service) openRequest(ctx context.Context, in Input) (*models.ComplianceRequest, error) {
	existing, err := s.repos.Compliance.FindOpen(ctx, in.TenantID, in.SubjectID, in.Type)
	if err == nil {
		if existing.Status == models.ComplianceStatusQueued {
			if err := s.repos.Compliance.MarkInProgress(ctx, existing.ID); err != nil {
				return nil, err
			}
			existing.Status = models.ComplianceStatusInProgress
		}
		log.Infof("[Compliance] resuming %s request %s", in.Type, existing.ID)
		return existing, nil
	}
	if !apperror.IsNotFound(err) {
		return nil, err
	}

	req := &models.ComplianceRequest{
		ID:          s.newID(),
		TenantID:    in.TenantID,
		SubjectID:   in.SubjectID,
		RequestType: in.Type,
		Status:      models.ComplianceStatusInProgress,
		InitiatedBy: in.InitiatedBy,
		Reason:      in.Reason,
	}
	if err := s.repos.Compliance.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create compliance request: %w", err)
	}
	return req, nil
}

func (s *Service) export(ctx context.Context, in Input, requestID string) (string, error) {
	doc, err := s.BuildExport(ctx, in.TenantID, in.SubjectID)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	url, err := s.artifacts.Put(ctx, s3archive.ExportKey(in.TenantID, requestID), body)
	if err != nil {
		return "", fmt.Errorf("store export: %w", err)
	}
	return url, nil
}

// BuildExport gathers everything held about a subject.
func (s *Service) BuildExport(ctx context.Context, tenantID, subjectID string) (*Export, error) {
	var (
		orders       []models.Order
		appointments []models.Appointment
		consents     []models.Consent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		orders, err = s.repos.Order.ListByCustomer(gctx, tenantID, subjectID)
		return err
	})
	g.Go(func() error {
		var err error
		appointments, err = s.repos.Appointment.ListByCustomer(gctx, tenantID, subjectID)
		return err
	})
	g.Go(func() error {
		var err error
		consents, err = s.repos.Consent.ListBySubject(gctx, tenantID, subjectID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("gather export: %w", err)
	}

	return &Export{
		Orders:       exportOrders(orders),
		Appointments: exportAppointments(appointments),
		Consents:     exportConsents(consents),
		GeneratedAt:  s.now(),
	}, nil
}

// erase anonymises the profile and strips appointment details. Running it
// again leaves the same state.
func (s *Service) erase(ctx context.Context, in Input) error {
	found, err := s.repos.Profile.Anonymise(ctx, in.TenantID, in.SubjectID)
	if err != nil {
		return fmt.Errorf("anonymise profile: %w", err)
	}
	if !found {
		log.Warnf("[Compliance] no profile %s for tenant %s, stripping appointments only", in.SubjectID, in.TenantID)
	}
	n, err := s.repos.Appointment.StripPersonalData(ctx, in.TenantID, in.SubjectID)
	if err != nil {
		return fmt.Errorf("strip appointments: %w", err)
	}
	log.Infof("[Compliance] anonymised subject %s (%d appointments)", in.SubjectID, n)
	return nil
}

func (s *Service) reject(ctx context.Context, in Input, requestID string, cause error) {
	metrics.ComplianceRequests.WithLabelValues(in.Type, "rejected").Inc()
	log.Errorf("[Compliance] %s request %s failed: %v", in.Type, requestID, cause)
	if err := s.repos.Compliance.MarkRejected(ctx, requestID, cause.Error()); err != nil {
		log.Errorf("[Compliance] failed to mark request %s rejected: %v", requestID, err)
	}
	s.record(ctx, audit.Entry{
		TenantID:  in.TenantID,
		ActorID:   in.SubjectID,
		ActorRole: in.InitiatedBy,
		Action:    audit.ActionComplianceRejected,
		Resource:  requestID,
		Changes:   map[string]any{"reason": cause.Error()},
	})
}

// record logs audit failures; the request outcome is already stored.
func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if err := s.audit.Record(ctx, entry); err != nil {
		log.Errorf("[Compliance] audit %s for %s failed: %v", entry.Action, entry.Resource, err)
	}
}

// RecordConsent appends a consent decision. A refusal is stored with
// revoked_at set.
func (s *Service) RecordConsent(ctx context.Context, in ConsentInput) (*models.Consent, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	consent := &models.Consent{
		ID:          s.newID(),
		TenantID:    in.TenantID,
		SubjectID:   in.SubjectID,
		ConsentType: in.ConsentType,
		Granted:     in.Granted,
		GrantedAt:   now,
		Metadata:    datatypes.JSONMap{},
	}
	for k, v := range in.Metadata {
		consent.Metadata[k] = v
	}
	if !in.Granted {
		consent.RevokedAt = &now
	}
	if err := s.repos.Consent.Create(ctx, consent); err != nil {
		return nil, fmt.Errorf("create consent: %w", err)
	}

	err := s.audit.Record(ctx, audit.Entry{
		TenantID:  in.TenantID,
		ActorID:   in.SubjectID,
		ActorRole: models.InitiatedByCustomer,
		Action:    audit.ActionConsentUpdated,
		Resource:  in.ConsentType,
		Changes:   map[string]any{"granted": in.Granted},
	})
	if err != nil {
		return nil, err
	}
	return consent, nil
}

// Status reports the current state of a request.
func (s *Service) Status(ctx context.Context, id string) (*StatusResponse, error) {
	if id == "" {
		return nil, apperror.Validation("id", "is required")
	}
	req, err := s.repos.Compliance.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{
		RequestID:   req.ID,
		Status:      req.Status,
		ExportURL:   req.ExportURL,
		CompletedAt: req.CompletedAt,
	}, nil
}
