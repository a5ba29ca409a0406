// Package errorreport forwards provider and internal failures to Sentry
// together with request correlation data.
package errorreport

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Plan5/internal/pkg/env"
)

// Event carries an error plus correlation metadata.
type Event struct {
	Err         error
	Route       string
	RequestID   string
	TraceParent string
	TenantID    string
	Extra       map[string]any
}

type Reporter interface {
	Capture(ctx context.Context, ev Event)
}

// LogReporter only writes the failure to the log.
type LogReporter struct{}

func (LogReporter) Capture(_ context.Context, ev Event) {
	log.Errorf("[ErrorReport] route=%s request_id=%s traceparent=%s: %v", ev.Route, ev.RequestID, ev.TraceParent, ev.Err)
}

type SentryReporter struct {
	hub *sentry.Hub
}

func NewSentryReporter(dsn, environment string) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, err
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (r *SentryReporter) Capture(_ context.Context, ev Event) {
	if ev.Err == nil {
		return
	}
	LogReporter{}.Capture(context.Background(), ev)
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("route", ev.Route)
		if ev.RequestID != "" {
			scope.SetTag("request_id", ev.RequestID)
		}
		if ev.TraceParent != "" {
			scope.SetTag("traceparent", ev.TraceParent)
		}
		if ev.TenantID != "" {
			scope.SetTag("tenant_id", ev.TenantID)
		}
		if len(ev.Extra) > 0 {
			scope.SetContext("details", sentry.Context(ev.Extra))
		}
		r.hub.CaptureException(ev.Err)
	})
}

// Flush waits for buffered events to be sent.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// NewFromEnv returns a Sentry reporter when SENTRY_DSN is set and a
// LogReporter otherwise.
func NewFromEnv(p env.Provider) Reporter {
	dsn := p.Optional("SENTRY_DSN", "")
	if dsn == "" {
		return LogReporter{}
	}
	reporter, err := NewSentryReporter(dsn, p.Optional("APP_ENV", "prod"))
	if err != nil {
		log.Warnf("[ErrorReport] Sentry disabled: %v", err)
		return LogReporter{}
	}
	return reporter
}
