package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for payment orchestration
var (
	PaymentIntents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan5_payment_intents_total",
			Help: "Payment intents by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan5_webhook_events_total",
			Help: "Inbound provider webhook events by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	Refunds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan5_refunds_total",
			Help: "Refunds by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	InvoicesIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plan5_invoices_issued_total",
			Help: "Invoices issued",
		},
	)

	ComplianceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan5_compliance_requests_total",
			Help: "GDPR requests by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	Reminders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan5_reminders_total",
			Help: "Reminder deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	IdempotencyReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan5_idempotency_replays_total",
			Help: "Stored results replayed instead of re-executing",
		},
		[]string{"scope"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plan5_provider_request_duration_seconds",
			Help:    "Duration of outbound provider API calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PaymentIntents,
			WebhookEvents,
			Refunds,
			InvoicesIssued,
			ComplianceRequests,
			Reminders,
			IdempotencyReplays,
			ProviderRequestDuration,
		)
	})
}

// Handler exposes the default registry on a fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// Outcome maps an error onto the "ok"/"error" label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
