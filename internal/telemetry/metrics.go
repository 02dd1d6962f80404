package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	PreferencesCreated = prometheus.NewCounter(prometheus.CounterOpts{Name: "payments_preferences_created_total", Help: "Checkout preferences created"})
	PreferenceErrors   = prometheus.NewCounter(prometheus.CounterOpts{Name: "payments_preference_errors_total", Help: "Preference creation failures (upstream)"})
	WebhooksReceived   = prometheus.NewCounter(prometheus.CounterOpts{Name: "payments_webhooks_received_total", Help: "Webhook deliveries received"})
	WebhooksIgnored    = prometheus.NewCounter(prometheus.CounterOpts{Name: "payments_webhooks_ignored_total", Help: "Non-payment webhook events acknowledged"})
	WebhooksReplayed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "payments_webhooks_replayed_total", Help: "Duplicate webhook deliveries short-circuited"})
	PaymentsApproved   = prometheus.NewCounter(prometheus.CounterOpts{Name: "payments_approved_total", Help: "Payments that reached the paid state"})
	PaymentsFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "payments_failed_total", Help: "Payments rejected or cancelled"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "payments_rate_limit_rejects_total", Help: "Preference requests rejected by rate limiter"})
	PayoutsRecorded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "commission_payouts_recorded_total", Help: "Commission settlement records created"})
	EvidenceProcessed  = prometheus.NewCounter(prometheus.CounterOpts{Name: "evidence_processed_total", Help: "Evidence photos processed successfully"})
	EvidenceFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "evidence_failures_total", Help: "Evidence jobs that failed and will retry"})
	EvidenceDeadLetter = prometheus.NewCounter(prometheus.CounterOpts{Name: "evidence_dead_letter_total", Help: "Evidence jobs moved to DLQ"})
	QueueDepthGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "evidence_queue_depth", Help: "Ready evidence queue depth"})
	InFlightGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "evidence_inflight", Help: "Evidence jobs currently leased"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			PreferencesCreated,
			PreferenceErrors,
			WebhooksReceived,
			WebhooksIgnored,
			WebhooksReplayed,
			PaymentsApproved,
			PaymentsFailed,
			RateLimitRejects,
			PayoutsRecorded,
			EvidenceProcessed,
			EvidenceFailures,
			EvidenceDeadLetter,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
