package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// IntakeDocumentsTotal counts uploaded files by intake result (accepted, estimated, rejected).
	IntakeDocumentsTotal *prometheus.CounterVec
	// IntakePagesTotal counts pages of accepted documents.
	IntakePagesTotal prometheus.Counter
	// PriceRecomputeTotal counts price recomputations by outcome (computed, noop).
	PriceRecomputeTotal *prometheus.CounterVec
	// SessionActionsTotal counts dispatched session actions by action and result.
	SessionActionsTotal *prometheus.CounterVec
	// CheckoutTransitionTotal counts checkout flow stage transitions.
	CheckoutTransitionTotal *prometheus.CounterVec
	// PaymentVerifyTotal counts payment verification outcomes.
	PaymentVerifyTotal *prometheus.CounterVec
	// UpstreamCallLatency records upstream call latency in milliseconds.
	UpstreamCallLatency *prometheus.HistogramVec
	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal *prometheus.CounterVec
	// WebhookAttemptLatency records webhook attempt latency in milliseconds.
	WebhookAttemptLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		IntakeDocumentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_documents_total",
			Help:      "Count of uploaded documents by intake result.",
		}, []string{"result"})
		IntakePagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_pages_total",
			Help:      "Total pages of accepted documents.",
		})
		PriceRecomputeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_recompute_total",
			Help:      "Count of price recomputations by outcome.",
		}, []string{"result"})
		SessionActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_actions_total",
			Help:      "Count of session state actions by action and result.",
		}, []string{"action", "result"})
		CheckoutTransitionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_transition_total",
			Help:      "Count of checkout flow stage transitions.",
		}, []string{"from", "to"})
		PaymentVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verify_total",
			Help:      "Count of payment verification outcomes.",
		}, []string{"provider", "result"})
		UpstreamCallLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_duration_ms",
			Help:      "Latency for upstream API calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"service", "result"})
		WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Count of webhook delivery attempts by result.",
		}, []string{"result"})
		WebhookAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_attempt_duration_ms",
			Help:      "Latency for webhook delivery attempts in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"result"})

		mustRegisterCollector(reg, IntakeDocumentsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				IntakeDocumentsTotal = v
			}
		})
		mustRegisterCollector(reg, IntakePagesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				IntakePagesTotal = v
			}
		})
		mustRegisterCollector(reg, PriceRecomputeTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PriceRecomputeTotal = v
			}
		})
		mustRegisterCollector(reg, SessionActionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SessionActionsTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutTransitionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutTransitionTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentVerifyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentVerifyTotal = v
			}
		})
		mustRegisterCollector(reg, UpstreamCallLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				UpstreamCallLatency = v
			}
		})
		mustRegisterCollector(reg, WebhookDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WebhookDeliveriesTotal = v
			}
		})
		mustRegisterCollector(reg, WebhookAttemptLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				WebhookAttemptLatency = v
			}
		})
	})
}

// CountVec increments vec with labels when the collector has been registered.
func CountVec(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
