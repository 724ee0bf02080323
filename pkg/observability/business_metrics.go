package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	// Purchase lifecycle metrics
	purchaseTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_transitions_total",
		Help: "Total purchase state transitions",
	}, []string{
		"status", // pending_payment, paid, completed, disputed, refunded, cancelled, failed
	})

	purchaseAmountCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_amount_cents_total",
		Help: "Total purchase amount in cents by resulting status",
	}, []string{
		"status",
		"currency",
	})

	// Ledger metrics
	ledgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entries_total",
		Help: "Total ledger entries appended",
	}, []string{
		"type",   // payment, commission, payout, refund
		"status", // status at append time
	})

	ledgerAmountCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_amount_cents_total",
		Help: "Total ledger amount in cents by entry type",
	}, []string{
		"type",
		"currency",
	})

	// Escrow metrics
	escrowReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_releases_total",
		Help: "Escrow release attempts by outcome",
	}, []string{
		"outcome", // released, skipped, failed
	})

	escrowFreezesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_freezes_total",
		Help: "Payouts frozen by a dispute",
	})

	escrowSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "escrow_sweep_duration_seconds",
		Help:    "Duration of an escrow release sweep",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	})

	// Dispute metrics
	disputesOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disputes_opened_total",
		Help: "Total disputes opened",
	}, []string{
		"type",
		"priority",
		"flagged", // true, false
	})

	disputesResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disputes_resolved_total",
		Help: "Total disputes resolved by resolution kind",
	}, []string{
		"resolution",
	})

	disputeTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispute_transitions_total",
		Help: "Dispute status changes by action",
	}, []string{
		"action", // responded, escalated, withdrawn, closed, expired
	})

	fraudIndicatorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispute_fraud_indicators_total",
		Help: "Fraud heuristics matched at dispute creation",
	}, []string{
		"indicator",
	})

	// Payment gateway metrics
	gatewayCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_calls_total",
		Help: "Payment gateway calls by operation and outcome",
	}, []string{
		"operation", // create_intent, get_intent, capture, refund
		"outcome",   // success, error, circuit_open
	})

	gatewayCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_call_duration_seconds",
		Help:    "Payment gateway call latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"operation",
	})

	// Notification metrics
	notificationDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_deliveries_total",
		Help: "Total notification delivery attempts",
	}, []string{
		"event_type",
		"status", // success, failed, dropped
	})

	notificationDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notification_delivery_duration_seconds",
		Help:    "Time to deliver a notification",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{
		"event_type",
	})
)

func toCents(amount decimal.Decimal) float64 {
	return float64(amount.Shift(2).Round(0).IntPart())
}

// RecordPurchaseTransition records a purchase entering status
func RecordPurchaseTransition(status string, amount decimal.Decimal, currency string) {
	purchaseTransitionsTotal.WithLabelValues(status).Inc()
	purchaseAmountCents.WithLabelValues(status, currency).Add(toCents(amount))
}

// RecordLedgerEntry records an appended ledger entry
func RecordLedgerEntry(entryType, status string, amount decimal.Decimal, currency string) {
	ledgerEntriesTotal.WithLabelValues(entryType, status).Inc()
	ledgerAmountCents.WithLabelValues(entryType, currency).Add(toCents(amount))
}

// RecordEscrowRelease records the outcome of one release attempt
func RecordEscrowRelease(outcome string) {
	escrowReleasesTotal.WithLabelValues(outcome).Inc()
}

// RecordEscrowFreeze records a payout frozen by a dispute
func RecordEscrowFreeze() {
	escrowFreezesTotal.Inc()
}

// RecordEscrowSweep records how long a release sweep took
func RecordEscrowSweep(duration float64) {
	escrowSweepDuration.Observe(duration)
}

// RecordDisputeOpened records a new dispute and its fraud indicators
func RecordDisputeOpened(disputeType, priority string, flagged bool, indicators []string) {
	disputesOpenedTotal.WithLabelValues(disputeType, priority, strconv.FormatBool(flagged)).Inc()
	for _, ind := range indicators {
		fraudIndicatorsTotal.WithLabelValues(ind).Inc()
	}
}

// RecordDisputeResolved records a resolution
func RecordDisputeResolved(resolution string) {
	disputesResolvedTotal.WithLabelValues(resolution).Inc()
}

// RecordDisputeTransition records a non-resolution dispute action
func RecordDisputeTransition(action string) {
	disputeTransitionsTotal.WithLabelValues(action).Inc()
}

// RecordGatewayCall records a payment gateway call
func RecordGatewayCall(operation, outcome string, duration float64) {
	gatewayCallsTotal.WithLabelValues(operation, outcome).Inc()
	gatewayCallDuration.WithLabelValues(operation).Observe(duration)
}

// RecordNotificationDelivery records a notification delivery attempt
func RecordNotificationDelivery(eventType, status string, duration float64) {
	notificationDeliveriesTotal.WithLabelValues(eventType, status).Inc()
	if status != "dropped" {
		notificationDeliveryDuration.WithLabelValues(eventType).Observe(duration)
	}
}
