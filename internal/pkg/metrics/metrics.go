package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Processing result labels.
const (
	ResultApplied          = "applied"
	ResultAlreadySatisfied = "already_satisfied"
	ResultError            = "error"
)

// Webhook admission result labels.
const (
	ResultAccepted  = "accepted"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
)

var (
	WebhookEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permisos_webhook_events_received_total",
			Help: "Inbound provider webhook deliveries by admission result",
		},
		[]string{"result"},
	)

	PaymentEventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permisos_payment_events_processed_total",
			Help: "Processing attempts that reached a final per-attempt result",
		},
		[]string{"result"},
	)

	ProcessingRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "permisos_payment_event_retries_total",
			Help: "Re-attempts scheduled for failed event processing",
		},
	)

	OperatorAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "permisos_operator_alerts_total",
			Help: "Operator alerts raised for events that exhausted retries",
		},
	)

	PermitsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "permisos_permits_issued_total",
			Help: "Permits issued after successful payment",
		},
	)
)
