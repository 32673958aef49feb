package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SagaExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_executions_total",
		Help: "Total number of saga executions by outcome",
	}, []string{"saga", "outcome"})

	SagaStepLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_step_latency_seconds",
		Help:    "Latency of individual saga steps",
		Buckets: prometheus.DefBuckets,
	}, []string{"saga", "step"})

	SagaStepFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_step_failures_total",
		Help: "Total number of failed saga steps",
	}, []string{"saga", "step"})

	SagaCompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_compensations_total",
		Help: "Total number of compensations run by outcome",
	}, []string{"saga", "step", "outcome"})

	ReservationsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_confirmed_total",
		Help: "Total number of confirmed reservations",
	})

	ReservationsCheckedInTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_checked_in_total",
		Help: "Total number of checked-in reservations",
	})

	ReservationsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_completed_total",
		Help: "Total number of completed reservations",
	})

	ReservationsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_cancelled_total",
		Help: "Total number of cancelled reservations",
	})

	RefundAmountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refund_amount_total",
		Help: "Sum of refunded amounts",
	})

	GuestPaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guest_payments_total",
		Help: "Total number of guest payments by resulting payment status",
	}, []string{"payment_status"})

	PayoutsScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "owner_payouts_scheduled_total",
		Help: "Total number of owner payouts scheduled",
	})

	PayoutsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "owner_payouts_completed_total",
		Help: "Total number of owner payouts completed",
	})

	PendingPayouts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "owner_payouts_pending",
		Help: "Owner payouts pending longer than the reminder threshold",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Total number of notifications by channel and status",
	}, []string{"channel", "status"})

	LockWaitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservation_lock_wait_seconds",
		Help:    "Time spent waiting for a reservation lock",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
