package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartengo_payments_confirmed_total",
		Help: "Total number of confirmed payments",
	}, []string{"method", "source"})

	PaymentsReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartengo_payments_replayed_total",
		Help: "Total number of payment confirmations answered from an existing reference",
	})

	PaymentsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartengo_payments_rejected_total",
		Help: "Total number of rejected payment confirmations",
	}, []string{"reason"})

	SensorEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartengo_sensor_events_total",
		Help: "Total number of sensor updates applied",
	}, []string{"sensor_status"})

	WriteConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartengo_write_conflicts_total",
		Help: "Total number of toilet writes rejected because of a concurrent change",
	}, []string{"operation"})

	OverstayAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartengo_overstay_alerts_total",
		Help: "Total number of sessions flagged for overstay",
	})

	OccupiedToilets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smartengo_occupied_toilets",
		Help: "Number of toilets occupied at the last monitor pass",
	})

	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartengo_events_dropped_total",
		Help: "Total number of change events dropped for slow subscribers",
	})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartengo_notifications_sent_total",
		Help: "Total number of push notifications sent",
	}, []string{"kind", "result"})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartengo_cache_lookups_total",
		Help: "Total number of dashboard cache lookups",
	}, []string{"result"})

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
