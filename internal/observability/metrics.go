package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_coordination", Name: "rides_created_total",
		Help: "Total rides created",
	})
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ride_coordination", Name: "ride_transitions_total",
		Help: "Ride lifecycle transitions by target state",
	}, []string{"to"})
	TransitionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ride_coordination", Name: "ride_transitions_rejected_total",
		Help: "Rejected lifecycle transitions by error kind",
	}, []string{"kind"})

	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_coordination", Name: "matches_total",
		Help: "Total successful match quotes",
	})
	NoDriverTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_coordination", Name: "matches_no_driver_total",
		Help: "Match quotes that found no available driver",
	})
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_coordination", Name: "match_latency_seconds",
		Help: "Match quote latency",
	})

	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ride_coordination", Name: "drivers_online",
		Help: "Number of drivers currently online",
	})

	NotifyDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ride_coordination", Name: "notifications_dispatched_total",
		Help: "Notifications dispatched by channel",
	}, []string{"channel"})
	NotifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ride_coordination", Name: "notification_failures_total",
		Help: "Notification failures by channel (never fatal)",
	}, []string{"channel"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_coordination", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_coordination",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
