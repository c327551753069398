package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NotificationsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coop_notifications_ingested_total",
		Help: "Notifications added to a timeline, by event.",
	}, []string{"event"})

	NotificationsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coop_notifications_duplicate_total",
		Help: "Redelivered notifications dropped by id.",
	})

	ReactionRollbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coop_reaction_rollbacks_total",
		Help: "Optimistic reaction toggles rolled back after a failed server call.",
	})

	OutboundRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coop_outbound_request_duration_seconds",
		Help:    "Duration of calls to the Coop server.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
	}, []string{"operation", "status"})

	OutboundRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coop_outbound_request_total",
		Help: "Calls to the Coop server.",
	}, []string{"operation", "status"})
)

// MustRegister registers all collectors with registerer.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		NotificationsIngested,
		NotificationsDuplicate,
		ReactionRollbacks,
		OutboundRequestDuration,
		OutboundRequestTotal,
	)
}

// Handler serves the collectors of the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records the duration and outcome of an outbound call.
func ObserveRequest(operation string, start time.Time, err error) {
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	OutboundRequestDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	OutboundRequestTotal.WithLabelValues(operation, status).Inc()
}
