// Package metrics defines the Prometheus collectors exposed on GET /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "opencommander_sessions_total",
		Help: "Number of terminal sessions by status.",
	}, []string{"status"})

	SessionStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opencommander_session_starts_total",
		Help: "Total number of session start attempts by outcome.",
	}, []string{"outcome"})

	SessionStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opencommander_session_stops_total",
		Help: "Total number of session stop attempts by outcome.",
	}, []string{"outcome"})

	ProxyConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "opencommander_proxy_connections",
		Help: "Number of active proxy WebSocket connections by endpoint.",
	}, []string{"endpoint"})

	ProxyUpstreamAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opencommander_proxy_upstream_attempts_total",
		Help: "Total number of upstream connection attempts by path and outcome.",
	}, []string{"path", "outcome"})

	PresenceEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opencommander_presence_entries",
		Help: "Number of live presence entries across all projects.",
	})

	ReconcileSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opencommander_reconcile_sweeps_total",
		Help: "Total number of reconciler sweeps performed.",
	})

	ReconcileDrift = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opencommander_reconcile_drift_total",
		Help: "Total number of sessions found drifted from their recorded status, by kind.",
	}, []string{"kind"})
)

// Handler returns the HTTP handler to mount at GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
