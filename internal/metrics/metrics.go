// Package metrics exposes Prometheus collectors for the appraiser service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appraiser_analyses_total",
			Help: "Total number of channel analyses, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	entitlementDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appraiser_entitlement_decisions_total",
			Help: "Entitlement gate decisions, labeled by decision.",
		},
		[]string{"decision"},
	)

	giftRedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appraiser_gift_redemptions_total",
			Help: "Gift code redemption attempts, labeled by result.",
		},
		[]string{"result"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appraiser_fetch_duration_seconds",
			Help:    "Latency of remote fetches, labeled by target and status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"target", "status"},
	)

	rateRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appraiser_exchange_rate_refresh_total",
			Help: "Exchange rate refresh attempts, labeled by source and status.",
		},
		[]string{"source", "status"},
	)

	cachedChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "appraiser_cached_channels",
			Help: "Number of channels in the snapshot cache after the last save.",
		},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appraiser_notifications_total",
			Help: "Admin notifications, labeled by status.",
		},
		[]string{"status"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAnalysis increments the analysis counter for outcome.
func ObserveAnalysis(outcome string) {
	analysesTotal.WithLabelValues(outcome).Inc()
}

// ObserveEntitlement increments the gate decision counter.
func ObserveEntitlement(decision string) {
	entitlementDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveGiftRedemption increments the redemption counter.
func ObserveGiftRedemption(result string) {
	giftRedemptionsTotal.WithLabelValues(result).Inc()
}

// ObserveFetch records a remote fetch latency.
func ObserveFetch(target, status string, duration time.Duration) {
	fetchDurationSeconds.WithLabelValues(target, status).Observe(duration.Seconds())
}

// ObserveRateRefresh increments the exchange rate refresh counter.
func ObserveRateRefresh(source, status string) {
	rateRefreshTotal.WithLabelValues(source, status).Inc()
}

// SetCachedChannels records the cache size.
func SetCachedChannels(total int) {
	cachedChannels.Set(float64(total))
}

// ObserveNotification increments the notification counter.
func ObserveNotification(status string) {
	notificationsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
