// Package metrics holds the Prometheus collectors for the Atlas engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_sessions_open",
		Help: "Number of open Atlas sessions",
	})
	SearchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atlas_searches_total",
		Help: "Total free-text searches sent to the directory",
	})
	SearchFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atlas_search_failures_total",
		Help: "Total searches that failed",
	})
	SearchDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlas_search_duration_ms",
		Help:    "Search round trip in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000},
	})
	SearchCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_search_cache_total",
		Help: "Search cache lookups by result",
	}, []string{"result"})
	FilterIntentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_filter_intents_total",
		Help: "Filter intents recognised in queries",
	}, []string{"intent"})
	ToursStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atlas_tours_started_total",
		Help: "Total tours started",
	})
	TourStopsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atlas_tour_stops_total",
		Help: "Total tour stops reached",
	})
	HUDMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_hud_messages_total",
		Help: "HUD messages shown by kind",
	}, []string{"kind"})
	RendererFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_renderer_failures_total",
		Help: "Renderer operations that failed and were abandoned",
	}, []string{"op"})
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_notifications_total",
		Help: "Outbound notifications by kind and outcome",
	}, []string{"kind", "outcome"})
)

func init() {
	prometheus.MustRegister(SessionsOpen)
	prometheus.MustRegister(SearchesTotal)
	prometheus.MustRegister(SearchFailuresTotal)
	prometheus.MustRegister(SearchDurationMs)
	prometheus.MustRegister(SearchCacheTotal)
	prometheus.MustRegister(FilterIntentsTotal)
	prometheus.MustRegister(ToursStartedTotal)
	prometheus.MustRegister(TourStopsTotal)
	prometheus.MustRegister(HUDMessagesTotal)
	prometheus.MustRegister(RendererFailuresTotal)
	prometheus.MustRegister(NotificationsTotal)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }
