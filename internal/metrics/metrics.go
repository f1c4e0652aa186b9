// Package metrics exposes Prometheus instrumentation for style reconciliation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mapstyle"

// Style load outcomes.
const (
	LoadCompleted  = "completed"
	LoadCancelled  = "cancelled"
	LoadFailed     = "failed"
	LoadSuperseded = "superseded"
)

// GeoJSON update results.
const (
	GeoJSONCommitted  = "committed"
	GeoJSONSuperseded = "superseded"
	GeoJSONFailed     = "failed"
)

var (
	engineOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "engine_operations_total",
			Help:      "Engine calls issued by reconciliation passes",
		},
		[]string{"category", "op", "result"},
	)

	passDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a reconciliation pass",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"trigger"},
	)

	styleLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "style",
			Name:      "loads_total",
			Help:      "Style loads by outcome",
		},
		[]string{"outcome"},
	)

	geojsonUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sources",
			Name:      "geojson_updates_total",
			Help:      "Background GeoJSON data updates by result",
		},
		[]string{"result"},
	)
)

// RecordEngineOp counts one engine call.
func RecordEngineOp(category, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	engineOps.WithLabelValues(category, op, result).Inc()
}

// ObservePass records the duration of a reconciliation pass.
func ObservePass(trigger string, d time.Duration) {
	passDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// RecordStyleLoad counts a finished style load.
func RecordStyleLoad(outcome string) {
	styleLoads.WithLabelValues(outcome).Inc()
}

// RecordGeoJSONUpdate counts a finished background data update.
func RecordGeoJSONUpdate(result string) {
	geojsonUpdates.WithLabelValues(result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
