// Package metrics implements an events.Sink backed by Prometheus,
// counting fan-out engine calls and per-unit outcomes per data source and
// SQL type, and the number of units per call. No latency is recorded.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mevdschee/shardexec/events"
)

var (
	// ExecuteTotal counts Overall execute() calls by outcome.
	ExecuteTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardexec_execute_total",
			Help: "Total execute() calls, by sql_type and outcome",
		},
		[]string{"sql_type", "outcome"},
	)

	// ExecuteUnitCount tracks how many units fan out per execute() call.
	ExecuteUnitCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shardexec_execute_unit_count",
			Help:    "Number of statement units per execute() call",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"sql_type"},
	)

	// UnitTotal counts per-unit outcomes by data source and sql type.
	UnitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardexec_unit_total",
			Help: "Total statement units executed, by data_source, sql_type and outcome",
		},
		[]string{"data_source", "sql_type", "outcome"},
	)

	// ConnectionPhaseTotal is registered for backend response state
	// machine phase transitions (e.g. authentication success/failure); no
	// package in this module increments it.
	ConnectionPhaseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardexec_connection_phase_total",
			Help: "Total backend connection phase transitions",
		},
		[]string{"phase", "outcome"},
	)

	once sync.Once
)

// Init registers all metrics with the default Prometheus registry.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(ExecuteTotal)
		prometheus.MustRegister(ExecuteUnitCount)
		prometheus.MustRegister(UnitTotal)
		prometheus.MustRegister(ConnectionPhaseTotal)
	})
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Sink adapts ExecuteTotal, ExecuteUnitCount and UnitTotal to events.Sink:
// every SUCCESS or FAILURE event updates them. BEFORE events are ignored,
// and ConnectionPhaseTotal is not touched.
type Sink struct{}

// NewSink returns a Sink ready to use; Init must be called once at
// startup to register its metrics.
func NewSink() Sink { return Sink{} }

func (Sink) Publish(e events.Event) {
	switch e.Kind {
	case events.Overall:
		switch e.Phase {
		case events.Success:
			ExecuteTotal.WithLabelValues(e.SqlType.String(), "success").Inc()
			ExecuteUnitCount.WithLabelValues(e.SqlType.String()).Observe(float64(e.UnitCount))
		case events.Failure:
			ExecuteTotal.WithLabelValues(e.SqlType.String(), "failure").Inc()
			ExecuteUnitCount.WithLabelValues(e.SqlType.String()).Observe(float64(e.UnitCount))
		}
	case events.UnitDQL, events.UnitDML:
		switch e.Phase {
		case events.Success:
			UnitTotal.WithLabelValues(e.DataSourceID, e.SqlType.String(), "success").Inc()
		case events.Failure:
			UnitTotal.WithLabelValues(e.DataSourceID, e.SqlType.String(), "failure").Inc()
		}
	}
}
