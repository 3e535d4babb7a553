// Package metrics exposes Prometheus instrumentation for the emission pipeline.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rezonia/nfse-issuer/internal/model"
)

var stageBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics tracks emissions, transitions and stage latency
type Metrics struct {
	registry *prometheus.Registry

	Emissions           *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	ReturnCodes         *prometheus.CounterVec
	TransmissionAttempt prometheus.Histogram
	StageDuration       *prometheus.HistogramVec
}

// New creates a Metrics instance on its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Emissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nfse_emissions_total",
			Help: "Emission requests by final outcome",
		}, []string{"outcome"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nfse_transitions_total",
			Help: "Persisted lifecycle transitions",
		}, []string{"from", "to"}),
		ReturnCodes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nfse_return_codes_total",
			Help: "Authority return codes by classification",
		}, []string{"classification"}),
		TransmissionAttempt: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nfse_transmission_attempts",
			Help:    "Attempts needed per transmission",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nfse_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: stageBuckets,
		}, []string{"stage"}),
	}
}

// IncrementEmission records the outcome of one Emit call
func (m *Metrics) IncrementEmission(outcome string) {
	if m == nil {
		return
	}
	m.Emissions.WithLabelValues(outcome).Inc()
}

// IncrementReturnCode records one classified authority response
func (m *Metrics) IncrementReturnCode(classification string) {
	if m == nil {
		return
	}
	m.ReturnCodes.WithLabelValues(classification).Inc()
}

// ObserveAttempts records how many attempts a transmission took
func (m *Metrics) ObserveAttempts(n int) {
	if m == nil {
		return
	}
	m.TransmissionAttempt.Observe(float64(n))
}

// ObserveStage records the duration of a stage.
// Call with time.Now() at the start of the stage.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Transitioned counts lifecycle transitions as a tracker observer
func (m *Metrics) Transitioned(_ context.Context, doc *model.Document, from model.State) {
	if m == nil {
		return
	}
	label := string(from)
	if label == "" {
		label = "none"
	}
	m.Transitions.WithLabelValues(label, string(doc.State)).Inc()
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
