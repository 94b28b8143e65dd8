// Package metrics exposes Prometheus collectors for engine outcomes: infra
// initialisations, service starts, port collisions and startup latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devenv"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

var startupBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// Metrics holds the engine collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	infraInits     *prometheus.CounterVec
	serviceStarts  *prometheus.CounterVec
	portCollisions *prometheus.CounterVec
	unitsRunning   *prometheus.GaugeVec
	unitStartup    *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		infraInits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "infra",
			Name:      "init_total",
			Help:      "Infra initialisation attempts by outcome",
		}, []string{"infra", "kind", "outcome"}),
		serviceStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Service start attempts by outcome",
		}, []string{"service", "outcome"}),
		portCollisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ports",
			Name:      "collisions_total",
			Help:      "Ports that were requested but already in use",
		}, []string{"service"}),
		unitsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units_running",
			Help:      "Units currently running, by unit type",
		}, []string{"type"}),
		unitStartup: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_startup_seconds",
			Help:      "Time from unit launch until it is running",
			Buckets:   startupBuckets,
		}, []string{"type"}),
	}
	m.registry.MustRegister(
		m.infraInits,
		m.serviceStarts,
		m.portCollisions,
		m.unitsRunning,
		m.unitStartup,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) InfraInit(infra, kind, outcome string) {
	if m == nil {
		return
	}
	m.infraInits.WithLabelValues(infra, kind, outcome).Inc()
}

func (m *Metrics) ServiceStart(service, outcome string) {
	if m == nil {
		return
	}
	m.serviceStarts.WithLabelValues(service, outcome).Inc()
}

func (m *Metrics) PortCollision(service string) {
	if m == nil {
		return
	}
	m.portCollisions.WithLabelValues(service).Inc()
}

// UnitRunning records a unit of unitType reaching the running state after d.
func (m *Metrics) UnitRunning(unitType string, d time.Duration) {
	if m == nil {
		return
	}
	m.unitsRunning.WithLabelValues(unitType).Inc()
	m.unitStartup.WithLabelValues(unitType).Observe(d.Seconds())
}

// UnitStopped decrements the running gauge for unitType.
func (m *Metrics) UnitStopped(unitType string) {
	if m == nil {
		return
	}
	m.unitsRunning.WithLabelValues(unitType).Dec()
}
