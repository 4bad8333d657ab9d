package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus metrics for the steering loop. All methods are
// safe on a nil receiver.
type Metrics struct {
	gatherer prometheus.Gatherer

	Ticks           prometheus.Counter
	TickDuration    prometheus.Histogram
	NeighborQueries prometheus.Counter
	Evaluations     prometheus.Counter
	Truncations     prometheus.Counter
	Agents          prometheus.Gauge
	Lifecycle       *prometheus.CounterVec
}

// NewMetrics registers steering metrics against reg, defaulting to the
// global Prometheus registry when nil. Registering twice against the same
// registry returns the existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steer_ticks_total",
		Help: "Total number of steering ticks run.",
	}), "steer_ticks_total")
	if err != nil {
		return nil, err
	}
	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "steer_tick_duration_seconds",
		Help:    "Wall time of one steering tick in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	}), "steer_tick_duration_seconds")
	if err != nil {
		return nil, err
	}
	queries, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steer_neighbor_queries_total",
		Help: "Total number of neighbor queries issued.",
	}), "steer_neighbor_queries_total")
	if err != nil {
		return nil, err
	}
	evaluations, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steer_behavior_evaluations_total",
		Help: "Total number of steering behavior evaluations.",
	}), "steer_behavior_evaluations_total")
	if err != nil {
		return nil, err
	}
	truncations, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steer_force_truncations_total",
		Help: "Total number of agent steps whose combined force hit the force budget.",
	}), "steer_force_truncations_total")
	if err != nil {
		return nil, err
	}
	agents, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "steer_agents",
		Help: "Current number of agents.",
	}), "steer_agents")
	if err != nil {
		return nil, err
	}
	lifecycle, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "steer_lifecycle_events_total",
		Help: "Agent lifecycle events, labeled by type.",
	}, []string{"type"}), "steer_lifecycle_events_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:        gatherer,
		Ticks:           ticks,
		TickDuration:    duration,
		NeighborQueries: queries,
		Evaluations:     evaluations,
		Truncations:     truncations,
		Agents:          agents,
		Lifecycle:       lifecycle,
	}, nil
}

// ObserveTick records one tick's duration and work.
func (m *Metrics) ObserveTick(d time.Duration, tc TickCounts) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.TickDuration.Observe(d.Seconds())
	m.NeighborQueries.Add(float64(tc.NeighborQueries))
	m.Evaluations.Add(float64(tc.Evaluated))
	m.Truncations.Add(float64(tc.Truncated))
	m.Agents.Set(float64(tc.Agents))
}

// RecordEvent counts a lifecycle event.
func (m *Metrics) RecordEvent(e Event) {
	if m == nil {
		return
	}
	m.Lifecycle.WithLabelValues(e.Type.String()).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (m *Metrics) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if m != nil && m.gatherer != nil {
		gatherer = m.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
