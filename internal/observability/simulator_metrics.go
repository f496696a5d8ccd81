package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/meshroute/internal/routing"
)

// SimulatorCollector exposes constellation, routing and transmission
// metrics. It satisfies core.MetricsRecorder and transmit.MetricsRecorder.
type SimulatorCollector struct {
	gatherer prometheus.Gatherer

	ActiveNodes      prometheus.Gauge
	MeanLoad         prometheus.Gauge
	NodeFaults       prometheus.Counter
	Recoveries       prometheus.Counter
	LinkQueries      *prometheus.CounterVec
	RouteEvaluations *prometheus.CounterVec
	Transmissions    *prometheus.CounterVec
	RouteFragments   *prometheus.CounterVec
	DecisionDuration prometheus.Histogram
}

// NewSimulatorCollector registers simulator metrics against the provided registerer.
func NewSimulatorCollector(reg prometheus.Registerer) (*SimulatorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "constellation_active_nodes",
		Help: "Number of satellites currently in service.",
	}), "constellation_active_nodes")
	if err != nil {
		return nil, err
	}
	load, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "constellation_mean_load",
		Help: "Mean node load across the constellation.",
	}), "constellation_mean_load")
	if err != nil {
		return nil, err
	}
	faults, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "constellation_node_faults_total",
		Help: "Cumulative number of injected node failures.",
	}), "constellation_node_faults_total")
	if err != nil {
		return nil, err
	}
	recoveries, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "constellation_recoveries_total",
		Help: "Cumulative number of full-constellation recoveries.",
	}), "constellation_recoveries_total")
	if err != nil {
		return nil, err
	}
	links, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "constellation_link_queries_total",
		Help: "Link metric queries, labeled by whether the link was up or down.",
	}, []string{"state"}), "constellation_link_queries_total")
	if err != nil {
		return nil, err
	}
	evals, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routing_route_evaluations_total",
		Help: "Candidate route evaluations, labeled by outcome.",
	}, []string{"outcome"}), "routing_route_evaluations_total")
	if err != nil {
		return nil, err
	}
	transmissions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transmit_transmissions_total",
		Help: "Payload transmissions, labeled by outcome.",
	}, []string{"outcome"}), "transmit_transmissions_total")
	if err != nil {
		return nil, err
	}
	fragments, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transmit_route_fragments_total",
		Help: "Fragments assigned to routes, labeled by strategy.",
	}, []string{"strategy"}), "transmit_route_fragments_total")
	if err != nil {
		return nil, err
	}
	decision, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "routing_decision_duration_seconds",
		Help:    "Wall-clock duration of multipath routing decisions.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "routing_decision_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimulatorCollector{
		gatherer:         gatherer,
		ActiveNodes:      active,
		MeanLoad:         load,
		NodeFaults:       faults,
		Recoveries:       recoveries,
		LinkQueries:      links,
		RouteEvaluations: evals,
		Transmissions:    transmissions,
		RouteFragments:   fragments,
		DecisionDuration: decision,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulatorCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimulatorCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

// SetNodeState updates the active node and mean load gauges.
func (c *SimulatorCollector) SetNodeState(active int, meanLoad float64) {
	if c == nil {
		return
	}
	c.ActiveNodes.Set(float64(active))
	c.MeanLoad.Set(meanLoad)
}

// IncNodeFaults increments the fault counter.
func (c *SimulatorCollector) IncNodeFaults() {
	if c == nil {
		return
	}
	c.NodeFaults.Inc()
}

// IncRecoveries increments the recovery counter.
func (c *SimulatorCollector) IncRecoveries() {
	if c == nil {
		return
	}
	c.Recoveries.Inc()
}

// IncLinkQueries counts one link metric query.
func (c *SimulatorCollector) IncLinkQueries(down bool) {
	if c == nil {
		return
	}
	state := "up"
	if down {
		state = "down"
	}
	c.LinkQueries.WithLabelValues(state).Inc()
}

// ObserveEvaluation counts one route evaluation. It has the shape of
// routing.RouteEvaluator.Observe.
func (c *SimulatorCollector) ObserveEvaluation(o routing.EvalOutcome) {
	if c == nil {
		return
	}
	c.RouteEvaluations.WithLabelValues(string(o)).Inc()
}

// IncTransmissions counts one transmission by outcome.
func (c *SimulatorCollector) IncTransmissions(outcome string) {
	if c == nil {
		return
	}
	c.Transmissions.WithLabelValues(outcome).Inc()
}

// AddRouteFragments adds n fragments to the strategy's counter.
func (c *SimulatorCollector) AddRouteFragments(strategy string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.RouteFragments.WithLabelValues(strategy).Add(float64(n))
}

// ObserveDecision records a routing decision duration.
func (c *SimulatorCollector) ObserveDecision(d time.Duration) {
	if c == nil {
		return
	}
	c.DecisionDuration.Observe(d.Seconds())
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
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
