// Package monitor records per-decision transaction contexts for every
// routing algorithm under comparison and summarises them.
package monitor

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/meshroute/core"
	"github.com/signalsfoundry/meshroute/model"
)

// HopSample is one link observation made while a transaction was open.
type HopSample struct {
	Link    model.Link
	Metrics core.LinkMetrics
}

// TransactionContext tracks one routing attempt by one algorithm.
type TransactionContext struct {
	ID        string
	Algorithm string
	Src, Dst  model.NodeID
	Size      int

	DecisionLatency time.Duration
	Hops            []HopSample
	Success         bool
	// EndToEndLatency is the simulated delivery latency in seconds.
	EndToEndLatency float64
	PathStretch     float64
	HasStretch      bool

	started time.Time
	decided bool
	closed  bool
}

// Outcome closes a transaction.
type Outcome struct {
	Success bool
	// Latency is the simulated end-to-end latency in seconds.
	Latency float64
	// AlgorithmCost and ReferenceCost feed path stretch. A reference that
	// is non-finite or not positive leaves stretch undefined.
	AlgorithmCost float64
	ReferenceCost float64
}

// AlgorithmSummary aggregates every closed transaction for one algorithm.
type AlgorithmSummary struct {
	Algorithm           string        `json:"algorithm"`
	Attempts            int           `json:"attempts"`
	Successes           int           `json:"successes"`
	SuccessRate         float64       `json:"success_rate"`
	MeanLatency         float64       `json:"mean_latency"`
	P95Latency          float64       `json:"p95_latency"`
	MeanHops            float64       `json:"mean_hops"`
	MeanDecisionLatency time.Duration `json:"mean_decision_latency"`
	MeanPathStretch     float64       `json:"mean_path_stretch"`
	HasStretch          bool          `json:"has_stretch"`
}

// Monitor is safe for concurrent use.
type Monitor struct {
	mu     sync.Mutex
	now    func() time.Time
	closed []*TransactionContext
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithClock overrides the wall clock used for decision latency.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// New returns an empty monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a transaction at decision start.
func (m *Monitor) Start(algorithm string, src, dst model.NodeID, size int) *TransactionContext {
	return &TransactionContext{
		ID:        uuid.NewString(),
		Algorithm: algorithm,
		Src:       src,
		Dst:       dst,
		Size:      size,
		started:   m.now(),
	}
}

// RecordDecisionEnd stamps the decision latency. Only the first call
// counts.
func (m *Monitor) RecordDecisionEnd(tx *TransactionContext) {
	if tx == nil || tx.decided {
		return
	}
	tx.DecisionLatency = m.now().Sub(tx.started)
	tx.decided = true
}

// RecordHop appends a link observation.
func (m *Monitor) RecordHop(tx *TransactionContext, link model.Link, metrics core.LinkMetrics) {
	if tx == nil || tx.closed {
		return
	}
	tx.Hops = append(tx.Hops, HopSample{Link: link, Metrics: metrics})
}

// End closes tx with its outcome. A transaction closes at most once.
func (m *Monitor) End(tx *TransactionContext, out Outcome) {
	if tx == nil || tx.closed {
		return
	}
	m.RecordDecisionEnd(tx)
	tx.Success = out.Success
	tx.EndToEndLatency = out.Latency
	if ref := out.ReferenceCost; ref > 0 && !math.IsInf(ref, 0) && !math.IsNaN(ref) &&
		!math.IsInf(out.AlgorithmCost, 0) && !math.IsNaN(out.AlgorithmCost) {
		tx.PathStretch = out.AlgorithmCost / ref
		tx.HasStretch = true
	}
	tx.closed = true

	m.mu.Lock()
	m.closed = append(m.closed, tx)
	m.mu.Unlock()
}

// Transactions returns the closed transactions in close order.
func (m *Monitor) Transactions() []*TransactionContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TransactionContext, len(m.closed))
	copy(out, m.closed)
	return out
}

// Summary aggregates closed transactions per algorithm, sorted by tag.
// Latency and hop statistics cover successful transactions only.
func (m *Monitor) Summary() []AlgorithmSummary {
	m.mu.Lock()
	byAlg := map[string][]*TransactionContext{}
	for _, tx := range m.closed {
		byAlg[tx.Algorithm] = append(byAlg[tx.Algorithm], tx)
	}
	m.mu.Unlock()

	names := make([]string, 0, len(byAlg))
	for name := range byAlg {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]AlgorithmSummary, 0, len(names))
	for _, name := range names {
		out = append(out, summarise(name, byAlg[name]))
	}
	return out
}

func summarise(name string, txs []*TransactionContext) AlgorithmSummary {
	s := AlgorithmSummary{Algorithm: name, Attempts: len(txs)}
	var (
		latencies []float64
		hops      float64
		decision  time.Duration
		stretch   float64
		stretches int
	)
	for _, tx := range txs {
		decision += tx.DecisionLatency
		if tx.HasStretch {
			stretch += tx.PathStretch
			stretches++
		}
		if !tx.Success {
			continue
		}
		s.Successes++
		latencies = append(latencies, tx.EndToEndLatency)
		hops += float64(len(tx.Hops))
	}
	if s.Attempts > 0 {
		s.SuccessRate = float64(s.Successes) / float64(s.Attempts)
		s.MeanDecisionLatency = decision / time.Duration(s.Attempts)
	}
	if n := len(latencies); n > 0 {
		s.MeanLatency = mean(latencies)
		s.P95Latency = Percentile(latencies, 0.95)
		s.MeanHops = hops / float64(n)
	}
	if stretches > 0 {
		s.MeanPathStretch = stretch / float64(stretches)
		s.HasStretch = true
	}
	return s
}

// Percentile returns the nearest-rank p-th percentile of samples, picking
// index round(p*(n-1)) of the sorted copy. It returns 0 for no samples.
func Percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := core.MathRound(p * float64(len(sorted)-1))
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func mean(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
