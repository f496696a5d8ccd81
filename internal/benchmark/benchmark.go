// Package benchmark drives repeated routing trials that compare the
// multipath router against the Dijkstra baseline under random faults.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/meshroute/core"
	"github.com/signalsfoundry/meshroute/internal/logging"
	"github.com/signalsfoundry/meshroute/internal/monitor"
	"github.com/signalsfoundry/meshroute/internal/policy"
	"github.com/signalsfoundry/meshroute/internal/routing"
	"github.com/signalsfoundry/meshroute/internal/sim/events"
	"github.com/signalsfoundry/meshroute/model"
	"github.com/signalsfoundry/meshroute/timectrl"
)

// Algorithm tags recorded in the monitor.
const (
	AlgorithmMultipath = "multipath"
	AlgorithmBaseline  = "dijkstra"
)

// Config controls a benchmark run.
type Config struct {
	Trials             int     `yaml:"trials"`
	FailureProbability float64 `yaml:"failure_probability"`
	RecoverEvery       int     `yaml:"recover_every"`
	Beta               float64 `yaml:"beta"`
	PayloadBytes       int     `yaml:"payload_bytes"`
	LogPath            string  `yaml:"log_path"`
}

// DefaultConfig mirrors the reference training loop: 5% fault chance per
// tick, full recovery every 100 trials, β = 0.5.
func DefaultConfig() Config {
	return Config{
		Trials:             1000,
		FailureProbability: 0.05,
		RecoverEvery:       100,
		Beta:               0.5,
		PayloadBytes:       1024,
	}
}

// Constellation is what the runner needs from the simulator.
type Constellation interface {
	routing.LinkQuerier
	Shape() model.Shape
	FailNode(ctx context.Context, id model.NodeID) error
	RecoverAll(ctx context.Context)
	RandomNode() model.NodeID
	Float64() float64
}

// Result summarises a run.
type Result struct {
	Trials     int                        `json:"trials"`
	Faults     int                        `json:"faults"`
	Recoveries int                        `json:"recoveries"`
	BestReward float64                    `json:"best_reward"`
	Summaries  []monitor.AlgorithmSummary `json:"summaries"`
}

// Runner executes trials one simulated tick apart.
type Runner struct {
	Config        Config
	Constellation Constellation
	Router        *routing.Router
	Baseline      *routing.BaselineRouter
	Policy        policy.SplitPolicy
	Monitor       *monitor.Monitor
	Clock         *timectrl.TimeController
	Log           *monitor.BenchmarkLog
	Logger        logging.Logger

	best   float64
	faults int
	recov  int
}

// NewRunner wires a runner over a started constellation driven by q, one
// simulated second per trial.
func NewRunner(cfg Config, c *core.Constellation, q *events.Queue) *Runner {
	return &Runner{
		Config:        cfg,
		Constellation: c,
		Router:        routing.NewRouter(c.Shape(), c),
		Baseline:      routing.NewBaselineRouter(c.Shape(), c),
		Policy:        policy.NewSoftmax(),
		Monitor:       monitor.New(),
		Clock:         timectrl.NewTimeController(q, time.Second),
		Logger:        logging.Noop(),
	}
}

// Run executes trials; a non-positive count uses Config.Trials.
func (r *Runner) Run(ctx context.Context, trials int) (Result, error) {
	if trials <= 0 {
		trials = r.Config.Trials
	}
	if r.Policy == nil {
		r.Policy = policy.NewSoftmax()
	}
	if r.Monitor == nil {
		r.Monitor = monitor.New()
	}
	if r.Logger == nil {
		r.Logger = logging.Noop()
	}
	r.best = math.Inf(-1)

	for i := 0; i < trials; i++ {
		if err := ctx.Err(); err != nil {
			return r.result(i), err
		}
		r.Clock.Step()
		if err := r.trial(ctx, i); err != nil {
			return r.result(i), fmt.Errorf("trial %d: %w", i, err)
		}
	}
	return r.result(trials), nil
}

func (r *Runner) result(trials int) Result {
	best := r.best
	if math.IsInf(best, -1) {
		best = 0
	}
	return Result{
		Trials:     trials,
		Faults:     r.faults,
		Recoveries: r.recov,
		BestReward: best,
		Summaries:  r.Monitor.Summary(),
	}
}

func (r *Runner) trial(ctx context.Context, epoch int) error {
	began := time.Now()
	c := r.Constellation

	if c.Float64() < r.Config.FailureProbability {
		victim := c.RandomNode()
		if err := c.FailNode(ctx, victim); err != nil {
			return err
		}
		r.faults++
	}

	src, dst := c.RandomNode(), c.RandomNode()

	baseTx := r.Monitor.Start(AlgorithmBaseline, src, dst, r.Config.PayloadBytes)
	path, err := r.Baseline.ShortestPath(ctx, src, dst)
	if err != nil {
		return err
	}
	r.Monitor.RecordDecisionEnd(baseTx)
	r.recordHops(baseTx, path.Links())
	r.Monitor.End(baseTx, monitor.Outcome{
		Success:       path.Found,
		Latency:       path.Cost,
		AlgorithmCost: path.Cost,
		ReferenceCost: path.Cost,
	})

	mpTx := r.Monitor.Start(AlgorithmMultipath, src, dst, r.Config.PayloadBytes)
	decision, err := r.Router.FindBestRoutes(ctx, src, dst)
	if errors.Is(err, routing.ErrNoRouteFound) {
		r.Monitor.End(mpTx, monitor.Outcome{ReferenceCost: path.Cost})
		r.Logger.Debug(ctx, "trial found no multipath route",
			logging.Int("epoch", epoch),
			logging.String("src", src.Label()),
			logging.String("dst", dst.Label()),
		)
		return r.endTrial(ctx, epoch)
	}
	if err != nil {
		return err
	}
	ratios, err := r.Policy.Split(ctx, decision.Features, decision.Adjacency)
	if err != nil {
		return err
	}
	r.Monitor.RecordDecisionEnd(mpTx)

	st := stats(decision.Routes, ratios)
	r.recordHops(mpTx, decision.Routes[st.primary].Links)
	r.Monitor.End(mpTx, monitor.Outcome{
		Success:       true,
		Latency:       st.completion,
		AlgorithmCost: st.expectedDelay,
		ReferenceCost: path.Cost,
	})

	reward := policy.Reward(st.avgThroughput, st.avgDelay, r.Config.Beta)
	isBest := reward > r.best
	if isBest {
		r.best = reward
	}
	if r.Log != nil {
		rec := monitor.Record{
			Epoch:         epoch,
			Reward:        reward,
			Best:          isBest,
			AvgThroughput: st.avgThroughput,
			AvgDelay:      st.avgDelay,
			Src:           src.Label(),
			Dst:           dst.Label(),
			Ratios:        ratios,
			MaxLoad:       st.maxLoad,
			ExecTime:      time.Since(began),
		}
		if err := r.Log.Append(rec); err != nil {
			return fmt.Errorf("append benchmark log: %w", err)
		}
	}
	return r.endTrial(ctx, epoch)
}

func (r *Runner) endTrial(ctx context.Context, epoch int) error {
	if r.Config.RecoverEvery > 0 && epoch%r.Config.RecoverEvery == 0 {
		r.Constellation.RecoverAll(ctx)
		r.recov++
	}
	return nil
}

// recordHops samples live metrics for each link of the chosen path.
func (r *Runner) recordHops(tx *monitor.TransactionContext, links []model.Link) {
	for _, l := range links {
		m, err := r.Constellation.LinkMetrics(l.From, l.To)
		if err != nil {
			continue
		}
		r.Monitor.RecordHop(tx, l, m)
	}
}

type trialStats struct {
	avgThroughput float64
	avgDelay      float64
	maxLoad       float64
	expectedDelay float64
	completion    float64
	primary       int
}

// stats folds the evaluated routes: unweighted averages feed the reward,
// the ratio-weighted delay is the multipath cost and the slowest route
// carrying traffic bounds completion.
func stats(routes []model.CandidateRoute, ratios []float64) trialStats {
	var s trialStats
	for i, rt := range routes {
		m := rt.Metrics
		if m == nil {
			continue
		}
		s.avgThroughput += m.Throughput
		s.avgDelay += m.Delay
		s.maxLoad = math.Max(s.maxLoad, m.MaxLoad)
		if i < len(ratios) {
			s.expectedDelay += ratios[i] * m.Delay
			if ratios[i] > 0 {
				s.completion = math.Max(s.completion, m.Delay)
			}
			if ratios[i] > ratios[s.primary] {
				s.primary = i
			}
		}
	}
	n := float64(len(routes))
	s.avgThroughput /= n
	s.avgDelay /= n
	return s
}

var _ Constellation = (*core.Constellation)(nil)
