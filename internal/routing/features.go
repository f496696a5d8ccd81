package routing

import "github.com/signalsfoundry/meshroute/model"

// Feature scaling applied before routes are handed to a split policy.
const (
	hopScale        = 10.0
	delayScale      = 10.0
	throughputScale = 1000.0
)

// Features returns one vector per evaluated route:
// [hops/10, delay*10, throughput/1000, max_load]. Routes without metrics
// contribute zeros for the metric terms.
func Features(routes []model.CandidateRoute) [][]float64 {
	out := make([][]float64, len(routes))
	for i, r := range routes {
		var m model.RouteMetrics
		if r.Metrics != nil {
			m = *r.Metrics
		}
		out[i] = []float64{
			float64(r.Hops) / hopScale,
			m.Delay * delayScale,
			m.Throughput / throughputScale,
			m.MaxLoad,
		}
	}
	return out
}

// Adjacency returns the symmetric route-overlap matrix: entry (i, j) is 1
// when routes i and j share at least one link, 0 otherwise. The diagonal
// is always 0.
func Adjacency(routes []model.CandidateRoute) [][]float64 {
	sets := make([]map[model.Link]struct{}, len(routes))
	for i, r := range routes {
		sets[i] = make(map[model.Link]struct{}, len(r.Links))
		for _, l := range r.Links {
			sets[i][l] = struct{}{}
		}
	}
	adj := make([][]float64, len(routes))
	for i := range adj {
		adj[i] = make([]float64, len(routes))
	}
	for i := range routes {
		for j := i + 1; j < len(routes); j++ {
			if shareLink(sets[i], sets[j]) {
				adj[i][j] = 1
				adj[j][i] = 1
			}
		}
	}
	return adj
}

func shareLink(a, b map[model.Link]struct{}) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for l := range a {
		if _, ok := b[l]; ok {
			return true
		}
	}
	return false
}
