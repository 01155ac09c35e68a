// Package pagerank computes PageRank over the document graph and the
// derived domain graph with Power Iteration.
package pagerank

import "math"

// Algorithm parameters.
const (
	Damping       = 0.85
	MaxIterations = 20
	Tolerance     = 1e-6
)

// Edge is one directed edge between node keys.
type Edge struct {
	Src string
	Dst string
}

// Compute runs Power Iteration over the given nodes and edges. Edges
// whose endpoints are not both in nodes are ignored. Dangling-node mass
// is redistributed uniformly each iteration. The returned scores are
// normalized to [0,1] by dividing by the max, so the top node is 1.0.
func Compute(nodes []string, edges []Edge) map[string]float64 {
	n := len(nodes)
	if n == 0 {
		return map[string]float64{}
	}

	idx := make(map[string]int, n)
	for i, node := range nodes {
		idx[node] = i
	}

	outDeg := make([]int, n)
	inbound := make([][]int, n)
	for _, e := range edges {
		src, okSrc := idx[e.Src]
		dst, okDst := idx[e.Dst]
		if !okSrc || !okDst {
			continue
		}
		outDeg[src]++
		inbound[dst] = append(inbound[dst], src)
	}

	ranks := make([]float64, n)
	for i := range ranks {
		ranks[i] = 1.0 / float64(n)
	}

	next := make([]float64, n)
	for iter := 0; iter < MaxIterations; iter++ {
		danglingMass := 0.0
		for i, deg := range outDeg {
			if deg == 0 {
				danglingMass += ranks[i]
			}
		}

		base := (1.0 - Damping) / float64(n)
		shared := danglingMass / float64(n)

		delta := 0.0
		for u := 0; u < n; u++ {
			sum := 0.0
			for _, v := range inbound[u] {
				sum += ranks[v] / float64(outDeg[v])
			}
			next[u] = base + Damping*(sum+shared)
			delta += math.Abs(next[u] - ranks[u])
		}

		ranks, next = next, ranks
		if delta < Tolerance {
			break
		}
	}

	maxRank := 0.0
	for _, r := range ranks {
		if r > maxRank {
			maxRank = r
		}
	}

	scores := make(map[string]float64, n)
	for i, node := range nodes {
		if maxRank > 0 {
			scores[node] = ranks[i] / maxRank
		} else {
			scores[node] = 0
		}
	}

	return scores
}
