// Package graph builds the in-memory link graph and computes importance scores.
package graph

import (
	"math"
	"sync"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

// Defaults for the iterative scoring algorithms.
const (
	DefaultDamping   = 0.85
	DefaultMaxIter   = 100
	DefaultTolerance = 1e-4
)

// Scorer accumulates the link adjacency and recomputes PageRank/HITS over
// the whole graph on demand. Scoring is a full batch pass, never incremental;
// results overwrite the previous run.
type Scorer struct {
	mu    sync.RWMutex
	index map[string]int // url hash -> node index
	hashs []string       // node index -> url hash
	out   [][]int
	in    [][]int
	edges map[[2]int]struct{}
}

// NewScorer creates an empty Scorer.
func NewScorer() *Scorer {
	return &Scorer{
		index: make(map[string]int),
		edges: make(map[[2]int]struct{}),
	}
}

// AddPage records the outlinks discovered on a page. URLs are canonicalized
// before insertion; malformed outlinks are dropped. Repeated edges collapse.
func (s *Scorer) AddPage(pageURL string, outlinks []string, _ int) error {
	canonical, err := crawl.Canonicalize(pageURL)
	if err != nil {
		return err
	}
	src := crawl.HashURL(canonical)

	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.node(src)
	for _, link := range outlinks {
		c, err := crawl.Canonicalize(link)
		if err != nil {
			continue
		}
		to := s.node(crawl.HashURL(c))
		if to == from {
			continue
		}
		key := [2]int{from, to}
		if _, dup := s.edges[key]; dup {
			continue
		}
		s.edges[key] = struct{}{}
		s.out[from] = append(s.out[from], to)
		s.in[to] = append(s.in[to], from)
	}
	return nil
}

// NodeCount returns the number of known nodes, connected or not.
func (s *Scorer) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hashs)
}

// EdgeCount returns the number of distinct edges.
func (s *Scorer) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// PageRank runs power iteration over the inlink structure:
//
//	rank(u) = (1-d)/N + d * sum(rank(v)/outdegree(v)) over inlinks v
//
// Iteration stops when the max per-node delta drops below tol or after
// maxIter rounds. Scores are normalized by the max score so results fall in
// (0, 1]. Nodes with no edges in either direction are excluded; an empty
// graph yields an empty map.
func (s *Scorer) PageRank(damping float64, maxIter int, tol float64) map[string]float64 {
	if damping <= 0 || damping >= 1 {
		damping = DefaultDamping
	}
	if maxIter <= 0 {
		maxIter = DefaultMaxIter
	}
	if tol <= 0 {
		tol = DefaultTolerance
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := s.connectedNodes()
	n := len(nodes)
	if n == 0 {
		return map[string]float64{}
	}

	rank := make([]float64, len(s.hashs))
	next := make([]float64, len(s.hashs))
	for _, i := range nodes {
		rank[i] = 1.0 / float64(n)
	}

	base := (1 - damping) / float64(n)
	for iter := 0; iter < maxIter; iter++ {
		maxDelta := 0.0
		for _, u := range nodes {
			sum := 0.0
			for _, v := range s.in[u] {
				if deg := len(s.out[v]); deg > 0 {
					sum += rank[v] / float64(deg)
				}
			}
			next[u] = base + damping*sum
			if d := math.Abs(next[u] - rank[u]); d > maxDelta {
				maxDelta = d
			}
		}
		for _, u := range nodes {
			rank[u] = next[u]
		}
		if maxDelta < tol {
			break
		}
	}

	maxScore := 0.0
	for _, u := range nodes {
		if rank[u] > maxScore {
			maxScore = rank[u]
		}
	}
	result := make(map[string]float64, n)
	for _, u := range nodes {
		if maxScore > 0 {
			result[s.hashs[u]] = rank[u] / maxScore
		} else {
			result[s.hashs[u]] = 0
		}
	}
	return result
}

// HITS iterates hub and authority scores with L2 normalization each round,
// converging when the max absolute delta across both vectors drops below tol.
func (s *Scorer) HITS(maxIter int, tol float64) (authority, hub map[string]float64) {
	if maxIter <= 0 {
		maxIter = DefaultMaxIter
	}
	if tol <= 0 {
		tol = DefaultTolerance
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := s.connectedNodes()
	n := len(nodes)
	if n == 0 {
		return map[string]float64{}, map[string]float64{}
	}

	auth := make([]float64, len(s.hashs))
	hubs := make([]float64, len(s.hashs))
	for _, i := range nodes {
		auth[i] = 1
		hubs[i] = 1
	}

	for iter := 0; iter < maxIter; iter++ {
		nextAuth := make([]float64, len(s.hashs))
		nextHub := make([]float64, len(s.hashs))
		for _, u := range nodes {
			for _, v := range s.in[u] {
				nextAuth[u] += hubs[v]
			}
		}
		for _, u := range nodes {
			for _, v := range s.out[u] {
				nextHub[u] += nextAuth[v]
			}
		}
		normalizeL2(nextAuth, nodes)
		normalizeL2(nextHub, nodes)

		maxDelta := 0.0
		for _, u := range nodes {
			if d := math.Abs(nextAuth[u] - auth[u]); d > maxDelta {
				maxDelta = d
			}
			if d := math.Abs(nextHub[u] - hubs[u]); d > maxDelta {
				maxDelta = d
			}
		}
		auth, hubs = nextAuth, nextHub
		if maxDelta < tol {
			break
		}
	}

	authority = make(map[string]float64, n)
	hub = make(map[string]float64, n)
	for _, u := range nodes {
		authority[s.hashs[u]] = auth[u]
		hub[s.hashs[u]] = hubs[u]
	}
	return authority, hub
}

// Scores assembles full importance records from one PageRank and one HITS
// run with the default parameters.
func (s *Scorer) Scores() []crawl.ImportanceScore {
	return s.ScoresWith(DefaultDamping, DefaultMaxIter, DefaultTolerance)
}

// ScoresWith is Scores with explicit scoring parameters.
func (s *Scorer) ScoresWith(damping float64, maxIter int, tol float64) []crawl.ImportanceScore {
	rank := s.PageRank(damping, maxIter, tol)
	auth, hub := s.HITS(maxIter, tol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]crawl.ImportanceScore, 0, len(rank))
	for hash, pr := range rank {
		i := s.index[hash]
		out = append(out, crawl.ImportanceScore{
			URLHash:   hash,
			PageRank:  pr,
			Hub:       hub[hash],
			Authority: auth[hash],
			Inlinks:   len(s.in[i]),
			Outlinks:  len(s.out[i]),
		})
	}
	return out
}

// node returns the index for a hash, creating the node on first sight.
// Caller must hold mu.
func (s *Scorer) node(hash string) int {
	if i, ok := s.index[hash]; ok {
		return i
	}
	i := len(s.hashs)
	s.index[hash] = i
	s.hashs = append(s.hashs, hash)
	s.out = append(s.out, nil)
	s.in = append(s.in, nil)
	return i
}

// connectedNodes lists node indices with at least one edge either direction.
// Caller must hold mu.
func (s *Scorer) connectedNodes() []int {
	var nodes []int
	for i := range s.hashs {
		if len(s.in[i]) > 0 || len(s.out[i]) > 0 {
			nodes = append(nodes, i)
		}
	}
	return nodes
}

func normalizeL2(v []float64, nodes []int) {
	sum := 0.0
	for _, i := range nodes {
		sum += v[i] * v[i]
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for _, i := range nodes {
		v[i] /= norm
	}
}
