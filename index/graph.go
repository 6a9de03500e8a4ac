package index

import (
	"math"
	"math/rand"
	"sort"
)

// Graph configuration constants, carried over from the HNSW parameters
// this library's search algorithm is modeled on: M (neighbours per node
// per layer), efConstruction (candidate list size while building), and
// efSearch (candidate list size while querying).
const (
	graphM           = 16
	graphMMax        = 16
	graphMMax0       = 16
	graphEfConstruct = 200
	graphEfSearch    = 32
)

var graphLevelMultiplier = 1.0 / math.Log(float64(graphM))

type graphNode struct {
	vec       []float32
	neighbors [][]int // neighbors[layer] = neighbor keys at that layer
}

// Graph is a hand-rolled approximate multi-layer navigable small-world
// index (HNSW-style). Search is sublinear in expectation; recall is not
// guaranteed to be 100%. Capacity is bounded by maxElements.
type Graph struct {
	dim         int
	maxElements int
	nodes       []*graphNode
	entryPoint  int
	maxLevel    int
	rng         *rand.Rand
}

// NewGraph creates an empty approximate index for the given dimension and
// capacity. seed controls the level-assignment RNG; callers that need
// reproducible structure (tests) should pass a fixed seed.
func NewGraph(dim, maxElements int, seed int64) *Graph {
	return &Graph{
		dim:         dim,
		maxElements: maxElements,
		entryPoint:  -1,
		maxLevel:    -1,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (g *Graph) Dim() int { return g.dim }

func (g *Graph) Len() int { return len(g.nodes) }

func (g *Graph) randomLevel() int {
	level := int(math.Floor(-math.Log(g.rng.Float64()+1e-12) * graphLevelMultiplier))
	const capLevel = 32
	if level > capLevel {
		level = capLevel
	}
	return level
}

func (g *Graph) Insert(vec []float32) (int, error) {
	if len(vec) != g.dim {
		return 0, ErrDimensionMismatch
	}
	if len(g.nodes) >= g.maxElements {
		return 0, ErrCapacityExceeded
	}

	cp := make([]float32, len(vec))
	copy(cp, vec)
	key := len(g.nodes)
	level := g.randomLevel()
	node := &graphNode{vec: cp, neighbors: make([][]int, level+1)}
	g.nodes = append(g.nodes, node)

	if g.entryPoint == -1 {
		g.entryPoint = key
		g.maxLevel = level
		return key, nil
	}

	entry := g.entryPoint
	// Greedy descent from the top layer down to level+1 to find the
	// closest entry point to start construction at this node's top layer.
	for l := g.maxLevel; l > level; l-- {
		entry = g.greedyClosest(entry, cp, l)
	}

	for l := min(level, g.maxLevel); l >= 0; l-- {
		candidates := g.searchLayer(cp, entry, graphEfConstruct, l)
		maxConn := graphMMax
		if l == 0 {
			maxConn = graphMMax0
		}
		selected := selectNeighbors(candidates, graphM)
		node.neighbors[l] = selected
		for _, nb := range selected {
			g.connect(nb, key, l, maxConn)
		}
		if len(candidates) > 0 {
			entry = candidates[0].Key
		}
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entryPoint = key
	}

	return key, nil
}

// connect adds a directed edge from node src to dst at layer l (Insert
// sets the reverse edge on the new node itself), pruning src's neighbour
// list back to maxConn by distance if it grows past the cap.
func (g *Graph) connect(src, dst, l, maxConn int) {
	n := g.nodes[src]
	for len(n.neighbors) <= l {
		n.neighbors = append(n.neighbors, nil)
	}
	n.neighbors[l] = append(n.neighbors[l], dst)
	if len(n.neighbors[l]) <= maxConn {
		return
	}
	cands := make([]Candidate, len(n.neighbors[l]))
	for i, nb := range n.neighbors[l] {
		cands[i] = Candidate{Key: nb, DistSq: squaredL2(n.vec, g.nodes[nb].vec)}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].DistSq < cands[j].DistSq })
	if len(cands) > maxConn {
		cands = cands[:maxConn]
	}
	kept := make([]int, len(cands))
	for i, c := range cands {
		kept[i] = c.Key
	}
	n.neighbors[l] = kept
}

// greedyClosest walks from entry toward the nearest neighbour of query at
// layer l until no neighbour improves on the current best.
func (g *Graph) greedyClosest(entry int, query []float32, l int) int {
	best := entry
	bestDist := squaredL2(query, g.nodes[entry].vec)
	for {
		improved := false
		n := g.nodes[best]
		if l < len(n.neighbors) {
			for _, nb := range n.neighbors[l] {
				d := squaredL2(query, g.nodes[nb].vec)
				if d < bestDist {
					bestDist = d
					best = nb
					improved = true
				}
			}
		}
		if !improved {
			return best
		}
	}
}

// searchLayer runs a bounded greedy expansion from entry at layer l,
// returning up to ef candidates ordered by distance ascending.
func (g *Graph) searchLayer(query []float32, entry, ef, l int) []Candidate {
	visited := map[int]bool{entry: true}
	entryDist := squaredL2(query, g.nodes[entry].vec)
	candidates := []Candidate{{Key: entry, DistSq: entryDist}}
	results := []Candidate{{Key: entry, DistSq: entryDist}}

	for len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].DistSq < candidates[j].DistSq })
		cur := candidates[0]
		candidates = candidates[1:]

		sort.Slice(results, func(i, j int) bool { return results[i].DistSq < results[j].DistSq })
		if len(results) >= ef && cur.DistSq > results[len(results)-1].DistSq {
			break
		}

		n := g.nodes[cur.Key]
		if l >= len(n.neighbors) {
			continue
		}
		for _, nb := range n.neighbors[l] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := squaredL2(query, g.nodes[nb].vec)
			candidates = append(candidates, Candidate{Key: nb, DistSq: d})
			results = append(results, Candidate{Key: nb, DistSq: d})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].DistSq < results[j].DistSq })
	if len(results) > ef {
		results = results[:ef]
	}
	return results
}

func selectNeighbors(candidates []Candidate, m int) []int {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]int, len(candidates))
	for i, c := range candidates {
		out[i] = c.Key
	}
	return out
}

func (g *Graph) Search(query []float32, k int) ([]Candidate, error) {
	if len(query) != g.dim {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 || g.entryPoint == -1 {
		return nil, nil
	}

	entry := g.entryPoint
	for l := g.maxLevel; l > 0; l-- {
		entry = g.greedyClosest(entry, query, l)
	}

	ef := graphEfSearch
	if k > ef {
		ef = k
	}
	results := g.searchLayer(query, entry, ef, 0)
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}
