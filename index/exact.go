package index

import "sort"

// Exact is a brute-force vector index. Search is O(n·dim); 100% recall,
// fully deterministic ordering. Use for small episode sets or when
// correctness matters more than query latency.
type Exact struct {
	dim     int
	vectors [][]float32
}

// NewExact creates an empty exact index for the given dimension.
func NewExact(dim int) *Exact {
	return &Exact{dim: dim}
}

func (e *Exact) Dim() int { return e.dim }

func (e *Exact) Len() int { return len(e.vectors) }

func (e *Exact) Insert(vec []float32) (int, error) {
	if len(vec) != e.dim {
		return 0, ErrDimensionMismatch
	}
	key := len(e.vectors)
	cp := make([]float32, len(vec))
	copy(cp, vec)
	e.vectors = append(e.vectors, cp)
	return key, nil
}

func (e *Exact) Search(query []float32, k int) ([]Candidate, error) {
	if len(query) != e.dim {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}
	results := make([]Candidate, len(e.vectors))
	for i, v := range e.vectors {
		results[i] = Candidate{Key: i, DistSq: squaredL2(query, v)}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].DistSq != results[j].DistSq {
			return results[i].DistSq < results[j].DistSq
		}
		return results[i].Key < results[j].Key
	})
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// squaredL2 computes the squared Euclidean distance between two vectors
// of equal length. Callers must not take a further square root; ordering
// is always done by squared distance.
func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
