// Package index implements pluggable vector index backends used by the
// episode store to run nearest-neighbour search over embeddings.
package index

import "errors"

// Sentinel errors returned by Backend implementations. The root agentmemdb
// package maps these onto its own typed error kinds via errors.Is.
var (
	// ErrDimensionMismatch is returned when a vector's length does not
	// match the index's configured dimension.
	ErrDimensionMismatch = errors.New("index: dimension mismatch")

	// ErrCapacityExceeded is returned when an approximate index has
	// reached its configured max_elements and cannot accept another
	// insert.
	ErrCapacityExceeded = errors.New("index: capacity exceeded")
)

// Candidate is one nearest-neighbour hit: the internal key assigned at
// insert time and the squared Euclidean distance to the query vector.
type Candidate struct {
	Key    int
	DistSq float32
}

// Backend is the capability every index variant implements: insert a
// vector and get back a monotonically increasing internal key, and search
// for nearest neighbours by squared Euclidean distance.
//
// Implementations do not support random deletion; callers that need to
// remove vectors must rebuild a fresh Backend and reinsert survivors.
type Backend interface {
	// Insert appends vec and returns its internal key. Successive calls
	// (absent a rebuild) return 0, 1, 2, ...
	Insert(vec []float32) (int, error)

	// Search returns up to k candidates ordered by DistSq ascending.
	// Fewer than k may be returned if the backend holds fewer elements.
	Search(query []float32, k int) ([]Candidate, error)

	// Len returns the number of vectors currently held.
	Len() int

	// Dim returns the configured vector dimension.
	Dim() int
}
