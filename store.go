package agentmemdb

import (
	"sort"

	"github.com/becomeliminal/agentmemdb/index"
)

// DefaultMaxElements is the default capacity hint for the approximate
// index, matching the reference implementation's choice.
const DefaultMaxElements = 20_000

// Store is an in-memory, single-writer/single-reader-at-a-time episodic
// memory store. It owns a mapping from episode id to Episode, a mapping
// from index internal-key to episode id, and an index backend over the
// embeddings.
//
// Store is not safe for concurrent use; callers that need concurrent
// access must wrap it in an external mutual-exclusion primitive.
type Store struct {
	dim         int
	exact       bool
	maxElements int
	graphSeed   int64

	episodes map[string]Episode
	keyToID  map[int]string
	backend  index.Backend
}

// New creates an empty store backed by the approximate graph index with
// the default max_elements capacity.
func New(dim int) (*Store, error) {
	return NewWithMaxElements(dim, DefaultMaxElements)
}

// NewWithMaxElements creates an empty store backed by the approximate
// graph index with a caller-chosen capacity hint.
func NewWithMaxElements(dim, maxElements int) (*Store, error) {
	if err := validateDim(dim); err != nil {
		return nil, err
	}
	if maxElements <= 0 {
		return nil, newError(KindInvalidArgument, "max_elements must be positive", nil)
	}
	return &Store{
		dim:         dim,
		exact:       false,
		maxElements: maxElements,
		graphSeed:   1,
		episodes:    make(map[string]Episode),
		keyToID:     make(map[int]string),
		backend:     index.NewGraph(dim, maxElements, 1),
	}, nil
}

// NewExact creates an empty store backed by the exact (brute-force)
// index. Use for small episode sets or when fully deterministic ordering
// is required.
func NewExact(dim int) (*Store, error) {
	if err := validateDim(dim); err != nil {
		return nil, err
	}
	return &Store{
		dim:       dim,
		exact:     true,
		episodes:  make(map[string]Episode),
		keyToID:   make(map[int]string),
		backend:   index.NewExact(dim),
	}, nil
}

func validateDim(dim int) error {
	if dim <= 0 {
		return newError(KindInvalidArgument, "dim must be positive", nil)
	}
	return nil
}

// Dim returns the store's configured embedding dimension.
func (s *Store) Dim() int { return s.dim }

// Len returns the number of episodes currently held.
func (s *Store) Len() int { return len(s.episodes) }

// Store inserts ep, assigning an id if ep.ID is empty. Returns the id
// under which the episode is now stored.
func (s *Store) Store(ep Episode) (string, error) {
	if len(ep.StateEmbedding) != s.dim {
		return "", newError(KindDimensionMismatch, "state_embedding length mismatch", nil)
	}
	if ep.ID == "" {
		fresh := NewEpisode(ep.TaskID, ep.StateEmbedding, ep.Reward)
		ep.ID = fresh.ID
	}
	key, err := s.backend.Insert(ep.StateEmbedding)
	if err != nil {
		return "", wrapIndexErr(err, "insert into index")
	}
	s.keyToID[key] = ep.ID
	s.episodes[ep.ID] = ep
	return ep.ID, nil
}

// StoreBatch stores each episode in order, stopping at the first error.
// It is a thin convenience over repeated Store calls.
func (s *Store) StoreBatch(eps []Episode) ([]string, error) {
	ids := make([]string, 0, len(eps))
	for _, ep := range eps {
		id, err := s.Store(ep)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Query runs the query evaluator: overfetch candidates from the index,
// resolve to episodes, filter, order by the recency tie-break rule, and
// take the first opts.TopK.
func (s *Store) Query(opts QueryOptions) ([]Episode, error) {
	if len(opts.QueryEmbedding) != s.dim {
		return nil, newError(KindDimensionMismatch, "query_embedding length mismatch", nil)
	}
	if opts.TimeAfter != nil && opts.TimeBefore != nil && *opts.TimeAfter > *opts.TimeBefore {
		return nil, newError(KindInvalidArgument, "time_after > time_before", nil)
	}
	if opts.TopK <= 0 {
		return []Episode{}, nil
	}

	multiplier := overfetchMultiplierPlain
	if opts.hasSelectiveFilter() {
		multiplier = overfetchMultiplierSelective
	}
	kPrime := opts.TopK * multiplier
	if kPrime < opts.TopK {
		kPrime = opts.TopK
	}

	// Refill loop: if under-filled and more candidates might exist,
	// double K' up to the index size and retry.
	for {
		cands, err := s.backend.Search(opts.QueryEmbedding, kPrime)
		if err != nil {
			return nil, wrapIndexErr(err, "search index")
		}

		scored := make([]scoredEpisode, 0, len(cands))
		for _, c := range cands {
			id, ok := s.keyToID[c.Key]
			if !ok {
				continue
			}
			ep, ok := s.episodes[id]
			if !ok {
				continue
			}
			if !opts.matches(&ep) {
				continue
			}
			epCopy := ep
			scored = append(scored, scoredEpisode{distSq: c.DistSq, ep: &epCopy})
		}

		underfilled := len(scored) < opts.TopK
		exhausted := len(cands) < kPrime || kPrime >= s.backend.Len()
		if underfilled && !exhausted {
			kPrime *= 2
			if kPrime > s.backend.Len() {
				kPrime = s.backend.Len()
			}
			continue
		}

		sortCandidates(scored)
		if len(scored) > opts.TopK {
			scored = scored[:opts.TopK]
		}
		out := make([]Episode, len(scored))
		for i, sc := range scored {
			out[i] = *sc.ep
		}
		return out, nil
	}
}

// QueryBatch runs Query for each entry in queries, returning one result
// slice per query. It is a thin convenience over repeated Query calls.
func (s *Store) QueryBatch(queries []QueryOptions) ([][]Episode, error) {
	out := make([][]Episode, 0, len(queries))
	for _, q := range queries {
		res, err := s.Query(q)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// PruneOlderThan removes episodes with a defined timestamp strictly less
// than cutoffMs. Episodes without a timestamp are always kept. Returns
// the number of episodes removed.
func (s *Store) PruneOlderThan(cutoffMs int64) (int, error) {
	return s.rebuildKeeping(func(ep Episode) bool {
		return ep.Timestamp == nil || *ep.Timestamp >= cutoffMs
	})
}

// PruneKeepNewest retains the n episodes with the greatest timestamps;
// episodes without a timestamp sort oldest and are pruned first.
func (s *Store) PruneKeepNewest(n int) (int, error) {
	if len(s.episodes) <= n {
		return 0, nil
	}
	return s.rebuildKeepingTopN(n, func(a, b Episode) bool {
		ta, tb := tsOrMin(a.Timestamp), tsOrMin(b.Timestamp)
		return ta > tb
	})
}

// PruneKeepHighestReward retains the n episodes with the greatest reward.
// Ties are broken by higher timestamp first; episodes without a
// timestamp sort last within a tie group.
func (s *Store) PruneKeepHighestReward(n int) (int, error) {
	if len(s.episodes) <= n {
		return 0, nil
	}
	return s.rebuildKeepingTopN(n, func(a, b Episode) bool {
		if a.Reward != b.Reward {
			return a.Reward > b.Reward
		}
		ta, tb := tsOrMin(a.Timestamp), tsOrMin(b.Timestamp)
		return ta > tb
	})
}

// rebuildKeeping performs the bulk-rebuild protocol: select survivors by
// predicate, allocate a fresh index of the same variant and dimension,
// and reinsert survivors in id-sorted order for determinism.
func (s *Store) rebuildKeeping(keep func(Episode) bool) (int, error) {
	var survivors []Episode
	for _, ep := range s.episodes {
		if keep(ep) {
			survivors = append(survivors, ep)
		}
	}
	removed := len(s.episodes) - len(survivors)
	if removed == 0 {
		return 0, nil
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].ID < survivors[j].ID })
	s.rebuildFrom(survivors)
	return removed, nil
}

// rebuildKeepingTopN sorts all episodes with less (a "more important"
// than b) and keeps the first n, then rebuilds from them in id-sorted
// order for deterministic reinsertion.
func (s *Store) rebuildKeepingTopN(n int, less func(a, b Episode) bool) (int, error) {
	all := make([]Episode, 0, len(s.episodes))
	for _, ep := range s.episodes {
		all = append(all, ep)
	}
	original := len(all)
	sort.Slice(all, func(i, j int) bool { return less(all[i], all[j]) })
	if n > len(all) {
		n = len(all)
	}
	kept := all[:n]
	removed := original - len(kept)

	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })
	s.rebuildFrom(kept)
	return removed, nil
}

func (s *Store) rebuildFrom(survivors []Episode) {
	s.episodes = make(map[string]Episode, len(survivors))
	s.keyToID = make(map[int]string, len(survivors))

	if s.exact {
		s.backend = index.NewExact(s.dim)
	} else {
		capacity := s.maxElements
		if len(survivors) > capacity {
			capacity = len(survivors)
		}
		if capacity < DefaultMaxElements {
			capacity = DefaultMaxElements
		}
		if capacity < s.dim*2 {
			capacity = s.dim * 2
		}
		s.maxElements = capacity
		s.backend = index.NewGraph(s.dim, capacity, s.graphSeed)
	}

	for _, ep := range survivors {
		key, err := s.backend.Insert(ep.StateEmbedding)
		if err != nil {
			// Invariant: survivors were already valid members of this
			// store, so reinsertion at equal-or-greater capacity cannot
			// fail; a failure here indicates programmer error.
			panic(err)
		}
		s.keyToID[key] = ep.ID
		s.episodes[ep.ID] = ep
	}
}
