package agentmemdb

import (
	"errors"
	"testing"
)

func mustStore(t *testing.T, s *Store, ep Episode) string {
	t.Helper()
	id, err := s.Store(ep)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	return id
}

// S1: store/query returns nearest neighbours ordered by distance.
func TestStoreQuery_S1(t *testing.T) {
	s, err := NewExact(4)
	if err != nil {
		t.Fatalf("NewExact: %v", err)
	}
	e1 := Episode{TaskID: "a", StateEmbedding: []float32{1, 0, 0, 0}, Reward: 1.0}
	e2 := Episode{TaskID: "b", StateEmbedding: []float32{0, 1, 0, 0}, Reward: 0.5}
	id1 := mustStore(t, s, e1)
	id2 := mustStore(t, s, e2)

	res, err := s.Query(NewQueryOptions([]float32{1, 0, 0, 0}, 0, 2))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res) != 2 || res[0].ID != id1 || res[1].ID != id2 {
		t.Fatalf("expected [%s %s], got %+v", id1, id2, res)
	}
}

// S2: reward floor excludes episodes below min_reward.
func TestStoreQuery_S2_RewardFloor(t *testing.T) {
	s, _ := NewExact(4)
	e1 := Episode{TaskID: "a", StateEmbedding: []float32{1, 0, 0, 0}, Reward: 1.0}
	e2 := Episode{TaskID: "b", StateEmbedding: []float32{0, 1, 0, 0}, Reward: 0.5}
	id1 := mustStore(t, s, e1)
	mustStore(t, s, e2)

	res, err := s.Query(NewQueryOptions([]float32{1, 0, 0, 0}, 0.8, 2))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res) != 1 || res[0].ID != id1 {
		t.Fatalf("expected [%s], got %+v", id1, res)
	}
}

// S3: equal-distance candidates tie-break by recency (more recent first).
func TestStoreQuery_S3_RecencyTieBreak(t *testing.T) {
	s, _ := NewExact(2)
	ts1 := int64(1000)
	ts2 := int64(2000)
	e1 := Episode{StateEmbedding: []float32{1, 0}, Reward: 1, Timestamp: &ts1}
	e2 := Episode{StateEmbedding: []float32{1, 0}, Reward: 1, Timestamp: &ts2}
	id1 := mustStore(t, s, e1)
	id2 := mustStore(t, s, e2)

	res, err := s.Query(NewQueryOptions([]float32{1, 0}, 0, 2))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res) != 2 || res[0].ID != id2 || res[1].ID != id1 {
		t.Fatalf("expected [%s %s], got %+v", id2, id1, res)
	}
}

// S4: prune_older_than keeps undated episodes and episodes at/after cutoff.
func TestPrune_S4_OlderThan(t *testing.T) {
	s, _ := NewExact(2)
	tOld := int64(500)
	tMid := int64(1500)
	old := mustStore(t, s, Episode{StateEmbedding: []float32{1, 0}, Timestamp: &tOld})
	mid := mustStore(t, s, Episode{StateEmbedding: []float32{0, 1}, Timestamp: &tMid})
	untimed := mustStore(t, s, Episode{StateEmbedding: []float32{1, 1}})

	removed, err := s.PruneOlderThan(1000)
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := s.episodes[old]; ok {
		t.Fatalf("expected %s to be pruned", old)
	}
	if _, ok := s.episodes[mid]; !ok {
		t.Fatalf("expected %s to survive", mid)
	}
	if _, ok := s.episodes[untimed]; !ok {
		t.Fatalf("expected %s to survive", untimed)
	}
}

// S5: prune_keep_newest retains the n episodes with greatest timestamps.
func TestPrune_S5_KeepNewest(t *testing.T) {
	s, _ := NewExact(1)
	t1 := int64(100)
	t2 := int64(200)
	t3 := int64(300)
	e1 := mustStore(t, s, Episode{StateEmbedding: []float32{0}, Timestamp: &t1})
	mustStore(t, s, Episode{StateEmbedding: []float32{0}, Timestamp: &t2})
	mustStore(t, s, Episode{StateEmbedding: []float32{0}, Timestamp: &t3})

	removed, err := s.PruneKeepNewest(2)
	if err != nil {
		t.Fatalf("PruneKeepNewest: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := s.episodes[e1]; ok {
		t.Fatalf("expected oldest episode to be pruned")
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 survivors, got %d", s.Len())
	}
}

// S8: dimension mismatch on store/query leaves the store unchanged.
func TestDimensionMismatch_S8(t *testing.T) {
	s, _ := NewExact(4)
	mustStore(t, s, Episode{StateEmbedding: []float32{1, 0, 0, 0}})

	if _, err := s.Store(Episode{StateEmbedding: []float32{1, 0, 0}}); err == nil {
		t.Fatalf("expected DimensionMismatch error")
	} else if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected DimensionMismatch kind, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected store unchanged, got len %d", s.Len())
	}

	if _, err := s.Query(NewQueryOptions([]float32{1, 0, 0}, 0, 1)); err == nil {
		t.Fatalf("expected DimensionMismatch error on query")
	} else if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected DimensionMismatch kind, got %v", err)
	}
}

// Invariant: pruning accounting — removed + surviving = prior count.
func TestPruneAccounting(t *testing.T) {
	s, _ := NewExact(2)
	n := 10
	for i := 0; i < n; i++ {
		ts := int64(i * 100)
		mustStore(t, s, Episode{StateEmbedding: []float32{float32(i), 0}, Timestamp: &ts})
	}
	prior := s.Len()
	removed, err := s.PruneKeepNewest(4)
	if err != nil {
		t.Fatalf("PruneKeepNewest: %v", err)
	}
	if removed+s.Len() != prior {
		t.Fatalf("accounting mismatch: removed=%d surviving=%d prior=%d", removed, s.Len(), prior)
	}
}

// TopK cardinality under no filters matches min(top_k, available).
func TestQueryTopKCardinality(t *testing.T) {
	s, _ := NewExact(2)
	for i := 0; i < 3; i++ {
		mustStore(t, s, Episode{StateEmbedding: []float32{float32(i), 0}, Reward: 1})
	}
	res, err := s.Query(NewQueryOptions([]float32{0, 0}, 0, 10))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 results (fewer than top_k), got %d", len(res))
	}
}

func TestQueryTopKZeroIsEmpty(t *testing.T) {
	s, _ := NewExact(2)
	mustStore(t, s, Episode{StateEmbedding: []float32{1, 0}})
	res, err := s.Query(NewQueryOptions([]float32{1, 0}, 0, 0))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res) != 0 {
		t.Fatalf("expected empty result for top_k=0, got %d", len(res))
	}
}

func TestStoreBatchAndQueryBatch(t *testing.T) {
	s, _ := NewExact(2)
	ids, err := s.StoreBatch([]Episode{
		{StateEmbedding: []float32{1, 0}, Reward: 1},
		{StateEmbedding: []float32{0, 1}, Reward: 1},
	})
	if err != nil {
		t.Fatalf("StoreBatch: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}

	results, err := s.QueryBatch([]QueryOptions{
		NewQueryOptions([]float32{1, 0}, 0, 1),
		NewQueryOptions([]float32{0, 1}, 0, 1),
	})
	if err != nil {
		t.Fatalf("QueryBatch: %v", err)
	}
	if len(results) != 2 || len(results[0]) != 1 || len(results[1]) != 1 {
		t.Fatalf("unexpected batch results: %+v", results)
	}
}

func TestNewWithMaxElementsCapacity(t *testing.T) {
	s, err := NewWithMaxElements(2, 2)
	if err != nil {
		t.Fatalf("NewWithMaxElements: %v", err)
	}
	mustStore(t, s, Episode{StateEmbedding: []float32{1, 0}})
	mustStore(t, s, Episode{StateEmbedding: []float32{0, 1}})

	if _, err := s.Store(Episode{StateEmbedding: []float32{1, 1}}); err == nil {
		t.Fatalf("expected CapacityExceeded error")
	} else if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected CapacityExceeded kind, got %v", err)
	}
}

func TestInvalidConstruction(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatalf("expected error for dim=0")
	}
	if _, err := NewWithMaxElements(4, -1); err == nil {
		t.Fatalf("expected error for negative max_elements")
	}
}
