package index

import "testing"

func TestExactInsertAndSearchOrdersByDistance(t *testing.T) {
	e := NewExact(2)
	k1, err := e.Insert([]float32{0, 0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	k2, err := e.Insert([]float32{10, 10})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := e.Search([]float32{1, 1}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].Key != k1 || results[1].Key != k2 {
		t.Fatalf("expected nearest-first order [%d %d], got %+v", k1, k2, results)
	}
	if results[0].DistSq != 2 {
		t.Fatalf("expected squared distance 2, got %v", results[0].DistSq)
	}
}

func TestExactSearchTruncatesToK(t *testing.T) {
	e := NewExact(1)
	for i := 0; i < 5; i++ {
		if _, err := e.Insert([]float32{float32(i)}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	results, err := e.Search([]float32{0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestExactDimensionMismatch(t *testing.T) {
	e := NewExact(3)
	if _, err := e.Insert([]float32{1, 2}); err != ErrDimensionMismatch {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := e.Insert([]float32{1, 2, 3}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := e.Search([]float32{1, 2}, 1); err != ErrDimensionMismatch {
		t.Fatalf("expected ErrDimensionMismatch on search, got %v", err)
	}
}

func TestExactLenAndDim(t *testing.T) {
	e := NewExact(4)
	if e.Dim() != 4 || e.Len() != 0 {
		t.Fatalf("expected dim=4 len=0, got dim=%d len=%d", e.Dim(), e.Len())
	}
	if _, err := e.Insert([]float32{0, 0, 0, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if e.Len() != 1 {
		t.Fatalf("expected len=1, got %d", e.Len())
	}
}
