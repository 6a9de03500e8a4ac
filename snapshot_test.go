package agentmemdb

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/becomeliminal/agentmemdb/internal/randvec"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	gen := randvec.New(7)
	s, _ := NewExact(4)
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ts := int64(i * 10)
		ep := WithTimestamp(Episode{StateEmbedding: gen.Vector(4), Reward: float32(i)}, ts)
		id, err := s.Store(ep)
		if err != nil {
			t.Fatalf("Store: %v", err)
		}
		ids = append(ids, id)
	}

	path := filepath.Join(t.TempDir(), "snapshot.json")
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadExact(path)
	if err != nil {
		t.Fatalf("LoadExact: %v", err)
	}
	if loaded.Len() != s.Len() || loaded.Dim() != s.Dim() {
		t.Fatalf("loaded store shape mismatch: len=%d dim=%d", loaded.Len(), loaded.Dim())
	}

	for _, id := range ids {
		orig := s.episodes[id]
		got, err := loaded.Query(NewQueryOptions(orig.StateEmbedding, 0, 1))
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 1 || got[0].ID != id {
			t.Fatalf("expected round-tripped episode %s to be queryable, got %+v", id, got)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err == nil {
		t.Fatalf("expected error for missing snapshot")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound kind, got %v", err)
	}
}

func TestLoadMalformedSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := writeFileAtomic(path, []byte("not json")); err != nil {
		t.Fatalf("writeFileAtomic: %v", err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected error for malformed snapshot")
	}
	if !errors.Is(err, ErrMalformedSnapshot) {
		t.Fatalf("expected MalformedSnapshot kind, got %v", err)
	}
}

func TestLoadDimMismatchInEpisodes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad_dim.json")
	doc := persistedStore{
		Dim:         4,
		MaxElements: DefaultMaxElements,
		Episodes: []Episode{
			{ID: "a", StateEmbedding: []float32{1, 2, 3}},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		t.Fatalf("writeFileAtomic: %v", err)
	}
	_, err = Load(path)
	if err == nil {
		t.Fatalf("expected error for dimension-disagreeing episode")
	}
	if !errors.Is(err, ErrMalformedSnapshot) {
		t.Fatalf("expected MalformedSnapshot kind, got %v", err)
	}
}
