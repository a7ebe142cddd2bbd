package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
)

func openTestVectors(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "vectors.db")})
	if err != nil {
		t.Fatalf("open vector store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3.75, 0}
	out, err := decodeEmbedding(encodeEmbedding(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}

	if _, err := decodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestAddGetDelete(t *testing.T) {
	s := openTestVectors(t)
	ctx := context.Background()

	r := &Record{
		ID:        "m1",
		Content:   "my dog is named Buddy",
		Embedding: []float32{1, 0, 0},
		Metadata:  map[string]any{"category": "conversation"},
	}
	if err := s.Add(ctx, r); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != r.Content {
		t.Errorf("content = %q, want %q", got.Content, r.Content)
	}
	if got.Metadata["category"] != "conversation" {
		t.Errorf("metadata = %v", got.Metadata)
	}

	if err := s.Delete(ctx, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "m1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get deleted = %v, want ErrNotFound", err)
	}

	// Deleting an absent id is tolerated.
	if err := s.Delete(ctx, "m1"); err != nil {
		t.Errorf("delete missing: %v", err)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	s := openTestVectors(t)
	ctx := context.Background()

	first := &Record{ID: "m1", Content: "v1", Embedding: []float32{1, 0}}
	second := &Record{ID: "m1", Content: "v2", Embedding: []float32{0, 1}}
	if err := s.Add(ctx, first); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.Add(ctx, second); err != nil {
		t.Fatalf("second add: %v", err)
	}
	n, err := s.Count(ctx, nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	got, _ := s.Get(ctx, "m1")
	if got.Content != "v2" {
		t.Errorf("content = %q, want v2", got.Content)
	}
}

func TestUpdatePartial(t *testing.T) {
	s := openTestVectors(t)
	ctx := context.Background()

	r := &Record{ID: "m1", Content: "original", Embedding: []float32{1, 0}, Metadata: map[string]any{"k": "v"}}
	if err := s.Add(ctx, r); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Only content changes; embedding and metadata stay.
	if err := s.Update(ctx, "m1", "revised", nil, nil); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.Get(ctx, "m1")
	if got.Content != "revised" {
		t.Errorf("content = %q", got.Content)
	}
	if len(got.Embedding) != 2 || got.Embedding[0] != 1 {
		t.Errorf("embedding changed: %v", got.Embedding)
	}
	if got.Metadata["k"] != "v" {
		t.Errorf("metadata changed: %v", got.Metadata)
	}

	if err := s.Update(ctx, "missing", "x", nil, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing = %v, want ErrNotFound", err)
	}
}

func TestSearchByVectorRanking(t *testing.T) {
	s := openTestVectors(t)
	ctx := context.Background()

	records := []*Record{
		{ID: "a", Content: "exact", Embedding: []float32{1, 0, 0}},
		{ID: "b", Content: "close", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "c", Content: "far", Embedding: []float32{0, 1, 0}},
	}
	if err := s.AddBatch(ctx, records); err != nil {
		t.Fatalf("add batch: %v", err)
	}

	results, err := s.SearchByVector(ctx, []float32{1, 0, 0}, SearchOptions{Limit: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	if results[0].Record.ID != "a" || results[1].Record.ID != "b" {
		t.Errorf("order = %s, %s; want a, b", results[0].Record.ID, results[1].Record.ID)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("results not descending by similarity")
	}
}

func TestSearchTieBreaksByID(t *testing.T) {
	s := openTestVectors(t)
	ctx := context.Background()

	// Identical embeddings force a similarity tie.
	records := []*Record{
		{ID: "z", Content: "tie", Embedding: []float32{1, 0}},
		{ID: "a", Content: "tie", Embedding: []float32{1, 0}},
	}
	if err := s.AddBatch(ctx, records); err != nil {
		t.Fatalf("add batch: %v", err)
	}
	results, err := s.SearchByVector(ctx, []float32{1, 0}, SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if results[0].Record.ID != "a" {
		t.Errorf("tie winner = %s, want a", results[0].Record.ID)
	}
}

func TestSearchFiltersAndThreshold(t *testing.T) {
	s := openTestVectors(t)
	ctx := context.Background()

	records := []*Record{
		{ID: "a", Content: "doc", Embedding: []float32{1, 0}, Metadata: map[string]any{"category": "document"}},
		{ID: "b", Content: "conv", Embedding: []float32{1, 0}, Metadata: map[string]any{"category": "conversation"}},
		{ID: "c", Content: "weak", Embedding: []float32{0, 1}, Metadata: map[string]any{"category": "document"}},
	}
	if err := s.AddBatch(ctx, records); err != nil {
		t.Fatalf("add batch: %v", err)
	}

	results, err := s.SearchByVector(ctx, []float32{1, 0}, SearchOptions{
		Limit:     10,
		Threshold: 0.5,
		Filters:   map[string]any{"category": "document"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Record.ID != "a" {
		t.Errorf("results = %+v, want only a", results)
	}

	n, err := s.Count(ctx, map[string]any{"category": "document"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("filtered count = %d, want 2", n)
	}
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func TestSearchByText(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{
		Path:     filepath.Join(dir, "vectors.db"),
		Embedder: &fakeEmbedder{vec: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.Add(ctx, &Record{ID: "a", Content: "hit", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	results, err := s.SearchByText(ctx, "anything", SearchOptions{Limit: 1})
	if err != nil {
		t.Fatalf("search by text: %v", err)
	}
	if len(results) != 1 || results[0].Record.ID != "a" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearchByTextWithoutEmbedder(t *testing.T) {
	s := openTestVectors(t)
	if _, err := s.SearchByText(context.Background(), "q", SearchOptions{}); err == nil {
		t.Error("expected error without embedder")
	}
}

func TestBackupRestore(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Path: filepath.Join(dir, "live.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.Add(ctx, &Record{ID: "keep", Content: "x", Embedding: []float32{1}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	snap := filepath.Join(dir, "snap.db")
	if err := s.Backup(ctx, snap); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if err := s.Add(ctx, &Record{ID: "lose", Content: "y", Embedding: []float32{1}}); err != nil {
		t.Fatalf("add extra: %v", err)
	}
	if err := s.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	n, err := s.Count(ctx, nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count after restore = %d, want 1", n)
	}
}

func TestIDs(t *testing.T) {
	s := openTestVectors(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		r := &Record{ID: fmt.Sprintf("id-%d", i), Content: "x", Embedding: []float32{1}}
		if err := s.Add(ctx, r); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	ids, err := s.IDs(ctx)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 3 || ids[0] != "id-0" {
		t.Errorf("ids = %v", ids)
	}
}
