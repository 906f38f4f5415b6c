package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"
)

const chromemCollection = "chunks"

// errNoEmbeddingFunc is returned if chromem is ever asked to embed; every
// document and query arrives with its own vector.
var errNoEmbeddingFunc = errors.New("chromem store requires precomputed embeddings")

// ChromemStore implements VectorStore on a chromem-go collection. With a
// path the database is persisted by chromem itself on every write.
type ChromemStore struct {
	mu     sync.RWMutex
	db     *chromem.DB
	coll   *chromem.Collection
	dims   int
	closed bool
}

var _ VectorStore = (*ChromemStore)(nil)

// NewChromemStore opens a persistent database at path, or an in-memory
// one when path is empty.
func NewChromemStore(path string, dimensions int) (*ChromemStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", dimensions)
	}

	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}

	embed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbeddingFunc }
	coll, err := db.GetOrCreateCollection(chromemCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open chromem collection: %w", err)
	}

	return &ChromemStore{db: db, coll: coll, dims: dimensions}, nil
}

// Add upserts vectors. chromem keeps the last document per ID.
func (s *ChromemStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for i, id := range ids {
		if len(vectors[i]) != s.dims {
			return ErrDimensionMismatch{Expected: s.dims, Got: len(vectors[i])}
		}
		vec := append([]float32(nil), vectors[i]...)
		NormalizeVector(vec)
		if err := s.coll.AddDocument(ctx, chromem.Document{ID: id, Embedding: vec}); err != nil {
			return fmt.Errorf("add vector %s: %w", id, err)
		}
	}
	return nil
}

// Search returns up to k nearest vectors by cosine similarity.
func (s *ChromemStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.dims {
		return nil, ErrDimensionMismatch{Expected: s.dims, Got: len(query)}
	}

	// chromem rejects nResults above the collection size
	n := s.coll.Count()
	if k < n {
		n = k
	}
	if n <= 0 {
		return []*VectorResult{}, nil
	}

	q := append([]float32(nil), query...)
	NormalizeVector(q)

	hits, err := s.coll.QueryEmbedding(ctx, q, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	results := make([]*VectorResult, len(hits))
	for i, h := range hits {
		results[i] = &VectorResult{
			ID:       h.ID,
			Distance: 1 - h.Similarity,
			Score:    (1 + h.Similarity) / 2,
		}
	}
	return results, nil
}

// Delete removes vectors by ID.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return s.coll.Delete(ctx, nil, nil, ids...)
}

// Count returns the number of stored vectors.
func (s *ChromemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.coll.Count()
}

// Save is a no-op; the persistent DB writes through.
func (s *ChromemStore) Save() error { return nil }

// Close marks the store closed.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
