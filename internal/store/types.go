// Package store provides the local index backend: BM25 text indexes
// (SQLite FTS5 or Bleve), a weighted term expansion index standing in for
// ELSER, vector stores (HNSW or chromem) and a SQLite chunk store.
package store

import (
	"context"
	"fmt"
)

// Document is one chunk as seen by a text index.
type Document struct {
	ID      string
	Content string
}

// ScoredDoc is one text index hit. Score is backend native.
type ScoredDoc struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// IndexStats contains text index statistics.
type IndexStats struct {
	DocumentCount int
}

// TextIndex is a ranked full text index over chunk text.
type TextIndex interface {
	// Index adds documents. Existing IDs are replaced.
	Index(ctx context.Context, docs []*Document) error

	// Search returns at most limit hits, best first.
	Search(ctx context.Context, query string, limit int) ([]*ScoredDoc, error)

	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Close() error
}

// BM25Config configures the BM25 indexes.
type BM25Config struct {
	// StopWords are dropped from both documents and queries.
	StopWords []string
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{StopWords: DefaultStopWords}
}

// DefaultStopWords are common English function words.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "in", "is", "it", "its", "of", "on", "or", "that", "the",
	"to", "was", "were", "will", "with", "what", "which", "who", "when",
	"how", "does", "do", "should", "shall", "this", "these", "those",
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the embedding width (384 for MiniLM).
	Dimensions int

	// Metric is "cos" or "l2" (default "cos").
	Metric string

	// M is HNSW max connections per layer.
	M int

	// EfSearch is HNSW query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides nearest neighbour search over chunk embeddings.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	Delete(ctx context.Context, ids []string) error
	Count() int

	// Save persists the store. In-memory stores ignore it.
	Save() error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (re-run 'pdfrag ingest --rebuild')", e.Expected, e.Got)
}
