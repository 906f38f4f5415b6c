package retrieve

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/pdfrag/internal/store"
)

// TextIndex is a ranked text index: BM25 for the lexical source, a
// weighted term expansion index for the sparse source.
type TextIndex interface {
	Search(ctx context.Context, query string, limit int) ([]*store.ScoredDoc, error)
}

// VectorIndex is a nearest neighbour index over chunk embeddings.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error)
}

// QueryEmbedder turns a query into a dense vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type textSource struct {
	name SourceName
	idx  TextIndex
}

// NewLexicalSource adapts a BM25 index into the lexical source.
func NewLexicalSource(idx TextIndex) Source {
	return &textSource{name: SourceLexical, idx: idx}
}

// NewSparseSource adapts a term expansion index into the sparse source.
func NewSparseSource(idx TextIndex) Source {
	return &textSource{name: SourceSparse, idx: idx}
}

func (s *textSource) Name() SourceName { return s.name }

func (s *textSource) Search(ctx context.Context, query string, k int) ([]RankedHit, error) {
	docs, err := s.idx.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	scores := make([]float64, len(docs))
	for i, d := range docs {
		ids[i] = d.DocID
		scores[i] = d.Score
	}
	return RankHits(s.name, ids, scores), nil
}

type denseSource struct {
	embedder QueryEmbedder
	idx      VectorIndex
}

// NewDenseSource embeds the query and searches idx.
func NewDenseSource(embedder QueryEmbedder, idx VectorIndex) Source {
	return &denseSource{embedder: embedder, idx: idx}
}

func (s *denseSource) Name() SourceName { return SourceDense }

func (s *denseSource) Search(ctx context.Context, query string, k int) ([]RankedHit, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.idx.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(results))
	scores := make([]float64, len(results))
	for i, r := range results {
		ids[i] = r.ID
		scores[i] = float64(r.Score)
	}
	return RankHits(SourceDense, ids, scores), nil
}

// NewUnavailableSource registers name with every search failing with
// err, so responses list the source as unavailable instead of omitting it.
func NewUnavailableSource(name SourceName, err error) Source {
	return &FuncSource{
		SourceName: name,
		SearchFn: func(context.Context, string, int) ([]RankedHit, error) {
			return nil, err
		},
	}
}

// FuncSource wraps a function as a Source.
type FuncSource struct {
	SourceName SourceName
	SearchFn   func(ctx context.Context, query string, k int) ([]RankedHit, error)
}

func (f *FuncSource) Name() SourceName { return f.SourceName }

func (f *FuncSource) Search(ctx context.Context, query string, k int) ([]RankedHit, error) {
	return f.SearchFn(ctx, query, k)
}

var (
	_ Source = (*textSource)(nil)
	_ Source = (*denseSource)(nil)
	_ Source = (*FuncSource)(nil)
)
