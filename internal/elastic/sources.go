package elastic

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/pdfrag/internal/retrieve"
)

// searchResponse is the subset of a search response the sources read.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source struct {
				ChunkID string `json:"chunk_id"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// search runs body against the index and ranks the hits in response order.
func (c *Client) search(ctx context.Context, name retrieve.SourceName, body map[string]any) ([]retrieve.RankedHit, error) {
	body["_source"] = []string{"chunk_id"}

	r, err := jsonBody(body)
	if err != nil {
		return nil, err
	}

	res, err := c.es.Search(
		c.es.Search.WithIndex(c.cfg.Index),
		c.es.Search.WithBody(r),
		c.es.Search.WithContext(ctx))
	if err != nil {
		return nil, transportError(string(name)+" search", err)
	}
	var sr searchResponse
	if err := decode(string(name)+" search", res, &sr); err != nil {
		return nil, err
	}

	ids := make([]string, len(sr.Hits.Hits))
	scores := make([]float64, len(sr.Hits.Hits))
	for i, h := range sr.Hits.Hits {
		ids[i] = h.ID
		// Documents indexed without an explicit _id carry chunk_id only in _source.
		if h.Source.ChunkID != "" {
			ids[i] = h.Source.ChunkID
		}
		scores[i] = h.Score
	}
	return retrieve.RankHits(name, ids, scores), nil
}

type lexicalSource struct{ c *Client }

// Lexical returns a BM25 match source over the text field.
func (c *Client) Lexical() retrieve.Source { return &lexicalSource{c: c} }

func (s *lexicalSource) Name() retrieve.SourceName { return retrieve.SourceLexical }

func (s *lexicalSource) Search(ctx context.Context, query string, k int) ([]retrieve.RankedHit, error) {
	return s.c.search(ctx, retrieve.SourceLexical, lexicalQuery(query, k))
}

func lexicalQuery(query string, k int) map[string]any {
	return map[string]any{
		"query": map[string]any{"match": map[string]any{"text": map[string]any{"query": query}}},
		"size":  k,
	}
}

type denseSource struct {
	c        *Client
	embedder retrieve.QueryEmbedder
}

// Dense returns a kNN source that embeds the query with embedder.
func (c *Client) Dense(embedder retrieve.QueryEmbedder) retrieve.Source {
	return &denseSource{c: c, embedder: embedder}
}

func (s *denseSource) Name() retrieve.SourceName { return retrieve.SourceDense }

func (s *denseSource) Search(ctx context.Context, query string, k int) ([]retrieve.RankedHit, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.c.search(ctx, retrieve.SourceDense, denseQuery(vec, k))
}

func denseQuery(vec []float32, k int) map[string]any {
	return map[string]any{
		"knn": map[string]any{
			"field":          "embedding",
			"query_vector":   vec,
			"k":              k,
			"num_candidates": max(50, 10*k),
		},
		"size": k,
	}
}

type sparseSource struct{ c *Client }

// Sparse returns the ELSER text_expansion source over ml.tokens.
func (c *Client) Sparse() retrieve.Source { return &sparseSource{c: c} }

func (s *sparseSource) Name() retrieve.SourceName { return retrieve.SourceSparse }

func (s *sparseSource) Search(ctx context.Context, query string, k int) ([]retrieve.RankedHit, error) {
	return s.c.search(ctx, retrieve.SourceSparse, sparseQuery(query, k, s.c.cfg.InferenceID, s.c.cfg.ModelID))
}

// sparseQuery targets a deployed model when modelID is set, else the
// inference endpoint. text_expansion takes either through model_id.
func sparseQuery(query string, k int, inferenceID, modelID string) map[string]any {
	model := inferenceID
	if modelID != "" {
		model = modelID
	}
	expansion := map[string]any{"model_text": query, "model_id": model}
	return map[string]any{
		"query": map[string]any{"text_expansion": map[string]any{"ml.tokens": expansion}},
		"size":  k,
	}
}

var (
	_ retrieve.Source = (*lexicalSource)(nil)
	_ retrieve.Source = (*denseSource)(nil)
	_ retrieve.Source = (*sparseSource)(nil)
)
