package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/ingest"
)

// Mapping returns the index mapping for dims-dimensional embeddings.
func Mapping(dims int) map[string]any {
	keyword := map[string]any{"type": "keyword"}
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"text":         map[string]any{"type": "text"},
				"document_id":  keyword,
				"filename":     keyword,
				"url":          keyword,
				"chunk_id":     keyword,
				"heading":      keyword,
				"section":      keyword,
				"part_section": keyword,
				"page":         map[string]any{"type": "integer"},
				"embedding": map[string]any{
					"type":       "dense_vector",
					"dims":       dims,
					"index":      true,
					"similarity": "cosine",
				},
				"ml.tokens": map[string]any{"type": "sparse_vector"},
			},
		},
	}
}

// EnsureIndex creates the index if it does not exist. It reports whether
// the index was created.
func (c *Client) EnsureIndex(ctx context.Context) (bool, error) {
	if c.cfg.Dimensions <= 0 {
		return false, apperrors.ConfigError("embedding dimensions must be positive", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.es.Indices.Exists([]string{c.cfg.Index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, transportError("index exists", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return false, nil
	}
	if res.StatusCode != http.StatusNotFound {
		return false, statusError("index exists", res.StatusCode, nil)
	}

	body, err := jsonBody(Mapping(c.cfg.Dimensions))
	if err != nil {
		return false, err
	}
	res, err = c.es.Indices.Create(c.cfg.Index,
		c.es.Indices.Create.WithBody(body),
		c.es.Indices.Create.WithContext(ctx))
	if err != nil {
		return false, transportError("create index", err)
	}
	if err := decode("create index", res, nil); err != nil {
		return false, err
	}

	c.logger.Info("es_index_created",
		slog.String("index", c.cfg.Index),
		slog.Int("dimensions", c.cfg.Dimensions))
	return true, nil
}

// DeleteIndex drops the index. A missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.es.Indices.Delete([]string{c.cfg.Index},
		c.es.Indices.Delete.WithIgnoreUnavailable(true),
		c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return transportError("delete index", err)
	}
	return decode("delete index", res, nil)
}

// document is the stored form of one chunk.
type document struct {
	Text        string    `json:"text"`
	DocumentID  string    `json:"document_id,omitempty"`
	Filename    string    `json:"filename"`
	URL         string    `json:"url"`
	ChunkID     string    `json:"chunk_id"`
	Page        int       `json:"page"`
	Heading     string    `json:"heading,omitempty"`
	Section     string    `json:"section,omitempty"`
	PartSection string    `json:"part_section,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

func toDocument(r *ingest.Record) document {
	return document{
		Text:        r.Text,
		DocumentID:  r.DocumentID,
		Filename:    r.Filename,
		URL:         r.URL,
		ChunkID:     r.ID,
		Page:        r.Page,
		Heading:     r.Heading,
		Section:     r.Section,
		PartSection: r.PartSection,
		Embedding:   r.Embedding,
	}
}

func (d document) record() *ingest.Record {
	r := &ingest.Record{Filename: d.Filename, URL: d.URL}
	r.ID = d.ChunkID
	r.DocumentID = d.DocumentID
	if r.DocumentID == "" {
		r.DocumentID = d.Filename
	}
	r.Page = d.Page
	r.Text = d.Text
	r.Heading = d.Heading
	r.Section = d.Section
	r.PartSection = d.PartSection
	return r
}

// pipelineRecheck is how long a missing pipeline is remembered before
// the next Upsert looks again.
const pipelineRecheck = 30 * time.Second

// Sink writes records into the index. With a pipeline configured it is
// used once it exists; until setup-elser has run records are written
// without ELSER tokens. A found pipeline is remembered for the life of the
// sink; a missing one is looked up again after pipelineRecheck.
type Sink struct {
	c *Client

	mu       sync.Mutex
	pipeline string
	checked  time.Time
	warned   bool
	recheck  time.Duration
}

var (
	_ ingest.Sink            = (*Sink)(nil)
	_ ingest.DocumentRemover = (*Sink)(nil)
)

// Sink returns an ingest.Sink for the index.
func (c *Client) Sink() *Sink {
	return &Sink{c: c, recheck: pipelineRecheck}
}

func (s *Sink) resolvePipeline(ctx context.Context) string {
	if s.c.cfg.PipelineID == "" {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline != "" {
		return s.pipeline
	}
	if !s.checked.IsZero() && time.Since(s.checked) < s.recheck {
		return ""
	}
	s.checked = time.Now()

	ok, err := s.c.PipelineExists(ctx)
	if err != nil || !ok {
		if !s.warned {
			attrs := []any{
				slog.String("pipeline", s.c.cfg.PipelineID),
				slog.String("hint", "run 'pdfrag setup-elser' to add ELSER tokens"),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}
			s.c.logger.Warn("elser_pipeline_missing", attrs...)
			s.warned = true
		}
		return ""
	}
	if s.warned {
		s.c.logger.Info("elser_pipeline_found", slog.String("pipeline", s.c.cfg.PipelineID))
	}
	s.pipeline = s.c.cfg.PipelineID
	return s.pipeline
}

// bulkResponse is the subset of the bulk API response we inspect.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert indexes records with _id = chunk_id and refreshes the index.
func (s *Sink) Upsert(ctx context.Context, records []*ingest.Record) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		meta := map[string]any{"index": map[string]any{"_index": s.c.cfg.Index, "_id": r.ID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(toDocument(r)); err != nil {
			return err
		}
	}

	opts := []func(*esapi.BulkRequest){
		s.c.es.Bulk.WithIndex(s.c.cfg.Index),
		s.c.es.Bulk.WithRefresh("true"),
		s.c.es.Bulk.WithContext(ctx),
	}
	if p := s.resolvePipeline(ctx); p != "" {
		opts = append(opts, s.c.es.Bulk.WithPipeline(p))
	}

	res, err := s.c.es.Bulk(&buf, opts...)
	if err != nil {
		return transportError("bulk", err)
	}
	var br bulkResponse
	if err := decode("bulk", res, &br); err != nil {
		return err
	}
	if br.Errors {
		failed := 0
		var first string
		for _, item := range br.Items {
			for _, op := range item {
				if op.Error != nil {
					if failed == 0 {
						first = fmt.Sprintf("%s: %s: %s", op.ID, op.Error.Type, op.Error.Reason)
					}
					failed++
				}
			}
		}
		return apperrors.New(apperrors.ErrCodeIndexFailed,
			fmt.Sprintf("%d of %d chunks rejected (first: %s)", failed, len(records), first), nil)
	}

	s.c.logger.Debug("es_bulk_indexed", slog.Int("records", len(records)))
	return nil
}

// RemoveDocument deletes the chunks of documentID whose IDs are not in keep.
func (s *Sink) RemoveDocument(ctx context.Context, documentID string, keep ...string) error {
	body, err := jsonBody(removeQuery(documentID, keep))
	if err != nil {
		return err
	}

	res, err := s.c.es.DeleteByQuery([]string{s.c.cfg.Index}, body,
		s.c.es.DeleteByQuery.WithConflicts("proceed"),
		s.c.es.DeleteByQuery.WithRefresh(true),
		s.c.es.DeleteByQuery.WithIgnoreUnavailable(true),
		s.c.es.DeleteByQuery.WithContext(ctx))
	if err != nil {
		return transportError("delete by query", err)
	}
	return decode("delete by query", res, nil)
}

func removeQuery(documentID string, keep []string) map[string]any {
	filter := map[string]any{"term": map[string]any{"document_id": documentID}}
	if len(keep) == 0 {
		return map[string]any{"query": filter}
	}
	return map[string]any{
		"query": map[string]any{"bool": map[string]any{
			"filter":   []any{filter},
			"must_not": []any{map[string]any{"ids": map[string]any{"values": keep}}},
		}},
	}
}

// GetChunks fetches stored chunks by ID for citations.
func (s *Sink) GetChunks(ctx context.Context, ids []string) (map[string]*ingest.Record, error) {
	return s.c.GetChunks(ctx, ids)
}

// mgetResponse is the subset of the mget response we read.
type mgetResponse struct {
	Docs []struct {
		ID     string   `json:"_id"`
		Found  bool     `json:"found"`
		Source document `json:"_source"`
	} `json:"docs"`
}

// GetChunks fetches stored chunks by ID. Missing IDs are left out.
func (c *Client) GetChunks(ctx context.Context, ids []string) (map[string]*ingest.Record, error) {
	out := make(map[string]*ingest.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	body, err := jsonBody(map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.es.Mget(body,
		c.es.Mget.WithIndex(c.cfg.Index),
		c.es.Mget.WithSourceExcludes("embedding", "ml"),
		c.es.Mget.WithContext(ctx))
	if err != nil {
		return nil, transportError("mget", err)
	}
	var mr mgetResponse
	if err := decode("mget", res, &mr); err != nil {
		return nil, err
	}

	for _, d := range mr.Docs {
		if !d.Found {
			continue
		}
		r := d.Source.record()
		if r.ID == "" {
			r.ID = d.ID
		}
		out[d.ID] = r
	}
	return out, nil
}

// Count returns the number of documents in the index.
func (c *Client) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.es.Count(c.es.Count.WithIndex(c.cfg.Index), c.es.Count.WithContext(ctx))
	if err != nil {
		return 0, transportError("count", err)
	}
	var cr struct {
		Count int `json:"count"`
	}
	if err := decode("count", res, &cr); err != nil {
		return 0, err
	}
	return cr.Count, nil
}
