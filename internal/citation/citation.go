// Package citation turns fused retrieval results into citable passages.
package citation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/pdfrag/internal/ingest"
	"github.com/Aman-CERP/pdfrag/internal/logging"
	"github.com/Aman-CERP/pdfrag/internal/retrieve"
)

// SnippetLength is the number of characters kept from a chunk's text.
const SnippetLength = 300

// NoAnswer is printed when retrieval returns nothing.
const NoAnswer = "I don't know."

// Citation is one retrieved passage ready for display.
type Citation struct {
	Title       string  `json:"title"`
	Link        string  `json:"link"`
	Snippet     string  `json:"snippet"`
	Page        int     `json:"page"`
	Heading     string  `json:"heading,omitempty"`
	Section     string  `json:"section,omitempty"`
	PartSection string  `json:"part_section,omitempty"`
	ChunkID     string  `json:"chunk_id"`
	Source      string  `json:"source"`
	FusedScore  float64 `json:"fused_score"`

	// Provenance is every source's rank for the chunk.
	Provenance []retrieve.Provenance `json:"provenance,omitempty"`
}

// ChunkLookup fetches stored chunks by ID. Missing IDs are left out of
// the map.
type ChunkLookup interface {
	GetChunks(ctx context.Context, ids []string) (map[string]*ingest.Record, error)
}

// Builder resolves results against a chunk store.
type Builder struct {
	lookup ChunkLookup
	logger *slog.Logger
}

// NewBuilder returns a builder over lookup.
func NewBuilder(lookup ChunkLookup, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Builder{lookup: lookup, logger: logger}
}

// Build returns one citation per result, in result order. Results whose
// chunk is no longer stored are dropped and logged.
func (b *Builder) Build(ctx context.Context, results []retrieve.FusedResult) ([]Citation, error) {
	if len(results) == 0 {
		return []Citation{}, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	records, err := b.lookup.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}

	out := make([]Citation, 0, len(results))
	for _, r := range results {
		rec, ok := records[r.ChunkID]
		if !ok {
			b.logger.Warn("citation_chunk_missing", slog.String("chunk_id", r.ChunkID))
			continue
		}
		out = append(out, New(rec, r))
	}
	return out, nil
}

// New builds the citation for rec ranked as r.
func New(rec *ingest.Record, r retrieve.FusedResult) Citation {
	title := rec.Filename
	if title == "" {
		title = rec.DocumentID
	}
	return Citation{
		Title:       title,
		Link:        PageLink(rec.URL, rec.Page),
		Snippet:     Snippet(rec.Text, SnippetLength),
		Page:        rec.Page,
		Heading:     rec.Heading,
		Section:     rec.Section,
		PartSection: rec.PartSection,
		ChunkID:     rec.ID,
		Source:      string(r.Best().Source),
		FusedScore:  r.FusedScore,
		Provenance:  r.Sources,
	}
}

// PageLink appends a #page=N anchor to url, replacing any existing fragment.
func PageLink(url string, page int) string {
	if url == "" {
		return ""
	}
	if i := strings.IndexByte(url, '#'); i >= 0 {
		url = url[:i]
	}
	if page <= 0 {
		return url
	}
	return fmt.Sprintf("%s#page=%d", url, page)
}

// Snippet returns the first n characters of text.
func Snippet(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
