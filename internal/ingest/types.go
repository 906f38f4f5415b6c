// Package ingest turns a folder of PDFs into indexed chunks: read pages,
// chunk them, embed the chunk text and hand the records to a Sink.
package ingest

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Aman-CERP/pdfrag/internal/chunk"
)

// Record is one chunk ready for indexing or citation.
type Record struct {
	chunk.Chunk

	// Filename is the PDF base name, URL a link to it.
	Filename string `json:"filename"`
	URL      string `json:"url"`

	// Embedding is nil when no embedder is configured.
	Embedding []float32 `json:"-"`
}

// Sink receives records. Upsert must replace records with the same chunk ID.
type Sink interface {
	Upsert(ctx context.Context, records []*Record) error
}

// DocumentRemover is implemented by sinks that can drop a document's
// chunks. Chunks whose IDs are in keep survive, so a re-ingest can write
// the new version first and prune only what it no longer produces.
type DocumentRemover interface {
	RemoveDocument(ctx context.Context, documentID string, keep ...string) error
}

// PageReader extracts per-page plain text from a document.
type PageReader interface {
	ReadPages(ctx context.Context, path string) ([]string, error)
}

// Embedder produces dense vectors for chunk text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentID names the PDF at path by its slash-separated path relative
// to root, so same-named files in different subfolders stay distinct.
// Files directly under root keep their base name. With an empty root, or
// a path outside it, the base name is used.
func DocumentID(root, path string) string {
	if root == "" {
		return filepath.Base(path)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return filepath.Base(path)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return filepath.Base(path)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// FileURL returns a file:// link to path with a page anchor when page > 0.
func FileURL(path string, page int) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := "file://" + filepath.ToSlash(abs)
	if page > 0 {
		u += "#page=" + strconv.Itoa(page)
	}
	return u
}

// IsPDF reports whether path has a .pdf extension, any case.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
