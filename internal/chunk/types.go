// Package chunk splits extracted PDF page text into overlapping word
// windows and tags each window with heading, section and part metadata.
//
// Chunking is a pure function of its input: the same page text and
// configuration always produce byte-identical chunks and IDs, which lets
// an index treat re-ingestion as an upsert.
package chunk

import "fmt"

// Default window parameters, in words.
const (
	DefaultWindowSize = 320
	DefaultOverlap    = 60
)

// Chunk is an immutable, citable span of one page.
type Chunk struct {
	// ID is {doc}__p{page:03d}_{seq:02d}.
	ID         string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	// Page is 1-based.
	Page int `json:"page"`
	// Seq is the 0-based window index within the page.
	Seq int `json:"seq"`
	// Text is the window's words joined by single spaces.
	Text string `json:"text"`

	// Metadata fields are empty when no rule matched.
	Heading     string `json:"heading,omitempty"`
	Section     string `json:"section,omitempty"`
	PartSection string `json:"part_section,omitempty"`
}

// ChunkID formats the stable identifier of a chunk.
func ChunkID(docID string, page, seq int) string {
	return fmt.Sprintf("%s__p%03d_%02d", docID, page, seq)
}

// Window is a half-open word range [Start, End) of a page.
type Window struct {
	Start int
	End   int
}

// Len returns the number of words in the window.
func (w Window) Len() int {
	return w.End - w.Start
}
