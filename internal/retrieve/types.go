package retrieve

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
)

// SourceName identifies a retrieval source.
type SourceName string

const (
	SourceLexical SourceName = "lexical"
	SourceDense   SourceName = "dense"
	SourceSparse  SourceName = "sparse"
)

// Mode selects which registered sources a query uses.
type Mode string

const (
	// ModeHybrid queries every registered source.
	ModeHybrid Mode = "hybrid"
	// ModeElserOnly queries only the sparse source.
	ModeElserOnly Mode = "elser_only"
)

// ParseMode accepts "hybrid", "elser_only" and the short form "elser".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeHybrid):
		return ModeHybrid, nil
	case string(ModeElserOnly), "elser":
		return ModeElserOnly, nil
	default:
		return "", apperrors.New(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown retrieval mode %q", s), nil).
			WithSuggestion("use hybrid or elser_only")
	}
}

// RankedHit is one chunk as ranked by one source.
type RankedHit struct {
	ChunkID string
	// Rank is the 1-based position in the source's list.
	Rank int
	// RawScore is source native and not comparable across sources.
	RawScore float64
	Source   SourceName
}

// RankHits assigns 1-based ranks in slice order.
func RankHits(source SourceName, ids []string, scores []float64) []RankedHit {
	hits := make([]RankedHit, len(ids))
	for i, id := range ids {
		hits[i] = RankedHit{ChunkID: id, Rank: i + 1, Source: source}
		if i < len(scores) {
			hits[i].RawScore = scores[i]
		}
	}
	return hits
}

// Source is a ranked retrieval capability. Implementations must be safe
// for concurrent use and should honour ctx cancellation.
type Source interface {
	Name() SourceName
	Search(ctx context.Context, query string, k int) ([]RankedHit, error)
}

// Provenance records where one source placed a fused chunk.
type Provenance struct {
	Source   SourceName `json:"source"`
	Rank     int        `json:"rank"`
	RawScore float64    `json:"raw_score"`
}

// FusedResult is one chunk in the merged ranking.
type FusedResult struct {
	ChunkID    string  `json:"chunk_id"`
	FusedScore float64 `json:"fused_score"`
	// Sources lists every contributing source in registration order.
	Sources []Provenance `json:"sources"`
}

// ContributingSources returns how many sources returned the chunk.
func (r FusedResult) ContributingSources() int {
	return len(r.Sources)
}

// Best returns the provenance with the lowest rank. Ties go to the
// source registered first.
func (r FusedResult) Best() Provenance {
	var best Provenance
	for i, p := range r.Sources {
		if i == 0 || p.Rank < best.Rank {
			best = p
		}
	}
	return best
}

// RankIn returns the chunk's rank in source, or 0 if absent.
func (r FusedResult) RankIn(source SourceName) int {
	for _, p := range r.Sources {
		if p.Source == source {
			return p.Rank
		}
	}
	return 0
}

// SourceFailure records a source left out of fusion.
type SourceFailure struct {
	Source   SourceName    `json:"source"`
	Err      error         `json:"-"`
	TimedOut bool          `json:"timed_out"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Response is the outcome of one retrieval call.
type Response struct {
	Query string `json:"query"`
	Mode  Mode   `json:"mode"`
	// Candidates is how many hits each source was asked for.
	Candidates  int             `json:"candidates"`
	Queried     []SourceName    `json:"queried"`
	Unavailable []SourceFailure `json:"unavailable,omitempty"`
	Results     []FusedResult   `json:"results"`
}

// Degraded reports whether any queried source failed.
func (r *Response) Degraded() bool {
	return len(r.Unavailable) > 0
}

// ChunkIDs returns the result IDs in rank order.
func (r *Response) ChunkIDs() []string {
	ids := make([]string, len(r.Results))
	for i, res := range r.Results {
		ids[i] = res.ChunkID
	}
	return ids
}
