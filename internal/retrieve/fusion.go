package retrieve

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing constant.
const DefaultRRFConstant = 60

// SourceList is one source's hits in the order the source returned them.
type SourceList struct {
	Source SourceName
	Hits   []RankedHit
}

// RRFFusion merges ranked lists with Reciprocal Rank Fusion:
//
//	score(d) = Σ 1 / (K + rank_s(d))   over the sources s that returned d
//
// Chunks no source returned are absent. Fuse is a pure function.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion with K = DefaultRRFConstant.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a fusion with a custom K.
// Non-positive values fall back to the default.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges lists into one ranking sorted by fused score desc, then
// contributing source count desc, then chunk ID asc.
//
// Within a list, a hit's rank is its position (1-based). A chunk ID that
// repeats within one list keeps its first position; later copies are
// dropped without renumbering the hits after them.
func (f *RRFFusion) Fuse(lists []SourceList) []FusedResult {
	index := make(map[string]int)
	var results []FusedResult

	for _, list := range lists {
		seen := make(map[string]bool, len(list.Hits))
		for pos, hit := range list.Hits {
			if hit.ChunkID == "" || seen[hit.ChunkID] {
				continue
			}
			seen[hit.ChunkID] = true

			i, ok := index[hit.ChunkID]
			if !ok {
				i = len(results)
				index[hit.ChunkID] = i
				results = append(results, FusedResult{ChunkID: hit.ChunkID})
			}
			results[i].Sources = append(results[i].Sources, Provenance{
				Source:   list.Source,
				Rank:     pos + 1,
				RawScore: hit.RawScore,
			})
		}
	}

	for i := range results {
		results[i].FusedScore = f.score(results[i].Sources)
	}

	sort.Slice(results, func(i, j int) bool {
		return less(results[i], results[j])
	})

	return results
}

// score sums contributions in ascending rank order, so two chunks with
// the same multiset of ranks get bit-identical scores regardless of
// which source gave which rank.
func (f *RRFFusion) score(sources []Provenance) float64 {
	ranks := make([]int, len(sources))
	for i, p := range sources {
		ranks[i] = p.Rank
	}
	sort.Ints(ranks)

	var total float64
	for _, r := range ranks {
		total += 1.0 / float64(f.K+r)
	}
	return total
}

func less(a, b FusedResult) bool {
	if a.FusedScore != b.FusedScore {
		return a.FusedScore > b.FusedScore
	}
	if len(a.Sources) != len(b.Sources) {
		return len(a.Sources) > len(b.Sources)
	}
	return a.ChunkID < b.ChunkID
}

// truncate returns at most limit results.
func truncate(results []FusedResult, limit int) []FusedResult {
	if len(results) <= limit {
		return results
	}
	return results[:limit]
}
