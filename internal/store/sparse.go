package store

import (
	"context"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// WeightedTerm is one term of an expanded query.
type WeightedTerm struct {
	Term   string
	Weight float64
}

// DefaultSynonymWeight is the weight of an expansion relative to an
// original query term (1.0).
const DefaultSynonymWeight = 0.5

// MaritimeSynonyms expands common navigation-rule vocabulary. Entries are
// lowercase and one directional: the key is what users type.
var MaritimeSynonyms = map[string][]string{
	"overtaking":  {"overtake", "overtaken", "passing"},
	"overtake":    {"overtaking", "passing"},
	"vessel":      {"ship", "craft", "boat"},
	"ship":        {"vessel", "craft"},
	"boat":        {"vessel", "craft"},
	"collision":   {"crash", "allision"},
	"crossing":    {"cross", "intersecting"},
	"head":        {"bow"},
	"starboard":   {"right"},
	"port":        {"left"},
	"light":       {"lights", "lamp", "signal"},
	"lights":      {"light", "lamp"},
	"sound":       {"whistle", "horn", "bell"},
	"signal":      {"signals", "sound", "light"},
	"fog":         {"visibility", "mist"},
	"visibility":  {"fog", "mist"},
	"speed":       {"velocity", "knots"},
	"anchor":      {"anchored", "mooring"},
	"sailing":     {"sail", "sailboat"},
	"power":       {"powered", "engine", "motor"},
	"give":        {"yield"},
	"way":         {"right"},
	"stand":       {"maintain", "keep"},
	"lookout":     {"watch", "observation"},
	"narrow":      {"channel", "fairway"},
	"channel":     {"fairway", "narrow"},
	"restricted":  {"constrained", "limited"},
	"towing":      {"tow", "pushing"},
	"fishing":     {"trawling", "nets"},
	"approaching": {"nearing", "closing"},
}

// TermExpander turns a query into weighted terms: the query's own terms
// at weight 1.0 plus bounded synonym expansions at a lower weight.
type TermExpander struct {
	synonyms      map[string][]string
	stopWords     map[string]struct{}
	maxExpansions int
	synonymWeight float64
}

// TermExpanderOption configures a TermExpander.
type TermExpanderOption func(*TermExpander)

// WithMaxExpansions caps synonyms per term.
func WithMaxExpansions(n int) TermExpanderOption {
	return func(e *TermExpander) {
		if n >= 0 {
			e.maxExpansions = n
		}
	}
}

// WithSynonymWeight sets the weight given to expansions.
func WithSynonymWeight(w float64) TermExpanderOption {
	return func(e *TermExpander) {
		if w > 0 {
			e.synonymWeight = w
		}
	}
}

// WithSynonyms merges extra synonym mappings.
func WithSynonyms(synonyms map[string][]string) TermExpanderOption {
	return func(e *TermExpander) {
		for k, v := range synonyms {
			key := strings.ToLower(k)
			e.synonyms[key] = append(e.synonyms[key], v...)
		}
	}
}

// NewTermExpander creates an expander seeded with MaritimeSynonyms.
func NewTermExpander(opts ...TermExpanderOption) *TermExpander {
	e := &TermExpander{
		synonyms:      make(map[string][]string, len(MaritimeSynonyms)),
		stopWords:     BuildStopWordMap(DefaultStopWords),
		maxExpansions: 3,
		synonymWeight: DefaultSynonymWeight,
	}
	for k, v := range MaritimeSynonyms {
		e.synonyms[k] = append([]string(nil), v...)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns the weighted terms for query. Original terms come first
// in query order, then expansions; a term appears once at its highest
// weight.
func (e *TermExpander) Expand(queryStr string) []WeightedTerm {
	terms := UniqueTokens(FilterStopWords(TokenizeText(queryStr), e.stopWords))
	if len(terms) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(terms))
	out := make([]WeightedTerm, 0, len(terms)*2)
	for _, t := range terms {
		seen[t] = true
		out = append(out, WeightedTerm{Term: t, Weight: 1.0})
	}

	for _, t := range terms {
		added := 0
		for _, syn := range e.synonyms[t] {
			syn = strings.ToLower(syn)
			if seen[syn] || added >= e.maxExpansions {
				continue
			}
			seen[syn] = true
			out = append(out, WeightedTerm{Term: syn, Weight: e.synonymWeight})
			added++
		}
	}
	return out
}

// BleveSparseIndex is the local stand-in for ELSER: a Bleve index queried
// with a boosted disjunction of expanded terms.
type BleveSparseIndex struct {
	bleveBase
	expander *TermExpander
}

var _ TextIndex = (*BleveSparseIndex)(nil)

// NewBleveSparseIndex opens or creates the index at path. An empty path
// creates an in-memory index. A nil expander uses NewTermExpander().
func NewBleveSparseIndex(path string, expander *TermExpander) (*BleveSparseIndex, error) {
	if expander == nil {
		expander = NewTermExpander()
	}
	idx, err := openBleve(path)
	if err != nil {
		return nil, err
	}
	return &BleveSparseIndex{bleveBase: bleveBase{index: idx}, expander: expander}, nil
}

// Expander returns the query expander.
func (s *BleveSparseIndex) Expander() *TermExpander {
	return s.expander
}

// Search expands queryStr and ranks chunks by the boosted disjunction.
func (s *BleveSparseIndex) Search(ctx context.Context, queryStr string, limit int) ([]*ScoredDoc, error) {
	terms := s.expander.Expand(queryStr)
	if len(terms) == 0 || limit <= 0 {
		return []*ScoredDoc{}, nil
	}

	clauses := make([]query.Query, 0, len(terms))
	for _, t := range terms {
		q := bleve.NewMatchQuery(t.Term)
		q.SetField(contentField)
		q.SetBoost(t.Weight)
		clauses = append(clauses, q)
	}

	results, err := s.search(ctx, bleve.NewDisjunctionQuery(clauses...), limit)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		sort.Strings(r.MatchedTerms)
	}
	return results, nil
}
