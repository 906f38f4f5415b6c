package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTermExpander_Expand(t *testing.T) {
	e := NewTermExpander()

	terms := e.Expand("What is the overtaking rule?")

	// Original terms first at full weight, stop words gone
	require.GreaterOrEqual(t, len(terms), 2)
	assert.Equal(t, WeightedTerm{Term: "overtaking", Weight: 1.0}, terms[0])
	assert.Equal(t, WeightedTerm{Term: "rule", Weight: 1.0}, terms[1])

	var expansions []string
	for _, wt := range terms[2:] {
		assert.Equal(t, DefaultSynonymWeight, wt.Weight)
		expansions = append(expansions, wt.Term)
	}
	assert.Equal(t, []string{"overtake", "overtaken", "passing"}, expansions)
}

func TestTermExpander_NoDuplicateTerms(t *testing.T) {
	e := NewTermExpander()

	// "ship" is both an original term and a synonym of "vessel"
	terms := e.Expand("vessel ship")

	seen := map[string]int{}
	for _, wt := range terms {
		seen[wt.Term]++
	}
	for term, n := range seen {
		assert.Equal(t, 1, n, "term %q repeated", term)
	}
	assert.Equal(t, WeightedTerm{Term: "ship", Weight: 1.0}, terms[1])
}

func TestTermExpander_Options(t *testing.T) {
	e := NewTermExpander(
		WithMaxExpansions(1),
		WithSynonymWeight(0.25),
		WithSynonyms(map[string][]string{"Buoy": {"marker"}}),
	)

	terms := e.Expand("buoy overtaking")

	assert.Equal(t, []WeightedTerm{
		{Term: "buoy", Weight: 1.0},
		{Term: "overtaking", Weight: 1.0},
		{Term: "marker", Weight: 0.25},
		{Term: "overtake", Weight: 0.25},
	}, terms)
}

func TestTermExpander_EmptyQuery(t *testing.T) {
	assert.Empty(t, NewTermExpander().Expand("the of"))
	assert.Empty(t, NewTermExpander().Expand(""))
}

func TestBleveSparseIndex_FindsChunkThroughExpansion(t *testing.T) {
	ctx := context.Background()
	idx, err := NewBleveSparseIndex("", nil)
	require.NoError(t, err)
	defer idx.Close()

	// Given: a chunk that only says "passing"
	require.NoError(t, idx.Index(ctx, []*Document{
		{ID: "guide.pdf__p004_00", Content: "A craft passing another keeps clear."},
		{ID: "guide.pdf__p009_00", Content: "Anchor lights are shown at night."},
	}))

	// When: the user asks about overtaking
	hits, err := idx.Search(ctx, "overtaking", 5)

	// Then: expansion reaches it
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "guide.pdf__p004_00", hits[0].DocID)
	assert.Contains(t, hits[0].MatchedTerms, "pass")
}

func TestBleveSparseIndex_OriginalTermsOutweighExpansions(t *testing.T) {
	ctx := context.Background()
	idx, err := NewBleveSparseIndex("", nil)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Index(ctx, []*Document{
		{ID: "a", Content: "The ship proceeds at safe speed."},
		{ID: "b", Content: "The vessel proceeds at safe speed."},
	}))

	hits, err := idx.Search(ctx, "vessel", 5)

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].DocID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestBleveSparseIndex_Expander(t *testing.T) {
	e := NewTermExpander(WithMaxExpansions(0))
	idx, err := NewBleveSparseIndex("", e)
	require.NoError(t, err)
	defer idx.Close()

	assert.Same(t, e, idx.Expander())
}
