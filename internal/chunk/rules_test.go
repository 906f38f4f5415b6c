package chunk

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_DefaultRules(t *testing.T) {
	page := "Part B — Steering and Sailing Rules\nINTERNATIONAL\nRule 13 — Overtaking\nNotwithstanding anything contained in the Rules of Part B..."

	md := Extract(DefaultRules(), page)

	assert.Equal(t, "Rule 13 — Overtaking", md.Heading)
	assert.Equal(t, "INTERNATIONAL", md.Section)
	assert.Equal(t, "Part B — Steering and Sailing Rules", md.PartSection)
}

func TestExtract_Misses(t *testing.T) {
	md := Extract(DefaultRules(), "nothing here looks like a heading at all, just prose that runs on.")
	assert.Equal(t, Metadata{}, md)

	assert.Equal(t, Metadata{}, Extract(DefaultRules(), ""))
}

func TestExtract_FallbackHeadingRules(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"numbered", "some prose\n2.1 Lights and Shapes\nmore", "2.1 Lights and Shapes"},
		{"roman", "IV. Technical Provisions\nbody", "IV. Technical Provisions"},
		{"title case", "body text starts lower\nConduct of Vessels in Sight\nbody", "Conduct of Vessels in Sight"},
		{"rule beats earlier title", "Conduct of Vessels\nRule 11 Application", "Rule 11 Application"},
		{"case-insensitive rule", "see rule 19 below", "see rule 19 below"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(DefaultRules(), tt.text).Heading)
		})
	}
}

func TestExtract_SectionAndPart(t *testing.T) {
	md := Extract(DefaultRules(), "Inland waters\nSection II Conduct of vessels")
	assert.Equal(t, "Inland waters", md.Section)
	assert.Equal(t, "Section II Conduct of vessels", md.PartSection)
}

func TestExtract_FirstRuleWinsPerField(t *testing.T) {
	rules := []Rule{
		{Name: "miss", Field: FieldHeading, Extract: func(string) (string, bool) { return "", false }},
		{Name: "first", Field: FieldHeading, Extract: func(string) (string, bool) { return "one", true }},
		{Name: "second", Field: FieldHeading, Extract: func(string) (string, bool) { return "two", true }},
	}

	assert.Equal(t, "one", Extract(rules, "x").Heading)
}

func TestExtract_PanickingRuleIsAMiss(t *testing.T) {
	rules := []Rule{
		{Name: "boom", Field: FieldSection, Extract: func(string) (string, bool) { panic("bad rule") }},
		FirstLineMatching("inland", FieldSection, regexp.MustCompile(`INLAND`)),
	}

	assert.NotPanics(t, func() {
		assert.Equal(t, "INLAND", Extract(rules, "INLAND").Section)
	})
}

func TestExtract_UnknownFieldIgnored(t *testing.T) {
	rules := []Rule{{Name: "odd", Field: "colour", Extract: func(string) (string, bool) { return "red", true }}}
	assert.Equal(t, Metadata{}, Extract(rules, "x"))
}

func TestIsTitleCase(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"Steering and Sailing Rules", true},
		{"Conduct of Vessels in Any Condition", true},
		{"Lights", false},
		{"a vessel shall keep", false},
		{"Every Vessel Shall Proceed.", false},
		{"One Two Three Four Five Six Seven Eight Nine", false},
		{"12 34", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTitleCase(tt.line))
		})
	}
}

func TestChunker_WithRules(t *testing.T) {
	annex := FirstLineMatching("annex", FieldPartSection, regexp.MustCompile(`^Annex\s+[IVX]+`))

	c, err := New(DefaultConfig(), WithRules(annex))
	assert.NoError(t, err)
	assert.Len(t, c.Rules(), 1)

	chunks, err := c.ChunkPage("doc", 1, "Annex II Additional signals\nRule 1 text")
	assert.NoError(t, err)
	assert.Equal(t, "Annex II Additional signals", chunks[0].PartSection)
	assert.Empty(t, chunks[0].Heading)

	c, err = New(DefaultConfig(), WithExtraRules(annex))
	assert.NoError(t, err)
	assert.Len(t, c.Rules(), len(DefaultRules())+1)
}
