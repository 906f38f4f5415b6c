package chunk

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Field names a metadata slot filled by extraction rules.
type Field string

const (
	FieldHeading     Field = "heading"
	FieldSection     Field = "section"
	FieldPartSection Field = "part_section"
)

// Rule extracts one metadata value from a chunk's text.
// Extract must be pure; ok=false means the pattern was absent.
type Rule struct {
	Name    string
	Field   Field
	Extract func(text string) (value string, ok bool)
}

// Metadata is the result of running rules over one chunk.
type Metadata struct {
	Heading     string
	Section     string
	PartSection string
}

func (m *Metadata) slot(f Field) *string {
	switch f {
	case FieldHeading:
		return &m.Heading
	case FieldSection:
		return &m.Section
	case FieldPartSection:
		return &m.PartSection
	default:
		return nil
	}
}

// Extract runs rules in order. For each field the first rule that yields
// a non-empty value wins. A rule that panics counts as a miss.
func Extract(rules []Rule, text string) Metadata {
	var md Metadata
	for _, r := range rules {
		dst := md.slot(r.Field)
		if dst == nil || *dst != "" || r.Extract == nil {
			continue
		}
		if v, ok := safeExtract(r, text); ok && v != "" {
			*dst = v
		}
	}
	return md
}

func safeExtract(r Rule, text string) (v string, ok bool) {
	defer func() {
		if recover() != nil {
			v, ok = "", false
		}
	}()
	return r.Extract(text)
}

// FirstLine builds a rule returning the first trimmed line, top to bottom,
// for which match is true.
func FirstLine(name string, field Field, match func(line string) bool) Rule {
	return Rule{
		Name:  name,
		Field: field,
		Extract: func(text string) (string, bool) {
			for _, line := range strings.Split(text, "\n") {
				line = strings.TrimSpace(line)
				if line != "" && match(line) {
					return line, true
				}
			}
			return "", false
		},
	}
}

// FirstLineMatching is FirstLine over a regular expression.
func FirstLineMatching(name string, field Field, re *regexp.Regexp) Rule {
	return FirstLine(name, field, re.MatchString)
}

var (
	ruleMarkerPattern     = regexp.MustCompile(`(?i)\bRule\s*\d+\b|\bOvertaking\b`)
	numberedMarkerPattern = regexp.MustCompile(`^(?:\d+(?:\.\d+)*\.?|[IVXLC]+\.)\s+\S`)
	jurisdictionPattern   = regexp.MustCompile(`(?i)\b(?:INTERNATIONAL|INLAND)\b`)
	partLabelPattern      = regexp.MustCompile(`(?i)\bPart\s+[A-Z]\b|\bSection\s+[IVX]+\b`)
)

const maxHeadingLen = 80

// DefaultRules returns the built-in rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		FirstLineMatching("rule-marker", FieldHeading, ruleMarkerPattern),
		FirstLine("numbered-marker", FieldHeading, func(line string) bool {
			return len(line) <= maxHeadingLen && numberedMarkerPattern.MatchString(line)
		}),
		FirstLine("title-case", FieldHeading, IsTitleCase),
		FirstLineMatching("jurisdiction", FieldSection, jurisdictionPattern),
		FirstLineMatching("part-label", FieldPartSection, partLabelPattern),
	}
}

// minor words may stay lowercase inside a title.
var minorWords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "at": true, "by": true,
	"for": true, "in": true, "of": true, "on": true, "or": true, "the": true,
	"to": true, "with": true,
}

// IsTitleCase reports whether line looks like a short title: 2 to 8
// words, no final period, and every significant word capitalised.
func IsTitleCase(line string) bool {
	if len(line) > maxHeadingLen || strings.HasSuffix(line, ".") {
		return false
	}

	words := strings.Fields(line)
	if len(words) < 2 || len(words) > 8 {
		return false
	}

	letters := 0
	for i, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		if !unicode.IsLetter(r) {
			// dashes, numbers and the like
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			continue
		}
		if i > 0 && minorWords[strings.ToLower(w)] {
			continue
		}
		return false
	}

	return letters >= 2
}
