package store

import (
	"regexp"
	"strings"
	"unicode"
)

// tokenRegex matches runs of letters and digits.
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// TokenizeText lowercases text and splits it into letter/digit runs.
// Single letters are dropped; numbers of any length are kept so that
// "Rule 7" still matches on "7".
func TokenizeText(text string) []string {
	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)
		if len([]rune(lower)) < 2 && !isNumber(lower) {
			continue
		}
		tokens = append(tokens, lower)
	}
	return tokens
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// FilterStopWords removes stop words from tokens.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, isStop := stopWords[t]; !isStop {
			result = append(result, t)
		}
	}
	return result
}

// BuildStopWordMap lowercases stopWords into a set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// UniqueTokens returns tokens with duplicates removed, first occurrence kept.
func UniqueTokens(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
