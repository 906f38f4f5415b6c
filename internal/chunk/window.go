package chunk

import (
	"unicode"
	"unicode/utf8"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
)

// Config holds the sliding window parameters.
type Config struct {
	WindowSize int
	Overlap    int
}

// DefaultConfig returns a 320 word window with 60 words of overlap.
func DefaultConfig() Config {
	return Config{WindowSize: DefaultWindowSize, Overlap: DefaultOverlap}
}

// Validate rejects windows that would never advance.
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return apperrors.New(apperrors.ErrCodeChunkConfigInvalid,
			"window size must be positive", nil).
			WithDetail("window_size", itoa(c.WindowSize))
	}
	if c.Overlap < 0 || c.Overlap >= c.WindowSize {
		return apperrors.New(apperrors.ErrCodeChunkConfigInvalid,
			"overlap must be non-negative and smaller than the window size", nil).
			WithDetail("window_size", itoa(c.WindowSize)).
			WithDetail("overlap", itoa(c.Overlap)).
			WithSuggestion("set chunking.overlap below chunking.window_size")
	}
	return nil
}

// Stride is how far each window advances.
func (c Config) Stride() int {
	return c.WindowSize - c.Overlap
}

// Windows lays windows over n words. Full windows are emitted while at
// least WindowSize words remain; the remainder becomes one final, shorter
// window. Zero words yield no windows. cfg must be valid.
func Windows(n int, cfg Config) []Window {
	if n <= 0 {
		return nil
	}

	var out []Window
	start := 0
	for n-start >= cfg.WindowSize {
		out = append(out, Window{Start: start, End: start + cfg.WindowSize})
		start += cfg.Stride()
	}
	// With zero overlap the last full window can end exactly at n.
	if start < n {
		out = append(out, Window{Start: start, End: n})
	}

	return out
}

// span is the byte range of one word in the page text.
type span struct {
	start int
	end   int
}

// splitWords returns the whitespace-delimited words of text with their
// byte offsets, so a window can be mapped back onto the original lines.
func splitWords(text string) ([]string, []span) {
	var words []string
	var spans []span

	start := -1
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, text[start:i])
				spans = append(spans, span{start, i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
		i += size
	}
	if start >= 0 {
		words = append(words, text[start:])
		spans = append(spans, span{start, len(text)})
	}

	return words, spans
}
