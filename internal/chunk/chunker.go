package chunk

import (
	"strconv"
	"strings"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
)

// Chunker turns page text into chunks. It is safe for concurrent use.
type Chunker struct {
	cfg   Config
	rules []Rule
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithRules replaces the default extraction rules.
func WithRules(rules ...Rule) Option {
	return func(c *Chunker) {
		c.rules = append([]Rule(nil), rules...)
	}
}

// WithExtraRules appends rules after the current ones.
func WithExtraRules(rules ...Rule) Option {
	return func(c *Chunker) {
		c.rules = append(c.rules, rules...)
	}
}

// New validates cfg and returns a Chunker using DefaultRules unless
// overridden.
func New(cfg Config, opts ...Option) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Chunker{
		cfg:   cfg,
		rules: DefaultRules(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Config returns the window configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Rules returns a copy of the extraction rules in evaluation order.
func (c *Chunker) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// ChunkPage chunks one page. page is 1-based.
func (c *Chunker) ChunkPage(docID string, page int, text string) ([]*Chunk, error) {
	if strings.TrimSpace(docID) == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "document id is required", nil)
	}
	if page < 1 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "page numbers are 1-based", nil).
			WithDetail("page", itoa(page))
	}

	words, spans := splitWords(text)
	windows := Windows(len(words), c.cfg)

	chunks := make([]*Chunk, 0, len(windows))
	for seq, w := range windows {
		// Metadata sees the window's slice of the page with its line breaks.
		raw := text[spans[w.Start].start:spans[w.End-1].end]
		md := Extract(c.rules, raw)

		chunks = append(chunks, &Chunk{
			ID:          ChunkID(docID, page, seq),
			DocumentID:  docID,
			Page:        page,
			Seq:         seq,
			Text:        strings.Join(words[w.Start:w.End], " "),
			Heading:     md.Heading,
			Section:     md.Section,
			PartSection: md.PartSection,
		})
	}

	return chunks, nil
}

// ChunkDocument chunks pages in order, numbering them from 1.
func (c *Chunker) ChunkDocument(docID string, pages []string) ([]*Chunk, error) {
	var all []*Chunk
	for i, text := range pages {
		chunks, err := c.ChunkPage(docID, i+1, text)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeChunkingFailed, "failed to chunk document", err).
				WithDetail("document", docID).
				WithDetail("page", itoa(i+1))
		}
		all = append(all, chunks...)
	}
	return all, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
