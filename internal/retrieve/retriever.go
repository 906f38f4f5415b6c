package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/logging"
)

// Config holds the retrieval knobs.
type Config struct {
	// TopK is used when Retrieve is called with topK == 0 via RetrieveDefault.
	TopK int
	// FanOutMultiplier and MinCandidates size each source's candidate list.
	FanOutMultiplier int
	MinCandidates    int
	RRFConstant      int
	SourceTimeout    time.Duration

	// BreakerMaxFailures <= 0 disables circuit breakers.
	BreakerMaxFailures int
	BreakerReset       time.Duration
}

// DefaultConfig returns the default retrieval configuration.
func DefaultConfig() Config {
	return Config{
		TopK:               5,
		FanOutMultiplier:   2,
		MinCandidates:      20,
		RRFConstant:        DefaultRRFConstant,
		SourceTimeout:      5 * time.Second,
		BreakerMaxFailures: 5,
		BreakerReset:       30 * time.Second,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.TopK <= 0:
		return apperrors.New(apperrors.ErrCodeInvalidTopK, "top_k must be positive", nil).
			WithDetail("top_k", fmt.Sprint(c.TopK))
	case c.FanOutMultiplier < 1:
		return apperrors.ConfigError("fan_out_multiplier must be at least 1", nil)
	case c.MinCandidates < 0:
		return apperrors.ConfigError("min_candidates must be non-negative", nil)
	case c.RRFConstant <= 0:
		return apperrors.ConfigError("rrf_constant must be positive", nil)
	case c.SourceTimeout <= 0:
		return apperrors.ConfigError("source_timeout must be positive", nil)
	}
	return nil
}

// Candidates returns how many hits each source is asked for:
// max(topK, topK*FanOutMultiplier, MinCandidates).
func (c Config) Candidates(topK int) int {
	k := topK * c.FanOutMultiplier
	if k < topK {
		k = topK
	}
	if k < c.MinCandidates {
		k = c.MinCandidates
	}
	return k
}

// Retriever runs one query against its sources concurrently and fuses
// the results. It is safe for concurrent use.
type Retriever struct {
	sources  []Source
	breakers []*apperrors.CircuitBreaker
	fusion   *RRFFusion
	cfg      Config
	logger   *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithSources appends sources. Registration order is the provenance order
// and breaks Best() ties.
func WithSources(sources ...Source) Option {
	return func(r *Retriever) {
		r.sources = append(r.sources, sources...)
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(r *Retriever) {
		r.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// New builds a Retriever. At least one source is required and source
// names must be unique.
func New(opts ...Option) (*Retriever, error) {
	r := &Retriever{
		cfg:    DefaultConfig(),
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	if len(r.sources) == 0 {
		return nil, apperrors.ConfigError("at least one retrieval source is required", nil)
	}

	seen := make(map[SourceName]bool)
	for _, s := range r.sources {
		if s == nil {
			return nil, apperrors.ConfigError("nil retrieval source", nil)
		}
		if seen[s.Name()] {
			return nil, apperrors.ConfigError(fmt.Sprintf("duplicate retrieval source %q", s.Name()), nil)
		}
		seen[s.Name()] = true
	}

	r.fusion = NewRRFFusionWithK(r.cfg.RRFConstant)
	r.breakers = make([]*apperrors.CircuitBreaker, len(r.sources))
	if r.cfg.BreakerMaxFailures > 0 {
		for i, s := range r.sources {
			r.breakers[i] = apperrors.NewCircuitBreaker(string(s.Name()),
				apperrors.WithMaxFailures(r.cfg.BreakerMaxFailures),
				apperrors.WithResetTimeout(r.cfg.BreakerReset),
			)
		}
	}

	return r, nil
}

// Sources returns the registered source names in order.
func (r *Retriever) Sources() []SourceName {
	names := make([]SourceName, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// Config returns the retriever configuration.
func (r *Retriever) Config() Config {
	return r.cfg
}

// RetrieveDefault is Retrieve with the configured TopK.
func (r *Retriever) RetrieveDefault(ctx context.Context, query string, mode Mode) (*Response, error) {
	return r.Retrieve(ctx, query, r.cfg.TopK, mode)
}

// Retrieve returns at most topK fused results for query.
//
// Each selected source gets its own SourceTimeout. Failed sources are
// listed in Response.Unavailable. If every selected source fails the
// error has code ERR_506_RETRIEVAL_UNAVAILABLE. An empty Results slice
// with no error means the sources were healthy and matched nothing.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, mode Mode) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.New(apperrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if topK <= 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidTopK, "top_k must be positive", nil).
			WithDetail("top_k", fmt.Sprint(topK))
	}

	selected, err := r.selectSources(mode)
	if err != nil {
		return nil, err
	}

	k := r.cfg.Candidates(topK)
	start := time.Now()

	r.logger.Debug("retrieve_started",
		slog.String("mode", string(mode)),
		slog.Int("top_k", topK),
		slog.Int("candidates", k),
		slog.Int("sources", len(selected)))

	lists := make([]SourceList, len(selected))
	failures := make([]*SourceFailure, len(selected))

	// Goroutines record their own outcome and never fail the group.
	var g errgroup.Group
	for slot, idx := range selected {
		g.Go(func() error {
			src := r.sources[idx]
			began := time.Now()
			hits, err := r.query(ctx, idx, query, k)
			if err != nil {
				failures[slot] = &SourceFailure{
					Source:   src.Name(),
					Err:      err,
					TimedOut: apperrors.HasCode(err, apperrors.ErrCodeSourceTimeout),
					Elapsed:  time.Since(began),
				}
				return nil
			}
			lists[slot] = SourceList{Source: src.Name(), Hits: hits}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &Response{
		Query:      query,
		Mode:       mode,
		Candidates: k,
	}

	var ok []SourceList
	for slot, idx := range selected {
		resp.Queried = append(resp.Queried, r.sources[idx].Name())
		if f := failures[slot]; f != nil {
			resp.Unavailable = append(resp.Unavailable, *f)
			r.logger.Warn("source_failed",
				append([]any{
					slog.String("source", string(f.Source)),
					slog.Bool("timed_out", f.TimedOut),
					slog.Duration("elapsed", f.Elapsed),
				}, apperrors.LogAttrs(f.Err)...)...)
			continue
		}
		ok = append(ok, lists[slot])
	}

	if len(ok) == 0 {
		return nil, allFailed(resp.Unavailable)
	}

	resp.Results = truncate(r.fusion.Fuse(ok), topK)

	r.logger.Info("retrieve_completed",
		slog.String("mode", string(mode)),
		slog.Int("results", len(resp.Results)),
		slog.Int("unavailable", len(resp.Unavailable)),
		slog.Duration("duration", time.Since(start)))

	return resp, nil
}

// selectSources returns the indexes of the sources mode uses.
func (r *Retriever) selectSources(mode Mode) ([]int, error) {
	var idx []int
	switch mode {
	case ModeHybrid:
		for i := range r.sources {
			idx = append(idx, i)
		}
	case ModeElserOnly:
		for i, s := range r.sources {
			if s.Name() == SourceSparse {
				idx = append(idx, i)
			}
		}
		if len(idx) == 0 {
			return nil, apperrors.New(apperrors.ErrCodeRetrievalUnavailable,
				"elser_only mode needs a sparse source", nil).
				WithSuggestion("configure the sparse source or use hybrid mode")
		}
	default:
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown retrieval mode %q", mode), nil)
	}
	return idx, nil
}

type searchResult struct {
	hits []RankedHit
	err  error
}

// query calls one source under its own deadline. It returns when the
// deadline passes even if the source ignores ctx.
func (r *Retriever) query(ctx context.Context, idx int, query string, k int) ([]RankedHit, error) {
	src := r.sources[idx]
	cb := r.breakers[idx]
	name := string(src.Name())

	if cb != nil && !cb.Allow() {
		return nil, apperrors.New(apperrors.ErrCodeSourceUnavailable,
			name+" source skipped, circuit open", apperrors.ErrCircuitOpen).
			WithDetail("source", name)
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.SourceTimeout)
	defer cancel()

	done := make(chan searchResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- searchResult{err: fmt.Errorf("source panicked: %v", p)}
			}
		}()
		hits, err := src.Search(cctx, query, k)
		done <- searchResult{hits: hits, err: err}
	}()

	var res searchResult
	select {
	case res = <-done:
	case <-cctx.Done():
		res = searchResult{err: cctx.Err()}
	}

	// The caller gave up; that says nothing about the source's health.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if res.err != nil {
		if cb != nil {
			cb.RecordFailure()
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			return nil, apperrors.New(apperrors.ErrCodeSourceTimeout,
				fmt.Sprintf("%s source timed out after %s", name, r.cfg.SourceTimeout), res.err).
				WithDetail("source", name)
		}
		return nil, apperrors.New(apperrors.ErrCodeSourceUnavailable,
			name+" source failed: "+res.err.Error(), res.err).
			WithDetail("source", name)
	}

	if cb != nil {
		cb.RecordSuccess()
	}
	return res.hits, nil
}

func allFailed(failures []SourceFailure) error {
	names := make([]string, len(failures))
	reasons := make([]string, len(failures))
	causes := make([]error, len(failures))
	for i, f := range failures {
		names[i] = string(f.Source)
		reasons[i] = failureReason(f.Err)
		causes[i] = f.Err
	}

	err := apperrors.New(apperrors.ErrCodeRetrievalUnavailable,
		"all retrieval sources failed: "+strings.Join(reasons, "; "), errors.Join(causes...)).
		WithDetail("sources", strings.Join(names, ",")).
		WithSuggestion("check that the index backend is reachable (pdfrag health)")
	for i, f := range failures {
		err = err.WithDetail(string(f.Source), reasons[i])
	}
	return err
}

// failureReason is the message without the error code prefix.
func failureReason(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.Message
	}
	return err.Error()
}
