// Package backend wires configuration to a storage backend: the ingest
// sink, the retrieval sources, the chunk lookup for citations and health.
package backend

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/Aman-CERP/pdfrag/internal/citation"
	"github.com/Aman-CERP/pdfrag/internal/config"
	"github.com/Aman-CERP/pdfrag/internal/elastic"
	"github.com/Aman-CERP/pdfrag/internal/embed"
	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/ingest"
	"github.com/Aman-CERP/pdfrag/internal/logging"
	"github.com/Aman-CERP/pdfrag/internal/retrieve"
	"github.com/Aman-CERP/pdfrag/internal/store"
)

// Store is what a backend must provide besides its sources.
type Store interface {
	ingest.Sink
	ingest.DocumentRemover
	citation.ChunkLookup
}

// Backend is an opened backend. Close it when done.
type Backend struct {
	Name      string
	Store     Store
	Retriever *retrieve.Retriever
	// Embedder is nil when it could not be built; the dense source then
	// fails every query with embedErr.
	Embedder embed.Embedder

	embedErr error
	es       *elastic.Client
	local    *store.LocalIndex
	logger   *slog.Logger
}

type options struct {
	embedder        embed.Embedder
	requireEmbedder bool
	logger          *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithEmbedder uses e instead of building one from configuration.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// RequireEmbedder makes an embedder failure fatal. Ingest needs vectors;
// search runs with the dense source reported unavailable.
func RequireEmbedder() Option {
	return func(o *options) { o.requireEmbedder = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Backend, error) {
	o := options{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	var embedErr error
	if o.embedder == nil {
		e, err := NewEmbedder(ctx, cfg, o.logger)
		switch {
		case err == nil:
			o.embedder = e
		case o.requireEmbedder:
			return nil, err
		default:
			embedErr = err
			o.logger.Warn("dense_source_unavailable", apperrors.LogAttrs(err)...)
		}
	}

	b := &Backend{Name: cfg.Backend, Embedder: o.embedder, embedErr: embedErr, logger: o.logger}
	dense := func(idx func(embed.Embedder) retrieve.Source) retrieve.Source {
		if o.embedder == nil {
			return retrieve.NewUnavailableSource(retrieve.SourceDense, embedErr)
		}
		return idx(o.embedder)
	}
	dims := cfg.Embeddings.Dimensions
	if o.embedder != nil {
		dims = o.embedder.Dimensions()
	}

	var sources []retrieve.Source
	switch cfg.Backend {
	case config.BackendElasticsearch:
		es, err := elastic.NewClient(ElasticConfig(cfg, dims), o.logger)
		if err != nil {
			b.closeEmbedder()
			return nil, err
		}
		b.es = es
		b.Store = es.Sink()
		sources = append(sources,
			es.Lexical(),
			dense(func(e embed.Embedder) retrieve.Source { return es.Dense(e) }),
			es.Sparse())

	case config.BackendLocal:
		li, err := store.OpenLocalIndex(store.LocalConfig{
			DataDir:        cfg.Local.DataDir,
			LexicalBackend: cfg.Local.LexicalBackend,
			VectorBackend:  cfg.Local.VectorBackend,
			Dimensions:     dims,
			Logger:         o.logger,
		})
		if err != nil {
			b.closeEmbedder()
			return nil, err
		}
		b.local = li
		b.Store = li
		sources = append(sources,
			retrieve.NewLexicalSource(li.Lexical()),
			dense(func(e embed.Embedder) retrieve.Source { return retrieve.NewDenseSource(e, li.Vectors()) }),
			retrieve.NewSparseSource(li.Sparse()))

	default:
		b.closeEmbedder()
		return nil, apperrors.New(apperrors.ErrCodeBackendNotSupported,
			"unknown backend "+cfg.Backend, nil).
			WithSuggestion("use elasticsearch or local")
	}

	r, err := retrieve.New(
		retrieve.WithSources(sources...),
		retrieve.WithConfig(RetrieveConfig(cfg)),
		retrieve.WithLogger(o.logger))
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.Retriever = r
	return b, nil
}

// NewEmbedder builds the configured embedder.
func NewEmbedder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (embed.Embedder, error) {
	model := cfg.Embeddings.Model
	// The default model names a sentence transformer, not an Ollama tag.
	if cfg.Embeddings.Provider == embed.ProviderOllama && model == embed.DefaultHugotModel {
		model = ""
	}
	return embed.NewEmbedder(ctx, embed.Config{
		Provider:   cfg.Embeddings.Provider,
		Model:      model,
		Dimensions: cfg.Embeddings.Dimensions,
		OllamaHost: cfg.Embeddings.OllamaHost,
		ModelDir:   cfg.Embeddings.ModelDir,
		BatchSize:  cfg.Embeddings.BatchSize,
		CacheSize:  cfg.Embeddings.CacheSize,
		Logger:     logger,
	})
}

// ElasticConfig maps the configuration onto the client's.
func ElasticConfig(cfg *config.Config, dims int) elastic.Config {
	es := cfg.Elasticsearch
	return elastic.Config{
		URL:            es.URL,
		Index:          es.Index,
		Username:       es.Username,
		Password:       es.Password,
		APIKey:         es.APIKey,
		InferenceID:    es.ElserInferenceID,
		ModelID:        es.ElserModelID,
		PipelineID:     es.PipelineID,
		Dimensions:     dims,
		RequestTimeout: es.RequestTimeout,
	}
}

// RetrieveConfig maps the configuration onto the retriever's.
func RetrieveConfig(cfg *config.Config) retrieve.Config {
	r := cfg.Retrieval
	return retrieve.Config{
		TopK:               r.TopK,
		FanOutMultiplier:   r.FanOutMultiplier,
		MinCandidates:      r.MinCandidates,
		RRFConstant:        r.RRFConstant,
		SourceTimeout:      r.SourceTimeout,
		BreakerMaxFailures: r.BreakerMaxFailures,
		BreakerReset:       r.BreakerReset,
	}
}

// Elastic returns the Elasticsearch client, or nil for the local backend.
func (b *Backend) Elastic() *elastic.Client { return b.es }

// Local returns the local index, or nil for Elasticsearch.
func (b *Backend) Local() *store.LocalIndex { return b.local }

// Prepare readies the backend for writes: it creates the Elasticsearch
// index when missing. The local index needs nothing.
func (b *Backend) Prepare(ctx context.Context) error {
	if b.es == nil {
		return nil
	}
	_, err := b.es.EnsureIndex(ctx)
	return err
}

// Reset drops every indexed chunk.
func (b *Backend) Reset(ctx context.Context) error {
	if b.es != nil {
		if err := b.es.DeleteIndex(ctx); err != nil {
			return err
		}
		_, err := b.es.EnsureIndex(ctx)
		return err
	}
	docs, err := b.local.Chunks().Documents(ctx)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := b.local.RemoveDocument(ctx, d.DocumentID); err != nil {
			return err
		}
	}
	return nil
}

// Check is one health probe.
type Check struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Health probes the store, the chunk count, the embedder and, for
// Elasticsearch, the ELSER pipeline.
func (b *Backend) Health(ctx context.Context) []Check {
	var checks []Check

	run := func(name string, fn func() (string, error)) {
		began := time.Now()
		detail, err := fn()
		c := Check{Name: name, OK: err == nil, Detail: detail, Duration: time.Since(began)}
		if err != nil {
			c.Detail = err.Error()
		}
		checks = append(checks, c)
	}

	if b.es != nil {
		run("elasticsearch", func() (string, error) {
			return b.es.Config().URL, b.es.Ping(ctx)
		})
		run("index", func() (string, error) {
			n, err := b.es.Count(ctx)
			return countDetail(b.es.Index(), n), err
		})
		run("elser_pipeline", func() (string, error) {
			ok, err := b.es.PipelineExists(ctx)
			if err == nil && !ok {
				err = apperrors.New(apperrors.ErrCodeSourceUnavailable, "pipeline "+b.es.Config().PipelineID+" not found", nil).
					WithSuggestion("run 'pdfrag setup-elser'")
			}
			return b.es.Config().PipelineID, err
		})
	} else {
		run("local_index", func() (string, error) {
			return "", b.local.Ping(ctx)
		})
		run("chunks", func() (string, error) {
			n, err := b.local.Chunks().Count(ctx)
			return countDetail("local", n), err
		})
	}

	run("embedder", func() (string, error) {
		if b.Embedder == nil {
			return "", apperrors.New(apperrors.ErrCodeEmbeddingFailed, "embedder unavailable; dense source reports unavailable", b.embedErr)
		}
		info := embed.GetInfo(ctx, b.Embedder)
		if !info.Available {
			return info.Model, apperrors.New(apperrors.ErrCodeEmbeddingFailed, "embedder "+info.Model+" not available", nil)
		}
		return info.Model, nil
	})
	return checks
}

func countDetail(index string, n int) string {
	return index + ": " + strconv.Itoa(n) + " chunks"
}

// Save persists in-memory state. Only the local vector store buffers writes.
func (b *Backend) Save() error {
	if b.local == nil {
		return nil
	}
	return b.local.Save()
}

// Close releases the store and the embedder.
func (b *Backend) Close() error {
	var errs []error
	if b.local != nil {
		errs = append(errs, b.local.Close())
	}
	errs = append(errs, b.closeEmbedder())
	return errors.Join(errs...)
}

func (b *Backend) closeEmbedder() error {
	if b.Embedder == nil {
		return nil
	}
	return b.Embedder.Close()
}
