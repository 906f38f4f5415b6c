package embed

import (
	"context"
	"log/slog"
	"strings"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/logging"
)

// Config selects and configures a provider.
type Config struct {
	Provider   string
	Model      string
	Dimensions int
	OllamaHost string
	ModelDir   string
	BatchSize  int
	// CacheSize bounds the LRU cache. Negative disables caching.
	CacheSize int
	Logger    *slog.Logger
}

// ValidProviders lists the accepted provider names.
func ValidProviders() []string {
	return []string{ProviderStatic, ProviderOllama, ProviderHugot}
}

// IsValidProvider reports whether s names a provider, ignoring case.
func IsValidProvider(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range ValidProviders() {
		if p == s {
			return true
		}
	}
	return false
}

// NewEmbedder builds the configured provider wrapped in a cache. An
// explicitly chosen provider that cannot start is an error; there is no
// silent fallback, since vectors from different models do not mix.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderStatic, "":
		e = NewStaticEmbedder(cfg.Dimensions)
	case ProviderOllama:
		e, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Logger:     cfg.Logger,
		})
	case ProviderHugot:
		var h *HugotEmbedder
		h, err = NewHugotEmbedder(ctx, HugotConfig{
			Model:     cfg.Model,
			ModelDir:  cfg.ModelDir,
			BatchSize: cfg.BatchSize,
			Logger:    cfg.Logger,
		})
		if err == nil {
			e = h
			if cfg.Dimensions > 0 && h.Dimensions() != cfg.Dimensions {
				_ = h.Close()
				return nil, apperrors.New(apperrors.ErrCodeDimensionMismatch,
					"model "+h.ModelName()+" does not produce the configured dimensions", nil).
					WithSuggestion("set embeddings.dimensions to match the model and rebuild the index")
			}
		}
	default:
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid,
			"unknown embeddings provider "+cfg.Provider, nil).
			WithSuggestion("use one of: " + strings.Join(ValidProviders(), ", "))
	}
	if err != nil {
		return nil, err
	}

	cfg.Logger.Debug("embedder_created",
		slog.String("provider", cfg.Provider),
		slog.String("model", e.ModelName()),
		slog.Int("dimensions", e.Dimensions()))

	if cfg.CacheSize < 0 {
		return e, nil
	}
	return NewCachedEmbedder(e, cfg.CacheSize), nil
}

// Info is a printable summary of an embedder.
type Info struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Available  bool   `json:"available"`
}

// GetInfo summarises e, probing availability.
func GetInfo(ctx context.Context, e Embedder) Info {
	return Info{
		Model:      e.ModelName(),
		Dimensions: e.Dimensions(),
		Available:  e.Available(ctx),
	}
}
