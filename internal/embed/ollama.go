package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/logging"
	"github.com/Aman-CERP/pdfrag/pkg/version"
)

// Ollama defaults.
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"

	// DefaultOllamaTimeout bounds one /api/embed request. Cold model loads
	// take tens of seconds.
	DefaultOllamaTimeout = 60 * time.Second
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host  string
	Model string

	// Dimensions is the expected vector size. Zero accepts whatever the
	// model returns; otherwise a different size is an error.
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	Retry      apperrors.RetryConfig

	// SkipHealthCheck skips the model lookup and dimension probe in
	// NewOllamaEmbedder.
	SkipHealthCheck bool

	Logger *slog.Logger
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaEmbedder calls Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	client *http.Client
	cfg    OllamaConfig
	dims   int
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates the embedder and, unless skipped, checks that
// the model is pulled and probes its dimensions.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOllamaTimeout
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = apperrors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		}
	}
	cfg.Retry.ShouldRetry = apperrors.IsRetryable
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	e := &OllamaEmbedder{
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     10 * time.Second,
		}},
		cfg:    cfg,
		dims:   cfg.Dimensions,
		logger: cfg.Logger,
	}
	if cfg.SkipHealthCheck {
		return e, nil
	}

	if err := e.checkModel(ctx); err != nil {
		return nil, err
	}
	vecs, err := e.embedOnce(ctx, []string{"dimension probe"})
	if err != nil {
		return nil, err
	}
	got := len(vecs[0])
	if cfg.Dimensions > 0 && got != cfg.Dimensions {
		return nil, apperrors.New(apperrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("ollama model %s returns %d dimensions, configured %d", cfg.Model, got, cfg.Dimensions), nil).
			WithSuggestion("set embeddings.dimensions to " + strconv.Itoa(got) + " and rebuild the index")
	}
	e.dims = got
	e.logger.Info("ollama_embedder_ready",
		slog.String("model", cfg.Model),
		slog.Int("dimensions", got))
	return e, nil
}

// checkModel verifies the model is pulled. A tagless name matches any tag.
func (e *OllamaEmbedder) checkModel(ctx context.Context) error {
	var tags ollamaTagsResponse
	if err := e.call(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return err
	}
	want := strings.ToLower(e.cfg.Model)
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.SplitN(name, ":", 2)[0] == want {
			return nil
		}
	}
	return apperrors.New(apperrors.ErrCodeModelDownload,
		"ollama model "+e.cfg.Model+" is not available", nil).
		WithSuggestion("run 'ollama pull " + e.cfg.Model + "'")
}

// Embed embeds one text. Blank text yields a zero vector.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most BatchSize inputs.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	var idx []int
	var pending []string
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			results[i] = make([]float32, e.dims)
			continue
		}
		idx = append(idx, i)
		pending = append(pending, t)
	}

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(pending))
		vecs, err := apperrors.RetryWithResult(ctx, e.cfg.Retry, func() ([][]float32, error) {
			return e.embedOnce(ctx, pending[start:end])
		})
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			if e.dims > 0 && len(v) != e.dims {
				return nil, apperrors.New(apperrors.ErrCodeDimensionMismatch,
					fmt.Sprintf("ollama returned %d dimensions, expected %d", len(v), e.dims), nil)
			}
			results[idx[start+j]] = v
		}
	}
	return results, nil
}

// embedOnce sends a single /api/embed request.
func (e *OllamaEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var resp ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: e.cfg.Model, Input: texts}
	if err := e.call(ctx, http.MethodPost, "/api/embed", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts)), nil)
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		out[i] = normalizeVector(v)
	}
	e.logger.Debug("ollama_embed", slog.Int("inputs", len(texts)))
	return out, nil
}

// call performs one JSON request. Transport failures and 5xx are
// retryable; other statuses are not.
func (e *OllamaEmbedder) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.cfg.Host+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return apperrors.New(apperrors.ErrCodeNetworkTimeout, "ollama request timed out", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.New(apperrors.ErrCodeNetworkUnavailable, "cannot reach ollama at "+e.cfg.Host, err).
			WithSuggestion("start ollama with 'ollama serve' or set embeddings.ollama_host")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		code := apperrors.ErrCodeEmbeddingFailed
		if resp.StatusCode >= 500 {
			code = apperrors.ErrCodeNetworkUnavailable
		}
		return apperrors.New(code,
			fmt.Sprintf("ollama %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.New(apperrors.ErrCodeEmbeddingFailed, "failed to decode ollama response", err)
	}
	return nil
}

func (e *OllamaEmbedder) Dimensions() int { return e.dims }

func (e *OllamaEmbedder) ModelName() string { return e.cfg.Model }

// Available checks that Ollama answers and still has the model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}
	return e.checkModel(ctx) == nil
}

// Close drops idle connections. It is idempotent.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
