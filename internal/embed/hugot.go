package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/logging"
)

// HugotConfig configures the in-process sentence transformer.
type HugotConfig struct {
	// Model is a Hugging Face model name with an ONNX export.
	Model string
	// ModelDir holds downloaded models.
	ModelDir  string
	BatchSize int
	Logger    *slog.Logger
}

// HugotEmbedder runs a sentence transformer on hugot's pure-Go backend.
type HugotEmbedder struct {
	model     string
	dims      int
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	session *hugot.Session
	run     func([]string) ([][]float32, error)
	closed  bool
}

var _ Embedder = (*HugotEmbedder)(nil)

// hugotModelPath is where DownloadModel places name under dir.
func hugotModelPath(dir, name string) string {
	return filepath.Join(dir, strings.ReplaceAll(name, "/", "_"))
}

// PrepareModel returns the local path of model, downloading it into dir
// under a cross-process lock when it is missing.
func PrepareModel(ctx context.Context, dir, model string, logger *slog.Logger) (string, error) {
	path := hugotModelPath(dir, model)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	lock := NewFileLock(dir)
	if err := lock.Lock(); err != nil {
		return "", apperrors.New(apperrors.ErrCodeModelDownload, "cannot lock model directory", err)
	}
	defer func() { _ = lock.Unlock() }()

	// Another process may have finished the download while we waited.
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	logger.Info("model_download_start", slog.String("model", model), slog.String("dir", dir))
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = "onnx/model.onnx"
	downloaded, err := hugot.DownloadModel(model, dir, opts)
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeModelDownload, "failed to download model "+model, err).
			WithSuggestion("check network access to huggingface.co or use embeddings.provider: static")
	}
	logger.Info("model_download_complete", slog.String("path", downloaded))
	return downloaded, nil
}

// NewHugotEmbedder loads the model, downloading it first if needed, and
// probes its output dimensions.
func NewHugotEmbedder(ctx context.Context, cfg HugotConfig) (*HugotEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultHugotModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	path, err := PrepareModel(ctx, cfg.ModelDir, cfg.Model, cfg.Logger)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed, "failed to create hugot session", err)
	}
	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: path,
		Name:      "pdfrag-embedder",
	})
	if err != nil {
		if derr := session.Destroy(); derr != nil {
			cfg.Logger.Warn("hugot_session_destroy_failed", slog.String("error", derr.Error()))
		}
		return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed, "failed to load model "+cfg.Model, err)
	}

	e := &HugotEmbedder{
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
		session:   session,
		run: func(texts []string) ([][]float32, error) {
			out, err := pipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return out.Embeddings, nil
		},
	}

	probe, err := e.run([]string{"dimension probe"})
	if err != nil || len(probe) != 1 || len(probe[0]) == 0 {
		_ = e.Close()
		return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed, "model "+cfg.Model+" produced no embedding", err)
	}
	e.dims = len(probe[0])
	cfg.Logger.Info("hugot_embedder_ready",
		slog.String("model", cfg.Model),
		slog.Int("dimensions", e.dims))
	return e, nil
}

func (e *HugotEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch runs the pipeline over texts in batches. The pipeline is not
// safe for concurrent use, so calls are serialised.
func (e *HugotEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.run(texts[start:end])
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed, "hugot pipeline failed", err)
		}
		if len(vecs) != end-start {
			return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("hugot returned %d embeddings for %d inputs", len(vecs), end-start), nil)
		}
		for _, v := range vecs {
			results = append(results, normalizeVector(v))
		}
	}
	return results, nil
}

func (e *HugotEmbedder) Dimensions() int { return e.dims }

func (e *HugotEmbedder) ModelName() string { return e.model }

func (e *HugotEmbedder) Available(_ context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed
}

// Close destroys the session. It is idempotent.
func (e *HugotEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
