package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pdfrag/internal/backend"
	"github.com/Aman-CERP/pdfrag/internal/chunk"
	"github.com/Aman-CERP/pdfrag/internal/config"
	"github.com/Aman-CERP/pdfrag/internal/ingest"
	"github.com/Aman-CERP/pdfrag/internal/logging"
	"github.com/Aman-CERP/pdfrag/internal/pdf"
)

// app is the loaded configuration and logger for one command run.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
}

// loadConfig reads .env, then either the --config file or the layered
// user and project files.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.workDir); err != nil {
		return nil, err
	}
	if opts.configPath != "" {
		return config.LoadFile(opts.configPath)
	}
	return config.Load(opts.workDir)
}

// loadApp loads configuration and starts file logging. --debug lowers
// the level and mirrors records to stderr.
func loadApp(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logCfg := logging.Config{
		Level:     cfg.Logging.Level,
		FilePath:  cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	}
	if logCfg.FilePath == "" {
		logCfg.FilePath = logging.DefaultLogPath()
	}
	if opts.debug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}
	logger = logger.With(slog.String("command", cmd.Name()))
	logger.Debug("config_loaded",
		slog.String("backend", cfg.Backend),
		slog.String("mode", cfg.Retrieval.Mode),
		slog.String("embeddings", cfg.Embeddings.Provider))

	return &app{cfg: cfg, logger: logger, cleanup: cleanup}, nil
}

func (a *app) close() {
	if a.cleanup != nil {
		a.cleanup()
	}
}

func (a *app) openBackend(ctx context.Context, opts ...backend.Option) (*backend.Backend, error) {
	return backend.Open(ctx, a.cfg, append([]backend.Option{backend.WithLogger(a.logger)}, opts...)...)
}

// newPipeline wires the PDF reader, chunker and embedder to b's store.
// Documents are named relative to folder.
func (a *app) newPipeline(b *backend.Backend, folder string, progress func(done, total int, res ingest.DocumentResult)) (*ingest.Pipeline, error) {
	chunker, err := chunk.New(chunk.Config{
		WindowSize: a.cfg.Chunking.WindowSize,
		Overlap:    a.cfg.Chunking.Overlap,
	})
	if err != nil {
		return nil, err
	}

	deps := ingest.Dependencies{
		Reader:  pdf.NewReader(a.logger),
		Chunker: chunker,
		Sink:    b.Store,
		Logger:  a.logger,
	}
	if b.Embedder != nil {
		deps.Embedder = b.Embedder
	}

	return ingest.New(deps, ingest.Config{
		Workers:   a.cfg.Ingest.Workers,
		BatchSize: a.cfg.Embeddings.BatchSize,
		Progress:  progress,
		Root:      folder,
	})
}
