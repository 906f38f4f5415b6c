package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pdfrag/internal/backend"
	"github.com/Aman-CERP/pdfrag/internal/config"
	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/ingest"
	"github.com/Aman-CERP/pdfrag/internal/output"
	"github.com/Aman-CERP/pdfrag/internal/preflight"
	"github.com/Aman-CERP/pdfrag/internal/store"
	"github.com/Aman-CERP/pdfrag/internal/watcher"
)

type ingestOptions struct {
	watch        bool
	rebuild      bool
	workers      int
	forcePolling bool
}

func newIngestCmd(root *rootOptions) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest [folder]",
		Short: "Index every PDF in a folder",
		Long: `Read every PDF under the folder (recursively), split each page into
overlapping word windows, embed them and write them to the configured
backend. A document that cannot be read is reported and skipped.

Re-ingesting a PDF replaces its previous chunks.`,
		Example: `  pdfrag ingest ./data/pdfs
  pdfrag ingest --rebuild
  pdfrag ingest ./manuals --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := ""
			if len(args) == 1 {
				folder = args[0]
			}
			return runIngest(cmd.Context(), cmd, root, folder, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Keep running and re-ingest PDFs as they change")
	cmd.Flags().BoolVar(&opts.rebuild, "rebuild", false, "Drop the existing index before ingesting")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Documents processed in parallel (default from config)")
	cmd.Flags().BoolVar(&opts.forcePolling, "poll", false, "Watch by polling instead of file system events")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, root *rootOptions, folder string, opts ingestOptions) error {
	a, err := loadApp(cmd, root)
	if err != nil {
		return err
	}
	defer a.close()

	if folder == "" {
		folder = a.cfg.Ingest.Folder
	}
	if info, err := os.Stat(folder); err != nil || !info.IsDir() {
		return apperrors.New(apperrors.ErrCodeInvalidPath, "PDF folder not found: "+folder, err).
			WithSuggestion("pass a folder or set ingest.folder / PDF_FOLDER")
	}
	if opts.workers > 0 {
		a.cfg.Ingest.Workers = opts.workers
	}

	if a.cfg.Backend == config.BackendLocal {
		checker := preflight.New(preflight.WithLogger(a.logger))
		if err := preflight.Err(checker.RunAll(ctx, a.cfg.Local.DataDir)); err != nil {
			return err
		}
	}

	// A rebuild may change dimensions, which the existing local files
	// would reject on open.
	if opts.rebuild && a.cfg.Backend == config.BackendLocal {
		if err := store.RemoveLocalIndex(a.cfg.Local.DataDir); err != nil {
			return err
		}
	}

	b, err := a.openBackend(ctx, backend.RequireEmbedder())
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	if opts.rebuild && a.cfg.Backend == config.BackendElasticsearch {
		err = b.Reset(ctx)
	} else {
		err = b.Prepare(ctx)
	}
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Statusf("📂", "Ingesting %s into %s", folder, b.Name)

	progress := func(done, total int, res ingest.DocumentResult) {
		out.Progress(done, total, res.DocumentID)
	}
	p, err := a.newPipeline(b, folder, progress)
	if err != nil {
		return err
	}

	report, err := p.IngestFolder(ctx, folder)
	if report != nil {
		out.IngestReport(report)
	}
	if saveErr := b.Save(); saveErr != nil && err == nil {
		err = saveErr
	}
	if err != nil {
		return err
	}
	if n := len(report.Documents); n > 0 && len(report.Failed()) == n {
		return apperrors.New(apperrors.ErrCodeIndexFailed, "no PDF could be ingested", nil).
			WithDetail("folder", folder)
	}

	if !opts.watch {
		return nil
	}
	return watchFolder(ctx, a, b, p, out, folder, opts)
}

// watchHandler applies watch events through the ingest pipeline and
// persists the backend after each batch.
type watchHandler struct {
	pipeline *ingest.Pipeline
	backend  *backend.Backend
}

func (h *watchHandler) Upsert(ctx context.Context, path string) error {
	_, err := h.pipeline.IngestFile(ctx, path)
	return err
}

func (h *watchHandler) Remove(ctx context.Context, path string) error {
	return h.pipeline.RemoveFile(ctx, path)
}

func (h *watchHandler) Flush(context.Context) error {
	return h.backend.Save()
}

func watchFolder(ctx context.Context, a *app, b *backend.Backend, p *ingest.Pipeline, out *output.Writer, folder string, opts ingestOptions) error {
	w, err := watcher.NewHybridWatcher(watcher.Options{ForcePolling: opts.forcePolling, Logger: a.logger})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var startErr error
	started := make(chan struct{})
	go func() {
		defer close(started)
		if err := w.Start(ctx, folder); err != nil && !errors.Is(err, context.Canceled) {
			startErr = err
		}
		cancel()
	}()

	out.Statusf("👀", "Watching %s for PDF changes (Ctrl+C to stop)", folder)
	h := &watchHandler{pipeline: p, backend: b}
	err = watcher.Serve(ctx, w, h, a.logger, func(batch []watcher.FileEvent, res watcher.BatchResult) {
		for _, ev := range batch {
			out.Statusf("", "%s %s", ev.Operation, ev.Path)
		}
		if res.Failed > 0 {
			out.Warningf("%d of %d changes failed, see the log", res.Failed, len(batch))
		}
	})
	cancel()
	<-started
	if err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}
	a.logger.Info("watch_stopped", slog.String("folder", folder))
	return nil
}
