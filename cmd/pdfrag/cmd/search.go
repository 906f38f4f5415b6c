package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pdfrag/internal/citation"
	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/output"
	"github.com/Aman-CERP/pdfrag/internal/retrieve"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	topK    int
	mode    string
	format  string // "text", "json"
	explain bool
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve cited passages for a question",
		Long: `Search the indexed PDFs.

In hybrid mode the lexical, dense and sparse sources are queried in
parallel and fused with Reciprocal Rank Fusion. elser_only queries the
sparse source alone. Prints "I don't know." when nothing matches.`,
		Example: `  pdfrag search "who gives way when overtaking"
  pdfrag search "sound signals in restricted visibility" -n 3 -m elser_only
  pdfrag search "anchor lights" --explain -f json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 0, "Number of results (default from config)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Retrieval mode: hybrid, elser_only (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show per-source ranks and unavailable sources")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, root *rootOptions, query string, opts searchOptions) error {
	switch opts.format {
	case "text", "json":
	default:
		return apperrors.New(apperrors.ErrCodeInvalidInput, "unknown output format "+opts.format, nil).
			WithSuggestion("use text or json")
	}

	a, err := loadApp(cmd, root)
	if err != nil {
		return err
	}
	defer a.close()

	modeName := opts.mode
	if modeName == "" {
		modeName = a.cfg.Retrieval.Mode
	}
	mode, err := retrieve.ParseMode(modeName)
	if err != nil {
		return err
	}
	topK := opts.topK
	if topK == 0 {
		topK = a.cfg.Retrieval.TopK
	}

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	a.logger.Info("search_started", slog.String("query", query), slog.Int("top_k", topK), slog.String("mode", string(mode)))
	resp, err := b.Retriever.Retrieve(ctx, query, topK, mode)
	if err != nil {
		return err
	}

	cits, err := citation.NewBuilder(b.Store, a.logger).Build(ctx, resp.Results)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeSearchFailed, "failed to load cited chunks", err)
	}
	a.logger.Info("search_complete",
		slog.Int("results", len(cits)),
		slog.Int("unavailable", len(resp.Unavailable)))

	out := output.New(cmd.OutOrStdout())
	if opts.format == "json" {
		return out.JSON(output.NewSearchView(resp, cits, opts.explain))
	}
	out.Search(resp, cits, opts.explain)
	return nil
}
