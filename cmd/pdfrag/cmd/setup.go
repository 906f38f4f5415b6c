package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pdfrag/internal/config"
	"github.com/Aman-CERP/pdfrag/internal/elastic"
	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/output"
)

type setupOptions struct {
	skipTrial  bool
	noBackfill bool
	wait       time.Duration
}

func newSetupElserCmd(root *rootOptions) *cobra.Command {
	var opts setupOptions

	cmd := &cobra.Command{
		Use:   "setup-elser",
		Short: "Provision ELSER on Elasticsearch",
		Long: `Prepare Elasticsearch for sparse retrieval:

  1. start the trial license ML inference needs (skipped if active)
  2. create the ELSER inference endpoint
  3. wait for the endpoint to come up
  4. create the ingest pipeline that writes ml.tokens
  5. run the pipeline over chunks indexed before it existed

Every step is safe to repeat.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSetupElser(cmd.Context(), cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.skipTrial, "skip-trial", false, "Do not start the trial license")
	cmd.Flags().BoolVar(&opts.noBackfill, "no-backfill", false, "Do not reprocess existing chunks")
	cmd.Flags().DurationVar(&opts.wait, "wait", 3*time.Minute, "How long to wait for the endpoint")

	return cmd
}

func runSetupElser(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts setupOptions) error {
	a, err := loadApp(cmd, root)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Backend != config.BackendElasticsearch {
		return apperrors.New(apperrors.ErrCodeBackendNotSupported,
			"setup-elser needs the elasticsearch backend", nil).
			WithSuggestion("set backend: elasticsearch or PDFRAG_BACKEND=elasticsearch")
	}

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	if err := b.Prepare(ctx); err != nil {
		return err
	}

	setup := elastic.DefaultSetupOptions()
	setup.StartTrial = !opts.skipTrial
	setup.Backfill = !opts.noBackfill
	if opts.wait > 0 && setup.Poll.InitialDelay > 0 {
		setup.Poll.MaxRetries = int(opts.wait / setup.Poll.InitialDelay)
	}

	out := output.New(cmd.OutOrStdout())
	report, err := b.Elastic().Setup(ctx, setup)
	if report != nil {
		out.Setup(report)
	}
	if err != nil {
		return err
	}
	if !report.OK() {
		return apperrors.New(apperrors.ErrCodeRemoteRejected, "ELSER setup did not complete", nil)
	}
	out.Success("ELSER ready")
	return nil
}
