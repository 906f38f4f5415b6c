package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pdfrag/internal/backend"
	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/output"
	"github.com/Aman-CERP/pdfrag/internal/preflight"
)

func newHealthCmd(root *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the backend, index and embedder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd.Context(), cmd, root, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runHealth(ctx context.Context, cmd *cobra.Command, root *rootOptions, jsonOutput bool) error {
	a, err := loadApp(cmd, root)
	if err != nil {
		return err
	}
	defer a.close()

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	checks := b.Health(ctx)
	if b.Local() != nil {
		checks = append(checks, preflightChecks(ctx, a)...)
	}
	ok := true
	for _, c := range checks {
		ok = ok && c.OK
	}

	out := output.New(cmd.OutOrStdout())
	if jsonOutput {
		if err := out.JSON(map[string]any{"backend": b.Name, "ok": ok, "checks": checks}); err != nil {
			return err
		}
	} else {
		out.Health(b.Name, checks)
	}

	if !ok {
		return apperrors.New(apperrors.ErrCodeSourceUnavailable, "health check failed", nil).
			WithSuggestion("run with --debug for details")
	}
	return nil
}

// preflightChecks reports the local data directory checks as health
// checks. Warnings pass.
func preflightChecks(ctx context.Context, a *app) []backend.Check {
	results := preflight.New(preflight.WithLogger(a.logger)).RunAll(ctx, a.cfg.Local.DataDir)
	checks := make([]backend.Check, 0, len(results))
	for _, r := range results {
		detail := r.Message
		if r.Status == preflight.StatusWarn {
			detail += " (warning)"
		}
		checks = append(checks, backend.Check{Name: r.Name, OK: r.Status != preflight.StatusFail, Detail: detail})
	}
	return checks
}
