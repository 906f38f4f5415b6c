// Package cmd provides the CLI commands for pdfrag.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/pkg/version"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	workDir    string
	debug      bool
}

// NewRootCmd creates the root command for the pdfrag CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pdfrag",
		Short: "Question answering retrieval over a folder of PDFs",
		Long: `pdfrag ingests PDFs into Elasticsearch or a local index and answers
queries with cited passages.

Each query runs lexical (BM25), dense (kNN) and learned-sparse (ELSER)
retrieval in parallel and merges the rankings with Reciprocal Rank Fusion.
A source that fails or times out is left out; the query still succeeds
while at least one source answers.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("pdfrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: .pdfrag.yaml and ~/.config/pdfrag/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.workDir, "dir", ".", "Directory holding .pdfrag.yaml and .env")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Log at debug level and mirror logs to stderr")

	cmd.AddCommand(newIngestCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newSetupElserCmd(opts))
	cmd.AddCommand(newHealthCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command with interrupt handling and prints
// errors with their code and hint.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	err := root.ExecuteContext(ctx)
	if err != nil {
		debug, _ := root.PersistentFlags().GetBool("debug")
		_, _ = fmt.Fprint(root.ErrOrStderr(), apperrors.FormatForCLI(err, debug))
	}
	return err
}
