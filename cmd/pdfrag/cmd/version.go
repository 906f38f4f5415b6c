package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/pdfrag/internal/output"
	"github.com/Aman-CERP/pdfrag/pkg/version"
)

type versionOptions struct {
	json  bool
	short bool
}

func newVersionCmd() *cobra.Command {
	var opts versionOptions

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version, git commit, build date and Go toolchain of this binary.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVersion(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "Output version info as JSON")
	cmd.Flags().BoolVar(&opts.short, "short", false, "Output only the version number")
	cmd.MarkFlagsMutuallyExclusive("json", "short")

	return cmd
}

func runVersion(w io.Writer, opts versionOptions) error {
	switch {
	case opts.short:
		_, err := fmt.Fprintln(w, version.Short())
		return err
	case opts.json:
		return output.New(w).JSON(version.GetInfo())
	default:
		_, err := fmt.Fprintln(w, version.String())
		return err
	}
}
