package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/lexstore/journal"
	"github.com/hupe1980/lexstore/wal"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Compression string
}

// MigrateReport summarizes a migration.
type MigrateReport struct {
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	Records   int    `json:"records" yaml:"records"`
	Rewritten int    `json:"rewritten" yaml:"rewritten"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate <source> <target>",
		Short: "Rewrite a journal that uses the legacy integer id encoding",
		Long: `Copy every record of source into a new journal at target, converting
records written with fixed-width integer ids into the current encoding.

The target must not exist or must be empty so that record positions are
preserved.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), opts, args[0], args[1], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Compression, "compression", journal.CompressionNone.String(),
		"compression of the target journal (none|zstd|lz4)")

	return cmd
}

func runMigrate(ctx context.Context, opts *MigrateOptions, src, dst string, w io.Writer) (err error) {
	compression, err := journal.ParseCompression(opts.Compression)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --compression", err)
	}

	r, err := journal.OpenFileReader(src)
	if err != nil {
		return WrapExitError(ExitCommandError, "open source", err)
	}
	defer r.Close()

	target, err := journal.OpenFile(dst,
		journal.WithCompression(compression),
		journal.WithDurability(journal.DurabilityAsync),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "open target", err)
	}
	defer func() { err = errors.Join(err, target.Close()) }()

	if target.LastLSN() != 0 {
		return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("target %s is not empty", dst)}
	}

	stats, err := wal.Migrate(ctx, r, target)
	if err != nil {
		return WrapExitError(ExitFailure, "migrate", err)
	}

	report := MigrateReport{Source: src, Target: dst, Records: stats.Records, Rewritten: stats.Rewritten}
	p := newPrinter(opts.RootOptions, w)
	ok, err := p.structured(report)
	if err != nil || ok {
		return err
	}
	_, err = fmt.Fprintf(w, "%s %d records, %d rewritten\n", p.colors.ok("migrated"), report.Records, report.Rewritten)
	return err
}
