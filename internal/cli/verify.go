package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/lexstore/journal"
	"github.com/hupe1980/lexstore/wal"
)

// VerifyReport summarizes a journal check.
type VerifyReport struct {
	Compression string `json:"compression" yaml:"compression"`
	Records     int    `json:"records" yaml:"records"`
	Committed   int    `json:"committed" yaml:"committed"`
	RolledBack  int    `json:"rolled_back" yaml:"rolled_back"`
	Incomplete  int    `json:"incomplete" yaml:"incomplete"`
	Operations  int    `json:"operations" yaml:"operations"`
	LastLSN     uint64 `json:"last_lsn" yaml:"last_lsn"`
	OK          bool   `json:"ok" yaml:"ok"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <journal>",
		Short: "Check that a journal decodes and follows the transaction lifecycle",
		Long: `Replay a journal without applying it. Every record must decode and every
transaction must follow START, STORE_CHUNK/DELETE, COMMIT or ROLLBACK.

Transactions still open at the end of the log are reported as incomplete;
recovery discards them. Exit status is 1 when the journal is corrupt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), rootOpts, args[0], cmd.OutOrStdout())
		},
	}
}

func runVerify(ctx context.Context, opts *RootOptions, path string, w io.Writer) error {
	r, err := journal.OpenFileReader(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "open journal", err)
	}
	defer r.Close()

	report := VerifyReport{Compression: r.Header().Compression.String()}
	demux := wal.NewDemux()
	replayErr := wal.Replay(ctx, r, func(lsn uint64, m wal.Message) error {
		report.Records++
		report.LastLSN = lsn
		tx, err := demux.Feed(lsn, m)
		if err != nil {
			return err
		}
		switch {
		case tx != nil:
			report.Committed++
			report.Operations += len(tx.Ops)
		case m.Tag() == wal.TagRollback:
			report.RolledBack++
		}
		return nil
	})
	report.Incomplete = len(demux.Pending())
	report.OK = replayErr == nil
	if replayErr != nil {
		report.Error = replayErr.Error()
	}

	p := newPrinter(opts, w)
	ok, err := p.structured(report)
	if err != nil {
		return err
	}
	if !ok {
		if err := p.verifyText(report); err != nil {
			return err
		}
	}
	if replayErr != nil {
		return WrapExitError(ExitFailure, "journal is corrupt", replayErr)
	}
	return nil
}

func (p *printer) verifyText(r VerifyReport) error {
	c := p.colors
	status := c.ok("OK")
	if !r.OK {
		status = c.fail("CORRUPT")
	}
	_, err := fmt.Fprintf(p.w,
		"status:      %s\ncompression: %s\nrecords:     %d\ncommitted:   %d\nrolled back: %d\nincomplete:  %d\noperations:  %d\nlast lsn:    %d\n",
		status, r.Compression, r.Records, r.Committed, r.RolledBack, r.Incomplete, r.Operations, r.LastLSN)
	if err == nil && r.Error != "" {
		_, err = fmt.Fprintf(p.w, "error:       %s\n", r.Error)
	}
	return err
}
