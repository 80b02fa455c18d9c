package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hupe1980/lexstore/config"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	ConfigFile string
	Verbose    bool
}

// StatsReport is the printable engine summary after recovery.
type StatsReport struct {
	LastLSN          uint64 `json:"last_lsn" yaml:"last_lsn"`
	AppliedLSN       uint64 `json:"applied_lsn" yaml:"applied_lsn"`
	Documents        int    `json:"documents" yaml:"documents"`
	CheckpointID     string `json:"checkpoint_id,omitempty" yaml:"checkpoint_id,omitempty"`
	CheckpointLSN    uint64 `json:"checkpoint_lsn" yaml:"checkpoint_lsn"`
	ReplayedRecords  int    `json:"replayed_records" yaml:"replayed_records"`
	Committed        int    `json:"committed" yaml:"committed"`
	RolledBack       int    `json:"rolled_back" yaml:"rolled_back"`
	Discarded        int    `json:"discarded" yaml:"discarded"`
	RecoveryDuration string `json:"recovery_duration" yaml:"recovery_duration"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Open the configured store and report recovery statistics",
		Long: `Open the engine described by the configuration file and environment,
run recovery and print a summary. The engine is closed again without writing.

Environment variables prefixed with LEXSTORE_ override file settings; nested
keys are separated by a double underscore (LEXSTORE_STORE__BACKEND).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "path to a YAML configuration file")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log recovery progress to stderr")

	return cmd
}

func runStats(ctx context.Context, opts *StatsOptions, w, errw io.Writer) (err error) {
	var loadOpts []config.Option
	if opts.ConfigFile != "" {
		loadOpts = append(loadOpts, config.WithFile(opts.ConfigFile))
	}
	cfg, err := config.Load(loadOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}

	logger := slog.New(slog.DiscardHandler)
	if opts.Verbose {
		logger = cfg.Logger(errw)
	}

	e, err := cfg.Open(ctx, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "open engine", err)
	}
	defer func() { err = errors.Join(err, e.Close()) }()

	s, err := e.Stats()
	if err != nil {
		return WrapExitError(ExitFailure, "stats", err)
	}
	report := StatsReport{
		LastLSN:          s.LastLSN,
		AppliedLSN:       s.AppliedLSN,
		Documents:        s.Documents,
		CheckpointID:     s.Recovery.CheckpointID,
		CheckpointLSN:    s.Recovery.CheckpointLSN,
		ReplayedRecords:  s.Recovery.Records,
		Committed:        s.Recovery.Committed,
		RolledBack:       s.Recovery.RolledBack,
		Discarded:        len(s.Recovery.Discarded),
		RecoveryDuration: s.Recovery.Duration.String(),
	}

	p := newPrinter(opts.RootOptions, w)
	ok, err := p.structured(report)
	if err != nil || ok {
		return err
	}
	checkpoint := report.CheckpointID
	if checkpoint == "" {
		checkpoint = p.colors.faint("none")
	}
	_, err = fmt.Fprintf(w,
		"last lsn:    %d\napplied lsn: %d\ndocuments:   %d\ncheckpoint:  %s (lsn %d)\nreplayed:    %d records, %d committed, %d rolled back, %d discarded in %s\n",
		report.LastLSN, report.AppliedLSN, report.Documents, checkpoint, report.CheckpointLSN,
		report.ReplayedRecords, report.Committed, report.RolledBack, report.Discarded, report.RecoveryDuration)
	return err
}
