package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/lexstore/journal"
	"github.com/hupe1980/lexstore/wal"
)

// Record is the printable form of one journal record.
type Record struct {
	LSN    uint64 `json:"lsn" yaml:"lsn"`
	Time   string `json:"time" yaml:"time"`
	Tag    string `json:"tag,omitempty" yaml:"tag,omitempty"`
	Tx     uint64 `json:"tx,omitempty" yaml:"tx,omitempty"`
	Entity string `json:"entity,omitempty" yaml:"entity,omitempty"`
	ID     string `json:"id,omitempty" yaml:"id,omitempty"`
	IDKind string `json:"id_kind,omitempty" yaml:"id_kind,omitempty"`
	Bytes  int    `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	End    bool   `json:"end,omitempty" yaml:"end,omitempty"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <journal>",
		Short: "Print the decoded records of a journal",
		Long: `Print every record of a journal file in log order.

Records that cannot be decoded are printed with their error and make the
command exit with status 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(rootOpts, args[0], cmd.OutOrStdout())
		},
	}
}

func runDump(opts *RootOptions, path string, w io.Writer) error {
	r, err := journal.OpenFileReader(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "open journal", err)
	}
	defer r.Close()

	p := newPrinter(opts, w)
	var (
		records []Record
		failed  int
	)
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return WrapExitError(ExitFailure, "read journal", err)
		}

		rec := toRecord(e)
		if rec.Error != "" {
			failed++
		}
		if p.format == FormatText {
			if _, err := fmt.Fprintln(w, p.recordLine(rec)); err != nil {
				return err
			}
			continue
		}
		records = append(records, rec)
	}

	if p.format != FormatText {
		if records == nil {
			records = []Record{}
		}
		if _, err := p.structured(records); err != nil {
			return err
		}
	}
	if failed > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d undecodable records", failed)}
	}
	return nil
}

func toRecord(e journal.Entry) Record {
	rec := Record{
		LSN:  e.LSN,
		Time: time.Unix(0, e.Timestamp).UTC().Format(time.RFC3339Nano),
	}
	m, err := wal.Decode(e.Payload)
	if err != nil {
		rec.Error = err.Error()
		return rec
	}

	rec.Tag = m.Tag().String()
	rec.Tx = m.TxID()
	switch v := m.(type) {
	case wal.StoreChunk:
		rec.Entity, rec.ID, rec.IDKind = v.Entity, v.ID.String(), v.ID.Kind().String()
		rec.Bytes = len(v.Chunk)
		rec.End = v.IsTerminator()
	case wal.Delete:
		rec.Entity, rec.ID, rec.IDKind = v.Entity, v.ID.String(), v.ID.Kind().String()
	}
	return rec
}

func (p *printer) recordLine(rec Record) string {
	c := p.colors
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s ", c.lsn(rec.LSN), c.faint(rec.Time))
	if rec.Error != "" {
		fmt.Fprintf(&b, "%s %s", c.fail("ERROR"), rec.Error)
		return b.String()
	}

	fmt.Fprintf(&b, "%s %s", c.tag(rec.Tag), c.tx(fmt.Sprintf("tx=%d", rec.Tx)))
	if rec.Entity != "" {
		fmt.Fprintf(&b, " %s", c.key(rec.Entity+"/"+rec.ID))
	}
	if rec.Tag == wal.TagStoreChunk.String() {
		if rec.End {
			b.WriteString(" end")
		} else {
			fmt.Fprintf(&b, " bytes=%d", rec.Bytes)
		}
	}
	return b.String()
}
