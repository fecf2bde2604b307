package writer

import (
	"DupHarvest/internal/model"
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

// Separator opens every report block on the text output.
var Separator = strings.Repeat("-", 72)

// TextWriter prints each sweep report as a separator line followed by one
// line per duplicated segment.
type TextWriter struct {
	out io.Writer
}

// NewTextWriter creates a writer printing to out, normally os.Stdout.
func NewTextWriter(out io.Writer) model.Writer {
	return &TextWriter{out: out}
}

// Name identifies the writer.
func (w *TextWriter) Name() string {
	return "text"
}

// Write prints the report block. Any error is an error of the underlying output.
func (w *TextWriter) Write(report *model.Report) error {
	bw := bufio.NewWriter(w.out)
	if _, err := fmt.Fprintln(bw, Separator); err != nil {
		return fmt.Errorf("failed to write separator: %w", err)
	}
	for _, e := range report.Duplicates {
		if _, err := fmt.Fprintln(bw, FormatEntry(e)); err != nil {
			return fmt.Errorf("failed to write report line: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush report: %w", err)
	}
	return nil
}

// FormatEntry renders one report line.
func FormatEntry(e model.Entry) string {
	return fmt.Sprintf("%s: first_seen=%s repeat_count=%d flags=0x%03x (%s)",
		e.Fingerprint,
		e.Record.FirstSeen.Format(time.RFC3339),
		e.Record.RepeatCount,
		e.Record.Flags,
		model.FlagString(e.Record.Flags),
	)
}
