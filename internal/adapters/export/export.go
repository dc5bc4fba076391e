// Package export renders unused cards for hand-off to resellers.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/poyrazK/cardgate/internal/core/domain"
	"github.com/poyrazK/cardgate/internal/core/ports"
)

const timestampLayout = "2006-01-02 15:04:05"

// ForFormat returns the exporter for "txt" or "xlsx".
func ForFormat(format string) (ports.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "txt":
		return TextExporter{}, nil
	case "xlsx":
		return XLSXExporter{}, nil
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

// FileName builds unused_cards[_<prefix>]_<YYYYMMDD_HHMMSS>.<ext> in the
// export's display zone.
func FileName(e ports.Exporter, meta ports.ExportMeta) string {
	ts := localTime(meta.ExportedAt, meta.Location).Format("20060102_150405")
	if meta.Prefix != "" {
		return fmt.Sprintf("unused_cards_%s_%s.%s", meta.Prefix, ts, e.Extension())
	}
	return fmt.Sprintf("unused_cards_%s.%s", ts, e.Extension())
}

func localTime(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return t.UTC()
	}
	return t.In(loc)
}

// TextExporter writes a commented header followed by one full code per line.
type TextExporter struct{}

func (TextExporter) ContentType() string { return "text/plain; charset=utf-8" }
func (TextExporter) Extension() string   { return "txt" }

func (TextExporter) Export(w io.Writer, cards []domain.Card, meta ports.ExportMeta) error {
	at := localTime(meta.ExportedAt, meta.Location)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Unused cards export\n")
	fmt.Fprintf(bw, "# Exported at: %s (%s)\n", at.Format(timestampLayout), at.Location())
	if meta.Prefix != "" {
		fmt.Fprintf(bw, "# Prefix: %s\n", meta.Prefix)
	}
	fmt.Fprintf(bw, "# Total: %d\n", len(cards))
	fmt.Fprintf(bw, "# Format: full code\n")
	fmt.Fprintf(bw, "# %s\n\n", strings.Repeat("=", 50))

	for _, c := range cards {
		if _, err := fmt.Fprintln(bw, c.FullCode); err != nil {
			return err
		}
	}
	return bw.Flush()
}
