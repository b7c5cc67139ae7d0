// Package sink persists record sets as flat tabular files, one file per
// entity per run, named {name}_{YYYY-MM-DD}.{ext}.
package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/compras-etl/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	rowsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compras_sink_rows_written_total",
		Help: "Rows written to output files by entity",
	}, []string{"entity"})

	filesWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compras_sink_files_written_total",
		Help: "Output files written by format",
	}, []string{"format"})
)

// Supported formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// DateLayout is the run-date suffix of output file names.
const DateLayout = "2006-01-02"

// Sink writes one record set under a destination name.
type Sink interface {
	// Write persists records and returns the file path. An empty set is
	// skipped with a warning and yields an empty path.
	Write(name string, records []record.Record) (string, error)
}

// Options configure a file sink.
type Options struct {
	// Dir is created on first write.
	Dir string

	// Now supplies the run date (default time.Now).
	Now func() time.Time
}

// New returns the sink for format ("csv" or "xlsx").
func New(format string, opts Options) (Sink, error) {
	switch strings.ToLower(format) {
	case FormatCSV:
		return NewCSV(opts), nil
	case FormatXLSX:
		return NewXLSX(opts), nil
	default:
		return nil, fmt.Errorf("unsupported sink format %q", format)
	}
}

// fileSink holds what every format shares.
type fileSink struct {
	opts   Options
	ext    string
	logger zerolog.Logger
}

func newFileSink(opts Options, ext string) fileSink {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return fileSink{
		opts:   opts,
		ext:    ext,
		logger: log.With().Str("component", "sink").Str("format", ext).Logger(),
	}
}

// Path returns the file path name would be written to today.
func (s fileSink) Path(name string) string {
	return filepath.Join(s.opts.Dir, fmt.Sprintf("%s_%s.%s", name, s.opts.Now().Format(DateLayout), s.ext))
}

// prepare returns the target path, or "" when records is empty.
func (s fileSink) prepare(name string, records []record.Record) (string, error) {
	if len(records) == 0 {
		s.logger.Warn().Str("entity", name).Msg("No records to write - skipping")
		return "", nil
	}
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return s.Path(name), nil
}

func (s fileSink) done(name, path string, rows int) {
	rowsWrittenTotal.WithLabelValues(name).Add(float64(rows))
	filesWrittenTotal.WithLabelValues(s.ext).Inc()
	s.logger.Info().
		Str("entity", name).
		Str("path", path).
		Int("rows", rows).
		Msg("File written")
}

// row renders rec in column order; missing fields are empty.
func row(rec record.Record, columns []string) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		out[i] = rec.String(col)
	}
	return out
}
