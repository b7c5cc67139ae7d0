package sink

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/Sternrassler/compras-etl/pkg/record"
)

// CSVSink writes comma-separated UTF-8 files with a header row.
type CSVSink struct {
	fileSink
}

// NewCSV creates a CSV sink.
func NewCSV(opts Options) *CSVSink {
	return &CSVSink{fileSink: newFileSink(opts, FormatCSV)}
}

// Write implements Sink.
func (s *CSVSink) Write(name string, records []record.Record) (path string, err error) {
	path, err = s.prepare(name, records)
	if err != nil || path == "" {
		return path, err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	columns := record.Columns(records)
	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		if err := w.Write(row(rec, columns)); err != nil {
			return "", fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush %s: %w", path, err)
	}

	s.done(name, path, len(records))
	return path, nil
}
