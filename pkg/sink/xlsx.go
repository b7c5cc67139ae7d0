package sink

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/compras-etl/pkg/record"
	"github.com/xuri/excelize/v2"
)

// XLSXSink writes one worksheet per file, named after the entity.
type XLSXSink struct {
	fileSink
}

// NewXLSX creates an XLSX sink.
func NewXLSX(opts Options) *XLSXSink {
	return &XLSXSink{fileSink: newFileSink(opts, FormatXLSX)}
}

// Write implements Sink. Every cell is written as text so entity codes keep
// their leading zeros.
func (s *XLSXSink) Write(name string, records []record.Record) (string, error) {
	path, err := s.prepare(name, records)
	if err != nil || path == "" {
		return path, err
	}

	file := excelize.NewFile()
	defer func() { _ = file.Close() }()

	sheet := SheetName(name)
	if err := file.SetSheetName("Sheet1", sheet); err != nil {
		return "", fmt.Errorf("rename sheet: %w", err)
	}

	columns := record.Columns(records)
	set := func(col, rowNum int, value string) error {
		cell, err := excelize.CoordinatesToCellName(col, rowNum)
		if err != nil {
			return err
		}
		return file.SetCellStr(sheet, cell, value)
	}

	for i, header := range columns {
		if err := set(i+1, 1, header); err != nil {
			return "", fmt.Errorf("write header: %w", err)
		}
	}
	for r, rec := range records {
		for c, value := range row(rec, columns) {
			if value == "" {
				continue
			}
			if err := set(c+1, r+2, value); err != nil {
				return "", fmt.Errorf("write row %d: %w", r+1, err)
			}
		}
	}

	if err := file.SaveAs(path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}

	s.done(name, path, len(records))
	return path, nil
}

// SheetName makes name a valid worksheet name (at most 31 characters, no
// []:*?/\).
func SheetName(name string) string {
	name = strings.NewReplacer(
		"[", "-",
		"]", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"/", "-",
		"\\", "-",
	).Replace(strings.TrimSpace(name))
	if name == "" {
		return "dados"
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}
