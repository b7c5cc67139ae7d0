// Package transform prepares extracted contracts for related-entity
// resolution by cleaning their key fields.
package transform

import (
	"strings"

	"github.com/Sternrassler/compras-etl/pkg/record"
	"github.com/rs/zerolog/log"
)

// Key fields cleaned by NormalizeContracts.
const (
	FieldUnit     = "codigoUnidadeRealizadoraCompra"
	FieldBody     = "codigoOrgao"
	FieldSupplier = "niFornecedor"
)

// KeyFields lists the contract columns resolution depends on.
var KeyFields = []string{FieldUnit, FieldBody, FieldSupplier}

// Report summarizes a normalization pass.
type Report struct {
	Input int
	// Complete counts records with every key field non-empty afterwards.
	Complete int
	// Missing lists key columns absent from the whole set.
	Missing []string
}

// NormalizeContracts returns cleaned copies of records: unit and body codes
// are trimmed, supplier IDs reduced to their digits, and placeholder values
// blanked. The input is not modified.
func NormalizeContracts(records []record.Record) ([]record.Record, Report) {
	logger := log.With().Str("component", "transform").Logger()

	rep := Report{Input: len(records)}
	if len(records) > 0 {
		rep.Missing = record.MissingColumns(records, KeyFields...)
	}
	if len(rep.Missing) > 0 {
		logger.Warn().Strs("columns", rep.Missing).Msg("Contract key columns missing")
	}

	out := make([]record.Record, len(records))
	for i, rec := range records {
		clean := rec.Clone()
		for _, field := range []string{FieldUnit, FieldBody} {
			if clean.Has(field) {
				clean[field] = Code(clean.String(field))
			}
		}
		if clean.Has(FieldSupplier) {
			clean[FieldSupplier] = Digits(clean.String(FieldSupplier))
		}

		complete := true
		for _, field := range KeyFields {
			if clean.String(field) == "" {
				complete = false
				break
			}
		}
		if complete {
			rep.Complete++
		}
		out[i] = clean
	}

	logger.Info().
		Int("input", rep.Input).
		Int("complete", rep.Complete).
		Msg("Contracts normalized")
	return out, rep
}

// Code trims s and blanks placeholders.
func Code(s string) string {
	s = strings.TrimSpace(s)
	if record.IsPlaceholder(s) {
		return ""
	}
	return s
}

// Digits keeps only the decimal digits of s.
func Digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
