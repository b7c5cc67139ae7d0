// Package pipeline runs one extraction: stratified contracts, their cleaned
// copy, the entities they reference and, optionally, the unit and body
// catalogs.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/compras-etl/pkg/endpoint"
	"github.com/Sternrassler/compras-etl/pkg/pagination"
	"github.com/Sternrassler/compras-etl/pkg/record"
	"github.com/Sternrassler/compras-etl/pkg/related"
	"github.com/Sternrassler/compras-etl/pkg/sink"
	"github.com/Sternrassler/compras-etl/pkg/stratify"
	"github.com/Sternrassler/compras-etl/pkg/transform"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Output names.
const (
	NameContractSample = "contratos_amostra"
	NameCleanContracts = "contratos_limpos"
	NameUnits          = "uasg"
	NameBodies         = "orgao"
	NameSuppliers      = "fornecedores"
	NameUnitCatalog    = "uasg_catalogo"
	NameBodyCatalog    = "orgao_catalogo"
)

// Extractor runs one sweep. *pagination.Paginator implements it.
type Extractor interface {
	Extract(ctx context.Context, desc endpoint.Descriptor, budget pagination.Budget, filters map[string]string) (*pagination.Result, error)
}

// Options select what a run extracts.
type Options struct {
	Year                int
	ContractsPerQuarter int

	// Catalog limits; 0 skips the catalog sweep.
	UnitCatalogLimit int
	BodyCatalogLimit int

	ResolveRelated bool
}

// Pipeline wires the extraction stages together.
type Pipeline struct {
	extractor  Extractor
	stratifier *stratify.Stratifier
	resolver   *related.Resolver
	raw        sink.Sink
	processed  sink.Sink
	opts       Options
	logger     zerolog.Logger
}

// New creates a pipeline. raw receives extracted sets, processed the cleaned
// contracts.
func New(extractor Extractor, resolverConfig related.Config, raw, processed sink.Sink, opts Options) *Pipeline {
	return &Pipeline{
		extractor:  extractor,
		stratifier: stratify.New(extractor),
		resolver:   related.New(extractor, resolverConfig),
		raw:        raw,
		processed:  processed,
		opts:       opts,
		logger:     log.With().Str("component", "pipeline").Logger(),
	}
}

// Summary reports what a run produced.
type Summary struct {
	Contracts int
	Windows   []stratify.WindowResult
	Complete  int
	Missing   []string

	Units     int
	Bodies    int
	Suppliers int
	Lookups   related.Tally

	UnitCatalog int
	BodyCatalog int

	// Files maps output names to written paths.
	Files    map[string]string
	Duration time.Duration
}

// Run executes the pipeline. The returned Summary is never nil; on error it
// describes the stages that completed.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := &Summary{Files: make(map[string]string)}
	defer func() { sum.Duration = time.Since(start) }()

	p.logger.Info().
		Int("year", p.opts.Year).
		Int("contracts_per_quarter", p.opts.ContractsPerQuarter).
		Bool("resolve_related", p.opts.ResolveRelated).
		Msg("Starting extraction")

	var err error
	if sum.UnitCatalog, err = p.catalog(ctx, endpoint.Units, NameUnitCatalog, p.opts.UnitCatalogLimit, sum); err != nil {
		return sum, err
	}
	if sum.BodyCatalog, err = p.catalog(ctx, endpoint.Bodies, NameBodyCatalog, p.opts.BodyCatalogLimit, sum); err != nil {
		return sum, err
	}

	strat, err := p.stratifier.Extract(ctx, endpoint.Contracts, p.opts.Year, pagination.Limit(p.opts.ContractsPerQuarter), nil)
	if err != nil {
		return sum, fmt.Errorf("extract contracts: %w", err)
	}
	sum.Contracts = len(strat.Records)
	sum.Windows = strat.Windows
	if err := p.write(p.raw, NameContractSample, strat.Records, sum); err != nil {
		return sum, err
	}

	clean, rep := transform.NormalizeContracts(strat.Records)
	sum.Complete = rep.Complete
	sum.Missing = rep.Missing
	if err := p.write(p.processed, NameCleanContracts, clean, sum); err != nil {
		return sum, err
	}

	if p.opts.ResolveRelated {
		res, err := p.resolver.Resolve(ctx, clean)
		if res != nil {
			sum.Units, sum.Bodies, sum.Suppliers = len(res.Units), len(res.Bodies), len(res.Suppliers)
			sum.Lookups = res.Errors
		}
		if err != nil {
			return sum, fmt.Errorf("resolve related entities: %w", err)
		}
		for _, out := range []struct {
			name    string
			records []record.Record
		}{
			{NameUnits, res.Units},
			{NameBodies, res.Bodies},
			{NameSuppliers, res.Suppliers},
		} {
			if err := p.write(p.raw, out.name, out.records, sum); err != nil {
				return sum, err
			}
		}
	}

	return sum, nil
}

func (p *Pipeline) catalog(ctx context.Context, desc endpoint.Descriptor, name string, limit int, sum *Summary) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	res, err := p.extractor.Extract(ctx, desc, pagination.Limit(limit), nil)
	if err != nil {
		return len(pagination.Records(res)), fmt.Errorf("extract %s catalog: %w", desc.Name, err)
	}
	return len(res.Records), p.write(p.raw, name, res.Records, sum)
}

func (p *Pipeline) write(s sink.Sink, name string, records []record.Record, sum *Summary) error {
	path, err := s.Write(name, records)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if path != "" {
		sum.Files[name] = path
	}
	return nil
}

// Log writes the summary as one Info entry.
func (s *Summary) Log(logger zerolog.Logger) {
	event := logger.Info().
		Int("contracts", s.Contracts).
		Int("complete_contracts", s.Complete).
		Int("units", s.Units).
		Int("bodies", s.Bodies).
		Int("suppliers", s.Suppliers).
		Int("lookup_errors", s.Lookups.Total()).
		Int("unit_catalog", s.UnitCatalog).
		Int("body_catalog", s.BodyCatalog).
		Dur("duration", s.Duration)

	for _, w := range s.Windows {
		event = event.Int(w.Window.Label, w.Records)
	}
	files := zerolog.Dict()
	for name, path := range s.Files {
		files = files.Str(name, path)
	}
	event.Dict("files", files).Msg("Extraction summary")
}
