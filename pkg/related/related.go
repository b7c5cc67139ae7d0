// Package related resolves the entities a contract set references: the
// administrative units, government bodies and suppliers named by its
// foreign-key fields.
package related

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Sternrassler/compras-etl/pkg/endpoint"
	"github.com/Sternrassler/compras-etl/pkg/pagination"
	"github.com/Sternrassler/compras-etl/pkg/record"
	"github.com/Sternrassler/compras-etl/pkg/transform"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "compras_related_lookups_total",
	Help: "Related-entity lookups by entity and outcome",
}, []string{"entity", "outcome"})

// Foreign-key fields of a contract record.
const (
	FieldUnit     = transform.FieldUnit
	FieldBody     = transform.FieldBody
	FieldSupplier = transform.FieldSupplier
)

// Extractor runs one sweep. *pagination.Paginator implements it.
type Extractor interface {
	Extract(ctx context.Context, desc endpoint.Descriptor, budget pagination.Budget, filters map[string]string) (*pagination.Result, error)
}

// Config holds resolver configuration.
type Config struct {
	UnitField     string
	BodyField     string
	SupplierField string

	Units     endpoint.Descriptor
	Bodies    endpoint.Descriptor
	Suppliers endpoint.Descriptor

	// ShortIDMaxLen is the longest supplier ID treated as a CPF.
	ShortIDMaxLen int

	// LookupDelay separates consecutive one-key lookups.
	LookupDelay time.Duration

	// ProgressEvery controls how often lookup progress is logged.
	ProgressEvery int

	Sleep pagination.SleepFunc
}

// DefaultConfig returns the configuration for contract records.
func DefaultConfig() Config {
	return Config{
		UnitField:     FieldUnit,
		BodyField:     FieldBody,
		SupplierField: FieldSupplier,
		Units:         endpoint.Units,
		Bodies:        endpoint.Bodies,
		Suppliers:     endpoint.Suppliers,
		ShortIDMaxLen: 11,
		LookupDelay:   time.Second,
		ProgressEvery: 50,
	}
}

// Keys holds the distinct foreign keys of a record set.
type Keys struct {
	Units     []string
	Bodies    []string
	Suppliers []string
}

// SupplierIDs is a classified supplier key set.
type SupplierIDs struct {
	Short []string // CPF, individuals
	Long  []string // CNPJ, organizations

	// Invalid counts empty or placeholder values. Resolve counts them per
	// record, before deduplication.
	Invalid int
}

// ClassifySuppliers splits ids by length: up to maxShort characters is the
// short (CPF) format, longer is the long (CNPJ) format. Empty and
// placeholder values are counted as invalid and appear in neither list.
func ClassifySuppliers(ids []string, maxShort int) SupplierIDs {
	var out SupplierIDs
	for _, id := range ids {
		id = strings.TrimSpace(id)
		switch {
		case record.IsPlaceholder(id):
			out.Invalid++
		case len(id) <= maxShort:
			out.Short = append(out.Short, id)
		default:
			out.Long = append(out.Long, id)
		}
	}
	return out
}

// Tally counts failed lookups per entity.
type Tally struct {
	Units     int
	Bodies    int
	Suppliers int
}

// Total returns the number of failed lookups.
func (t Tally) Total() int {
	return t.Units + t.Bodies + t.Suppliers
}

// Resolution is the result of Resolve.
type Resolution struct {
	Keys      Keys
	Classes   SupplierIDs
	Units     []record.Record
	Bodies    []record.Record
	Suppliers []record.Record
	Errors    Tally
}

// Resolver looks up related entities through an Extractor.
type Resolver struct {
	extractor Extractor
	config    Config
	logger    zerolog.Logger
}

// New creates a Resolver.
func New(extractor Extractor, config Config) *Resolver {
	if config.ShortIDMaxLen <= 0 {
		config.ShortIDMaxLen = 11
	}
	if config.ProgressEvery <= 0 {
		config.ProgressEvery = 50
	}
	if config.Sleep == nil {
		config.Sleep = pagination.SleepContext
	}
	return &Resolver{
		extractor: extractor,
		config:    config,
		logger:    log.With().Str("component", "resolver").Logger(),
	}
}

// KeysOf extracts the distinct foreign keys from records.
func (r *Resolver) KeysOf(records []record.Record) Keys {
	return Keys{
		Units:     record.Distinct(records, r.config.UnitField),
		Bodies:    record.Distinct(records, r.config.BodyField),
		Suppliers: record.Distinct(records, r.config.SupplierField),
	}
}

// Resolve looks up every distinct unit, body and supplier referenced by
// records. A failed lookup is counted in Resolution.Errors and skipped.
// An error is returned only when ctx is cancelled or a lookup is
// misconfigured; the partial Resolution accompanies it.
func (r *Resolver) Resolve(ctx context.Context, records []record.Record) (*Resolution, error) {
	res := &Resolution{Keys: r.KeysOf(records)}
	res.Classes = ClassifySuppliers(res.Keys.Suppliers, r.config.ShortIDMaxLen)
	for _, rec := range records {
		if record.IsPlaceholder(strings.TrimSpace(rec.String(r.config.SupplierField))) {
			res.Classes.Invalid++
		}
	}

	r.logger.Info().
		Int("records", len(records)).
		Int("units", len(res.Keys.Units)).
		Int("bodies", len(res.Keys.Bodies)).
		Int("cpf", len(res.Classes.Short)).
		Int("cnpj", len(res.Classes.Long)).
		Int("invalid", res.Classes.Invalid).
		Msg("Resolving related entities")

	p := &pacer{}
	var err error
	res.Units, res.Errors.Units, err = r.lookup(ctx, p, r.config.Units, r.config.Units.KeyParam, res.Keys.Units)
	if err != nil {
		return res, err
	}

	res.Bodies, res.Errors.Bodies, err = r.lookup(ctx, p, r.config.Bodies, r.config.Bodies.KeyParam, res.Keys.Bodies)
	if err != nil {
		return res, err
	}

	cpf, cpfErrs, err := r.lookup(ctx, p, r.config.Suppliers, endpoint.ParamCPF, res.Classes.Short)
	res.Suppliers = append(res.Suppliers, cpf...)
	res.Errors.Suppliers += cpfErrs
	if err != nil {
		return res, err
	}

	cnpj, cnpjErrs, err := r.lookup(ctx, p, r.config.Suppliers, endpoint.ParamCNPJ, res.Classes.Long)
	res.Suppliers = append(res.Suppliers, cnpj...)
	res.Errors.Suppliers += cnpjErrs
	if err != nil {
		return res, err
	}

	r.logger.Info().
		Int("units", len(res.Units)).
		Int("bodies", len(res.Bodies)).
		Int("suppliers", len(res.Suppliers)).
		Int("errors", res.Errors.Total()).
		Msg("Related entities resolved")

	return res, nil
}

// pacer spaces the one-key lookups of one Resolve call, across endpoints.
type pacer struct {
	started bool
}

func (p *pacer) wait(ctx context.Context, sleep pagination.SleepFunc, d time.Duration) error {
	if !p.started {
		p.started = true
		return nil
	}
	return sleep(ctx, d)
}

// lookup fetches the entities named by keys through param. Batchable
// endpoints get a single comma-joined sweep; others one sweep per key with
// budget 1.
func (r *Resolver) lookup(ctx context.Context, p *pacer, desc endpoint.Descriptor, param string, keys []string) ([]record.Record, int, error) {
	if len(keys) == 0 {
		return nil, 0, nil
	}

	logger := r.logger.With().Str("endpoint", desc.Name).Str("param", param).Logger()

	if desc.Batchable && param == desc.KeyParam {
		logger.Info().Int("keys", len(keys)).Msg("Batched lookup")
		res, err := r.extractor.Extract(ctx, desc, pagination.Unbounded, map[string]string{
			param: strings.Join(keys, ","),
		})
		failed, fatal := r.outcome(ctx, desc, res, err)
		if fatal != nil {
			return pagination.Records(res), 0, fatal
		}
		if failed {
			logger.Warn().Msg("Batched lookup failed")
			return pagination.Records(res), 1, nil
		}
		return res.Records, 0, nil
	}

	var out []record.Record
	errs := 0
	for i, key := range keys {
		if err := p.wait(ctx, r.config.Sleep, r.config.LookupDelay); err != nil {
			return out, errs, err
		}
		if i%r.config.ProgressEvery == 0 {
			logger.Info().Int("done", i).Int("total", len(keys)).Msg("Lookup progress")
		}

		res, err := r.extractor.Extract(ctx, desc, pagination.Limit(1), map[string]string{param: key})
		failed, fatal := r.outcome(ctx, desc, res, err)
		if fatal != nil {
			return out, errs, fatal
		}
		if failed {
			errs++
			logger.Warn().Str("key", key).Msg("Lookup failed - skipping")
			continue
		}
		if len(res.Records) == 0 {
			logger.Debug().Str("key", key).Msg("No entity found")
		}
		out = append(out, res.Records...)
	}

	logger.Info().
		Int("keys", len(keys)).
		Int("found", len(out)).
		Int("errors", errs).
		Msg("Lookups complete")
	return out, errs, nil
}

// outcome decides whether a lookup failed (counted) or must abort the
// resolution (returned).
func (r *Resolver) outcome(ctx context.Context, desc endpoint.Descriptor, res *pagination.Result, err error) (bool, error) {
	switch {
	case err != nil && ctx.Err() != nil:
		lookupsTotal.WithLabelValues(desc.Name, "cancelled").Inc()
		return true, ctx.Err()
	case errors.Is(err, endpoint.ErrMissingFilter):
		return true, err
	case err != nil:
		lookupsTotal.WithLabelValues(desc.Name, "error").Inc()
		return true, nil
	case res.Stop == pagination.StopRetriesExhausted:
		lookupsTotal.WithLabelValues(desc.Name, "error").Inc()
		return true, nil
	default:
		lookupsTotal.WithLabelValues(desc.Name, "ok").Inc()
		return false, nil
	}
}
