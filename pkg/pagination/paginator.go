package pagination

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/compras-etl/pkg/endpoint"
	"github.com/Sternrassler/compras-etl/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for sweeps.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compras_pages_fetched_total",
		Help: "Total pages fetched successfully by endpoint",
	}, []string{"endpoint"})

	recordsExtractedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compras_records_extracted_total",
		Help: "Total records returned by sweeps by endpoint",
	}, []string{"endpoint"})

	sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compras_sweeps_total",
		Help: "Total sweeps by endpoint and stop reason",
	}, []string{"endpoint", "stop"})
)

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config holds paginator configuration.
type Config struct {
	// DefaultPageSize is used when the filters do not fix a page size.
	DefaultPageSize int

	// PageSizeHint drives the short-page rule for endpoints that do not
	// accept a page-size parameter.
	PageSizeHint int

	// PageDelay is the courtesy pause between consecutive page requests.
	PageDelay time.Duration

	// Sleep is used for the courtesy pause (default: context-aware timer).
	Sleep SleepFunc
}

// DefaultConfig returns the configuration matching the API's documented limits.
func DefaultConfig() Config {
	return Config{
		DefaultPageSize: endpoint.MaxPageSize,
		PageSizeHint:    100,
		PageDelay:       500 * time.Millisecond,
	}
}

// Paginator sweeps one endpoint at a time.
type Paginator struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewPaginator creates a paginator around a page fetcher. Wrap the fetcher in
// a retry policy to make single-page failures transient.
func NewPaginator(fetcher PageFetcher, config Config) *Paginator {
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = endpoint.MaxPageSize
	}
	if config.PageSizeHint <= 0 {
		config.PageSizeHint = 100
	}
	if config.Sleep == nil {
		config.Sleep = SleepContext
	}

	return &Paginator{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "paginator").Logger(),
	}
}

// Extract runs one sweep of desc with the given filters until the data is
// exhausted or the budget is reached.
//
// Reaching the budget, running out of data and exhausting retries on a page
// are all reported through Result.Stop with a nil error. An error is returned
// only when a required filter is missing (before any request) or when ctx is
// cancelled; in the latter case the partial Result is returned as well.
func (p *Paginator) Extract(ctx context.Context, desc endpoint.Descriptor, budget Budget, filters map[string]string) (*Result, error) {
	effective := desc.Filters(filters)
	if err := desc.Validate(effective); err != nil {
		return nil, err
	}

	pageSize, err := p.pageSize(desc, effective)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	logger := p.logger.With().Str("endpoint", desc.Name).Logger()
	logger.Info().
		Str("budget", budget.String()).
		Int("page_size", pageSize).
		Msg("Starting sweep")

	res := &Result{}
	total := 0
	finish := func(stop StopReason) *Result {
		res.Stop = stop
		if budget.Bounded() && len(res.Records) > int(budget) {
			res.Records = res.Records[:budget]
		}
		sweepsTotal.WithLabelValues(desc.Name, string(stop)).Inc()
		recordsExtractedTotal.WithLabelValues(desc.Name).Add(float64(len(res.Records)))
		logger.Info().
			Str("stop", string(stop)).
			Int("pages", res.Pages).
			Int("records", len(res.Records)).
			Dur("duration", time.Since(start)).
			Msg("Sweep complete")
		return res
	}

	for page := 1; ; page++ {
		if page > 1 {
			if err := p.config.Sleep(ctx, p.config.PageDelay); err != nil {
				return finish(StopCancelled), err
			}
		}

		req := Request{
			Endpoint: desc,
			Page:     page,
			Filters:  effective,
		}
		if desc.PageSizeParam != "" {
			req.PageSize = pageSize
		}

		pg, err := p.fetcher.FetchPage(ctx, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return finish(StopCancelled), ctxErr
			}
			logger.Error().
				Err(err).
				Int("page", page).
				Int("records", total).
				Msg("Page unavailable - returning partial results")
			res.FetchErr = err
			return finish(StopRetriesExhausted), nil
		}

		res.Pages++
		pagesFetchedTotal.WithLabelValues(desc.Name).Inc()

		n := len(pg.Records)
		if n == 0 {
			logger.Debug().Int("page", page).Msg("Empty page - no more data")
			return finish(StopEmptyPage), nil
		}

		res.Records = append(res.Records, pg.Records...)
		total += n

		logger.Debug().
			Int("page", page).
			Int("records", n).
			Int("total", total).
			Int("server_total", pg.TotalRecords).
			Int("server_pages", pg.TotalPages).
			Msg("Page fetched")

		if n < pageSize {
			return finish(StopShortPage), nil
		}
		if budget.Reached(total) {
			return finish(StopBudget), nil
		}
	}
}

// pageSize picks the page size that drives the short-page rule.
func (p *Paginator) pageSize(desc endpoint.Descriptor, filters map[string]string) (int, error) {
	if desc.PageSizeParam == "" {
		return p.config.PageSizeHint, nil
	}

	raw, ok := filters[desc.PageSizeParam]
	if !ok {
		return desc.ClampPageSize(p.config.DefaultPageSize), nil
	}
	// The request carries the page size separately.
	delete(filters, desc.PageSizeParam)

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", desc.PageSizeParam, raw, err)
	}
	return desc.ClampPageSize(n), nil
}

// SleepContext waits for d, returning early with ctx.Err() when ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Records is a convenience for callers that only need the data.
func Records(res *Result) []record.Record {
	if res == nil {
		return nil
	}
	return res.Records
}
