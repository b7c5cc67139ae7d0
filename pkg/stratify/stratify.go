// Package stratify splits one calendar year into four quarter windows and
// sweeps a date-filtered endpoint once per window, so a bounded extraction
// samples the whole year instead of its first weeks.
package stratify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/compras-etl/pkg/endpoint"
	"github.com/Sternrassler/compras-etl/pkg/pagination"
	"github.com/Sternrassler/compras-etl/pkg/record"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DateLayout is the date format of range filters and date fields.
const DateLayout = "2006-01-02"

// ErrNoDateRange is returned when the endpoint has no date-range filters.
var ErrNoDateRange = errors.New("endpoint has no date range")

// Window is one quarter of a year. Start and End are inclusive dates.
type Window struct {
	Label string
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls on a day inside the window.
func (w Window) Contains(t time.Time) bool {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(w.Start) && !day.After(w.End)
}

// Filters binds the endpoint's date-range parameters to the window bounds.
func (w Window) Filters(desc endpoint.Descriptor) map[string]string {
	return map[string]string{
		desc.DateMinParam: w.Start.Format(DateLayout),
		desc.DateMaxParam: w.End.Format(DateLayout),
	}
}

func (w Window) String() string {
	return fmt.Sprintf("%s[%s,%s]", w.Label, w.Start.Format(DateLayout), w.End.Format(DateLayout))
}

// Quarters returns Q1..Q4 of year: [01-01,03-31], [04-01,06-30],
// [07-01,09-30], [10-01,12-31].
func Quarters(year int) [4]Window {
	var out [4]Window
	for i := range out {
		start := time.Date(year, time.Month(3*i+1), 1, 0, 0, 0, 0, time.UTC)
		out[i] = Window{
			Label: fmt.Sprintf("Q%d", i+1),
			Start: start,
			End:   start.AddDate(0, 3, -1),
		}
	}
	return out
}

// Extractor runs one sweep. *pagination.Paginator implements it.
type Extractor interface {
	Extract(ctx context.Context, desc endpoint.Descriptor, budget pagination.Budget, filters map[string]string) (*pagination.Result, error)
}

// WindowResult is the outcome of one quarter's sweep.
type WindowResult struct {
	Window  Window
	Records int
	Stop    pagination.StopReason
}

// Result is the aggregate of a stratified extraction.
type Result struct {
	// Records holds Q1 records first, then Q2, Q3 and Q4.
	Records []record.Record
	Windows []WindowResult
}

// Stratifier runs stratified extractions.
type Stratifier struct {
	extractor Extractor
	logger    zerolog.Logger
}

// New creates a Stratifier.
func New(extractor Extractor) *Stratifier {
	return &Stratifier{
		extractor: extractor,
		logger:    log.With().Str("component", "stratifier").Logger(),
	}
}

// Extract sweeps desc once per quarter of year with perQuarter as each
// sweep's budget and concatenates the results in window order. base holds
// any further filters; its date-range keys are overridden per window.
//
// A quarter yielding nothing is not an error. On cancellation the records
// gathered so far are returned together with the error.
func (s *Stratifier) Extract(ctx context.Context, desc endpoint.Descriptor, year int, perQuarter pagination.Budget, base map[string]string) (*Result, error) {
	if !desc.Stratifiable() {
		return nil, fmt.Errorf("%w: %s", ErrNoDateRange, desc.Name)
	}

	logger := s.logger.With().Str("endpoint", desc.Name).Int("year", year).Logger()
	res := &Result{}

	for _, w := range Quarters(year) {
		filters := make(map[string]string, len(base)+2)
		for k, v := range base {
			filters[k] = v
		}
		for k, v := range w.Filters(desc) {
			filters[k] = v
		}

		swept, err := s.extractor.Extract(ctx, desc, perQuarter, filters)
		if swept != nil {
			res.Records = append(res.Records, swept.Records...)
			res.Windows = append(res.Windows, WindowResult{
				Window:  w,
				Records: len(swept.Records),
				Stop:    swept.Stop,
			})
			logger.Info().
				Str("window", w.Label).
				Int("records", len(swept.Records)).
				Str("stop", string(swept.Stop)).
				Msg("Quarter extracted")
		}
		if err != nil {
			return res, fmt.Errorf("quarter %s: %w", w.Label, err)
		}
	}

	s.check(logger, desc, year, perQuarter, res)
	return res, nil
}

// check re-derives each record's quarter and compares it with what each
// window's sweep returned. Mismatches are logged only.
func (s *Stratifier) check(logger zerolog.Logger, desc endpoint.Descriptor, year int, perQuarter pagination.Budget, res *Result) {
	if desc.DateField == "" || len(res.Records) == 0 {
		return
	}

	dist := Distribution(res.Records, desc.DateField, year)

	event := logger.Info()
	for i, label := range []string{"Q1", "Q2", "Q3", "Q4"} {
		event = event.Int(label, dist.Counts[i])
	}
	event.Int("outside_year", dist.Outside).
		Int("unparsed", dist.Unparsed).
		Msg("Quarter distribution")

	for i, wr := range res.Windows {
		got := dist.Counts[i]
		overBudget := perQuarter.Bounded() && got > int(perQuarter)
		if got != wr.Records || overBudget {
			logger.Warn().
				Str("window", wr.Window.Label).
				Int("swept", wr.Records).
				Int("dated_in_window", got).
				Str("budget", perQuarter.String()).
				Msg("Quarter distribution does not match sweep")
		}
	}
}

// QuarterCounts is the per-quarter tally of a record set.
type QuarterCounts struct {
	Counts   [4]int
	Outside  int
	Unparsed int
}

// Distribution counts records per quarter of year using the date in field.
// Only the leading YYYY-MM-DD part of the value is read.
func Distribution(records []record.Record, field string, year int) QuarterCounts {
	var out QuarterCounts
	quarters := Quarters(year)

	for _, rec := range records {
		raw := rec.String(field)
		if len(raw) < len(DateLayout) {
			out.Unparsed++
			continue
		}
		t, err := time.Parse(DateLayout, raw[:len(DateLayout)])
		if err != nil {
			out.Unparsed++
			continue
		}

		placed := false
		for i, w := range quarters {
			if w.Contains(t) {
				out.Counts[i]++
				placed = true
				break
			}
		}
		if !placed {
			out.Outside++
		}
	}
	return out
}
