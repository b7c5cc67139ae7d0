package pagination

import (
	"context"
	"net/url"
	"strconv"

	"github.com/Sternrassler/compras-etl/pkg/endpoint"
	"github.com/Sternrassler/compras-etl/pkg/record"
)

// Request identifies one page of one endpoint/filter combination.
// Only Page varies across a sweep.
type Request struct {
	Endpoint endpoint.Descriptor
	Page     int
	// PageSize is 0 when the endpoint does not accept a page-size parameter.
	PageSize int
	Filters  map[string]string
}

// Query renders the request as URL query parameters.
func (r Request) Query() url.Values {
	q := url.Values{}
	for k, v := range r.Filters {
		q.Set(k, v)
	}
	q.Set(r.Endpoint.PageParam, strconv.Itoa(r.Page))
	if r.Endpoint.PageSizeParam != "" && r.PageSize > 0 {
		q.Set(r.Endpoint.PageSizeParam, strconv.Itoa(r.PageSize))
	}
	return q
}

// Page is one decoded API response.
type Page struct {
	Records []record.Record

	// Server-reported counters; zero when the response omits them.
	TotalRecords   int
	TotalPages     int
	RemainingPages int
}

// PageFetcher is the interface the HTTP client implements for single-page fetching.
type PageFetcher interface {
	// FetchPage fetches one page. Any error means the page is unavailable.
	FetchPage(ctx context.Context, req Request) (*Page, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, req Request) (*Page, error)

// FetchPage calls f.
func (f PageFetcherFunc) FetchPage(ctx context.Context, req Request) (*Page, error) {
	return f(ctx, req)
}

// Budget is the maximum number of records a sweep collects.
type Budget int

// Unbounded exhausts all pages.
const Unbounded Budget = 0

// Limit returns a bounded budget. Non-positive n means Unbounded.
func Limit(n int) Budget {
	if n <= 0 {
		return Unbounded
	}
	return Budget(n)
}

// Bounded reports whether the budget caps the sweep.
func (b Budget) Bounded() bool {
	return b > 0
}

// Reached reports whether total meets or exceeds a bounded budget.
func (b Budget) Reached(total int) bool {
	return b.Bounded() && total >= int(b)
}

// String renders the budget for logs.
func (b Budget) String() string {
	if !b.Bounded() {
		return "unbounded"
	}
	return strconv.Itoa(int(b))
}

// StopReason explains why a sweep ended.
type StopReason string

const (
	// StopEmptyPage means a page returned no records.
	StopEmptyPage StopReason = "empty_page"

	// StopShortPage means a page returned fewer records than requested.
	StopShortPage StopReason = "short_page"

	// StopBudget means the running total reached the budget.
	StopBudget StopReason = "budget_reached"

	// StopRetriesExhausted means a page could not be fetched.
	StopRetriesExhausted StopReason = "retries_exhausted"

	// StopCancelled means the context was cancelled mid-sweep.
	StopCancelled StopReason = "cancelled"
)

// Result is the outcome of one sweep. The caller owns Records.
type Result struct {
	Records []record.Record

	// Pages is the number of pages fetched successfully, including a
	// terminating empty page.
	Pages int

	Stop StopReason

	// FetchErr is the error that ended the sweep when Stop is
	// StopRetriesExhausted.
	FetchErr error
}

// Partial reports whether the sweep ended on a fetch failure.
func (r *Result) Partial() bool {
	return r.Stop == StopRetriesExhausted || r.Stop == StopCancelled
}
