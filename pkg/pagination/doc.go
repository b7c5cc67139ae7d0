// Package pagination drives sequential page-by-page sweeps of procurement API
// endpoints.
//
// The server does not reliably announce how many records a filter matches, so a
// sweep walks pages 1, 2, 3, ... until one of these holds:
//   - a page comes back empty (no more data at any index)
//   - a page holds fewer records than requested (short-page rule)
//   - the running total reaches the budget
//   - the fetcher gives up on a page (retries exhausted)
//
// All four are success paths: Extract returns the records collected so far and
// a StopReason describing why the sweep ended. Only precondition failures
// (missing required filters) and context cancellation surface as errors.
//
// Example usage:
//
//	fetcher := client.NewRetrier(httpClient, client.DefaultRetryConfig())
//	p := pagination.NewPaginator(fetcher, pagination.DefaultConfig())
//	res, err := p.Extract(ctx, endpoint.Units, pagination.Limit(500), nil)
//
// Pages are requested strictly in increasing order, one at a time, with a short
// courtesy pause between consecutive requests.
package pagination
