package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/compras-etl/pkg/endpoint"
	"github.com/Sternrassler/compras-etl/pkg/pagination"
	"github.com/Sternrassler/compras-etl/pkg/record"
)

func noSleep(context.Context, time.Duration) error { return nil }

// newHeaderServer serves an empty page and reports each request to inspect.
func newHeaderServer(t *testing.T, inspect func(*http.Request)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inspect(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resultado":[],"totalRegistros":0,"totalPaginas":0,"paginasRestantes":0}`))
	}))
	t.Cleanup(server.Close)
	return server.URL + "/"
}

// newBodyServer answers every request with 200 and the given body.
func newBodyServer(t *testing.T, body string) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server.URL + "/"
}

// scriptedFetcher fails the first failures calls, then returns a one-record page.
type scriptedFetcher struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *scriptedFetcher) FetchPage(ctx context.Context, req pagination.Request) (*pagination.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &pagination.Page{Records: []record.Record{{"pagina": req.Page}}}, nil
}

// recordingSleep captures requested waits without sleeping.
type recordingSleep struct {
	waits []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func retryRequest() pagination.Request {
	return pagination.Request{Endpoint: endpoint.Bodies, Page: 1, PageSize: 500}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.BackoffUnit != 5*time.Second {
		t.Errorf("BackoffUnit = %v, want 5s", config.BackoffUnit)
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	config := DefaultRetryConfig()

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 15 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := config.Backoff(tt.attempt); got != tt.expected {
				t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestRetrier_SucceedsAfterFailures(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantWaits []time.Duration
	}{
		{"first attempt", 0, nil},
		{"second attempt", 1, []time.Duration{5 * time.Second}},
		{"last attempt", 2, []time.Duration{5 * time.Second, 10 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &scriptedFetcher{
				failures: tt.failures,
				err:      &APIError{StatusCode: 503, ErrorClass: ErrorClassServer, Message: "503"},
			}
			sleeper := &recordingSleep{}

			config := DefaultRetryConfig()
			config.Sleep = sleeper.sleep
			r := NewRetrier(fetcher, config)

			page, err := r.FetchPage(context.Background(), retryRequest())
			if err != nil {
				t.Fatalf("FetchPage() failed: %v", err)
			}
			if len(page.Records) != 1 {
				t.Errorf("records = %d, want 1", len(page.Records))
			}
			if fetcher.calls != tt.failures+1 {
				t.Errorf("calls = %d, want %d", fetcher.calls, tt.failures+1)
			}
			if len(sleeper.waits) != len(tt.wantWaits) {
				t.Fatalf("waits = %v, want %v", sleeper.waits, tt.wantWaits)
			}
			for i := range tt.wantWaits {
				if sleeper.waits[i] != tt.wantWaits[i] {
					t.Errorf("wait[%d] = %v, want %v", i, sleeper.waits[i], tt.wantWaits[i])
				}
			}
		})
	}
}

func TestRetrier_Exhausted(t *testing.T) {
	lastErr := &APIError{StatusCode: 400, ErrorClass: ErrorClassClient, Message: "400 Bad Request"}
	fetcher := &scriptedFetcher{failures: 10, err: lastErr}
	sleeper := &recordingSleep{}

	config := DefaultRetryConfig()
	config.Sleep = sleeper.sleep
	r := NewRetrier(fetcher, config)

	page, err := r.FetchPage(context.Background(), retryRequest())
	if page != nil {
		t.Error("page should be nil on exhaustion")
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want ErrRetryExhausted", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 {
		t.Errorf("last error not preserved: %v", err)
	}
	if fetcher.calls != 3 {
		t.Errorf("calls = %d, want 3 (client errors are retried too)", fetcher.calls)
	}
	// no wait after the final attempt
	if len(sleeper.waits) != 2 {
		t.Errorf("waits = %v, want 2 entries", sleeper.waits)
	}
}

func TestRetrier_SingleAttempt(t *testing.T) {
	fetcher := &scriptedFetcher{failures: 1, err: errors.New("connection reset")}

	r := NewRetrier(fetcher, RetryConfig{MaxAttempts: 0, BackoffUnit: time.Second, Sleep: noSleep})

	_, err := r.FetchPage(context.Background(), retryRequest())
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want ErrRetryExhausted", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("calls = %d, want 1", fetcher.calls)
	}
}

func TestRetrier_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &scriptedFetcher{failures: 10, err: errors.New("timeout")}

	config := DefaultRetryConfig()
	config.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	r := NewRetrier(fetcher, config)

	_, err := r.FetchPage(ctx, retryRequest())
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("error = %v, want ErrContextCancelled", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("calls = %d, want 1", fetcher.calls)
	}
}

func TestRetrier_ContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &scriptedFetcher{failures: 10, err: context.Canceled}
	config := DefaultRetryConfig()
	config.Sleep = noSleep
	r := NewRetrier(fetcher, config)

	_, err := r.FetchPage(ctx, retryRequest())
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("error = %v, want ErrContextCancelled", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("cancellation must not be reported as exhaustion")
	}
}

func TestRetrier_PaginatorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &scriptedFetcher{failures: 10, err: errors.New("boom")}

	retryCfg := DefaultRetryConfig()
	retryCfg.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	pagCfg := pagination.DefaultConfig()
	pagCfg.Sleep = noSleep

	p := pagination.NewPaginator(NewRetrier(fetcher, retryCfg), pagCfg)
	res, err := p.Extract(ctx, endpoint.Bodies, pagination.Unbounded, nil)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if res == nil || res.Stop != pagination.StopCancelled {
		t.Errorf("result = %+v, want stop cancelled", res)
	}
}
