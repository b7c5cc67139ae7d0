// Package testutil provides a mock procurement API for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Route is the data served for one endpoint path.
type Route struct {
	// Records served in order, sliced by pagina/tamanhoPagina.
	Records []map[string]any

	// Match maps a query parameter to the record field it filters on.
	// Comma-separated parameter values match any listed value.
	Match map[string]string

	// RangeField is compared (as text) against RangeMinParam/RangeMaxParam.
	RangeField    string
	RangeMinParam string
	RangeMaxParam string
}

// failure is a queued error response.
type failure struct {
	status int
	delay  time.Duration
}

// MockAPI is a configurable mock of the procurement API.
type MockAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	routes   map[string]Route
	failures map[string][]failure
	requests map[string][]url.Values
}

// NewMockAPI creates and starts a new mock server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		routes:   make(map[string]Route),
		failures: make(map[string][]failure),
		requests: make(map[string][]url.Values),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server base URL with a trailing slash.
func (m *MockAPI) URL() string {
	return m.server.URL + "/"
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetRoute configures the data served for path (without leading slash).
func (m *MockAPI) SetRoute(path string, route Route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[strings.Trim(path, "/")] = route
}

// FailNext makes the next n requests to path answer with status.
func (m *MockAPI) FailNext(path string, n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = strings.Trim(path, "/")
	for i := 0; i < n; i++ {
		m.failures[path] = append(m.failures[path], failure{status: status})
	}
}

// StallNext delays the next request to path by d before answering normally.
func (m *MockAPI) StallNext(path string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = strings.Trim(path, "/")
	m.failures[path] = append(m.failures[path], failure{delay: d})
}

// Requests returns the query of every request made to path, in order.
func (m *MockAPI) Requests(path string) []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]url.Values, len(m.requests[strings.Trim(path, "/")]))
	copy(out, m.requests[strings.Trim(path, "/")])
	return out
}

// RequestCount returns the number of requests across all paths.
func (m *MockAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, reqs := range m.requests {
		n += len(reqs)
	}
	return n
}

// Reset clears request tracking and queued failures.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string][]failure)
	m.requests = make(map[string][]url.Values)
}

func (m *MockAPI) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	query := r.URL.Query()

	m.mu.Lock()
	m.requests[path] = append(m.requests[path], query)
	route, ok := m.routes[path]
	var f *failure
	if queue := m.failures[path]; len(queue) > 0 {
		f = &queue[0]
		m.failures[path] = queue[1:]
	}
	m.mu.Unlock()

	if f != nil {
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-r.Context().Done():
				return
			}
		}
		if f.status != 0 {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"message":"injected failure"}`))
			return
		}
	}

	if !ok {
		http.NotFound(w, r)
		return
	}

	matched := filter(route, query)

	page, err := strconv.Atoi(query.Get("pagina"))
	if err != nil || page < 1 {
		http.Error(w, `{"message":"pagina invalida"}`, http.StatusBadRequest)
		return
	}
	size := 500
	if raw := query.Get("tamanhoPagina"); raw != "" {
		if size, err = strconv.Atoi(raw); err != nil || size < 1 {
			http.Error(w, `{"message":"tamanhoPagina invalido"}`, http.StatusBadRequest)
			return
		}
	}

	from := (page - 1) * size
	to := from + size
	if from > len(matched) {
		from = len(matched)
	}
	if to > len(matched) {
		to = len(matched)
	}

	totalPages := (len(matched) + size - 1) / size
	remaining := totalPages - page
	if remaining < 0 {
		remaining = 0
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"resultado":        matched[from:to],
		"totalRegistros":   len(matched),
		"totalPaginas":     totalPages,
		"paginasRestantes": remaining,
	})
}

func filter(route Route, query url.Values) []map[string]any {
	out := make([]map[string]any, 0, len(route.Records))
	for _, rec := range route.Records {
		if matches(route, rec, query) {
			out = append(out, rec)
		}
	}
	return out
}

func matches(route Route, rec map[string]any, query url.Values) bool {
	for param, field := range route.Match {
		want := query.Get(param)
		if want == "" {
			continue
		}
		got := text(rec[field])
		found := false
		for _, v := range strings.Split(want, ",") {
			if v == got {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if route.RangeField != "" {
		date := text(rec[route.RangeField])
		if len(date) > 10 {
			date = date[:10]
		}
		if lo := query.Get(route.RangeMinParam); lo != "" && date < lo {
			return false
		}
		if hi := query.Get(route.RangeMaxParam); hi != "" && date > hi {
			return false
		}
	}
	return true
}

func text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

// Records builds n records with the given field generator.
func Records(n int, gen func(i int) map[string]any) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = gen(i)
	}
	return out
}
