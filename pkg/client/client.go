// Package client provides the procurement API HTTP transport and the retry
// policy that makes single-page failures transient.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/compras-etl/pkg/cache"
	"github.com/Sternrassler/compras-etl/pkg/endpoint"
	"github.com/Sternrassler/compras-etl/pkg/pagination"
	"github.com/Sternrassler/compras-etl/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compras_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "compras_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compras_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// Client fetches single pages from the procurement API.
// It performs exactly one attempt per call; wrap it in a Retrier for retries.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

var _ pagination.PageFetcher = (*Client)(nil)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, e.g. https://dadosabertos.compras.gov.br/
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration

	// Redis enables the page-response cache when non-nil.
	Redis *redis.Client

	// CacheTTL is how long a cached page stays valid.
	CacheTTL time.Duration
}

// DefaultConfig returns a configuration for the public API without caching.
func DefaultConfig() Config {
	return Config{
		BaseURL:   endpoint.DefaultBaseURL,
		UserAgent: "compras-etl/0.1.0",
		Timeout:   20 * time.Second,
		CacheTTL:  time.Hour,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		config:  cfg,
		logger:  log.With().Str("component", "compras-client").Logger(),
	}

	if cfg.Redis != nil {
		if cfg.CacheTTL <= 0 {
			return nil, fmt.Errorf("cache_ttl must be positive when caching is enabled")
		}
		c.cache = cache.NewManager(cfg.Redis)
	}

	return c, nil
}

// envelope is the JSON shape of every list endpoint.
type envelope struct {
	Resultado        []record.Record `json:"resultado"`
	TotalRegistros   int             `json:"totalRegistros"`
	TotalPaginas     int             `json:"totalPaginas"`
	PaginasRestantes int             `json:"paginasRestantes"`
}

// FetchPage performs one GET for req. Transport failures, non-2xx statuses
// and undecodable bodies are all returned as errors.
func (c *Client) FetchPage(ctx context.Context, req pagination.Request) (*pagination.Page, error) {
	name := req.Endpoint.Name
	query := req.Query()

	cacheKey := cache.CacheKey{
		Endpoint:    req.Endpoint.Path,
		QueryParams: query,
	}

	if c.cache != nil {
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			page, decodeErr := decodePage(entry.Data)
			if decodeErr == nil {
				c.logger.Debug().
					Str("endpoint", name).
					Int("page", req.Page).
					Msg("Serving page from cache")
				return page, nil
			}
			c.logger.Warn().Err(decodeErr).Str("endpoint", name).Msg("Discarding undecodable cache entry")
			_ = c.cache.Delete(ctx, cacheKey)
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", name).Msg("Cache get error")
		}
	}

	body, err := c.get(ctx, name, req.Endpoint.Path, query)
	if err != nil {
		return nil, err
	}

	page, err := decodePage(body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &APIError{
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassDecode,
			Message:    "invalid response body",
			Err:        err,
		}
	}

	if c.cache != nil {
		entry := cache.NewEntry(body, http.StatusOK, c.config.CacheTTL)
		if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", name).Msg("Failed to cache page")
		}
	}

	return page, nil
}

// get issues the HTTP request and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, name, path string, query url.Values) ([]byte, error) {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(name).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("endpoint", name).
		Str("url", u.String()).
		Msg("Executing API request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(name, "network_error").Inc()
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(name, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		class := classify(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// decodePage parses a list response. JSON numbers are kept as json.Number so
// entity codes keep their textual form.
func decodePage(body []byte) (*pagination.Page, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}

	return &pagination.Page{
		Records:        env.Resultado,
		TotalRecords:   env.TotalRegistros,
		TotalPages:     env.TotalPaginas,
		RemainingPages: env.PaginasRestantes,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager, nil when caching is disabled.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}
