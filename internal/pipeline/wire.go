package pipeline

import (
	"fmt"

	"github.com/Sternrassler/compras-etl/internal/config"
	"github.com/Sternrassler/compras-etl/pkg/client"
	"github.com/Sternrassler/compras-etl/pkg/pagination"
	"github.com/Sternrassler/compras-etl/pkg/related"
	"github.com/Sternrassler/compras-etl/pkg/sink"
	"github.com/redis/go-redis/v9"
)

// Wire builds a pipeline from configuration: HTTP client, retry policy,
// paginator, sinks. rdb may be nil to disable the page cache.
func Wire(cfg *config.Config, rdb *redis.Client) (*Pipeline, error) {
	ccfg := client.DefaultConfig()
	ccfg.BaseURL = cfg.API.BaseURL
	ccfg.UserAgent = cfg.API.UserAgent
	ccfg.Timeout = cfg.API.Timeout
	ccfg.Redis = rdb
	ccfg.CacheTTL = cfg.Cache.TTL

	c, err := client.New(ccfg)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	rcfg := client.DefaultRetryConfig()
	rcfg.MaxAttempts = cfg.API.MaxRetries
	rcfg.BackoffUnit = cfg.API.BackoffUnit

	pcfg := pagination.DefaultConfig()
	pcfg.PageDelay = cfg.API.PageDelay

	paginator := pagination.NewPaginator(client.NewRetrier(c, rcfg), pcfg)

	raw, err := sink.New(cfg.Output.Format, sink.Options{Dir: cfg.Output.RawDir})
	if err != nil {
		return nil, err
	}
	processed, err := sink.New(cfg.Output.Format, sink.Options{Dir: cfg.Output.ProcessedDir})
	if err != nil {
		return nil, err
	}

	resolverCfg := related.DefaultConfig()
	resolverCfg.LookupDelay = cfg.API.LookupDelay

	return New(paginator, resolverCfg, raw, processed, Options{
		Year:                cfg.Extract.Year,
		ContractsPerQuarter: cfg.Extract.ContractsPerQuarter,
		UnitCatalogLimit:    cfg.Extract.UnitCatalogLimit,
		BodyCatalogLimit:    cfg.Extract.BodyCatalogLimit,
		ResolveRelated:      cfg.Extract.ResolveRelated,
	}), nil
}
