// Package cache stores procurement API page responses in Redis.
//
// A full stratified run issues thousands of identical page requests when it is
// repeated on the same day (for example after an interrupted run). With a Redis
// address configured, the client keeps each decoded page body for a fixed TTL so
// a rerun re-reads pages from Redis instead of hitting the API again.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{
//		Endpoint:    "modulo-uasg/1_consultarUasg",
//		QueryParams: url.Values{"pagina": []string{"1"}, "statusUasg": []string{"true"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch from the API, then:
//		_ = manager.Set(ctx, key, cache.NewEntry(body, http.StatusOK, time.Hour))
//	}
//
// Keys are deterministic: query parameters are sorted, so the same page request
// always maps to the same Redis key.
//
// # Metrics
//
//   - compras_cache_hits_total (Counter)
//   - compras_cache_misses_total (Counter)
//   - compras_cache_size_bytes (Gauge): bytes written by this process
//   - compras_cache_errors_total{operation} (Counter)
package cache
