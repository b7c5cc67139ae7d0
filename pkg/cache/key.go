package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "compras"

// CacheKey identifies one page request.
type CacheKey struct {
	// Endpoint is the API path (e.g., "modulo-uasg/1_consultarUasg")
	Endpoint string

	// QueryParams are the filters plus pagination parameters
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: compras:endpoint:query1=val1:query2=val2
//
// Example:
//
//	compras:modulo-uasg/1_consultarUasg:pagina=1:statusUasg=true:tamanhoPagina=500
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.QueryParams.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
