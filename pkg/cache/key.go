package cache

import (
	"fmt"
	"sort"
	"strings"
)

// serviceKeyParam is the query parameter carrying the upstream credential.
// It never participates in key derivation: the credential is constant per
// deployment and rotating it must not invalidate the cache.
const serviceKeyParam = "serviceKey"

// Key represents a unique identifier for a cached upstream response.
type Key struct {
	// Endpoint is the upstream operation name (e.g., "getPEList")
	Endpoint string

	// Params are the request query parameters, service key excluded
	Params map[string]string
}

// String generates a deterministic cache key string.
// Format: qnet:endpoint:param1=val1:param2=val2
//
// Example:
//
//	qnet:getEList:implSeq=2:implYy=2024
func (k Key) String() string {
	parts := []string{"qnet"}

	if k.Endpoint != "" {
		parts = append(parts, k.Endpoint)
	}

	// Add params (sorted for determinism, credential skipped)
	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			if key == serviceKeyParam {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Params[key]))
		}
	}

	return strings.Join(parts, ":")
}
