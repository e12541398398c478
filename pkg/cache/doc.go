// Package cache provides TTL-bounded response caching for the Q-Net client.
//
// Two backends implement the Store interface:
//
//   - MemoryStore: in-process, LRU capacity bound, the default
//   - RedisStore: shared across processes, JSON entries with Redis TTL
//
// Both expire lazily. An entry older than the store TTL is deleted by the
// Get that discovers it; there is no background sweep. Entries for keys
// that are never re-read stay until capacity eviction (memory), Redis TTL
// (redis), or process restart.
//
// The TTL is uniform store configuration (default 7 days), never per-entry
// state. Exam schedules are published months ahead and revised rarely, so
// a long window is safe.
//
// # Basic Usage
//
//	store, err := cache.NewMemoryStore(cache.DefaultCapacity, cache.DefaultTTL)
//	if err != nil {
//		return err
//	}
//
//	key := cache.Key{
//		Endpoint: "getEList",
//		Params:   map[string]string{"implYy": "2025"},
//	}
//
//	entry, err := store.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch upstream, then:
//		_ = store.Set(ctx, key, cache.NewEntry(body, statusCode))
//	}
//
// # Redis Backend
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//	store, err := cache.NewRedisStore(redisClient, cache.DefaultTTL)
//
// # Key Derivation
//
// Keys serialize the endpoint name plus the sorted query parameters. The
// serviceKey parameter is excluded: the credential is injected into the
// outgoing request after the key is computed, so rotating it never
// invalidates cached responses.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - qnet_cache_hits_total{backend} - Cache hits
//   - qnet_cache_misses_total{backend} - Cache misses
//   - qnet_cache_expired_total{backend} - Lazy evictions of stale entries
//   - qnet_cache_errors_total{operation} - Cache operation errors
package cache
