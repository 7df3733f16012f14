package ports

import "time"

// NoExpiration keeps a cache entry alive until process shutdown.
const NoExpiration time.Duration = -1

// Cache is a volatile keyed store with per-entry TTL. Entries are
// reconstructable from the node and the database; losing one at worst causes
// a redundant, idempotently short-circuited settlement attempt.
type Cache interface {
	Get(key string) (string, bool)
	Set(key string, value string, ttl time.Duration)
}
