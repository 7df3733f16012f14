package gocache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tapgate/tapgate/internal/core/ports"
)

const cleanupInterval = 10 * time.Minute

type service struct {
	cache *gocache.Cache
}

// NewCache returns an in-process expiring key-value store. defaultTTL applies
// when a Set passes a zero duration.
func NewCache(defaultTTL time.Duration) ports.Cache {
	return &service{gocache.New(defaultTTL, cleanupInterval)}
}

func (s *service) Get(key string) (string, bool) {
	value, ok := s.cache.Get(key)
	if !ok {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

func (s *service) Set(key, value string, ttl time.Duration) {
	if ttl == ports.NoExpiration {
		s.cache.Set(key, value, gocache.NoExpiration)
		return
	}
	s.cache.Set(key, value, ttl)
}
