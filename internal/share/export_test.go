package share

import "time"

// SetNowFunc overrides the service clock for tests.
func (s *Service) SetNowFunc(now func() time.Time) {
	s.now = now
}

// TokenCacheKey exposes the cache key layout for tests.
func TokenCacheKey(token string) string {
	return tokenKeyPrefix + token
}
