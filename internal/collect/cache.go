package collect

import (
	"sync"
	"time"

	"github.com/wonny/kairos/internal/contracts"
)

// cache is the process-wide daily cache slot: written once per collection
// run (06:00), read concurrently thereafter.
// ⭐ SSOT: 수집 캐시는 이 슬롯에서만
var (
	cacheMu sync.RWMutex
	cache   *contracts.DailyCache
)

// SetCache replaces the daily cache.
func SetCache(c *contracts.DailyCache) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = c
}

// GetCache returns the current daily cache, nil before the first run.
func GetCache() *contracts.DailyCache {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	return cache
}

// ClearCache resets the slot. Test helper.
func ClearCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = nil
}

// IsFresh reports whether the cache exists and was collected within
// maxAge minutes of now.
func IsFresh(now time.Time, maxAgeMinutes int) bool {
	cacheMu.RLock()
	defer cacheMu.RUnlock()

	if cache == nil || cache.CollectedAt.IsZero() {
		return false
	}
	return now.Sub(cache.CollectedAt) <= time.Duration(maxAgeMinutes)*time.Minute
}
