// Package watchlist holds today's process-wide trading state: the picks
// watchlist, the domestic market classification, and the ticker→sector map.
// Single-writer discipline: the orchestrator writes between the morning
// pipeline and the intraday start; everything else only reads.
package watchlist

import (
	"sync"

	"github.com/wonny/kairos/internal/contracts"
)

// ⭐ SSOT: 워치리스트/장세/섹터 슬롯은 이 패키지에서만 보관
var (
	mu        sync.RWMutex
	picks     = map[string]contracts.WatchlistEntry{}
	pickMeta  = map[string]contracts.Pick{}
	marketEnv contracts.MarketEnv
	kospi     float64
	sectorMap = map[string]string{}
)

// Set replaces the picks watchlist. Entries with prev-day volume below 1
// are clamped to 1 so ratio math downstream never divides by zero.
func Set(entries map[string]contracts.WatchlistEntry) {
	mu.Lock()
	defer mu.Unlock()

	picks = make(map[string]contracts.WatchlistEntry, len(entries))
	for code, e := range entries {
		if e.PrevDayVolume < 1 {
			e.PrevDayVolume = 1
		}
		picks[code] = e
	}
}

// Get returns a shallow copy of the watchlist; callers may mutate freely.
func Get() map[string]contracts.WatchlistEntry {
	mu.RLock()
	defer mu.RUnlock()

	out := make(map[string]contracts.WatchlistEntry, len(picks))
	for code, e := range picks {
		out[code] = e
	}
	return out
}

// Contains reports whether a ticker is one of today's picks.
func Contains(code string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := picks[code]
	return ok
}

// IsReady is true once today's picks are loaded.
func IsReady() bool {
	mu.RLock()
	defer mu.RUnlock()
	return len(picks) > 0
}

// SetPicks stores today's pick details for target/stop parsing and
// position sizing. Keyed by stock code; codeless picks are dropped.
func SetPicks(ps []contracts.Pick) {
	mu.Lock()
	defer mu.Unlock()

	pickMeta = make(map[string]contracts.Pick, len(ps))
	for _, pick := range ps {
		if pick.StockCode == "" {
			continue
		}
		pickMeta[pick.StockCode] = pick
	}
}

// PickFor returns today's pick metadata for a ticker, nil when the ticker
// is not one of today's picks.
func PickFor(code string) *contracts.Pick {
	mu.RLock()
	defer mu.RUnlock()
	if pick, ok := pickMeta[code]; ok {
		return &pick
	}
	return nil
}

// SetMarketEnv stores today's domestic market classification.
func SetMarketEnv(env contracts.MarketEnv) {
	mu.Lock()
	defer mu.Unlock()
	marketEnv = env
}

// SetMarketEnvFromKOSPI derives and stores the classification from the
// KOSPI daily change rate.
func SetMarketEnvFromKOSPI(changeRate float64) {
	SetMarketEnv(contracts.MarketEnvFromKOSPI(changeRate))
}

// MarketEnv returns today's classification; empty until set.
func MarketEnv() contracts.MarketEnv {
	mu.RLock()
	defer mu.RUnlock()
	return marketEnv
}

// SetKOSPI stores today's KOSPI level, snapshotted onto every entry.
func SetKOSPI(level float64) {
	mu.Lock()
	defer mu.Unlock()
	kospi = level
}

// KOSPI returns today's stored index level; 0 until set.
func KOSPI() float64 {
	mu.RLock()
	defer mu.RUnlock()
	return kospi
}

// SetSectorMap replaces the ticker→sector map (from price_data.by_code).
func SetSectorMap(m map[string]string) {
	mu.Lock()
	defer mu.Unlock()

	sectorMap = make(map[string]string, len(m))
	for code, sector := range m {
		sectorMap[code] = sector
	}
}

// Sector returns the sector label for a ticker, empty when unknown.
func Sector(code string) string {
	mu.RLock()
	defer mu.RUnlock()
	return sectorMap[code]
}

// Clear resets every slot. Called between trading days and in tests.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	picks = map[string]contracts.WatchlistEntry{}
	pickMeta = map[string]contracts.Pick{}
	marketEnv = ""
	kospi = 0
	sectorMap = map[string]string{}
}
