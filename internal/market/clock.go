// Package market provides the KST wall clock and the trading-day calendar.
package market

import (
	"context"
	"sync"
	"time"

	"github.com/wonny/kairos/pkg/logger"
)

// KST is the fixed Korean exchange offset. 서머타임 없음.
var KST = time.FixedZone("KST", 9*60*60)

// Now returns the current instant in KST.
func Now() time.Time {
	return time.Now().In(KST)
}

// DateKey formats a date as the 8-digit YYYYMMDD cache key.
func DateKey(t time.Time) string {
	return t.In(KST).Format("20060102")
}

// TradingDayProbe answers whether a weekday actually traded, typically by
// checking that the bellwether ticker has a daily bar for the date.
type TradingDayProbe interface {
	HasDailyBar(ctx context.Context, date time.Time) (bool, error)
}

// Calendar classifies trading days. Probe results are cached by YYYYMMDD
// for the process lifetime; the cache is the only place where repeated
// same-day probes are consolidated.
// ⭐ SSOT: 거래일 판정은 이 캘린더에서만
type Calendar struct {
	probe  TradingDayProbe
	logger *logger.Logger

	mu    sync.Mutex
	cache map[string]bool
}

// NewCalendar creates a calendar backed by a daily-bar probe.
// A nil probe means weekday ⇒ trading day.
func NewCalendar(probe TradingDayProbe, log *logger.Logger) *Calendar {
	return &Calendar{
		probe:  probe,
		logger: log.WithComponent("calendar"),
		cache:  make(map[string]bool),
	}
}

// IsTradingDay reports whether date is a KRX trading day. Weekends are
// false without probing. Probe failures fail open: a false-positive day
// costs an idle scheduled job at most.
func (c *Calendar) IsTradingDay(ctx context.Context, date time.Time) bool {
	date = date.In(KST)

	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	key := DateKey(date)

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	result := true
	if c.probe != nil {
		ok, err := c.probe.HasDailyBar(ctx, date)
		if err != nil {
			c.logger.WithError(err).WithField("date", key).Warn("Trading-day probe failed, assuming trading day")
		} else {
			result = ok
		}
	}

	c.mu.Lock()
	c.cache[key] = result
	c.mu.Unlock()

	return result
}

// PreviousTradingDay resolves the prior session date by weekday arithmetic.
// Monday → Friday (−3d), Tue..Fri → previous day (−1d), weekends → nil.
// 공휴일은 여기서 고려하지 않는다.
func PreviousTradingDay(date time.Time) *time.Time {
	date = date.In(KST)

	var prev time.Time
	switch date.Weekday() {
	case time.Monday:
		prev = date.AddDate(0, 0, -3)
	case time.Tuesday, time.Wednesday, time.Thursday, time.Friday:
		prev = date.AddDate(0, 0, -1)
	default:
		return nil
	}
	return &prev
}
