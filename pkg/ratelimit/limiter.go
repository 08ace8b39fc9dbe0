// Package ratelimit implements the broker-call request limiter: a fixed
// 1-second window whose capacity is chosen from the trading mode at startup.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/wonny/kairos/pkg/config"
)

const window = time.Second

// Per-mode capacities. 모의투자 서버는 초당 2건, 실전은 19건까지 허용.
const (
	CapacityVTS  = 2
	CapacityReal = 19
)

// Limiter is a fixed-window request limiter.
// ⭐ SSOT: 브로커 REST 호출 한도는 여기서만 관리
type Limiter struct {
	mu          sync.Mutex
	capacity    int
	count       int
	windowStart time.Time
	now         func() time.Time
}

// New creates a limiter with an explicit capacity per one-second window.
func New(capacity int) *Limiter {
	return &Limiter{
		capacity: capacity,
		now:      time.Now,
	}
}

// ForMode creates a limiter sized for the trading mode.
func ForMode(mode config.TradingMode) *Limiter {
	if mode == config.ModeReal {
		return New(CapacityReal)
	}
	return New(CapacityVTS)
}

// Capacity returns the configured window capacity.
func (l *Limiter) Capacity() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity
}

// TryAcquire consumes a token if one is available in the current window.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tryLocked()
}

// Acquire consumes a token, waiting up to one full window if saturated.
// The counter resets when the window ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.tryLocked() {
			l.mu.Unlock()
			return nil
		}
		wait := window - l.now().Sub(l.windowStart)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryLocked consumes a token under l.mu, rolling the window if it expired.
func (l *Limiter) tryLocked() bool {
	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= window {
		l.windowStart = now
		l.count = 0
	}
	if l.count < l.capacity {
		l.count++
		return true
	}
	return false
}
