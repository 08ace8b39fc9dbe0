// Package intraday polls today's picks during market hours and emits
// alerts for price milestones, surge momentum, and bid-wall strength.
// Strictly pick-scoped: tickers outside the watchlist are never touched.
package intraday

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/internal/watchlist"
	"github.com/wonny/kairos/pkg/config"
	"github.com/wonny/kairos/pkg/logger"
)

// targetFireRatio: 목표의 90% 도달 시 선제 알림
const targetFireRatio = 0.9

// AlertRecorder receives every emitted alert for performance tracking.
type AlertRecorder interface {
	RecordAlert(ctx context.Context, alert *contracts.IntradayAlert) error
}

// MultiRecorder fans one alert out to several recorders. Every recorder
// runs; the first error is returned.
type MultiRecorder []AlertRecorder

func (m MultiRecorder) RecordAlert(ctx context.Context, alert *contracts.IntradayAlert) error {
	var first error
	for _, r := range m {
		if err := r.RecordAlert(ctx, alert); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// snapshot is one ticker's previous-cycle reading.
type snapshot struct {
	changeRate float64
	cumVolume  int64
}

// Watcher is the intraday poller.
// ⭐ SSOT: 장중 감시는 이 워처에서만
type Watcher struct {
	broker   contracts.Broker
	sink     contracts.MessageSink
	recorder AlertRecorder
	cfg      *config.Config
	logger   *logger.Logger
	now      func() time.Time

	mu             sync.Mutex
	prev           map[string]snapshot
	confirmStreak  map[string]int
	milestoneFired map[string]bool
	wallLastMinute map[string]string
	running        bool
	cancel         context.CancelFunc
}

// NewWatcher creates the watcher. recorder and sink may be nil.
func NewWatcher(broker contracts.Broker, sink contracts.MessageSink, recorder AlertRecorder, cfg *config.Config, log *logger.Logger) *Watcher {
	w := &Watcher{
		broker:   broker,
		sink:     sink,
		recorder: recorder,
		cfg:      cfg,
		logger:   log.WithComponent("intraday"),
		now:      market.Now,
	}
	w.resetLocked()
	return w
}

// Reset clears all per-day state: snapshots, confirm streaks, and dedup
// records. Called at the 09:00 start.
func (w *Watcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
}

func (w *Watcher) resetLocked() {
	w.prev = make(map[string]snapshot)
	w.confirmStreak = make(map[string]int)
	w.milestoneFired = make(map[string]bool)
	w.wallLastMinute = make(map[string]string)
}

// Start launches the poll loop. Non-blocking; Stop or ctx ends it.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	go func() {
		ticker := time.NewTicker(w.cfg.PollInterval())
		defer ticker.Stop()

		w.logger.WithField("interval", w.cfg.PollInterval().String()).Info("Intraday watch started")
		for {
			select {
			case <-runCtx.Done():
				w.logger.Info("Intraday watch stopped")
				return
			case <-ticker.C:
				if _, err := w.RunCycle(runCtx); err != nil {
					w.logger.WithError(err).Warn("Poll cycle failed")
				}
			}
		}
	}()
	return nil
}

// Stop ends the poll loop.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
	w.running = false
}

// RunCycle polls every watched ticker once and returns the alerts emitted
// this cycle. An empty watchlist returns an empty slice without touching
// the broker. The first cycle per ticker only takes its baseline snapshot.
func (w *Watcher) RunCycle(ctx context.Context) ([]contracts.IntradayAlert, error) {
	picks := watchlist.Get()
	alerts := []contracts.IntradayAlert{}
	if len(picks) == 0 {
		return alerts, nil
	}

	codes := make([]string, 0, len(picks))
	for code := range picks {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		quote, err := w.broker.GetPrice(ctx, code)
		if err != nil {
			w.logger.WithError(err).WithField("code", code).Warn("Quote fetch failed")
			continue
		}
		alerts = append(alerts, w.evaluate(ctx, code, picks[code], quote)...)
	}

	for i := range alerts {
		w.deliver(ctx, &alerts[i])
	}
	return alerts, nil
}

// HandleTick feeds one websocket tick through the same evaluation path.
// Ticks for tickers outside today's picks are dropped.
func (w *Watcher) HandleTick(ctx context.Context, tick contracts.TickData) {
	entry, ok := watchlist.Get()[tick.Code]
	if !ok {
		return
	}

	quote := &contracts.Quote{
		Code:       tick.Code,
		Name:       entry.Name,
		Last:       tick.Price,
		ChangeRate: tick.ChangeRate,
		CumVolume:  tick.CumVolume,
	}
	for _, alert := range w.evaluate(ctx, tick.Code, entry, quote) {
		alert.Source = contracts.TriggerWebsocket
		w.deliver(ctx, &alert)
	}
}

// evaluate runs the per-ticker checks in contract order: price milestone,
// surge momentum, bid wall. The first match wins; a ticker emits at most
// one alert per cycle. The baseline cycle emits nothing.
func (w *Watcher) evaluate(ctx context.Context, code string, entry contracts.WatchlistEntry, quote *contracts.Quote) []contracts.IntradayAlert {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev, warmedUp := w.prev[code]
	w.prev[code] = snapshot{changeRate: quote.ChangeRate, cumVolume: quote.CumVolume}
	if !warmedUp {
		return nil
	}

	if alert := w.checkMilestone(code, entry, quote); alert != nil {
		return []contracts.IntradayAlert{*alert}
	}
	if alert := w.checkMomentum(code, entry, prev, quote); alert != nil {
		return []contracts.IntradayAlert{*alert}
	}
	if alert := w.checkBidWall(ctx, code, entry, quote); alert != nil {
		return []contracts.IntradayAlert{*alert}
	}
	return nil
}

// checkMilestone fires 가격도달 alerts: target (상한가 인접 또는 목표의
// 90% 도달) and stop (손절 라인 하회). One milestone per ticker per day.
func (w *Watcher) checkMilestone(code string, entry contracts.WatchlistEntry, quote *contracts.Quote) *contracts.IntradayAlert {
	if w.milestoneFired[code] {
		return nil
	}

	pick := watchlist.PickFor(code)

	if quote.ChangeRate >= contracts.UpperLimitAdjacentPct {
		w.milestoneFired[code] = true
		return w.newAlert(code, entry, quote, contracts.AlertPriceTarget, contracts.TriggerWatchlist, 0)
	}

	if pick != nil {
		if targetPct, ok := contracts.ParseTargetReturn(pick.TargetReturn); ok &&
			quote.ChangeRate >= targetPct*targetFireRatio {
			w.milestoneFired[code] = true
			return w.newAlert(code, entry, quote, contracts.AlertPriceTarget, contracts.TriggerWatchlist, 0)
		}

		if stopPct, stopPrice, ok := contracts.ParseStopLoss(pick.StopLoss); ok {
			hit := false
			if stopPrice > 0 {
				hit = quote.Last <= stopPrice
			} else {
				hit = quote.ChangeRate <= stopPct
			}
			if hit {
				w.milestoneFired[code] = true
				return w.newAlert(code, entry, quote, contracts.AlertPriceStop, contracts.TriggerWatchlist, 0)
			}
		}
	}
	return nil
}

// checkMomentum fires 급등모멘텀 after the surge condition held for the
// confirm-candle count: per-cycle change-rate delta and volume growth
// relative to the prior snapshot's cumulative volume, both above threshold.
func (w *Watcher) checkMomentum(code string, entry contracts.WatchlistEntry, prev snapshot, quote *contracts.Quote) *contracts.IntradayAlert {
	deltaRate := quote.ChangeRate - prev.changeRate
	var deltaVolPct float64
	if prev.cumVolume > 0 {
		deltaVolPct = float64(quote.CumVolume-prev.cumVolume) / float64(prev.cumVolume) * 100
	}

	if deltaRate >= w.cfg.PriceDeltaMin && deltaVolPct >= w.cfg.VolumeDeltaMin {
		w.confirmStreak[code]++
	} else {
		w.confirmStreak[code] = 0
		return nil
	}

	if w.confirmStreak[code] < w.cfg.ConfirmCandles {
		return nil
	}
	w.confirmStreak[code] = 0

	alert := w.newAlert(code, entry, quote, contracts.AlertMomentum, contracts.TriggerRate, deltaRate)
	alert.MomentaryStrength = deltaVolPct
	return alert
}

// checkBidWall fires 매수벽 when a stock already up MIN_CHANGE_RATE shows
// a strong book. Deduplicated per ticker per minute.
func (w *Watcher) checkBidWall(ctx context.Context, code string, entry contracts.WatchlistEntry, quote *contracts.Quote) *contracts.IntradayAlert {
	if quote.ChangeRate < w.cfg.MinChangeRate {
		return nil
	}

	minute := w.now().Format("15:04")
	if w.wallLastMinute[code] == minute {
		return nil
	}

	ob, err := w.broker.GetOrderbook(ctx, code)
	if err != nil {
		w.logger.WithError(err).WithField("code", code).Warn("Orderbook fetch failed")
		return nil
	}

	analysis := AnalyzeOrderbook(ob, w.cfg)
	if analysis.Label != contracts.OrderbookStrong {
		return nil
	}

	w.wallLastMinute[code] = minute
	alert := w.newAlert(code, entry, quote, contracts.AlertBidWall, contracts.TriggerVolume, 0)
	alert.OrderbookAnalysis = analysis
	return alert
}

func (w *Watcher) newAlert(code string, entry contracts.WatchlistEntry, quote *contracts.Quote, alertType contracts.AlertType, source contracts.TriggerSource, deltaRate float64) *contracts.IntradayAlert {
	name := entry.Name
	if name == "" {
		name = quote.Name
	}

	var reason string
	if pick := watchlist.PickFor(code); pick != nil {
		reason = pick.Reason
	}

	return &contracts.IntradayAlert{
		StockCode:    code,
		StockName:    name,
		CurrentPrice: quote.Last,
		ChangeRate:   quote.ChangeRate,
		DeltaRate:    deltaRate,
		VolumeRatio:  float64(quote.CumVolume) / float64(entry.PrevDayVolume),
		ConditionMet: true,
		DetectedAt:   w.now().Format("15:04:05"),
		Source:       source,
		PickReason:   reason,
		AlertType:    alertType,
	}
}

// deliver records and notifies one alert. Both paths are non-fatal.
func (w *Watcher) deliver(ctx context.Context, alert *contracts.IntradayAlert) {
	if w.recorder != nil {
		if err := w.recorder.RecordAlert(ctx, alert); err != nil {
			w.logger.WithError(err).WithField("code", alert.StockCode).Warn("Alert record failed")
		}
	}
	if w.sink != nil {
		if err := w.sink.SendText(ctx, FormatAlert(alert)); err != nil {
			w.logger.WithError(err).WithField("code", alert.StockCode).Warn("Alert send failed")
		}
	}
}

// FormatAlert renders one alert for the message sink.
func FormatAlert(alert *contracts.IntradayAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 <b>[%s]</b> %s(%s)\n", alert.AlertType, alert.StockName, alert.StockCode)
	fmt.Fprintf(&b, "현재가 %d원 (%+.2f%%) · 거래량비 %.1f배\n", alert.CurrentPrice, alert.ChangeRate, alert.VolumeRatio)
	if alert.OrderbookAnalysis != nil {
		fmt.Fprintf(&b, "호가: %s (매수/매도 %.2f)\n", alert.OrderbookAnalysis.Label, alert.OrderbookAnalysis.BidAskRatio)
	}
	if alert.PickReason != "" {
		fmt.Fprintf(&b, "선정 사유: %s\n", alert.PickReason)
	}
	fmt.Fprintf(&b, "감지 %s", alert.DetectedAt)
	return b.String()
}
