package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wonny/kairos/internal/collect"
	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/intraday"
	"github.com/wonny/kairos/internal/learning"
	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/internal/morning"
	"github.com/wonny/kairos/internal/performance"
	"github.com/wonny/kairos/internal/position"
	"github.com/wonny/kairos/internal/ragstore"
	"github.com/wonny/kairos/internal/watchlist"
	"github.com/wonny/kairos/pkg/config"
	"github.com/wonny/kairos/pkg/logger"
)

// TickStream is the optional websocket feed started alongside the
// intraday watcher.
type TickStream interface {
	Start(ctx context.Context, codes []string) error
	Stop()
}

// CacheMirror receives the daily cache after each collection run, e.g.
// the Redis mirror other tooling reads.
type CacheMirror interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Deps bundles every component the trading-day jobs drive.
type Deps struct {
	Cfg        *config.Config
	Calendar   *market.Calendar
	Fanout     *collect.Fanout
	Pipeline   *morning.Pipeline
	PickRepo   *morning.PickRepo
	Watcher    *intraday.Watcher
	Stream     TickStream // nil when websocket is disabled
	Positions  *position.Manager
	Tracker    *performance.Tracker
	RAG        *ragstore.Store
	Principles *learning.Principles
	Compressor *learning.Compressor
	Themes     *learning.Themes
	Sink       contracts.MessageSink
	Mirror     CacheMirror // nil when Redis is disabled
	Logger     *logger.Logger
}

// Jobs owns the job bodies and the lifecycle of the intraday tasks.
type Jobs struct {
	d   Deps
	log *logger.Logger
	now func() time.Time

	mu         sync.Mutex
	exitCancel context.CancelFunc
}

// NewJobs creates the job set.
func NewJobs(d Deps) *Jobs {
	return &Jobs{
		d:   d,
		log: d.Logger.WithComponent("jobs"),
		now: market.Now,
	}
}

// RegisterAll wires the full trading-day schedule, KST:
// 06:00 collect, 07:30 morning picks, 09:00 intraday start, 14:50 force
// close, 15:20 final close, 15:30 intraday stop, 15:45 performance
// batch; Mon 08:30 weekly report; Sun 03:00 principles, 03:30 memory
// compression and index stats.
func (j *Jobs) RegisterAll(s *Scheduler) error {
	entries := []struct {
		name string
		spec string
		body func(ctx context.Context) error
	}{
		{"data_collector", "0 6 * * *", j.tradingDay(j.RunCollector)},
		{"morning_bot", "30 7 * * *", j.tradingDay(j.RunMorning)},
		{"rt_start", "0 9 * * *", j.tradingDay(j.RunRTStart)},
		{"force_close", "50 14 * * *", j.tradingDay(j.RunForceClose)},
		{"final_close", "20 15 * * *", j.tradingDay(j.RunFinalClose)},
		{"rt_stop", "30 15 * * *", j.tradingDay(j.RunRTStop)},
		{"perf_batch", "45 15 * * *", j.tradingDay(j.RunPerfBatch)},
		{"weekly_report", "30 8 * * 1", j.tradingDay(j.RunWeeklyReport)},
		{"principles", "0 3 * * 0", j.RunPrinciples},
		{"memory_compression", "30 3 * * 0", j.RunCompression},
	}

	for _, e := range entries {
		if err := s.Register(e.name, e.spec, e.body); err != nil {
			return fmt.Errorf("register %s: %w", e.name, err)
		}
	}
	return nil
}

// tradingDay gates a job body on the KRX calendar.
func (j *Jobs) tradingDay(body func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if !j.d.Calendar.IsTradingDay(ctx, j.now()) {
			j.log.Debug("Not a trading day, skipping")
			return nil
		}
		return body(ctx)
	}
}

// RunCollector executes the morning fan-out and installs the cache.
func (j *Jobs) RunCollector(ctx context.Context) error {
	cache, err := j.d.Fanout.Run(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	collect.SetCache(cache)

	if j.d.Mirror != nil {
		key := "daily_cache:" + market.DateKey(j.now())
		if err := j.d.Mirror.Set(ctx, key, cache, 24*time.Hour); err != nil {
			j.log.WithError(err).Warn("Cache mirror failed")
		}
	}

	j.send(ctx, collect.FormatSummary(cache))
	return nil
}

// RunMorning runs the three-stage pipeline on the 06:00 cache when it is
// fresh, otherwise on empty data. It never re-collects: the pipeline
// degrades stage by stage instead.
func (j *Jobs) RunMorning(ctx context.Context) error {
	cache := collect.GetCache()
	if !collect.IsFresh(j.now(), 180) {
		j.log.Warn("Cache stale or missing, running the pipeline on empty data")
		cache = contracts.NewDailyCache()
	}

	result, err := j.d.Pipeline.Run(ctx, cache)
	if err != nil {
		return fmt.Errorf("morning pipeline: %w", err)
	}

	j.send(ctx, morning.FormatReport(result))
	return nil
}

// RunRTStart loads today's picks into the watchlist slots and starts
// the intraday watcher, the exit loop, and the optional tick stream.
func (j *Jobs) RunRTStart(ctx context.Context) error {
	today := market.DateKey(j.now())
	picks, err := j.d.PickRepo.LoadPicks(ctx, today)
	if err != nil {
		return fmt.Errorf("load picks: %w", err)
	}
	if len(picks) == 0 {
		j.log.WithField("date", today).Warn("No picks for today, intraday idle")
		return nil
	}

	pd := (*contracts.PriceData)(nil)
	if cache := collect.GetCache(); cache != nil {
		pd = cache.PriceData
	}

	entries := make(map[string]contracts.WatchlistEntry, len(picks))
	sectors := map[string]string{}
	codes := make([]string, 0, len(picks))
	for _, pick := range picks {
		if pick.StockCode == "" {
			continue
		}
		entry := contracts.WatchlistEntry{
			Name:     pick.StockName,
			Priority: pick.Rank,
			Category: pick.Category,
		}
		if pd != nil {
			if snap, ok := pd.ByCode[pick.StockCode]; ok {
				entry.PrevDayVolume = snap.Volume
				if snap.Sector != "" {
					sectors[pick.StockCode] = snap.Sector
				}
			}
		}
		entries[pick.StockCode] = entry
		codes = append(codes, pick.StockCode)
	}

	watchlist.Set(entries)
	watchlist.SetPicks(picks)
	watchlist.SetSectorMap(sectors)
	if pd != nil {
		watchlist.SetMarketEnvFromKOSPI(pd.KOSPI.ChangeRate)
		watchlist.SetKOSPI(pd.KOSPI.Level)
	}

	j.d.Positions.Arm()

	j.d.Watcher.Reset()
	if err := j.d.Watcher.Start(context.Background()); err != nil {
		return fmt.Errorf("watcher start: %w", err)
	}
	j.startExitLoop()

	if j.d.Cfg.WSEnabled && j.d.Stream != nil {
		streamCodes := codes
		if max := j.d.Cfg.WSWatchlistMax; max > 0 && len(streamCodes) > max {
			streamCodes = streamCodes[:max]
		}
		if err := j.d.Stream.Start(context.Background(), streamCodes); err != nil {
			j.log.WithError(err).Warn("Tick stream start failed, polling only")
		}
	}

	j.log.WithField("watched", len(entries)).Info("Intraday session started")
	return nil
}

// startExitLoop ticks the exit evaluator at the poll interval until
// stopped at rt_stop.
func (j *Jobs) startExitLoop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.exitCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.exitCancel = cancel

	go func() {
		ticker := time.NewTicker(j.d.Cfg.PollInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := j.d.Positions.CheckExit(ctx); err != nil {
					j.log.WithError(err).Warn("Exit check failed")
				}
			}
		}
	}()
}

func (j *Jobs) stopExitLoop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.exitCancel != nil {
		j.exitCancel()
		j.exitCancel = nil
	}
}

// RunForceClose closes all day-trade positions at 14:50.
func (j *Jobs) RunForceClose(ctx context.Context) error {
	return j.d.Positions.ForceCloseAll(ctx)
}

// RunFinalClose closes every remaining position at 15:20.
func (j *Jobs) RunFinalClose(ctx context.Context) error {
	return j.d.Positions.FinalCloseAll(ctx)
}

// RunRTStop ends the intraday session: watcher, exit loop, stream.
func (j *Jobs) RunRTStop(context.Context) error {
	j.d.Watcher.Stop()
	j.stopExitLoop()
	if j.d.Stream != nil {
		j.d.Stream.Stop()
	}
	j.log.Info("Intraday session stopped")
	return nil
}

// RunPerfBatch settles the T+1/3/7 horizons, then feeds today's picks
// and realized outcomes back to the RAG store.
func (j *Jobs) RunPerfBatch(ctx context.Context) error {
	if err := j.d.Tracker.RunBatch(ctx); err != nil {
		return err
	}

	today := market.DateKey(j.now())
	results, err := j.d.Tracker.RealizedResults(ctx, today)
	if err != nil {
		return fmt.Errorf("realized results: %w", err)
	}
	picks, err := j.d.PickRepo.LoadPicks(ctx, today)
	if err != nil {
		return fmt.Errorf("load picks: %w", err)
	}
	if len(picks) == 0 && len(results) == 0 {
		return nil
	}

	var pd *contracts.PriceData
	if cache := collect.GetCache(); cache != nil {
		pd = cache.PriceData
	}
	return j.d.RAG.Save(ctx, today, picks, results, pd)
}

// RunWeeklyReport sends the per-trigger weekly statistics.
func (j *Jobs) RunWeeklyReport(ctx context.Context) error {
	stats, err := j.d.Tracker.GetWeeklyStats(ctx)
	if err != nil {
		return err
	}
	j.send(ctx, FormatWeeklyReport(stats))
	return nil
}

// RunPrinciples runs the Sunday principle extraction.
func (j *Jobs) RunPrinciples(ctx context.Context) error {
	return j.d.Principles.Extract(ctx)
}

// RunCompression runs the Sunday memory compression plus the derived
// statistics tables.
func (j *Jobs) RunCompression(ctx context.Context) error {
	if err := j.d.Compressor.Run(ctx); err != nil {
		return err
	}
	if err := j.d.Compressor.UpdateIndexStats(ctx); err != nil {
		return err
	}
	if err := j.d.Themes.UpdateAccuracy(ctx); err != nil {
		return err
	}
	return j.d.Themes.UpdateSignalWeights(ctx)
}

// send pushes one message; sink failures never fail a job.
func (j *Jobs) send(ctx context.Context, text string) {
	if j.d.Sink == nil || text == "" {
		return
	}
	if err := j.d.Sink.SendText(ctx, text); err != nil {
		j.log.WithError(err).Warn("Report send failed")
	}
}

// FormatWeeklyReport renders the weekly trigger statistics.
func FormatWeeklyReport(stats []performance.SourceStats) string {
	var b strings.Builder
	b.WriteString("📊 <b>주간 트리거 성과</b>\n")
	if len(stats) == 0 {
		b.WriteString("최근 7일 알림 없음")
		return b.String()
	}
	for _, s := range stats {
		fmt.Fprintf(&b, "%s: 알림 %d건, 정산 %d건, 승률 %.1f%%, 평균 %+.2f%%\n",
			s.Source, s.Alerts, s.Settled, s.WinRate, s.AvgReturn)
	}
	return strings.TrimRight(b.String(), "\n")
}
