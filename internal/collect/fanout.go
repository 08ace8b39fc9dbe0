// Package collect runs the morning data-collection fan-out: twelve
// independent collectors in parallel with per-collector failure isolation,
// consolidated into the shared daily cache.
package collect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/pkg/logger"
)

// Collectors registers the twelve collector thunks. Concrete collectors are
// external collaborators; a nil field is recorded as a failed collection.
type Collectors struct {
	Filings           func(ctx context.Context) ([]contracts.Filing, error)
	Market            func(ctx context.Context) (*contracts.MarketOverview, error)
	NewsNaver         func(ctx context.Context) (map[string][]contracts.NewsItem, error)
	NewsAPI           func(ctx context.Context) (map[string][]contracts.NewsItem, error)
	GlobalRSS         func(ctx context.Context) ([]contracts.NewsItem, error)
	Price             func(ctx context.Context) (*contracts.PriceData, error)
	SectorETF         func(ctx context.Context) ([]contracts.ScreenResult, error)
	Short             func(ctx context.Context) ([]contracts.ScreenResult, error)
	EventCalendar     func(ctx context.Context) ([]contracts.EventEntry, error)
	ClosingStrength   func(ctx context.Context) ([]contracts.ScreenResult, error)
	VolumeSurge       func(ctx context.Context) ([]contracts.ScreenResult, error)
	FundConcentration func(ctx context.Context) ([]contracts.ScreenResult, error)
}

// Fanout orchestrates the parallel collection run.
// ⭐ SSOT: 데이터 수집 오케스트레이션은 이 패키지에서만
type Fanout struct {
	collectors Collectors
	sink       contracts.MessageSink
	logger     *logger.Logger
	timeout    time.Duration
	now        func() time.Time
}

// NewFanout creates a fan-out over the registered collectors. sink may be
// nil; the raw-data summary is then skipped.
func NewFanout(collectors Collectors, sink contracts.MessageSink, log *logger.Logger) *Fanout {
	return &Fanout{
		collectors: collectors,
		sink:       sink,
		logger:     log.WithComponent("collect"),
		timeout:    60 * time.Second,
		now:        market.Now,
	}
}

// WithTimeout overrides the per-collector wall-clock timeout.
func (f *Fanout) WithTimeout(d time.Duration) *Fanout {
	f.timeout = d
	return f
}

// flagSet guards concurrent success-flag writes from collector goroutines.
type flagSet struct {
	mu sync.Mutex
	m  map[string]bool
}

func (s *flagSet) set(name string, ok bool) {
	s.mu.Lock()
	s.m[name] = ok
	s.mu.Unlock()
}

// runCollector wraps one collector with timeout, panic isolation, and flag
// bookkeeping. Collector failures are logged and absorbed — no collector
// can cancel another. Each assign closure writes a distinct cache field.
func runCollector[T any](g *errgroup.Group, ctx context.Context, f *Fanout, flags *flagSet, name string, fn func(context.Context) (T, error), assign func(T)) {
	g.Go(func() error {
		if fn == nil {
			f.logger.WithField("collector", name).Debug("Collector not configured")
			return nil
		}

		cctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				f.logger.WithField("collector", name).Errorf("Collector panicked: %v", r)
			}
		}()

		v, err := fn(cctx)
		if err != nil {
			f.logger.WithError(err).WithField("collector", name).Warn("Collector failed")
			return nil
		}

		assign(v)
		flags.set(name, true)
		return nil
	})
}

// Run executes all collectors concurrently and publishes the consolidated
// cache. A collector failure yields that key's empty value (nil for price
// data) and a false success flag; it never aborts the run.
func (f *Fanout) Run(ctx context.Context) (*contracts.DailyCache, error) {
	start := f.now()
	out := contracts.NewDailyCache()
	out.CollectedAt = start

	flags := &flagSet{m: make(map[string]bool, len(contracts.CollectorNames))}
	for _, name := range contracts.CollectorNames {
		flags.m[name] = false
	}

	g, gctx := errgroup.WithContext(ctx)

	runCollector(g, gctx, f, flags, contracts.CollectorFilings, f.collectors.Filings,
		func(v []contracts.Filing) { out.DartData = v })
	runCollector(g, gctx, f, flags, contracts.CollectorMarket, f.collectors.Market,
		func(v *contracts.MarketOverview) {
			if v != nil {
				out.MarketData = *v
			}
		})
	runCollector(g, gctx, f, flags, contracts.CollectorNewsNaver, f.collectors.NewsNaver,
		func(v map[string][]contracts.NewsItem) { out.NewsNaver = v })
	runCollector(g, gctx, f, flags, contracts.CollectorNewsAPI, f.collectors.NewsAPI,
		func(v map[string][]contracts.NewsItem) { out.NewsNewsAPI = v })
	runCollector(g, gctx, f, flags, contracts.CollectorGlobalRSS, f.collectors.GlobalRSS,
		func(v []contracts.NewsItem) { out.NewsGlobalRSS = v })
	runCollector(g, gctx, f, flags, contracts.CollectorPrice, f.collectors.Price,
		func(v *contracts.PriceData) { out.PriceData = v })
	runCollector(g, gctx, f, flags, contracts.CollectorSectorETF, f.collectors.SectorETF,
		func(v []contracts.ScreenResult) { out.SectorETFData = v })
	runCollector(g, gctx, f, flags, contracts.CollectorShort, f.collectors.Short,
		func(v []contracts.ScreenResult) { out.ShortData = v })
	runCollector(g, gctx, f, flags, contracts.CollectorEventCalendar, f.collectors.EventCalendar,
		func(v []contracts.EventEntry) { out.EventCalendar = v })
	runCollector(g, gctx, f, flags, contracts.CollectorClosingStrength, f.collectors.ClosingStrength,
		func(v []contracts.ScreenResult) { out.ClosingStrengthResult = v })
	runCollector(g, gctx, f, flags, contracts.CollectorVolumeSurge, f.collectors.VolumeSurge,
		func(v []contracts.ScreenResult) { out.VolumeSurgeResult = v })
	runCollector(g, gctx, f, flags, contracts.CollectorFundConcentration, f.collectors.FundConcentration,
		func(v []contracts.ScreenResult) { out.FundConcentrationResult = v })

	// Collectors never propagate errors; Wait is for completion only.
	_ = g.Wait()

	out.SuccessFlags = flags.m
	SetCache(out)

	succeeded := 0
	for _, ok := range out.SuccessFlags {
		if ok {
			succeeded++
		}
	}
	f.logger.WithFields(map[string]interface{}{
		"succeeded": succeeded,
		"total":     len(contracts.CollectorNames),
		"duration":  fmt.Sprintf("%v", f.now().Sub(start)),
	}).Info("Data collection completed")

	// Raw-data summary is best effort; a sink failure is never fatal.
	if f.sink != nil {
		if err := f.sink.SendText(ctx, FormatSummary(out)); err != nil {
			f.logger.WithError(err).Warn("Raw-data summary send failed")
		}
	}

	return out, nil
}
