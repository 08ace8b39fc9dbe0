package intraday

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/watchlist"
	"github.com/wonny/kairos/pkg/config"
	"github.com/wonny/kairos/pkg/logger"
)

// fakeBroker serves scripted quotes and counts calls.
type fakeBroker struct {
	quotes     map[string]*contracts.Quote
	orderbook  *contracts.Orderbook
	priceCalls int
	bookCalls  int
}

func (f *fakeBroker) GetPrice(ctx context.Context, code string) (*contracts.Quote, error) {
	f.priceCalls++
	return f.quotes[code], nil
}

func (f *fakeBroker) GetOrderbook(ctx context.Context, code string) (*contracts.Orderbook, error) {
	f.bookCalls++
	return f.orderbook, nil
}

func (f *fakeBroker) GetVolumeRank(ctx context.Context, market string) ([]contracts.RankEntry, error) {
	return nil, nil
}

func (f *fakeBroker) GetChangeRank(ctx context.Context, market string) ([]contracts.RankEntry, error) {
	return nil, nil
}

func (f *fakeBroker) Buy(ctx context.Context, code string, amountKRW int64) (*contracts.OrderResult, error) {
	return &contracts.OrderResult{Success: true}, nil
}

func (f *fakeBroker) Sell(ctx context.Context, code string, qty int) (*contracts.SellResult, error) {
	return &contracts.SellResult{Success: true}, nil
}

func (f *fakeBroker) GetBalance(ctx context.Context) (*contracts.Balance, error) {
	return &contracts.Balance{}, nil
}

func (f *fakeBroker) GetHoldingQty(ctx context.Context, code string) (int, error) { return 0, nil }

func testConfig() *config.Config {
	return &config.Config{
		PollIntervalSec:     20,
		PriceDeltaMin:       1.0,
		VolumeDeltaMin:      30.0,
		ConfirmCandles:      2,
		MinChangeRate:       3.0,
		OrderbookBidAskGood: 1.5,
		OrderbookBidAskMin:  1.1,
		OrderbookTop3Min:    0.5,
	}
}

func setupWatchlist(t *testing.T) {
	t.Helper()
	watchlist.Clear()
	t.Cleanup(watchlist.Clear)
	watchlist.Set(map[string]contracts.WatchlistEntry{
		"123450": {Name: "알파", PrevDayVolume: 1_000_000, Category: contracts.CategoryTheme},
	})
}

func newTestWatcher(broker contracts.Broker) *Watcher {
	w := NewWatcher(broker, nil, nil, testConfig(), logger.Nop())
	w.now = func() time.Time { return time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC) }
	return w
}

func TestRunCycle_EmptyWatchlistNoBrokerCalls(t *testing.T) {
	watchlist.Clear()
	t.Cleanup(watchlist.Clear)

	broker := &fakeBroker{}
	w := newTestWatcher(broker)

	alerts, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)
	assert.Zero(t, broker.priceCalls, "empty watchlist must not touch the broker")
}

func TestRunCycle_WarmupEmitsNothing(t *testing.T) {
	setupWatchlist(t)
	broker := &fakeBroker{quotes: map[string]*contracts.Quote{
		"123450": {Code: "123450", Last: 10_000, ChangeRate: 29.8, CumVolume: 2_000_000},
	}}
	w := newTestWatcher(broker)

	// 첫 사이클은 기준 스냅샷만 잡는다: 상한가 인접이어도 침묵
	alerts, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)

	alerts, err = w.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, contracts.AlertPriceTarget, alerts[0].AlertType)
}

func TestMilestone_OncePerDay(t *testing.T) {
	setupWatchlist(t)
	broker := &fakeBroker{quotes: map[string]*contracts.Quote{
		"123450": {Code: "123450", Last: 13_000, ChangeRate: 29.6, CumVolume: 2_000_000},
	}}
	w := newTestWatcher(broker)

	_, _ = w.RunCycle(context.Background()) // warm-up
	alerts, _ := w.RunCycle(context.Background())
	require.Len(t, alerts, 1)

	alerts, _ = w.RunCycle(context.Background())
	assert.Empty(t, alerts, "milestone must fire at most once per ticker per day")

	// Reset 후 재발화 가능 (다음 거래일)
	w.Reset()
	_, _ = w.RunCycle(context.Background()) // warm-up again
	alerts, _ = w.RunCycle(context.Background())
	assert.Len(t, alerts, 1)
}

func TestMilestone_TargetAt90Percent(t *testing.T) {
	setupWatchlist(t)
	watchlist.SetPicks([]contracts.Pick{{
		StockCode: "123450", StockName: "알파", TargetReturn: "+10%", StopLoss: "-3%",
	}})

	// 목표 +10%의 90% = +9.0%에서 발화
	broker := &fakeBroker{quotes: map[string]*contracts.Quote{
		"123450": {Code: "123450", Last: 10_900, ChangeRate: 9.0, CumVolume: 1_100_000},
	}}
	w := newTestWatcher(broker)

	_, _ = w.RunCycle(context.Background())
	alerts, _ := w.RunCycle(context.Background())
	require.Len(t, alerts, 1)
	assert.Equal(t, contracts.AlertPriceTarget, alerts[0].AlertType)
	assert.Equal(t, "09:30:00", alerts[0].DetectedAt)
	assert.True(t, alerts[0].ConditionMet)
}

func TestMilestone_StopLossByWonPrice(t *testing.T) {
	setupWatchlist(t)
	watchlist.SetPicks([]contracts.Pick{{
		StockCode: "123450", StockName: "알파", TargetReturn: "+10%", StopLoss: "9,500원",
	}})

	broker := &fakeBroker{quotes: map[string]*contracts.Quote{
		"123450": {Code: "123450", Last: 9_400, ChangeRate: -2.0, CumVolume: 1_100_000},
	}}
	w := newTestWatcher(broker)

	_, _ = w.RunCycle(context.Background())
	alerts, _ := w.RunCycle(context.Background())
	require.Len(t, alerts, 1)
	assert.Equal(t, contracts.AlertPriceStop, alerts[0].AlertType)
}

func TestMomentum_RequiresConfirmCandles(t *testing.T) {
	setupWatchlist(t)
	// 유동성 큰 종목: 전일 거래량 대비라면 누적 증가가 한참 못 미치는 수치
	watchlist.Set(map[string]contracts.WatchlistEntry{
		"123450": {Name: "알파", PrevDayVolume: 50_000_000, Category: contracts.CategoryTheme},
	})
	broker := &fakeBroker{quotes: map[string]*contracts.Quote{
		"123450": {Code: "123450", Last: 10_000, ChangeRate: 0.5, CumVolume: 100_000},
	}}
	w := newTestWatcher(broker)

	step := func(rate float64, vol int64) []contracts.IntradayAlert {
		broker.quotes["123450"] = &contracts.Quote{Code: "123450", Last: 10_000, ChangeRate: rate, CumVolume: vol}
		alerts, err := w.RunCycle(context.Background())
		require.NoError(t, err)
		return alerts
	}

	step(0.5, 100_000) // warm-up baseline

	// 1차 충족 (Δrate=1.2 ≥ 1.0, Δvol=400k/직전누적 100k=400% ≥ 30%): 아직 확인봉 1개
	assert.Empty(t, step(1.7, 500_000))

	// 2차 충족 (Δvol=400k/500k=80%): CONFIRM_CANDLES=2 도달 → 발화
	alerts := step(2.9, 900_000)
	require.Len(t, alerts, 1)
	assert.Equal(t, contracts.AlertMomentum, alerts[0].AlertType)
	assert.InDelta(t, 1.2, alerts[0].DeltaRate, 1e-9)
}

func TestMomentum_ZeroPriorVolumeSafe(t *testing.T) {
	setupWatchlist(t)
	broker := &fakeBroker{quotes: map[string]*contracts.Quote{
		"123450": {Code: "123450", Last: 10_000, ChangeRate: 0.0, CumVolume: 0},
	}}
	w := newTestWatcher(broker)

	step := func(rate float64, vol int64) []contracts.IntradayAlert {
		broker.quotes["123450"] = &contracts.Quote{Code: "123450", Last: 10_000, ChangeRate: rate, CumVolume: vol}
		alerts, _ := w.RunCycle(context.Background())
		return alerts
	}

	step(0.0, 0) // warm-up, 직전 누적 0
	assert.Empty(t, step(1.5, 300_000))
	assert.Empty(t, step(3.0, 600_000)) // 확인봉은 2차부터 쌓인다
	alerts := step(4.5, 1_200_000)
	require.Len(t, alerts, 1)
	assert.Equal(t, contracts.AlertMomentum, alerts[0].AlertType)
}

func TestMomentum_StreakResetsOnQuietCycle(t *testing.T) {
	setupWatchlist(t)
	broker := &fakeBroker{quotes: map[string]*contracts.Quote{}}
	w := newTestWatcher(broker)

	step := func(rate float64, vol int64) []contracts.IntradayAlert {
		broker.quotes["123450"] = &contracts.Quote{Code: "123450", Last: 10_000, ChangeRate: rate, CumVolume: vol}
		alerts, _ := w.RunCycle(context.Background())
		return alerts
	}

	step(0.5, 100_000)                  // warm-up
	assert.Empty(t, step(1.7, 500_000)) // streak 1
	assert.Empty(t, step(1.8, 510_000)) // 조용한 사이클: streak 리셋
	assert.Empty(t, step(3.0, 920_000)) // streak 1 (다시)
}

func TestBidWall_StrongBookFires(t *testing.T) {
	setupWatchlist(t)
	broker := &fakeBroker{
		quotes: map[string]*contracts.Quote{
			"123450": {Code: "123450", Last: 10_400, ChangeRate: 4.0, CumVolume: 1_200_000},
		},
		orderbook: &contracts.Orderbook{
			Asks:     []contracts.OrderbookLevel{{Price: 10410, Qty: 300}, {Price: 10420, Qty: 200}, {Price: 10430, Qty: 100}},
			Bids:     []contracts.OrderbookLevel{{Price: 10400, Qty: 900}},
			TotalBid: 15_000,
			TotalAsk: 9_000, // ratio 1.67 ≥ 1.5 → 강세
		},
	}
	w := newTestWatcher(broker)

	_, _ = w.RunCycle(context.Background())
	alerts, _ := w.RunCycle(context.Background())
	require.Len(t, alerts, 1)
	assert.Equal(t, contracts.AlertBidWall, alerts[0].AlertType)
	require.NotNil(t, alerts[0].OrderbookAnalysis)
	assert.Equal(t, contracts.OrderbookStrong, alerts[0].OrderbookAnalysis.Label)

	// 같은 분 내 재발화 금지
	alerts, _ = w.RunCycle(context.Background())
	assert.Empty(t, alerts)
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	setupWatchlist(t)
	// 상한가 인접 + 강세 호가: 마일스톤과 매수벽 조건이 동시에 참
	broker := &fakeBroker{
		quotes: map[string]*contracts.Quote{
			"123450": {Code: "123450", Last: 12_980, ChangeRate: 29.8, CumVolume: 2_000_000},
		},
		orderbook: &contracts.Orderbook{TotalBid: 15_000, TotalAsk: 9_000},
	}
	w := newTestWatcher(broker)

	_, _ = w.RunCycle(context.Background())
	alerts, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1, "a ticker emits at most one alert per cycle")
	assert.Equal(t, contracts.AlertPriceTarget, alerts[0].AlertType)
	assert.Zero(t, broker.bookCalls, "later checks must not run after a match")
}

func TestHandleTick_NonPickDropped(t *testing.T) {
	setupWatchlist(t)
	broker := &fakeBroker{}
	w := newTestWatcher(broker)

	w.HandleTick(context.Background(), contracts.TickData{Code: "999990", Price: 1000, ChangeRate: 29.9})
	assert.Zero(t, broker.bookCalls)
	w.mu.Lock()
	_, tracked := w.prev["999990"]
	w.mu.Unlock()
	assert.False(t, tracked, "non-pick tickers must leave no state behind")
}

func TestAnalyzeOrderbook_Labels(t *testing.T) {
	cfg := testConfig()

	strong := AnalyzeOrderbook(&contracts.Orderbook{TotalBid: 150, TotalAsk: 100}, cfg)
	assert.Equal(t, contracts.OrderbookStrong, strong.Label)

	// ratio 1.2 ≥ 1.1 이고 상위3 집중 0.6 ≥ 0.5 → 강세
	thin := AnalyzeOrderbook(&contracts.Orderbook{
		Asks:     []contracts.OrderbookLevel{{Qty: 30}, {Qty: 20}, {Qty: 10}},
		TotalBid: 120, TotalAsk: 100,
	}, cfg)
	assert.Equal(t, contracts.OrderbookStrong, thin.Label)

	weak := AnalyzeOrderbook(&contracts.Orderbook{TotalBid: 70, TotalAsk: 100}, cfg)
	assert.Equal(t, contracts.OrderbookWeak, weak.Label)

	neutral := AnalyzeOrderbook(&contracts.Orderbook{TotalBid: 100, TotalAsk: 100}, cfg)
	assert.Equal(t, contracts.OrderbookNeutral, neutral.Label)

	empty := AnalyzeOrderbook(nil, cfg)
	assert.Equal(t, contracts.OrderbookNeutral, empty.Label)
}

func TestParseTargetAndStop(t *testing.T) {
	pct, ok := contracts.ParseTargetReturn("+5%")
	require.True(t, ok)
	assert.InDelta(t, 5.0, pct, 1e-9)

	pct, ok = contracts.ParseTargetReturn("상한가")
	require.True(t, ok)
	assert.InDelta(t, 29.5, pct, 1e-9)

	_, ok = contracts.ParseTargetReturn("")
	assert.False(t, ok)

	sPct, sPrice, ok := contracts.ParseStopLoss("-3%")
	require.True(t, ok)
	assert.InDelta(t, -3.0, sPct, 1e-9)
	assert.Zero(t, sPrice)

	_, sPrice, ok = contracts.ParseStopLoss("47000원")
	require.True(t, ok)
	assert.Equal(t, int64(47000), sPrice)

	_, _, ok = contracts.ParseStopLoss("+3%")
	assert.False(t, ok, "a positive stop is nonsense")
}
