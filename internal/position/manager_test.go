package position

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/watchlist"
	"github.com/wonny/kairos/pkg/config"
	"github.com/wonny/kairos/pkg/database"
	"github.com/wonny/kairos/pkg/logger"
)

type fakeBroker struct {
	quotes    map[string]*contracts.Quote
	buyResult *contracts.OrderResult
	buyErr    error
	buyCalls  int
	sellCalls []string
	sellPrice int64
}

func (f *fakeBroker) GetPrice(_ context.Context, code string) (*contracts.Quote, error) {
	if q, ok := f.quotes[code]; ok {
		return q, nil
	}
	return &contracts.Quote{Code: code, Last: 10000}, nil
}

func (f *fakeBroker) GetOrderbook(context.Context, string) (*contracts.Orderbook, error) {
	return &contracts.Orderbook{}, nil
}

func (f *fakeBroker) GetVolumeRank(context.Context, string) ([]contracts.RankEntry, error) {
	return nil, nil
}

func (f *fakeBroker) GetChangeRank(context.Context, string) ([]contracts.RankEntry, error) {
	return nil, nil
}

func (f *fakeBroker) Buy(context.Context, string, int64) (*contracts.OrderResult, error) {
	f.buyCalls++
	if f.buyErr != nil {
		return nil, f.buyErr
	}
	if f.buyResult != nil {
		return f.buyResult, nil
	}
	return &contracts.OrderResult{Success: true, Qty: 10, BuyPrice: 10000, OrderNo: "0001"}, nil
}

func (f *fakeBroker) Sell(_ context.Context, code string, _ int) (*contracts.SellResult, error) {
	f.sellCalls = append(f.sellCalls, code)
	price := f.sellPrice
	if price == 0 {
		price = 10000
	}
	return &contracts.SellResult{Success: true, SellPrice: price, OrderNo: "0002"}, nil
}

func (f *fakeBroker) GetBalance(context.Context) (*contracts.Balance, error) {
	return &contracts.Balance{}, nil
}

func (f *fakeBroker) GetHoldingQty(context.Context, string) (int, error) { return 0, nil }

type fakeJournal struct {
	trades []*contracts.TradeRecord
}

func (f *fakeJournal) RecordTrade(_ context.Context, trade *contracts.TradeRecord) error {
	f.trades = append(f.trades, trade)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		TradingMode:        config.ModeVTS,
		AutoTradeEnabled:   true,
		BuyAmountKRW:       500_000,
		DailyLossLimitPct:  -5.0,
		PositionMaxBull:    5,
		PositionMaxNeutral: 3,
		PositionMaxBear:    2,
		TakeProfit1:        5.0,
		TakeProfit2:        10.0,
		StopLoss:           -3.0,
	}
}

func newTestManager(t *testing.T, broker *fakeBroker, journal contracts.JournalRecorder) (*Manager, *Repo) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitDB(context.Background()))

	watchlist.Clear()
	t.Cleanup(watchlist.Clear)

	repo := NewRepo(db)
	return NewManager(broker, repo, testConfig(), nil, journal, logger.Nop()), repo
}

func openTestPosition(t *testing.T, repo *Repo, tradingID, ticker string, buyPrice int64, pickType contracts.PickType, env contracts.MarketEnv) {
	t.Helper()
	require.NoError(t, repo.Open(context.Background(), &contracts.Position{
		TradingID:     tradingID,
		Ticker:        ticker,
		Name:          ticker,
		BuyTime:       time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC),
		BuyPrice:      buyPrice,
		Qty:           10,
		TriggerSource: contracts.TriggerWatchlist,
		Mode:          "VTS",
		PickType:      pickType,
		PeakPrice:     buyPrice,
		MarketEnv:     env,
	}, 2650.0))
}

func TestCanBuy_AutoTradeDisabled(t *testing.T) {
	m, _ := newTestManager(t, &fakeBroker{}, nil)
	m.cfg.AutoTradeEnabled = false

	ok, reason := m.CanBuy(context.Background(), "005930")
	assert.False(t, ok)
	assert.Contains(t, reason, "자동매매")
}

func TestCanBuy_AlreadyHeld(t *testing.T) {
	m, repo := newTestManager(t, &fakeBroker{}, nil)
	openTestPosition(t, repo, "t1", "005930", 70000, contracts.PickTypeSwing, contracts.EnvSideways)

	ok, reason := m.CanBuy(context.Background(), "005930")
	assert.False(t, ok)
	assert.Contains(t, reason, "보유")

	ok, _ = m.CanBuy(context.Background(), "000660")
	assert.True(t, ok)
}

func TestCanBuy_RegimeCaps(t *testing.T) {
	m, repo := newTestManager(t, &fakeBroker{}, nil)
	ctx := context.Background()

	openTestPosition(t, repo, "t1", "000001", 10000, contracts.PickTypeSwing, contracts.EnvSideways)
	openTestPosition(t, repo, "t2", "000002", 10000, contracts.PickTypeSwing, contracts.EnvSideways)

	// 약세장: 한도 2, 이미 2개 보유
	watchlist.SetMarketEnvFromKOSPI(-1.5)
	ok, reason := m.CanBuy(ctx, "005930")
	assert.False(t, ok)
	assert.Contains(t, reason, "한도")

	// 횡보: 한도 3
	watchlist.SetMarketEnvFromKOSPI(0.2)
	ok, _ = m.CanBuy(ctx, "005930")
	assert.True(t, ok)

	openTestPosition(t, repo, "t3", "000003", 10000, contracts.PickTypeSwing, contracts.EnvSideways)
	ok, _ = m.CanBuy(ctx, "005930")
	assert.False(t, ok)

	// 강세장: 한도 5
	watchlist.SetMarketEnvFromKOSPI(1.0)
	ok, _ = m.CanBuy(ctx, "005930")
	assert.True(t, ok)
}

func TestCanBuy_DailyLossLimitBoundary(t *testing.T) {
	m, repo := newTestManager(t, &fakeBroker{}, nil)
	ctx := context.Background()
	day := m.now()

	openTestPosition(t, repo, "t1", "000001", 10000, contracts.PickTypeSwing, contracts.EnvSideways)
	require.NoError(t, repo.Close(ctx, "t1", day, 9520, -4.8, -4800, contracts.CloseStopLoss))

	// -4.8% > -5.0% 한도: 아직 매수 가능
	ok, _ := m.CanBuy(ctx, "005930")
	assert.True(t, ok)

	// 경계값 정확히 -5.0%: 차단
	openTestPosition(t, repo, "t2", "000002", 10000, contracts.PickTypeSwing, contracts.EnvSideways)
	require.NoError(t, repo.Close(ctx, "t2", day, 9980, -0.2, -200, contracts.CloseStopLoss))

	ok, reason := m.CanBuy(ctx, "005930")
	assert.False(t, ok)
	assert.Contains(t, reason, "손실 한도")
}

func TestCanBuy_RiskRewardFilter(t *testing.T) {
	m, _ := newTestManager(t, &fakeBroker{}, nil)
	ctx := context.Background()

	// 목표 +3% / 손절 -3% → 손익비 1.0 미달
	watchlist.SetPicks([]contracts.Pick{
		{Rank: 1, StockCode: "005930", TargetReturn: "+3%", StopLoss: "-3%"},
		{Rank: 2, StockCode: "000660", TargetReturn: "+5%", StopLoss: "-3%"},
		{Rank: 3, StockCode: "035720", TargetReturn: "상한가", StopLoss: "47000원"},
	})

	ok, reason := m.CanBuy(ctx, "005930")
	assert.False(t, ok)
	assert.Contains(t, reason, "손익비")

	// 5/3 ≥ 1.5
	ok, _ = m.CanBuy(ctx, "000660")
	assert.True(t, ok)

	// 가격형 손절은 비율을 못 구하므로 통과
	ok, _ = m.CanBuy(ctx, "035720")
	assert.True(t, ok)

	// 픽 메타 없는 종목도 통과
	ok, _ = m.CanBuy(ctx, "068270")
	assert.True(t, ok)
}

func TestCanBuy_RealModeArming(t *testing.T) {
	m, _ := newTestManager(t, &fakeBroker{}, nil)
	m.cfg.TradingMode = config.ModeReal
	m.cfg.RealConfirmEnabled = true
	m.cfg.RealConfirmDelaySec = 300

	base := time.Date(2026, 8, 24, 8, 50, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	// Arm 호출 전: 차단
	ok, reason := m.CanBuy(context.Background(), "005930")
	assert.False(t, ok)
	assert.Contains(t, reason, "실전모드")

	m.Arm()

	// 지연 경과 전: 여전히 차단
	base = base.Add(4 * time.Minute)
	ok, _ = m.CanBuy(context.Background(), "005930")
	assert.False(t, ok)

	// 지연 경과 후: 허용
	base = base.Add(2 * time.Minute)
	ok, _ = m.CanBuy(context.Background(), "005930")
	assert.True(t, ok)
}

func TestOpenPosition_SnapshotsEntryState(t *testing.T) {
	broker := &fakeBroker{buyResult: &contracts.OrderResult{Success: true, Qty: 7, BuyPrice: 71000, OrderNo: "0001"}}
	m, repo := newTestManager(t, broker, nil)
	ctx := context.Background()

	watchlist.SetMarketEnvFromKOSPI(1.2)
	watchlist.SetKOSPI(2712.34)
	watchlist.SetSectorMap(map[string]string{"005930": "반도체"})
	watchlist.SetPicks([]contracts.Pick{
		{Rank: 1, StockCode: "005930", Category: contracts.CategoryFiling, TargetReturn: "+5%", StopLoss: "68000원"},
	})

	alert := &contracts.IntradayAlert{
		StockCode: "005930",
		StockName: "삼성전자",
		Source:    contracts.TriggerWatchlist,
	}
	pos, err := m.OpenPosition(ctx, alert)
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, 1, broker.buyCalls)
	assert.Equal(t, int64(71000), pos.BuyPrice)
	assert.Equal(t, contracts.PickTypeDayTrade, pos.PickType)
	assert.Equal(t, int64(68000), pos.StopLoss)
	assert.Equal(t, contracts.EnvBull, pos.MarketEnv)
	assert.Equal(t, "반도체", pos.Sector)

	open, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, pos.TradingID, open[0].TradingID)

	var kospi float64
	require.NoError(t, repo.db.SQL().QueryRow(
		`SELECT buy_kospi FROM trading_history WHERE trading_id = ?`, pos.TradingID).Scan(&kospi))
	assert.InDelta(t, 2712.34, kospi, 0.001)
}

func TestOpenPosition_RejectedWithoutBrokerCall(t *testing.T) {
	broker := &fakeBroker{}
	m, _ := newTestManager(t, broker, nil)
	m.cfg.AutoTradeEnabled = false

	pos, err := m.OpenPosition(context.Background(), &contracts.IntradayAlert{StockCode: "005930"})
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Zero(t, broker.buyCalls)
}

func TestCheckExit_LadderOrder(t *testing.T) {
	cases := []struct {
		name   string
		buy    int64
		last   int64
		reason contracts.CloseReason
	}{
		{"take_profit_2 wins at +10%", 10000, 11000, contracts.CloseTakeProfit2},
		{"take_profit_1 at +5%", 10000, 10500, contracts.CloseTakeProfit1},
		{"stop_loss at -3%", 10000, 9700, contracts.CloseStopLoss},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broker := &fakeBroker{
				quotes:    map[string]*contracts.Quote{"005930": {Code: "005930", Last: tc.last}},
				sellPrice: tc.last,
			}
			journal := &fakeJournal{}
			m, repo := newTestManager(t, broker, journal)
			ctx := context.Background()

			openTestPosition(t, repo, "t1", "005930", tc.buy, contracts.PickTypeSwing, contracts.EnvSideways)
			require.NoError(t, m.CheckExit(ctx))

			require.Len(t, journal.trades, 1)
			assert.Equal(t, tc.reason, journal.trades[0].CloseReason)

			open, err := repo.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, open)
		})
	}
}

func TestCheckExit_TrailingStopRatios(t *testing.T) {
	// 고점 11000 기록 후 하락. 강세장 비율 0.92 → 10120 이하에서 발동,
	// 그 외 0.95 → 10450 이하에서 발동.
	cases := []struct {
		name  string
		env   contracts.MarketEnv
		last  int64
		fires bool
	}{
		{"bull fires at 92% of peak", contracts.EnvBull, 10100, true},
		{"bull holds above 92%", contracts.EnvBull, 10200, false},
		{"sideways fires at 95% of peak", contracts.EnvSideways, 10400, true},
		{"sideways holds above 95%", contracts.EnvSideways, 10460, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broker := &fakeBroker{
				quotes:    map[string]*contracts.Quote{"005930": {Code: "005930", Last: tc.last}},
				sellPrice: tc.last,
			}
			journal := &fakeJournal{}
			m, repo := newTestManager(t, broker, journal)
			ctx := context.Background()

			openTestPosition(t, repo, "t1", "005930", 10000, contracts.PickTypeSwing, tc.env)
			require.NoError(t, repo.UpdatePeak(ctx, "t1", 11000))

			require.NoError(t, m.CheckExit(ctx))

			if tc.fires {
				require.Len(t, journal.trades, 1)
				assert.Equal(t, contracts.CloseTrailingStop, journal.trades[0].CloseReason)
			} else {
				assert.Empty(t, journal.trades)
			}
		})
	}
}

func TestCheckExit_FreshPositionCannotTrail(t *testing.T) {
	// 고점이 매수가와 같으면 (갱신된 적 없으면) 트레일링은 무자격
	broker := &fakeBroker{
		quotes: map[string]*contracts.Quote{"005930": {Code: "005930", Last: 9800}},
	}
	journal := &fakeJournal{}
	m, repo := newTestManager(t, broker, journal)

	openTestPosition(t, repo, "t1", "005930", 10000, contracts.PickTypeSwing, contracts.EnvBull)
	require.NoError(t, m.CheckExit(context.Background()))

	// -2%는 손절선(-3%) 위이고 트레일링도 발동 불가
	assert.Empty(t, journal.trades)
}

func TestCheckExit_PriceStopLoss(t *testing.T) {
	broker := &fakeBroker{
		quotes:    map[string]*contracts.Quote{"005930": {Code: "005930", Last: 9850}},
		sellPrice: 9850,
	}
	journal := &fakeJournal{}
	m, repo := newTestManager(t, broker, journal)
	ctx := context.Background()

	// -1.5%라 비율 손절에는 안 걸리지만 손절가 9900원 하회
	require.NoError(t, repo.Open(ctx, &contracts.Position{
		TradingID: "t1", Ticker: "005930", Name: "삼성전자",
		BuyTime: time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC),
		BuyPrice: 10000, Qty: 10, Mode: "VTS",
		PickType: contracts.PickTypeSwing, PeakPrice: 10000, StopLoss: 9900,
	}, 2650.0))

	require.NoError(t, m.CheckExit(ctx))
	require.Len(t, journal.trades, 1)
	assert.Equal(t, contracts.CloseStopLoss, journal.trades[0].CloseReason)
}

func TestForceCloseAll_DayTradeOnly(t *testing.T) {
	broker := &fakeBroker{}
	journal := &fakeJournal{}
	m, repo := newTestManager(t, broker, journal)
	ctx := context.Background()

	openTestPosition(t, repo, "t1", "000001", 10000, contracts.PickTypeDayTrade, contracts.EnvSideways)
	openTestPosition(t, repo, "t2", "000002", 10000, contracts.PickTypeSwing, contracts.EnvSideways)

	require.NoError(t, m.ForceCloseAll(ctx))

	assert.Equal(t, []string{"000001"}, broker.sellCalls)
	require.Len(t, journal.trades, 1)
	assert.Equal(t, contracts.CloseForce, journal.trades[0].CloseReason)

	open, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "000002", open[0].Ticker)

	// 최종 청산은 스윙까지 전부
	require.NoError(t, m.FinalCloseAll(ctx))
	open, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Equal(t, contracts.CloseFinal, journal.trades[len(journal.trades)-1].CloseReason)
}

func TestRepo_CloseIsIdempotentGuarded(t *testing.T) {
	_, repo := newTestManager(t, &fakeBroker{}, nil)
	ctx := context.Background()

	openTestPosition(t, repo, "t1", "005930", 10000, contracts.PickTypeSwing, contracts.EnvSideways)
	require.NoError(t, repo.Close(ctx, "t1", time.Now(), 10500, 5.0, 5000, contracts.CloseTakeProfit1))

	// 같은 trading_id 재청산은 거부
	err := repo.Close(ctx, "t1", time.Now(), 10600, 6.0, 6000, contracts.CloseManual)
	assert.Error(t, err)
}

func TestProfitRate(t *testing.T) {
	assert.InDelta(t, 5.0, profitRate(10000, 10500), 0.001)
	assert.InDelta(t, -3.0, profitRate(10000, 9700), 0.001)
	assert.InDelta(t, 0.33, profitRate(30000, 30100), 0.001)
	assert.Zero(t, profitRate(0, 100))
}
