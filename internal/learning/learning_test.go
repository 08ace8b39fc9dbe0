package learning

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/pkg/database"
	"github.com/wonny/kairos/pkg/logger"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitDB(context.Background()))
	return db
}

type fakeLLM struct {
	answer string
	err    error
	calls  int
}

func (f *fakeLLM) GenerateJSON(context.Context, string) (string, error) {
	f.calls++
	return f.answer, f.err
}

func (f *fakeLLM) Available() bool { return true }

func insertTrade(t *testing.T, db *database.DB, tradingID, source string, sellDate string, profit float64, reason contracts.CloseReason, kospi float64) {
	t.Helper()
	_, err := db.SQL().Exec(
		`INSERT INTO trading_history
		 (trading_id, ticker, name, buy_time, buy_price, qty, trigger_source, mode, pick_type, buy_kospi, sell_time, sell_price, profit_rate, profit_amount, close_reason)
		 VALUES (?, '005930', '삼성전자', ?, 10000, 10, ?, 'VTS', 'swing', ?, ?, 10000, ?, 0, ?)`,
		tradingID,
		sellDate+"T09:30:00+09:00",
		source, kospi,
		sellDate+"T14:00:00+09:00",
		profit, string(reason))
	require.NoError(t, err)
}

func TestPatternTags_Rules(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 30, 0, 0, market.KST)

	cases := []struct {
		name  string
		trade contracts.TradeRecord
		want  []string
	}{
		{
			name: "bull entry with trailing stop",
			trade: contracts.TradeRecord{
				MarketEnv: contracts.EnvBull, CloseReason: contracts.CloseTrailingStop,
				BuyTime: base, SellTime: base.Add(time.Hour),
			},
			want: []string{"강세장진입", "트레일링스탑작동"},
		},
		{
			name: "late stop loss",
			trade: contracts.TradeRecord{
				MarketEnv: contracts.EnvSideways, CloseReason: contracts.CloseStopLoss,
				ProfitRate: -6.2, BuyTime: base, SellTime: base.Add(time.Hour),
			},
			want: []string{"손절실행", "손절지연"},
		},
		{
			name: "overheld day trade force-closed at a loss",
			trade: contracts.TradeRecord{
				MarketEnv: contracts.EnvBear, CloseReason: contracts.CloseForce,
				ProfitRate: -1.1, PickType: contracts.PickTypeDayTrade,
				BuyTime: base, SellTime: base.Add(5 * time.Hour),
			},
			want: []string{"약세장진입", "강제청산손실", "데이트레이드장기보유"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PatternTags(&tc.trade))
		})
	}
}

func TestJournal_RecordTrade(t *testing.T) {
	db := newTestDB(t)
	llm := &fakeLLM{answer: `{"situation_analysis": "강세장 갭상승", "judgment_evaluation": "진입 타당", "lessons": "추격 금지", "extra_tags": ["갭상승추격"], "one_line_summary": "강세장 트레일링 익절"}`}
	j := NewJournal(db, llm, logger.Nop())

	base := time.Date(2026, 8, 24, 9, 30, 0, 0, market.KST)
	require.NoError(t, j.RecordTrade(context.Background(), &contracts.TradeRecord{
		TradingID: "t1", Ticker: "005930", Name: "삼성전자",
		MarketEnv: contracts.EnvBull, CloseReason: contracts.CloseTrailingStop,
		ProfitRate: 4.2, BuyTime: base, SellTime: base.Add(2 * time.Hour),
	}))

	var tags, lessons, summary string
	require.NoError(t, db.SQL().QueryRow(
		`SELECT pattern_tags, lessons, one_line_summary FROM trading_journal WHERE trading_id = 't1'`).
		Scan(&tags, &lessons, &summary))
	assert.Contains(t, tags, "트레일링스탑작동")
	assert.Contains(t, tags, "갭상승추격")
	assert.Equal(t, "추격 금지", lessons)
	assert.Equal(t, "강세장 트레일링 익절", summary)
}

func TestJournal_LLMFailureKeepsRow(t *testing.T) {
	db := newTestDB(t)
	llm := &fakeLLM{err: assert.AnError}
	j := NewJournal(db, llm, logger.Nop())

	base := time.Date(2026, 8, 24, 9, 30, 0, 0, market.KST)
	require.NoError(t, j.RecordTrade(context.Background(), &contracts.TradeRecord{
		TradingID: "t1", Ticker: "005930", Name: "삼성전자",
		CloseReason: contracts.CloseTakeProfit1, ProfitRate: 5.1,
		BuyTime: base, SellTime: base.Add(time.Hour),
	}))

	var tags string
	require.NoError(t, db.SQL().QueryRow(
		`SELECT pattern_tags FROM trading_journal WHERE trading_id = 't1'`).Scan(&tags))
	assert.Contains(t, tags, "익절성공")
}

func TestPrinciples_SampleFloor(t *testing.T) {
	db := newTestDB(t)
	p := NewPrinciples(db, logger.Nop())
	ctx := context.Background()

	// rate: 6건 (4승) → 승격, volume: 2건 → 미승격
	for i := 0; i < 4; i++ {
		insertTrade(t, db, "r"+string(rune('0'+i)), "rate", "2026-08-20", 5.0, contracts.CloseTakeProfit1, 2650)
	}
	insertTrade(t, db, "r4", "rate", "2026-08-20", -3.0, contracts.CloseStopLoss, 2650)
	insertTrade(t, db, "r5", "rate", "2026-08-20", -1.0, contracts.CloseFinal, 2650)
	insertTrade(t, db, "v0", "volume", "2026-08-20", 5.0, contracts.CloseTakeProfit1, 2650)
	insertTrade(t, db, "v1", "volume", "2026-08-20", 6.0, contracts.CloseTakeProfit2, 2650)

	require.NoError(t, p.Extract(ctx))

	principles, err := p.List(ctx)
	require.NoError(t, err)
	require.Len(t, principles, 1, "표본 미달 그룹은 INSERT되지 않는다")

	pr := principles[0]
	assert.Equal(t, "rate", pr.TriggerSource)
	assert.Equal(t, 6, pr.TotalTrades)
	assert.Equal(t, 4, pr.Wins)
	assert.InDelta(t, 66.67, pr.WinRate, 0.01)
	assert.Equal(t, "high", pr.Confidence)
}

func TestPrinciples_BelowFloorUpdatesExisting(t *testing.T) {
	db := newTestDB(t)
	p := NewPrinciples(db, logger.Nop())
	ctx := context.Background()

	_, err := db.SQL().Exec(
		`INSERT INTO trading_principles (trigger_source, action, total_trades, wins, win_rate, confidence, last_updated)
		 VALUES ('volume', 'buy', 10, 7, 70.0, 'high', '2026-08-01T00:00:00+09:00')`)
	require.NoError(t, err)

	insertTrade(t, db, "v0", "volume", "2026-08-20", -3.0, contracts.CloseStopLoss, 2650)
	insertTrade(t, db, "v1", "volume", "2026-08-20", 5.0, contracts.CloseTakeProfit1, 2650)

	require.NoError(t, p.Extract(ctx))

	principles, err := p.List(ctx)
	require.NoError(t, err)
	require.Len(t, principles, 1)
	assert.Equal(t, 2, principles[0].TotalTrades)
	assert.Equal(t, "medium", principles[0].Confidence)
}

func TestConfidenceBuckets(t *testing.T) {
	assert.Equal(t, "high", confidence(65))
	assert.Equal(t, "medium", confidence(50))
	assert.Equal(t, "medium", confidence(64.9))
	assert.Equal(t, "low", confidence(49.9))
}

func TestCompressor_Layers(t *testing.T) {
	db := newTestDB(t)
	c := NewCompressor(db, nil, logger.Nop())
	today := time.Date(2026, 8, 24, 3, 30, 0, 0, market.KST)
	c.now = func() time.Time { return today }
	ctx := context.Background()

	insert := func(id, date string) {
		_, err := db.SQL().Exec(
			`INSERT INTO trading_journal
			 (trade_date, trading_id, ticker, name, profit_rate, close_reason, situation_analysis, judgment_evaluation, lessons, pattern_tags, compression_layer, created_at)
			 VALUES (?, ?, '005930', '삼성전자', 4.2, 'take_profit_1', '상황', '판단', '교훈', '익절성공', 1, ?)`,
			date, id, date+"T15:00:00+09:00")
		require.NoError(t, err)
	}

	insert("fresh", "20260822")  // 2일 전: layer 1 유지
	insert("mid", "20260810")    // 14일 전: layer 2
	insert("old", "20260701")    // 54일 전: layer 2 → 3
	insert("ancient", "20260501") // 115일 전: layer 3 + 요약 제거

	// 첫 실행: 8일 이상 된 행이 모두 layer 2로
	require.NoError(t, c.Run(ctx))
	// 두 번째 실행: layer 2 중 31일 이상이 layer 3으로
	require.NoError(t, c.Run(ctx))

	layer := func(id string) int {
		var l int
		require.NoError(t, db.SQL().QueryRow(
			`SELECT compression_layer FROM trading_journal WHERE trading_id = ?`, id).Scan(&l))
		return l
	}

	assert.Equal(t, 1, layer("fresh"))
	assert.Equal(t, 2, layer("mid"))
	assert.Equal(t, 3, layer("old"))
	assert.Equal(t, 3, layer("ancient"))

	var situation, summary string
	require.NoError(t, db.SQL().QueryRow(
		`SELECT situation_analysis, summary_text FROM trading_journal WHERE trading_id = 'old'`).
		Scan(&situation, &summary))
	assert.Empty(t, situation, "layer 3은 본문을 비운다")
	assert.NotEmpty(t, summary)

	require.NoError(t, db.SQL().QueryRow(
		`SELECT summary_text FROM trading_journal WHERE trading_id = 'ancient'`).Scan(&summary))
	assert.Empty(t, summary, "90일 이상은 요약도 비운다")

	// layer 2 요약은 규칙 기반 폴백 형태
	require.NoError(t, db.SQL().QueryRow(
		`SELECT summary_text FROM trading_journal WHERE trading_id = 'mid'`).Scan(&summary))
	assert.True(t, strings.Contains(summary, "삼성전자"))
}

func TestCompressor_IndexStats(t *testing.T) {
	db := newTestDB(t)
	c := NewCompressor(db, nil, logger.Nop())
	ctx := context.Background()

	insertTrade(t, db, "t1", "rate", "2026-08-20", 5.0, contracts.CloseTakeProfit1, 2650)
	insertTrade(t, db, "t2", "rate", "2026-08-20", -3.0, contracts.CloseStopLoss, 2710)
	insertTrade(t, db, "t3", "rate", "2026-08-20", 6.0, contracts.CloseTakeProfit2, 2450)
	insertTrade(t, db, "t4", "rate", "2026-08-20", 2.0, contracts.CloseFinal, 0) // 지수 없음: 제외

	require.NoError(t, c.UpdateIndexStats(ctx))

	var trades, wins int
	var winRate, avgProfit float64
	require.NoError(t, db.SQL().QueryRow(
		`SELECT trades, wins, win_rate, avg_profit FROM kospi_index_stats WHERE band = '2600-2800'`).
		Scan(&trades, &wins, &winRate, &avgProfit))
	assert.Equal(t, 2, trades)
	assert.Equal(t, 1, wins)
	assert.InDelta(t, 50.0, winRate, 0.001)
	assert.InDelta(t, 1.0, avgProfit, 0.001)

	require.NoError(t, db.SQL().QueryRow(
		`SELECT trades FROM kospi_index_stats WHERE band = '2400-2600'`).Scan(&trades))
	assert.Equal(t, 1, trades)

	var bandCount int
	require.NoError(t, db.SQL().QueryRow(`SELECT COUNT(*) FROM kospi_index_stats`).Scan(&bandCount))
	assert.Equal(t, 2, bandCount)
}

func TestKospiBand(t *testing.T) {
	assert.Equal(t, "2600-2800", kospiBand(2650.5))
	assert.Equal(t, "2600-2800", kospiBand(2600))
	assert.Equal(t, "2400-2600", kospiBand(2599.9))
}

func TestThemes_AccuracyAndWeights(t *testing.T) {
	db := newTestDB(t)
	th := NewThemes(db, logger.Nop())
	ctx := context.Background()

	require.NoError(t, th.RecordEvent(ctx, "20260820", "2차전지", "정책발표", []string{"000001", "000002"}, "보조금 확대"))

	insertPattern := func(code string, hit20 bool) {
		h := 0
		if hit20 {
			h = 1
		}
		_, err := db.SQL().Exec(
			`INSERT INTO rag_patterns (date, signal_type, stock_code, stock_name, cap_tier, was_picked, max_return, hit_20pct)
			 VALUES ('20260820', '테마', ?, ?, '중형', 1, 10.0, ?)`, code, code, h)
		require.NoError(t, err)
	}
	insertPattern("000001", true)
	insertPattern("000002", false)

	require.NoError(t, th.UpdateAccuracy(ctx))

	var picks, hits int
	var rate float64
	require.NoError(t, db.SQL().QueryRow(
		`SELECT picks, hits, hit_rate FROM theme_accuracy WHERE theme = '2차전지'`).
		Scan(&picks, &hits, &rate))
	assert.Equal(t, 2, picks)
	assert.Equal(t, 1, hits)
	assert.InDelta(t, 50.0, rate, 0.001)

	require.NoError(t, th.UpdateSignalWeights(ctx))

	var weight float64
	require.NoError(t, db.SQL().QueryRow(
		`SELECT weight FROM signal_weights WHERE signal_type = '테마'`).Scan(&weight))
	assert.InDelta(t, 1.0, weight, 0.001) // 0.5 + 1/2
}
