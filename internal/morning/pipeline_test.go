package morning

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/ragstore"
	"github.com/wonny/kairos/pkg/database"
	"github.com/wonny/kairos/pkg/logger"
)

// fakeLLM replays canned answers per call, in order.
type fakeLLM struct {
	answers []string
	errs    []error
	calls   int
	prompts []string
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.answers) {
		return f.answers[i], nil
	}
	return "", errors.New("no more answers")
}

func (f *fakeLLM) Available() bool { return true }

func newTestPipeline(t *testing.T, llm contracts.LLM) (*Pipeline, *database.DB) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitDB(context.Background()))

	return NewPipeline(llm, ragstore.NewStore(db, logger.Nop()), NewPickRepo(db), logger.Nop()), db
}

func testCache() *contracts.DailyCache {
	cache := contracts.NewDailyCache()
	cache.DartData = []contracts.Filing{{StockCode: "123450", StockName: "알파", Title: "단일판매공급계약 체결"}}
	cache.PriceData = &contracts.PriceData{
		ByCode: map[string]contracts.StockSnapshot{
			"123450": {Code: "123450", Name: "알파", MarketCap: 50_000_000_000}, // 소형_1000억미만
		},
		ByName: map[string]contracts.StockSnapshot{
			"알파": {Code: "123450", Name: "알파", MarketCap: 50_000_000_000},
		},
	}
	cache.MarketData.USMarket.Sectors = []contracts.SectorMove{
		{Name: "반도체", ChangePct: 3.1},
		{Name: "유틸리티", ChangePct: 0.4}, // 2% 미만: 프롬프트 제외
	}
	return cache
}

const (
	stage1Answer = `{"regime":"리스크온","leading_themes":["반도체"],"korean_market_impact":"긍정적"}`
	stage2Answer = `{"candidates":[{"stock_name":"알파","stock_code":"123450","reason":"공급계약","material_strength":"상","category":"공시"}],"exclusion_rationale":""}`
	stage3Answer = `{"picks":[{"rank":1,"stock_code":"123450","stock_name":"알파","reason":"공급계약 공시","category":"공시","target_return":"+5%","stop_loss":"-3%","is_theme":false,"entry_window":"09:00-09:30"}]}`
)

func TestRun_FullPipeline(t *testing.T) {
	llm := &fakeLLM{answers: []string{stage1Answer, stage2Answer, stage3Answer}}
	p, db := newTestPipeline(t, llm)

	result, err := p.Run(context.Background(), testCache())
	require.NoError(t, err)

	assert.Equal(t, contracts.RegimeRiskOn, result.MarketEnv.Regime)
	require.Len(t, result.Picks, 1)

	// cap_tier는 시세 데이터에서 주입/백필된다
	assert.Equal(t, contracts.CapTierSmall, result.Candidates.Candidates[0].CapTier)
	assert.Equal(t, contracts.CapTierSmall, result.Picks[0].CapTier)

	// 섹터 필터: 2% 미만 변동은 1단계 프롬프트에서 제외
	assert.Contains(t, llm.prompts[0], "반도체")
	assert.NotContains(t, llm.prompts[0], "유틸리티")

	// 저장 검증: signal_type은 정규화되어야 한다
	var signalType string
	err = db.SQL().QueryRow(`SELECT signal_type FROM daily_picks WHERE stock_code = '123450'`).Scan(&signalType)
	require.NoError(t, err)
	assert.Equal(t, string(contracts.SignalFiling), signalType)
}

func TestRun_Stage1FailureDegradesToNeutral(t *testing.T) {
	llm := &fakeLLM{
		answers: []string{"", stage2Answer, stage3Answer},
		errs:    []error{errors.New("llm down"), nil, nil},
	}
	p, _ := newTestPipeline(t, llm)

	result, err := p.Run(context.Background(), testCache())
	require.NoError(t, err)
	assert.Equal(t, contracts.RegimeNeutral, result.MarketEnv.Regime)
	assert.NotNil(t, result.MarketEnv.LeadingThemes)
}

func TestRun_Stage1GarbageDegradesToNeutral(t *testing.T) {
	llm := &fakeLLM{answers: []string{`{"regime":"대박장"}`, stage2Answer, stage3Answer}}
	p, _ := newTestPipeline(t, llm)

	result, err := p.Run(context.Background(), testCache())
	require.NoError(t, err)
	assert.Equal(t, contracts.RegimeNeutral, result.MarketEnv.Regime, "unknown regime label must fall back")
}

func TestRun_Stage2FailureDegradesToEmptyPicks(t *testing.T) {
	llm := &fakeLLM{
		answers: []string{stage1Answer},
		errs:    []error{nil, errors.New("llm down")},
	}
	p, _ := newTestPipeline(t, llm)

	result, err := p.Run(context.Background(), testCache())
	require.NoError(t, err, "stage 2 failure must degrade, not fail the run")
	assert.Empty(t, result.Picks)
	assert.Equal(t, 2, llm.calls, "stage 3 must not run without candidates")
}

func TestRun_Stage3FailureFallsBackToRulePicks(t *testing.T) {
	twoCandidates := `{"candidates":[` +
		`{"stock_name":"베타","stock_code":"222220","reason":"테마 순환","material_strength":"중","category":"테마"},` +
		`{"stock_name":"알파","stock_code":"123450","reason":"공급계약","material_strength":"상","category":"공시"}` +
		`],"exclusion_rationale":""}`
	llm := &fakeLLM{
		answers: []string{stage1Answer, twoCandidates},
		errs:    []error{nil, nil, errors.New("llm down")},
	}
	p, db := newTestPipeline(t, llm)
	p.now = func() time.Time { return time.Date(2026, 8, 24, 7, 30, 0, 0, time.UTC) }

	result, err := p.Run(context.Background(), testCache())
	require.NoError(t, err, "stage 3 failure must degrade, not fail the run")
	require.Len(t, result.Picks, 2)

	// 재료 강도순 정렬: 상 먼저
	assert.Equal(t, "123450", result.Picks[0].StockCode)
	assert.Equal(t, 1, result.Picks[0].Rank)
	assert.Equal(t, "222220", result.Picks[1].StockCode)
	assert.Equal(t, "+5%", result.Picks[0].TargetReturn)
	assert.Equal(t, "-3%", result.Picks[0].StopLoss)
	assert.Equal(t, contracts.CapTierSmall, result.Picks[0].CapTier, "cap tier carries over from stage 2")

	// 폴백 픽도 영속된다
	picks, err := NewPickRepo(db).LoadPicks(context.Background(), "20260824")
	require.NoError(t, err)
	assert.Len(t, picks, 2)
}

func TestRun_NilCacheRunsOnEmptyData(t *testing.T) {
	llm := &fakeLLM{answers: []string{stage1Answer, `{"candidates":[],"exclusion_rationale":"데이터 없음"}`}}
	p, _ := newTestPipeline(t, llm)

	result, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Picks)
}

func TestRun_NoCandidatesStopsCleanly(t *testing.T) {
	llm := &fakeLLM{answers: []string{stage1Answer, `{"candidates":[],"exclusion_rationale":"재료 없음"}`}}
	p, _ := newTestPipeline(t, llm)

	result, err := p.Run(context.Background(), testCache())
	require.NoError(t, err)
	assert.Empty(t, result.Picks)
	assert.Equal(t, 2, llm.calls, "stage 3 must not run without candidates")
}

func TestRun_TruncatesToLimits(t *testing.T) {
	// 21개 후보 → 20개로 절단
	var sb []byte
	sb = append(sb, `{"candidates":[`...)
	for i := 0; i < 21; i++ {
		if i > 0 {
			sb = append(sb, ',')
		}
		sb = append(sb, []byte(`{"stock_name":"종목","stock_code":"123450","reason":"r","material_strength":"중","category":"테마"}`)...)
	}
	sb = append(sb, `],"exclusion_rationale":""}`...)

	llm := &fakeLLM{answers: []string{stage1Answer, string(sb), stage3Answer}}
	p, _ := newTestPipeline(t, llm)

	result, err := p.Run(context.Background(), testCache())
	require.NoError(t, err)
	assert.Len(t, result.Candidates.Candidates, 20)
}

func TestSavePicks_RerunReplacesGeneration(t *testing.T) {
	p, db := newTestPipeline(t, &fakeLLM{})
	ctx := context.Background()

	first := []contracts.Pick{{Rank: 1, StockCode: "111110", StockName: "일번", Category: contracts.CategoryTheme}}
	second := []contracts.Pick{{Rank: 1, StockCode: "222220", StockName: "이번", Category: contracts.CategoryRotation}}

	require.NoError(t, p.repo.SavePicks(ctx, "20260824", first))
	require.NoError(t, p.repo.SavePicks(ctx, "20260824", second))

	picks, err := p.repo.LoadPicks(ctx, "20260824")
	require.NoError(t, err)
	require.Len(t, picks, 1, "rerun must fully replace the day's picks")
	assert.Equal(t, "222220", picks[0].StockCode)

	var count int
	require.NoError(t, db.SQL().QueryRow(`SELECT COUNT(*) FROM daily_picks`).Scan(&count))
	assert.Equal(t, 1, count)
}
