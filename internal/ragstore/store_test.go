package ragstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/pkg/database"
	"github.com/wonny/kairos/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitDB(context.Background()))
	return NewStore(db, logger.Nop())
}

func TestSave_NormalizesSignalType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	picks := []contracts.Pick{
		{Rank: 1, StockCode: "005930", StockName: "삼성전자", Category: contracts.CategoryFiling, CapTier: contracts.CapTierMid},
	}
	require.NoError(t, s.Save(ctx, "20260824", picks, nil, nil))

	// 파이프라인 라벨 "공시"는 저장 시 "DART_공시"여야 한다
	var stored string
	err := s.db.SQL().QueryRow(`SELECT signal_type FROM rag_patterns WHERE stock_code = '005930'`).Scan(&stored)
	require.NoError(t, err)
	assert.Equal(t, string(contracts.SignalFiling), stored)
	assert.NotEqual(t, "공시", stored)
}

func TestSave_PickedAndNonPickedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	picks := []contracts.Pick{
		{Rank: 1, StockCode: "005930", StockName: "삼성전자", Category: contracts.CategoryTheme, CapTier: contracts.CapTierMid},
	}
	results := map[string]contracts.RealizedResult{
		"005930": {StockCode: "005930", StockName: "삼성전자", MaxReturn: 7.2, Hit20Pct: false},
		"068270": {StockCode: "068270", StockName: "셀트리온", MaxReturn: 21.5, Hit20Pct: true},
	}
	require.NoError(t, s.Save(ctx, "20260824", picks, results, nil))

	patterns, err := s.GetSimilarPatterns(ctx, contracts.SignalTheme, contracts.CapTierMid, 10)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.True(t, patterns[0].WasPicked)
	require.NotNil(t, patterns[0].PickRank)
	assert.Equal(t, 1, *patterns[0].PickRank)
	assert.InDelta(t, 7.2, patterns[0].MaxReturn, 1e-9)

	// 미선정 결과는 was_picked=0, rank NULL
	var wasPicked int
	var rank interface{}
	err = s.db.SQL().QueryRow(`SELECT was_picked, pick_rank FROM rag_patterns WHERE stock_code = '068270'`).Scan(&wasPicked, &rank)
	require.NoError(t, err)
	assert.Zero(t, wasPicked)
	assert.Nil(t, rank)
}

func TestSave_ReinfersCapTierFromMarketCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	picks := []contracts.Pick{
		{Rank: 1, StockCode: "123450", StockName: "알파", Category: contracts.CategoryTheme}, // cap_tier 누락
	}
	pd := &contracts.PriceData{
		ByCode: map[string]contracts.StockSnapshot{
			"123450": {Code: "123450", Name: "알파", MarketCap: 50_000_000_000},
		},
	}
	require.NoError(t, s.Save(ctx, "20260824", picks, nil, pd))

	var stored string
	err := s.db.SQL().QueryRow(`SELECT cap_tier FROM rag_patterns WHERE stock_code = '123450'`).Scan(&stored)
	require.NoError(t, err)
	assert.Equal(t, string(contracts.CapTierSmall), stored)

	// 시세 데이터가 없으면 미분류로 남는다
	require.NoError(t, s.Save(ctx, "20260825", []contracts.Pick{
		{Rank: 1, StockCode: "999990", StockName: "미지", Category: contracts.CategoryTheme},
	}, nil, nil))
	err = s.db.SQL().QueryRow(`SELECT cap_tier FROM rag_patterns WHERE stock_code = '999990'`).Scan(&stored)
	require.NoError(t, err)
	assert.Equal(t, string(contracts.CapTierNone), stored)
}

func TestGetSimilarPatterns_TwoTierFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	picks := []contracts.Pick{
		{Rank: 1, StockCode: "123450", StockName: "알파", Category: contracts.CategoryRotation, CapTier: contracts.CapTierSmall},
	}
	require.NoError(t, s.Save(ctx, "20260820", picks, nil, nil))

	// 정확 (signal, cap_tier) 일치가 없으면 signal 단독으로 확장
	patterns, err := s.GetSimilarPatterns(ctx, contracts.SignalRotation, contracts.CapTierMicro, 5)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "알파", patterns[0].StockName)

	// 시그널 자체가 없으면 빈 결과
	patterns, err = s.GetSimilarPatterns(ctx, contracts.SignalShortSqueeze, contracts.CapTierMicro, 5)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "", FormatContext(contracts.SignalTheme, contracts.CapTierMid, nil),
		"no patterns must yield empty string, not a header")

	rank := 2
	patterns := []contracts.RAGPattern{
		{Date: "20260820", StockName: "알파", StockCode: "123450", WasPicked: true, PickRank: &rank, MaxReturn: 22.1, Hit20Pct: true},
		{Date: "20260819", StockName: "베타", StockCode: "678900", MaxReturn: -3.0, PatternMemo: "갭하락 출발"},
	}
	text := FormatContext(contracts.SignalTheme, contracts.CapTierMid, patterns)

	assert.Contains(t, text, "[RAG 과거패턴] 테마 / 중형")
	assert.Contains(t, text, "+20% 도달")
	assert.Contains(t, text, "갭하락 출발")
	assert.Contains(t, text, "-3.0%")

	// 집계 라인: 건수, 적중률, 평균최고등락
	assert.Contains(t, text, "총 2건: 20%+ 1건(50%), 상한가 0건(0%), 평균최고등락 9.6%")
	assert.Contains(t, text, "최근 사례:")
}
