package morning

import (
	"fmt"
	"strings"

	"github.com/wonny/kairos/internal/contracts"
)

// sectorMoveThreshold: 1단계 프롬프트에 올리는 글로벌 섹터 변동 최소폭 (절대값 %)
const sectorMoveThreshold = 2.0

// buildStage1Prompt renders the global regime prompt from the overnight
// market overview. Only meaningful sector moves make it in.
func buildStage1Prompt(cache *contracts.DailyCache) string {
	var b strings.Builder

	b.WriteString("당신은 한국 주식시장 전략가다. 간밤의 글로벌 시장을 보고 오늘 국내 시장의 레짐을 판단하라.\n\n")

	b.WriteString("[미국 지수]\n")
	for _, idx := range cache.MarketData.USMarket.Indices {
		fmt.Fprintf(&b, "- %s: %+.2f%%\n", idx.Name, idx.ChangePct)
	}

	b.WriteString("\n[주요 섹터 변동 (±2% 이상)]\n")
	moved := 0
	for _, sec := range cache.MarketData.USMarket.Sectors {
		if sec.ChangePct >= sectorMoveThreshold || sec.ChangePct <= -sectorMoveThreshold {
			fmt.Fprintf(&b, "- %s: %+.2f%%\n", sec.Name, sec.ChangePct)
			moved++
		}
	}
	if moved == 0 {
		b.WriteString("- 특이 변동 없음\n")
	}

	b.WriteString("\n[원자재/환율]\n")
	for _, c := range cache.MarketData.Commodities {
		fmt.Fprintf(&b, "- %s: %+.2f%%\n", c.Name, c.ChangePct)
	}
	for _, f := range cache.MarketData.Forex {
		fmt.Fprintf(&b, "- %s: %+.2f%%\n", f.Name, f.ChangePct)
	}

	if len(cache.NewsGlobalRSS) > 0 {
		b.WriteString("\n[글로벌 헤드라인]\n")
		for i, n := range cache.NewsGlobalRSS {
			if i >= 10 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", n.Title)
		}
	}

	b.WriteString(`
다음 JSON만 출력하라:
{"regime": "리스크온|리스크오프|중립", "leading_themes": ["테마1", "테마2"], "korean_market_impact": "국내 시장 영향 한 줄"}`)

	return b.String()
}

// buildStage2Prompt renders the material-screening prompt: filings, news,
// and the overnight screeners. Asks for at most 20 candidates.
func buildStage2Prompt(cache *contracts.DailyCache, env *contracts.MarketEnvAnalysis) string {
	var b strings.Builder

	b.WriteString("당신은 한국 주식 재료 분석가다. 아래 데이터에서 오늘 급등 가능성이 있는 종목을 고르라.\n\n")
	fmt.Fprintf(&b, "[오늘 레짐] %s / 주도 테마: %s\n\n", env.Regime, strings.Join(env.LeadingThemes, ", "))

	b.WriteString("[DART 공시]\n")
	for i, f := range cache.DartData {
		if i >= 30 {
			break
		}
		fmt.Fprintf(&b, "- %s(%s): %s\n", f.StockName, f.StockCode, f.Title)
	}

	for source, items := range cache.NewsNaver {
		fmt.Fprintf(&b, "\n[뉴스: %s]\n", source)
		for i, n := range items {
			if i >= 10 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", n.Title)
		}
	}

	writeScreen := func(title string, rows []contracts.ScreenResult) {
		if len(rows) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n[%s]\n", title)
		for i, r := range rows {
			if i >= 20 {
				break
			}
			fmt.Fprintf(&b, "- %s(%s) score=%.1f %s\n", r.Name, r.Code, r.Score, r.Detail)
		}
	}
	writeScreen("종가 강도 상위", cache.ClosingStrengthResult)
	writeScreen("거래량 급증", cache.VolumeSurgeResult)
	writeScreen("섹터 ETF 자금", cache.SectorETFData)

	b.WriteString(`
최대 20개 후보를 다음 JSON으로만 출력하라:
{"candidates": [{"stock_name": "...", "stock_code": "6자리", "reason": "...", "material_strength": "상|중|하", "category": "공시|테마|순환매|숏스퀴즈"}], "exclusion_rationale": "제외 사유 요약"}`)

	return b.String()
}

// buildStage3Prompt renders the final-selection prompt: candidates with
// their pattern history, fund concentration, and short-interest context.
func buildStage3Prompt(cache *contracts.DailyCache, env *contracts.MarketEnvAnalysis, candidates []contracts.Candidate, ragBlocks []string) string {
	var b strings.Builder

	b.WriteString("당신은 데이트레이딩 포트폴리오 매니저다. 후보 중 오늘 매매할 종목을 최종 선정하라.\n\n")
	fmt.Fprintf(&b, "[레짐] %s / %s\n\n", env.Regime, env.KoreanMarketImpact)

	b.WriteString("[후보]\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s(%s) [%s/%s/%s] %s\n",
			c.StockName, c.StockCode, c.Category, c.MaterialStrength, c.CapTier, c.Reason)
	}

	for _, block := range ragBlocks {
		if block == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(block)
	}

	writeScreen := func(title string, rows []contracts.ScreenResult, max int) {
		if len(rows) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n[%s]\n", title)
		for i, r := range rows {
			if i >= max {
				break
			}
			fmt.Fprintf(&b, "- %s(%s) score=%.1f\n", r.Name, r.Code, r.Score)
		}
	}
	writeScreen("자금 집중", cache.FundConcentrationResult, 20)
	writeScreen("공매도 상위", cache.ShortData, 20)

	b.WriteString(`
최대 15개를 순위대로 다음 JSON으로만 출력하라. reason은 60자 이내:
{"picks": [{"rank": 1, "stock_code": "6자리", "stock_name": "...", "reason": "...", "category": "공시|테마|순환매|숏스퀴즈", "target_return": "+5% 또는 상한가", "stop_loss": "-3% 또는 47000원", "is_theme": true, "entry_window": "09:00-09:30"}]}`)

	return b.String()
}
