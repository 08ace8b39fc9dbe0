package contracts

import (
	"strconv"
	"strings"
	"time"
)

// UpperLimitAdjacentPct: 상한가 인접 판정 등락률. 가격제한폭 30%보다
// 살짝 낮게 잡아 호가단위 반올림에도 놓치지 않는다.
const UpperLimitAdjacentPct = 29.5

// ParseTargetReturn parses a pick's target label: "+5%" → 5.0, "상한가"
// maps to the adjacency threshold.
func ParseTargetReturn(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, "상한가") {
		return UpperLimitAdjacentPct, true
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "+"), "%")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// ParseStopLoss parses a pick's stop label: "-3%" → (-3.0, 0, true) or
// "47000원" → (0, 47000, true).
func ParseStopLoss(s string) (pct float64, price int64, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, false
	}

	if strings.HasSuffix(s, "원") {
		raw := strings.ReplaceAll(strings.TrimSuffix(s, "원"), ",", "")
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return 0, 0, false
		}
		return 0, v, true
	}

	raw := strings.TrimSuffix(s, "%")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v >= 0 {
		return 0, 0, false
	}
	return v, 0, true
}

// MarketEnvAnalysis is the stage-1 output: global regime classification.
type MarketEnvAnalysis struct {
	Regime             Regime   `json:"regime"`
	LeadingThemes      []string `json:"leading_themes"`
	KoreanMarketImpact string   `json:"korean_market_impact"`
}

// DefaultMarketEnvAnalysis is the neutral fallback used whenever stage 1
// cannot produce a parseable answer.
func DefaultMarketEnvAnalysis() *MarketEnvAnalysis {
	return &MarketEnvAnalysis{
		Regime:        RegimeNeutral,
		LeadingThemes: []string{},
	}
}

// Candidate is one stage-2 output row (≤20 per run).
type Candidate struct {
	StockName        string           `json:"stock_name"`
	StockCode        string           `json:"stock_code"`
	Reason           string           `json:"reason"`
	MaterialStrength MaterialStrength `json:"material_strength"`
	Category         Category         `json:"category"`
	CapTier          CapTier          `json:"cap_tier"` // injected post-parse from price data
}

// CandidateSet is the full stage-2 output.
type CandidateSet struct {
	Candidates         []Candidate `json:"candidates"`
	ExclusionRationale string      `json:"exclusion_rationale"`
}

// Pick is one stage-3 final selection (≤15 per day).
type Pick struct {
	Rank         int      `json:"rank"`
	StockCode    string   `json:"stock_code"` // 6 digits, may be empty
	StockName    string   `json:"stock_name"`
	Reason       string   `json:"reason"` // ≤60 chars
	Category     Category `json:"category"`
	TargetReturn string   `json:"target_return"` // "+5%" or "상한가"
	StopLoss     string   `json:"stop_loss"`     // "-3%" or "47000원"
	IsTheme      bool     `json:"is_theme"`
	EntryWindow  string   `json:"entry_window"`
	CapTier      CapTier  `json:"cap_tier"`
}

// PickType derives the exit class from the pick's category.
func (p Pick) PickType() PickType {
	return DerivePickType(p.Category)
}

// SignalType returns the normalized persisted label for this pick.
func (p Pick) SignalType() SignalType {
	return NormalizeSignalType(p.Category)
}

// WatchlistEntry is the per-ticker metadata scoped to today's picks.
type WatchlistEntry struct {
	Name          string   `json:"name"`
	PrevDayVolume int64    `json:"prev_day_volume"` // clamped ≥ 1
	Priority      int      `json:"priority"`
	Category      Category `json:"category"`
}

// RAGPattern is one write-only history row consumed by stage 3.
type RAGPattern struct {
	Date        string     `json:"date"`
	SignalType  SignalType `json:"signal_type"`
	StockName   string     `json:"stock_name"`
	StockCode   string     `json:"stock_code"`
	CapTier     CapTier    `json:"cap_tier"`
	WasPicked   bool       `json:"was_picked"`
	PickRank    *int       `json:"pick_rank"`
	MaxReturn   float64    `json:"max_return"`
	Hit20Pct    bool       `json:"hit_20pct"`
	HitUpper    bool       `json:"hit_upper"`
	PatternMemo string     `json:"pattern_memo"`
}

// RealizedResult is one settled outcome fed back into the RAG store.
type RealizedResult struct {
	StockCode string  `json:"stock_code"`
	StockName string  `json:"stock_name"`
	MaxReturn float64 `json:"max_return"`
	Hit20Pct  bool    `json:"hit_20pct"`
	HitUpper  bool    `json:"hit_upper"`
	Memo      string  `json:"memo"`
}

// MorningResult bundles the three stage outputs for reporting.
type MorningResult struct {
	Date       time.Time          `json:"date"`
	MarketEnv  *MarketEnvAnalysis `json:"market_env"`
	Candidates *CandidateSet      `json:"candidates"`
	Picks      []Pick             `json:"picks"`
}
