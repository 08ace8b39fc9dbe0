// Package morning runs the three-stage pre-market pipeline: regime
// classification, material screening, and final pick selection with
// pattern-history context.
package morning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/internal/ragstore"
	"github.com/wonny/kairos/pkg/logger"
)

const (
	maxCandidates = 20
	maxPicks      = 15
)

// Pipeline is the morning analysis pipeline.
// ⭐ SSOT: 아침 종목 선정은 이 파이프라인에서만
type Pipeline struct {
	llm    contracts.LLM
	rag    *ragstore.Store
	repo   *PickRepo
	logger *logger.Logger
	now    func() time.Time
}

// NewPipeline creates the pipeline.
func NewPipeline(llm contracts.LLM, rag *ragstore.Store, repo *PickRepo, log *logger.Logger) *Pipeline {
	return &Pipeline{
		llm:    llm,
		rag:    rag,
		repo:   repo,
		logger: log.WithComponent("morning"),
		now:    market.Now,
	}
}

// Run executes all three stages against a collected cache and persists
// the final picks. Every stage degrades rather than aborts: stage 1
// falls back to the neutral default, stage 2 to an empty candidate set,
// stage 3 to rule-based picks ranked by material strength. The morning
// report always goes out; only the persist step can fail the run.
func (p *Pipeline) Run(ctx context.Context, cache *contracts.DailyCache) (*contracts.MorningResult, error) {
	if cache == nil {
		cache = contracts.NewDailyCache()
	}

	env := p.analyzeMarketEnv(ctx, cache)

	candidates, err := p.analyzeMaterials(ctx, cache, env)
	if err != nil {
		p.logger.WithError(err).Warn("Stage 2 failed, completing with no candidates")
		candidates = &contracts.CandidateSet{}
	}
	if len(candidates.Candidates) == 0 {
		p.logger.Info("No candidates today")
		return &contracts.MorningResult{Date: p.now(), MarketEnv: env, Candidates: candidates}, nil
	}

	picks, err := p.pickFinal(ctx, cache, env, candidates.Candidates)
	if err != nil {
		p.logger.WithError(err).Warn("Stage 3 failed, using rule-based fallback picks")
		picks = fallbackPicks(candidates.Candidates)
	}

	date := market.DateKey(p.now())
	if err := p.repo.SavePicks(ctx, date, picks); err != nil {
		return nil, fmt.Errorf("persist picks: %w", err)
	}

	p.logger.WithFields(map[string]interface{}{
		"regime":     string(env.Regime),
		"candidates": len(candidates.Candidates),
		"picks":      len(picks),
	}).Info("Morning pipeline completed")

	return &contracts.MorningResult{
		Date:       p.now(),
		MarketEnv:  env,
		Candidates: candidates,
		Picks:      picks,
	}, nil
}

// analyzeMarketEnv is stage 1. Any failure yields the neutral default;
// the pipeline never stops on regime classification.
func (p *Pipeline) analyzeMarketEnv(ctx context.Context, cache *contracts.DailyCache) *contracts.MarketEnvAnalysis {
	raw, err := p.llm.GenerateJSON(ctx, buildStage1Prompt(cache))
	if err != nil {
		p.logger.WithError(err).Warn("Stage 1 failed, using neutral default")
		return contracts.DefaultMarketEnvAnalysis()
	}

	var env contracts.MarketEnvAnalysis
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		p.logger.WithError(err).Warn("Stage 1 answer unparseable, using neutral default")
		return contracts.DefaultMarketEnvAnalysis()
	}

	switch env.Regime {
	case contracts.RegimeRiskOn, contracts.RegimeRiskOff, contracts.RegimeNeutral:
	default:
		env.Regime = contracts.RegimeNeutral
	}
	if env.LeadingThemes == nil {
		env.LeadingThemes = []string{}
	}
	return &env
}

// analyzeMaterials is stage 2: screen the collected material into at most
// 20 candidates, then inject each candidate's cap tier from price data.
func (p *Pipeline) analyzeMaterials(ctx context.Context, cache *contracts.DailyCache, env *contracts.MarketEnvAnalysis) (*contracts.CandidateSet, error) {
	raw, err := p.llm.GenerateJSON(ctx, buildStage2Prompt(cache, env))
	if err != nil {
		return nil, err
	}

	var set contracts.CandidateSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return nil, fmt.Errorf("parse candidates: %w", err)
	}

	if len(set.Candidates) > maxCandidates {
		set.Candidates = set.Candidates[:maxCandidates]
	}

	for i := range set.Candidates {
		set.Candidates[i].CapTier = lookupCapTier(cache.PriceData,
			set.Candidates[i].StockCode, set.Candidates[i].StockName)
	}
	return &set, nil
}

// lookupCapTier resolves a cap tier from price data by code first, name
// second. Unknown tickers classify as 미분류.
func lookupCapTier(pd *contracts.PriceData, code, name string) contracts.CapTier {
	if pd == nil {
		return contracts.CapTierNone
	}
	if snap, ok := pd.ByCode[code]; ok {
		return contracts.CapTierFromMarketCap(snap.MarketCap)
	}
	if snap, ok := pd.ByName[name]; ok {
		return contracts.CapTierFromMarketCap(snap.MarketCap)
	}
	return contracts.CapTierNone
}

// pickFinal is stage 3: final selection with pattern-history context,
// truncated to 15 and cap-tier back-filled from the candidate set.
func (p *Pipeline) pickFinal(ctx context.Context, cache *contracts.DailyCache, env *contracts.MarketEnvAnalysis, candidates []contracts.Candidate) ([]contracts.Pick, error) {
	ragBlocks := p.ragContextBlocks(ctx, candidates)

	raw, err := p.llm.GenerateJSON(ctx, buildStage3Prompt(cache, env, candidates, ragBlocks))
	if err != nil {
		return nil, err
	}

	var out struct {
		Picks []contracts.Pick `json:"picks"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse picks: %w", err)
	}

	if len(out.Picks) > maxPicks {
		out.Picks = out.Picks[:maxPicks]
	}

	tierByCode := make(map[string]contracts.CapTier, len(candidates))
	tierByName := make(map[string]contracts.CapTier, len(candidates))
	for _, c := range candidates {
		tierByCode[c.StockCode] = c.CapTier
		tierByName[c.StockName] = c.CapTier
	}

	for i := range out.Picks {
		pick := &out.Picks[i]
		if pick.CapTier != "" {
			continue
		}
		if tier, ok := tierByCode[pick.StockCode]; ok {
			pick.CapTier = tier
		} else if tier, ok := tierByName[pick.StockName]; ok {
			pick.CapTier = tier
		} else {
			pick.CapTier = lookupCapTier(cache.PriceData, pick.StockCode, pick.StockName)
		}
	}
	return out.Picks, nil
}

// fallbackPicks ranks the stage-2 candidates by material strength when
// stage 3 is unavailable: strongest material first, stage-2 order within
// a grade, conservative fixed target and stop.
func fallbackPicks(candidates []contracts.Candidate) []contracts.Pick {
	ranked := make([]contracts.Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return strengthOrder(ranked[i].MaterialStrength) < strengthOrder(ranked[j].MaterialStrength)
	})
	if len(ranked) > maxPicks {
		ranked = ranked[:maxPicks]
	}

	picks := make([]contracts.Pick, 0, len(ranked))
	for i, c := range ranked {
		picks = append(picks, contracts.Pick{
			Rank:         i + 1,
			StockCode:    c.StockCode,
			StockName:    c.StockName,
			Reason:       c.Reason,
			Category:     c.Category,
			TargetReturn: "+5%",
			StopLoss:     "-3%",
			IsTheme:      c.Category == contracts.CategoryTheme,
			EntryWindow:  "09:00-10:00",
			CapTier:      c.CapTier,
		})
	}
	return picks
}

func strengthOrder(s contracts.MaterialStrength) int {
	switch s {
	case contracts.StrengthHigh:
		return 0
	case contracts.StrengthMid:
		return 1
	default:
		return 2
	}
}

// ragContextBlocks builds one pattern block per unique (signal, cap tier)
// across the candidates. Lookup failures degrade to no context.
func (p *Pipeline) ragContextBlocks(ctx context.Context, candidates []contracts.Candidate) []string {
	type key struct {
		signal contracts.SignalType
		tier   contracts.CapTier
	}

	seen := make(map[key]bool)
	var blocks []string
	for _, c := range candidates {
		k := key{contracts.NormalizeSignalType(c.Category), c.CapTier}
		if seen[k] {
			continue
		}
		seen[k] = true

		patterns, err := p.rag.GetSimilarPatterns(ctx, k.signal, k.tier, 5)
		if err != nil {
			p.logger.WithError(err).Warn("Pattern lookup failed")
			continue
		}
		if block := ragstore.FormatContext(k.signal, k.tier, patterns); block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// FormatReport renders the morning result for the message sink.
func FormatReport(result *contracts.MorningResult) string {
	var b strings.Builder

	b.WriteString("🌅 <b>아침 분석 결과</b>\n")
	fmt.Fprintf(&b, "레짐: %s", result.MarketEnv.Regime)
	if len(result.MarketEnv.LeadingThemes) > 0 {
		fmt.Fprintf(&b, " · 주도 테마: %s", strings.Join(result.MarketEnv.LeadingThemes, ", "))
	}
	b.WriteString("\n")
	if result.MarketEnv.KoreanMarketImpact != "" {
		fmt.Fprintf(&b, "%s\n", result.MarketEnv.KoreanMarketImpact)
	}

	if len(result.Picks) == 0 {
		b.WriteString("\n오늘은 선정 종목이 없습니다.")
		return b.String()
	}

	fmt.Fprintf(&b, "\n<b>오늘의 종목 %d개</b>\n", len(result.Picks))
	for _, pick := range result.Picks {
		fmt.Fprintf(&b, "%d. %s(%s) [%s]\n   목표 %s / 손절 %s / 진입 %s\n   %s\n",
			pick.Rank, pick.StockName, pick.StockCode, pick.Category,
			pick.TargetReturn, pick.StopLoss, pick.EntryWindow, pick.Reason)
	}
	return b.String()
}
