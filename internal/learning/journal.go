// Package learning turns settled trades into durable knowledge: the
// trading journal, weekly principle extraction, three-layer memory
// compression, and the KOSPI-band statistics.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/pkg/database"
	"github.com/wonny/kairos/pkg/logger"
)

// Journal records one journal row per closed trade. Implements the
// position manager's journal hook.
// ⭐ SSOT: 매매일지 기록은 여기서만
type Journal struct {
	db     *database.DB
	llm    contracts.LLM
	logger *logger.Logger
	now    func() time.Time
}

// NewJournal creates the recorder. llm may be nil; retrospection is
// then skipped and only rule-based tags are stored.
func NewJournal(db *database.DB, llm contracts.LLM, log *logger.Logger) *Journal {
	return &Journal{
		db:     db,
		llm:    llm,
		logger: log.WithComponent("journal"),
		now:    market.Now,
	}
}

// retrospection is the optional LLM review of one trade.
type retrospection struct {
	SituationAnalysis  string   `json:"situation_analysis"`
	JudgmentEvaluation string   `json:"judgment_evaluation"`
	Lessons            string   `json:"lessons"`
	ExtraTags          []string `json:"extra_tags"`
	OneLineSummary     string   `json:"one_line_summary"`
}

// RecordTrade writes the journal row for one settled trade. The LLM
// retrospection is best-effort; its failure never loses the row.
func (j *Journal) RecordTrade(ctx context.Context, trade *contracts.TradeRecord) error {
	tags := PatternTags(trade)

	var retro retrospection
	if j.llm != nil && j.llm.Available() {
		if r, err := j.retrospect(ctx, trade); err != nil {
			j.logger.WithError(err).WithField("code", trade.Ticker).Warn("Retrospection failed")
		} else {
			retro = *r
			tags = append(tags, retro.ExtraTags...)
		}
	}

	_, err := j.db.SQL().ExecContext(ctx,
		`INSERT INTO trading_journal
		 (trade_date, trading_id, ticker, name, profit_rate, close_reason,
		  situation_analysis, judgment_evaluation, lessons, pattern_tags,
		  one_line_summary, compression_layer, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		market.DateKey(trade.SellTime), trade.TradingID, trade.Ticker, trade.Name,
		trade.ProfitRate, string(trade.CloseReason),
		retro.SituationAnalysis, retro.JudgmentEvaluation, retro.Lessons,
		strings.Join(dedupTags(tags), ","), retro.OneLineSummary,
		j.now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert journal: %w", err)
	}
	return nil
}

func (j *Journal) retrospect(ctx context.Context, trade *contracts.TradeRecord) (*retrospection, error) {
	prompt := fmt.Sprintf(`다음 매매를 복기하라.

종목: %s(%s)
시장환경: %s / 섹터: %s
트리거: %s / 픽유형: %s
수익률: %+.2f%% / 청산사유: %s

JSON으로만 답하라:
{"situation_analysis": "...", "judgment_evaluation": "...", "lessons": "...", "extra_tags": ["..."], "one_line_summary": "80자 이내 한 문장"}`,
		trade.Name, trade.Ticker, trade.MarketEnv, trade.Sector,
		trade.TriggerSource, trade.PickType, trade.ProfitRate, trade.CloseReason)

	answer, err := j.llm.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var retro retrospection
	if err := json.Unmarshal([]byte(answer), &retro); err != nil {
		return nil, fmt.Errorf("parse retrospection: %w", err)
	}
	return &retro, nil
}

// PatternTags derives the rule-based tags for one trade.
func PatternTags(trade *contracts.TradeRecord) []string {
	var tags []string

	switch trade.MarketEnv {
	case contracts.EnvBull:
		tags = append(tags, "강세장진입")
	case contracts.EnvBear:
		tags = append(tags, "약세장진입")
	}

	switch trade.CloseReason {
	case contracts.CloseTakeProfit1, contracts.CloseTakeProfit2:
		tags = append(tags, "익절성공")
	case contracts.CloseTrailingStop:
		tags = append(tags, "트레일링스탑작동")
	case contracts.CloseStopLoss:
		tags = append(tags, "손절실행")
		// -5% 아래까지 밀렸으면 손절이 늦었다
		if trade.ProfitRate < -5 {
			tags = append(tags, "손절지연")
		}
	case contracts.CloseForce, contracts.CloseFinal:
		if trade.ProfitRate < 0 {
			tags = append(tags, "강제청산손실")
		}
	}

	if trade.PickType == contracts.PickTypeDayTrade && trade.SellTime.Sub(trade.BuyTime) > 4*time.Hour {
		tags = append(tags, "데이트레이드장기보유")
	}
	return tags
}

func dedupTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
