package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/pkg/database"
	"github.com/wonny/kairos/pkg/logger"
)

// 압축 계층 경계 (일)
const (
	layer2AgeDays = 8
	layer3AgeDays = 31
	purgeAgeDays  = 90

	summaryMaxRunes = 80
	layer3MaxRunes  = 50
)

// Compressor ages trading_journal rows through the three memory layers.
type Compressor struct {
	db     *database.DB
	llm    contracts.LLM
	logger *logger.Logger
	now    func() time.Time
}

// NewCompressor creates the compressor. llm may be nil; summaries then
// fall back to the rule-based form.
func NewCompressor(db *database.DB, llm contracts.LLM, log *logger.Logger) *Compressor {
	return &Compressor{
		db:     db,
		llm:    llm,
		logger: log.WithComponent("compressor"),
		now:    market.Now,
	}
}

// Run executes the weekly compression pass:
// layer 2 (8–30d) gains an ≤80-char summary, layer 3 (31d+) keeps only
// the trimmed summary and tags, 90d+ rows lose the summary body too.
func (c *Compressor) Run(ctx context.Context) error {
	today := c.now()

	if err := c.compressLayer2(ctx, today); err != nil {
		return fmt.Errorf("layer 2: %w", err)
	}
	if err := c.compressLayer3(ctx, today); err != nil {
		return fmt.Errorf("layer 3: %w", err)
	}
	return nil
}

type journalRow struct {
	id        int64
	ticker    string
	name      string
	profit    float64
	reason    string
	situation string
	judgment  string
	lessons   string
	summary   string
}

func (c *Compressor) compressLayer2(ctx context.Context, today time.Time) error {
	cutoff := market.DateKey(today.AddDate(0, 0, -layer2AgeDays))

	rows, err := c.db.SQL().QueryContext(ctx,
		`SELECT id, ticker, name, profit_rate, close_reason, situation_analysis, judgment_evaluation, lessons, summary_text
		 FROM trading_journal
		 WHERE compression_layer = 1 AND trade_date <= ?`, cutoff)
	if err != nil {
		return fmt.Errorf("select layer1: %w", err)
	}

	var due []journalRow
	for rows.Next() {
		var r journalRow
		if err := rows.Scan(&r.id, &r.ticker, &r.name, &r.profit, &r.reason,
			&r.situation, &r.judgment, &r.lessons, &r.summary); err != nil {
			rows.Close()
			return fmt.Errorf("scan layer1: %w", err)
		}
		due = append(due, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(due) == 0 {
		return nil
	}

	// 요약(LLM 호출 가능)은 트랜잭션 밖에서, 반영은 단일 커밋으로
	summaries := make(map[int64]string, len(due))
	for _, r := range due {
		summaries[r.id] = c.summarize(ctx, r)
	}

	err = c.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE trading_journal SET summary_text = ?, compression_layer = 2 WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("prepare layer2: %w", err)
		}
		defer stmt.Close()

		for _, r := range due {
			if _, err := stmt.ExecContext(ctx, summaries[r.id], r.id); err != nil {
				return fmt.Errorf("promote layer2 %d: %w", r.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.WithField("rows", len(due)).Info("Journal rows compressed to layer 2")
	return nil
}

func (c *Compressor) compressLayer3(ctx context.Context, today time.Time) error {
	cutoff := market.DateKey(today.AddDate(0, 0, -layer3AgeDays))
	purgeCutoff := market.DateKey(today.AddDate(0, 0, -purgeAgeDays))

	// 31일+: 요약과 태그만 남기고 본문 제거
	if _, err := c.db.SQL().ExecContext(ctx,
		`UPDATE trading_journal
		 SET situation_analysis = '', judgment_evaluation = '', lessons = '',
		     summary_text = substr(summary_text, 1, ?), compression_layer = 3
		 WHERE compression_layer = 2 AND trade_date <= ?`,
		layer3MaxRunes, cutoff); err != nil {
		return fmt.Errorf("promote layer3: %w", err)
	}

	// 90일+: 요약 본문까지 제거
	if _, err := c.db.SQL().ExecContext(ctx,
		`UPDATE trading_journal
		 SET summary_text = '', one_line_summary = ''
		 WHERE compression_layer = 3 AND trade_date <= ?`, purgeCutoff); err != nil {
		return fmt.Errorf("purge old: %w", err)
	}
	return nil
}

// summarize produces the layer-2 single sentence, LLM first with the
// rule-based form as fallback.
func (c *Compressor) summarize(ctx context.Context, r journalRow) string {
	if c.llm != nil && c.llm.Available() {
		prompt := fmt.Sprintf(`다음 매매일지를 80자 이내 한 문장으로 요약하라. JSON으로만 답하라: {"summary": "..."}

상황: %s
판단: %s
교훈: %s`, r.situation, r.judgment, r.lessons)

		if answer, err := c.llm.GenerateJSON(ctx, prompt); err == nil {
			var parsed struct {
				Summary string `json:"summary"`
			}
			if json.Unmarshal([]byte(answer), &parsed) == nil && parsed.Summary != "" {
				return truncateRunes(parsed.Summary, summaryMaxRunes)
			}
		}
	}
	return truncateRunes(fmt.Sprintf("%s %+.1f%% %s", r.name, r.profit, r.reason), summaryMaxRunes)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// UpdateIndexStats aggregates settled trades into 200-point KOSPI bands
// from the entry-time index snapshot and upserts kospi_index_stats.
// Trades without a stored index level are skipped.
func (c *Compressor) UpdateIndexStats(ctx context.Context) error {
	rows, err := c.db.SQL().QueryContext(ctx,
		`SELECT buy_kospi, profit_rate, close_reason FROM trading_history
		 WHERE sell_time IS NOT NULL AND buy_kospi > 0`)
	if err != nil {
		return fmt.Errorf("select settled: %w", err)
	}

	type bandAgg struct {
		trades int
		wins   int
		profit float64
	}
	bands := map[string]*bandAgg{}

	for rows.Next() {
		var kospi, profit float64
		var reason string
		if err := rows.Scan(&kospi, &profit, &reason); err != nil {
			rows.Close()
			return fmt.Errorf("scan settled: %w", err)
		}

		band := kospiBand(kospi)
		agg := bands[band]
		if agg == nil {
			agg = &bandAgg{}
			bands[band] = agg
		}
		agg.trades++
		agg.profit += profit
		if contracts.CloseReason(reason) == contracts.CloseTakeProfit1 ||
			contracts.CloseReason(reason) == contracts.CloseTakeProfit2 {
			agg.wins++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	updated := c.now().Format(time.RFC3339)
	for band, agg := range bands {
		winRate := float64(agg.wins) / float64(agg.trades) * 100
		avgProfit := agg.profit / float64(agg.trades)

		if _, err := c.db.SQL().ExecContext(ctx,
			`INSERT INTO kospi_index_stats (band, trades, wins, win_rate, avg_profit, last_updated)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(band) DO UPDATE SET
			   trades = excluded.trades,
			   wins = excluded.wins,
			   win_rate = excluded.win_rate,
			   avg_profit = excluded.avg_profit,
			   last_updated = excluded.last_updated`,
			band, agg.trades, agg.wins, winRate, avgProfit, updated); err != nil {
			return fmt.Errorf("upsert band %s: %w", band, err)
		}
	}

	c.logger.WithField("bands", len(bands)).Info("Index stats updated")
	return nil
}

// kospiBand buckets an index level into its 200-point band label.
func kospiBand(level float64) string {
	lo := int(level/200) * 200
	return fmt.Sprintf("%d-%d", lo, lo+200)
}
