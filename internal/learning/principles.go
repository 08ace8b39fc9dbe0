package learning

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/pkg/database"
	"github.com/wonny/kairos/pkg/logger"
)

// minSample: 원칙으로 승격하기 위한 최소 표본 수
const minSample = 5

// Principles extracts per-trigger trading principles from the history.
type Principles struct {
	db     *database.DB
	logger *logger.Logger
	now    func() time.Time
}

// NewPrinciples creates the extractor.
func NewPrinciples(db *database.DB, log *logger.Logger) *Principles {
	return &Principles{
		db:     db,
		logger: log.WithComponent("principles"),
		now:    market.Now,
	}
}

// Principle is one row of trading_principles.
type Principle struct {
	TriggerSource string
	Action        string
	TotalTrades   int
	Wins          int
	WinRate       float64
	Confidence    string
	PatternTags   string
}

// confidence buckets the win rate: high ≥65, medium ≥50, else low.
func confidence(winRate float64) string {
	switch {
	case winRate >= 65:
		return "high"
	case winRate >= 50:
		return "medium"
	default:
		return "low"
	}
}

// Extract runs the weekly principle pass: group settled trades by
// trigger source, upsert groups at or above the sample floor, and
// update (never insert) groups below it. Pattern tags observed in the
// week's journal rows are merged onto existing principles.
func (p *Principles) Extract(ctx context.Context) error {
	rows, err := p.db.SQL().QueryContext(ctx,
		`SELECT trigger_source,
		        COUNT(*),
		        SUM(CASE WHEN close_reason IN ('take_profit_1', 'take_profit_2') THEN 1 ELSE 0 END)
		 FROM trading_history
		 WHERE sell_time IS NOT NULL AND trigger_source != ''
		 GROUP BY trigger_source`)
	if err != nil {
		return fmt.Errorf("group trades: %w", err)
	}

	var groups []Principle
	for rows.Next() {
		var g Principle
		if err := rows.Scan(&g.TriggerSource, &g.TotalTrades, &g.Wins); err != nil {
			rows.Close()
			return fmt.Errorf("scan group: %w", err)
		}
		if g.TotalTrades > 0 {
			g.WinRate = float64(g.Wins) / float64(g.TotalTrades) * 100
		}
		g.Confidence = confidence(g.WinRate)
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	updated := p.now().Format(time.RFC3339)

	err = p.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, g := range groups {
			if g.TotalTrades >= minSample {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO trading_principles (trigger_source, action, total_trades, wins, win_rate, confidence, last_updated)
					 VALUES (?, 'buy', ?, ?, ?, ?, ?)
					 ON CONFLICT(trigger_source, action) DO UPDATE SET
					   total_trades = excluded.total_trades,
					   wins = excluded.wins,
					   win_rate = excluded.win_rate,
					   confidence = excluded.confidence,
					   last_updated = excluded.last_updated`,
					g.TriggerSource, g.TotalTrades, g.Wins, g.WinRate, g.Confidence, updated); err != nil {
					return fmt.Errorf("upsert principle %s: %w", g.TriggerSource, err)
				}
				continue
			}

			// 표본 미달 그룹은 기존 행만 갱신
			if _, err := tx.ExecContext(ctx,
				`UPDATE trading_principles
				 SET total_trades = ?, wins = ?, win_rate = ?, confidence = ?, last_updated = ?
				 WHERE trigger_source = ? AND action = 'buy'`,
				g.TotalTrades, g.Wins, g.WinRate, g.Confidence, updated, g.TriggerSource); err != nil {
				return fmt.Errorf("update principle %s: %w", g.TriggerSource, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := p.mergeJournalTags(ctx, updated); err != nil {
		return err
	}

	p.logger.WithField("groups", len(groups)).Info("Principles extracted")
	return nil
}

// mergeJournalTags folds the last week's journal pattern tags into the
// matching principles. Existing principles only; no inserts.
func (p *Principles) mergeJournalTags(ctx context.Context, updated string) error {
	since := market.DateKey(p.now().AddDate(0, 0, -7))

	rows, err := p.db.SQL().QueryContext(ctx,
		`SELECT h.trigger_source, j.pattern_tags
		 FROM trading_journal j
		 JOIN trading_history h ON h.trading_id = j.trading_id
		 WHERE j.trade_date >= ? AND j.pattern_tags != ''`, since)
	if err != nil {
		return fmt.Errorf("journal tags: %w", err)
	}

	tagsBySource := map[string]map[string]bool{}
	for rows.Next() {
		var source, tags string
		if err := rows.Scan(&source, &tags); err != nil {
			rows.Close()
			return fmt.Errorf("scan tags: %w", err)
		}
		if tagsBySource[source] == nil {
			tagsBySource[source] = map[string]bool{}
		}
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tagsBySource[source][tag] = true
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	return p.db.WithTx(ctx, func(tx *sql.Tx) error {
		for source, tagSet := range tagsBySource {
			var existing string
			err := tx.QueryRowContext(ctx,
				`SELECT pattern_tags FROM trading_principles WHERE trigger_source = ? AND action = 'buy'`,
				source).Scan(&existing)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return fmt.Errorf("read tags %s: %w", source, err)
			}

			for _, tag := range strings.Split(existing, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					tagSet[tag] = true
				}
			}

			merged := make([]string, 0, len(tagSet))
			for tag := range tagSet {
				merged = append(merged, tag)
			}
			sort.Strings(merged)

			if _, err := tx.ExecContext(ctx,
				`UPDATE trading_principles SET pattern_tags = ?, last_updated = ?
				 WHERE trigger_source = ? AND action = 'buy'`,
				strings.Join(merged, ","), updated, source); err != nil {
				return fmt.Errorf("merge tags %s: %w", source, err)
			}
		}
		return nil
	})
}

// List returns every stored principle, strongest confidence first.
func (p *Principles) List(ctx context.Context) ([]Principle, error) {
	rows, err := p.db.SQL().QueryContext(ctx,
		`SELECT trigger_source, action, total_trades, wins, win_rate, confidence, pattern_tags
		 FROM trading_principles ORDER BY win_rate DESC`)
	if err != nil {
		return nil, fmt.Errorf("list principles: %w", err)
	}
	defer rows.Close()

	var out []Principle
	for rows.Next() {
		var pr Principle
		if err := rows.Scan(&pr.TriggerSource, &pr.Action, &pr.TotalTrades, &pr.Wins,
			&pr.WinRate, &pr.Confidence, &pr.PatternTags); err != nil {
			return nil, fmt.Errorf("scan principle: %w", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}
