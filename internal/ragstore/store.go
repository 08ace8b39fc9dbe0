// Package ragstore is the write-only pattern history behind the morning
// pipeline's stage-3 context: realized outcomes keyed by signal type and
// cap tier, rendered as a fixed Korean prompt block.
package ragstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/pkg/database"
	"github.com/wonny/kairos/pkg/logger"
)

// defaultLookupLimit: 패턴 블록에 넣는 최대 과거 사례 수
const defaultLookupLimit = 5

// Store persists and retrieves realized pick patterns.
// ⭐ SSOT: rag_patterns 테이블은 이 패키지에서만 접근
type Store struct {
	db     *database.DB
	logger *logger.Logger
}

// NewStore creates the pattern store.
func NewStore(db *database.DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: log.WithComponent("ragstore")}
}

// Save writes one settled day into the pattern history: every pick becomes
// a was_picked row, every non-picked realized result a was_picked=0 row
// with NULL rank. Signal types are normalized before storage; the raw
// pipeline label never reaches the table. A pick without a cap tier gets
// it re-inferred from pd's market caps. Single transaction.
func (s *Store) Save(ctx context.Context, date string, picks []contracts.Pick, results map[string]contracts.RealizedResult, pd *contracts.PriceData) error {
	picked := make(map[string]bool, len(picks))

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		const insert = `INSERT INTO rag_patterns
			(date, signal_type, stock_name, stock_code, cap_tier, was_picked, pick_rank, max_return, hit_20pct, hit_upper, pattern_memo)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		for _, pick := range picks {
			picked[pick.StockCode] = true

			var maxReturn float64
			var hit20, hitUpper bool
			var memo string
			if res, ok := results[pick.StockCode]; ok {
				maxReturn = res.MaxReturn
				hit20 = res.Hit20Pct
				hitUpper = res.HitUpper
				memo = res.Memo
			}

			capTier := pick.CapTier
			if capTier == "" {
				capTier = inferCapTier(pd, pick.StockCode, pick.StockName)
			}

			if _, err := tx.ExecContext(ctx, insert,
				date, string(pick.SignalType()), pick.StockName, pick.StockCode, string(capTier),
				1, pick.Rank, maxReturn, boolInt(hit20), boolInt(hitUpper), memo,
			); err != nil {
				return fmt.Errorf("insert picked pattern %s: %w", pick.StockCode, err)
			}
		}

		for code, res := range results {
			if picked[code] {
				continue
			}
			if _, err := tx.ExecContext(ctx, insert,
				date, string(contracts.SignalUnknown), res.StockName, code, string(inferCapTier(pd, code, res.StockName)),
				0, nil, res.MaxReturn, boolInt(res.Hit20Pct), boolInt(res.HitUpper), res.Memo,
			); err != nil {
				return fmt.Errorf("insert non-picked pattern %s: %w", code, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"date":    date,
		"picked":  len(picks),
		"results": len(results),
	}).Info("Pattern history saved")
	return nil
}

// inferCapTier resolves a cap tier from price data by code first, name
// second. Missing price data classifies as 미분류.
func inferCapTier(pd *contracts.PriceData, code, name string) contracts.CapTier {
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

// GetSimilarPatterns looks up past outcomes in two tiers: exact
// (signal_type, cap_tier) first, then signal_type alone when the exact
// bucket is empty. Newest first, capped at limit.
func (s *Store) GetSimilarPatterns(ctx context.Context, signalType contracts.SignalType, capTier contracts.CapTier, limit int) ([]contracts.RAGPattern, error) {
	if limit <= 0 {
		limit = defaultLookupLimit
	}

	patterns, err := s.query(ctx,
		`SELECT date, signal_type, stock_name, stock_code, cap_tier, was_picked, pick_rank, max_return, hit_20pct, hit_upper, pattern_memo
		 FROM rag_patterns WHERE signal_type = ? AND cap_tier = ? ORDER BY date DESC LIMIT ?`,
		string(signalType), string(capTier), limit)
	if err != nil {
		return nil, err
	}
	if len(patterns) > 0 {
		return patterns, nil
	}

	// 정확 일치가 없으면 시그널 타입만으로 확장
	return s.query(ctx,
		`SELECT date, signal_type, stock_name, stock_code, cap_tier, was_picked, pick_rank, max_return, hit_20pct, hit_upper, pattern_memo
		 FROM rag_patterns WHERE signal_type = ? ORDER BY date DESC LIMIT ?`,
		string(signalType), limit)
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]contracts.RAGPattern, error) {
	rows, err := s.db.SQL().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var out []contracts.RAGPattern
	for rows.Next() {
		var p contracts.RAGPattern
		var wasPicked, hit20, hitUpper int
		var rank sql.NullInt64
		if err := rows.Scan(&p.Date, &p.SignalType, &p.StockName, &p.StockCode, &p.CapTier,
			&wasPicked, &rank, &p.MaxReturn, &hit20, &hitUpper, &p.PatternMemo); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.WasPicked = wasPicked == 1
		p.Hit20Pct = hit20 == 1
		p.HitUpper = hitUpper == 1
		if rank.Valid {
			r := int(rank.Int64)
			p.PickRank = &r
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FormatContext renders patterns as the fixed prompt block consumed by
// stage 3. Empty input yields an empty string, not a header-only block.
func FormatContext(signalType contracts.SignalType, capTier contracts.CapTier, patterns []contracts.RAGPattern) string {
	if len(patterns) == 0 {
		return ""
	}

	var h20, hUp int
	var sum float64
	for _, p := range patterns {
		if p.Hit20Pct {
			h20++
		}
		if p.HitUpper {
			hUp++
		}
		sum += p.MaxReturn
	}
	n := float64(len(patterns))

	var b strings.Builder
	fmt.Fprintf(&b, "[RAG 과거패턴] %s / %s\n", signalType, capTier)
	fmt.Fprintf(&b, "총 %d건: 20%%+ %d건(%.0f%%), 상한가 %d건(%.0f%%), 평균최고등락 %.1f%%\n",
		len(patterns), h20, float64(h20)/n*100, hUp, float64(hUp)/n*100, sum/n)
	b.WriteString("최근 사례:\n")

	for _, p := range patterns {
		outcome := "미달"
		switch {
		case p.HitUpper:
			outcome = "상한가 도달"
		case p.Hit20Pct:
			outcome = "+20% 도달"
		}
		picked := "미선정"
		if p.WasPicked {
			picked = "선정"
		}
		fmt.Fprintf(&b, "- %s %s(%s) %s/%s 최대수익 %+.1f%%",
			p.Date, p.StockName, p.StockCode, picked, outcome, p.MaxReturn)
		if p.PatternMemo != "" {
			fmt.Fprintf(&b, " · %s", p.PatternMemo)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
