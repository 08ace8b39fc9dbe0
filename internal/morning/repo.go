package morning

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/pkg/database"
)

// PickRepo persists the day's final picks.
// ⭐ SSOT: daily_picks 테이블은 이 리포지토리에서만 접근
type PickRepo struct {
	db *database.DB
}

// NewPickRepo creates the pick repository.
func NewPickRepo(db *database.DB) *PickRepo {
	return &PickRepo{db: db}
}

// SavePicks replaces the day's picks: delete-by-date then insert, one
// transaction, so a rerun never leaves mixed generations. Signal type is
// stored normalized.
func (r *PickRepo) SavePicks(ctx context.Context, date string, picks []contracts.Pick) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM daily_picks WHERE pick_date = ?`, date); err != nil {
			return fmt.Errorf("clear picks for %s: %w", date, err)
		}

		const insert = `INSERT INTO daily_picks
			(pick_date, rank, stock_code, stock_name, reason, category, signal_type, target_return, stop_loss, is_theme, entry_window, cap_tier)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		for _, pick := range picks {
			isTheme := 0
			if pick.IsTheme {
				isTheme = 1
			}
			capTier := pick.CapTier
			if capTier == "" {
				capTier = contracts.CapTierNone
			}
			if _, err := tx.ExecContext(ctx, insert,
				date, pick.Rank, pick.StockCode, pick.StockName, pick.Reason,
				string(pick.Category), string(pick.SignalType()),
				pick.TargetReturn, pick.StopLoss, isTheme, pick.EntryWindow, string(capTier),
			); err != nil {
				return fmt.Errorf("insert pick %s: %w", pick.StockName, err)
			}
		}
		return nil
	})
}

// LoadPicks returns the picks stored for a date, rank order.
func (r *PickRepo) LoadPicks(ctx context.Context, date string) ([]contracts.Pick, error) {
	rows, err := r.db.SQL().QueryContext(ctx,
		`SELECT rank, stock_code, stock_name, reason, category, target_return, stop_loss, is_theme, entry_window, cap_tier
		 FROM daily_picks WHERE pick_date = ? ORDER BY rank`, date)
	if err != nil {
		return nil, fmt.Errorf("load picks %s: %w", date, err)
	}
	defer rows.Close()

	var out []contracts.Pick
	for rows.Next() {
		var pick contracts.Pick
		var isTheme int
		if err := rows.Scan(&pick.Rank, &pick.StockCode, &pick.StockName, &pick.Reason,
			&pick.Category, &pick.TargetReturn, &pick.StopLoss, &isTheme,
			&pick.EntryWindow, &pick.CapTier); err != nil {
			return nil, fmt.Errorf("scan pick: %w", err)
		}
		pick.IsTheme = isTheme == 1
		out = append(out, pick)
	}
	return out, rows.Err()
}
