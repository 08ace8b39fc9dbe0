package position

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/pkg/database"
)

// Repo persists open positions and the trading history.
// ⭐ SSOT: positions / trading_history 테이블은 이 리포지토리에서만 접근
type Repo struct {
	db *database.DB
}

// NewRepo creates the position repository.
func NewRepo(db *database.DB) *Repo {
	return &Repo{db: db}
}

// Open records a new position: the positions row and the open
// trading_history row land in one transaction, so a crash can never
// leave a position without its history row.
func (r *Repo) Open(ctx context.Context, pos *contracts.Position, buyKOSPI float64) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO positions
			 (trading_id, ticker, name, buy_time, buy_price, qty, trigger_source, mode, pick_type, category, peak_price, stop_loss, market_env, sector)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			pos.TradingID, pos.Ticker, pos.Name, pos.BuyTime.Format(time.RFC3339),
			pos.BuyPrice, pos.Qty, string(pos.TriggerSource), pos.Mode,
			string(pos.PickType), string(pos.Category), pos.PeakPrice, pos.StopLoss,
			string(pos.MarketEnv), pos.Sector)
		if err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
		if pos.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("position id: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trading_history
			 (trading_id, ticker, name, buy_time, buy_price, qty, trigger_source, mode, pick_type, category, market_env, sector, buy_kospi)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			pos.TradingID, pos.Ticker, pos.Name, pos.BuyTime.Format(time.RFC3339),
			pos.BuyPrice, pos.Qty, string(pos.TriggerSource), pos.Mode,
			string(pos.PickType), string(pos.Category), string(pos.MarketEnv),
			pos.Sector, buyKOSPI); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		return nil
	})
}

// Close settles a position: the trading_history row gets its sell side
// and the positions row disappears, atomically.
func (r *Repo) Close(ctx context.Context, tradingID string, sellTime time.Time, sellPrice int64, profitRate float64, profitAmount int64, reason contracts.CloseReason) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE trading_history
			 SET sell_time = ?, sell_price = ?, profit_rate = ?, profit_amount = ?, close_reason = ?
			 WHERE trading_id = ? AND sell_time IS NULL`,
			sellTime.Format(time.RFC3339), sellPrice, profitRate, profitAmount,
			string(reason), tradingID)
		if err != nil {
			return fmt.Errorf("close history: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("position %s already closed or unknown", tradingID)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM positions WHERE trading_id = ?`, tradingID); err != nil {
			return fmt.Errorf("delete position: %w", err)
		}
		return nil
	})
}

// UpdatePeak persists a new peak price for the trailing stop.
func (r *Repo) UpdatePeak(ctx context.Context, tradingID string, peak int64) error {
	_, err := r.db.SQL().ExecContext(ctx,
		`UPDATE positions SET peak_price = ? WHERE trading_id = ?`, peak, tradingID)
	if err != nil {
		return fmt.Errorf("update peak: %w", err)
	}
	return nil
}

// List returns every open position, oldest first.
func (r *Repo) List(ctx context.Context) ([]contracts.Position, error) {
	rows, err := r.db.SQL().QueryContext(ctx,
		`SELECT id, trading_id, ticker, name, buy_time, buy_price, qty, trigger_source, mode, pick_type, category, peak_price, stop_loss, market_env, sector
		 FROM positions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []contracts.Position
	for rows.Next() {
		var pos contracts.Position
		var buyTime string
		if err := rows.Scan(&pos.ID, &pos.TradingID, &pos.Ticker, &pos.Name, &buyTime,
			&pos.BuyPrice, &pos.Qty, &pos.TriggerSource, &pos.Mode, &pos.PickType,
			&pos.Category, &pos.PeakPrice, &pos.StopLoss, &pos.MarketEnv, &pos.Sector); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if pos.BuyTime, err = time.Parse(time.RFC3339, buyTime); err != nil {
			return nil, fmt.Errorf("parse buy_time: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

// Holds reports whether a ticker has an open position in this mode.
func (r *Repo) Holds(ctx context.Context, ticker, mode string) (bool, error) {
	var n int
	err := r.db.SQL().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE ticker = ? AND mode = ?`, ticker, mode).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("holds query: %w", err)
	}
	return n > 0, nil
}

// OpenCount returns the number of open positions in this mode.
func (r *Repo) OpenCount(ctx context.Context, mode string) (int, error) {
	var n int
	err := r.db.SQL().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE mode = ?`, mode).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("open count: %w", err)
	}
	return n, nil
}

// DailyRealizedPnL sums today's realized profit rates (percent).
func (r *Repo) DailyRealizedPnL(ctx context.Context, day time.Time) (float64, error) {
	var sum float64
	err := r.db.SQL().QueryRowContext(ctx,
		`SELECT COALESCE(SUM(profit_rate), 0) FROM trading_history
		 WHERE sell_time IS NOT NULL AND sell_time LIKE ?`,
		day.Format("2006-01-02")+"%").Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("daily pnl: %w", err)
	}
	return sum, nil
}

// Trade returns one settled trading_history row.
func (r *Repo) Trade(ctx context.Context, tradingID string) (*contracts.TradeRecord, error) {
	var tr contracts.TradeRecord
	var buyTime, sellTime string
	err := r.db.SQL().QueryRowContext(ctx,
		`SELECT trading_id, ticker, name, buy_time, buy_price, qty, trigger_source, mode, pick_type, category, market_env, sector, buy_kospi, sell_time, sell_price, profit_rate, profit_amount, close_reason
		 FROM trading_history
		 WHERE trading_id = ? AND sell_time IS NOT NULL`, tradingID).
		Scan(&tr.TradingID, &tr.Ticker, &tr.Name, &buyTime, &tr.BuyPrice,
			&tr.Qty, &tr.TriggerSource, &tr.Mode, &tr.PickType, &tr.Category,
			&tr.MarketEnv, &tr.Sector, &tr.BuyKOSPI, &sellTime, &tr.SellPrice,
			&tr.ProfitRate, &tr.ProfitAmount, &tr.CloseReason)
	if err != nil {
		return nil, fmt.Errorf("trade %s: %w", tradingID, err)
	}
	if tr.BuyTime, err = time.Parse(time.RFC3339, buyTime); err != nil {
		return nil, fmt.Errorf("parse buy_time: %w", err)
	}
	if tr.SellTime, err = time.Parse(time.RFC3339, sellTime); err != nil {
		return nil, fmt.Errorf("parse sell_time: %w", err)
	}
	return &tr, nil
}

// ClosedTrades returns settled trades in a date range (inclusive).
func (r *Repo) ClosedTrades(ctx context.Context, from, to time.Time) ([]contracts.TradeRecord, error) {
	rows, err := r.db.SQL().QueryContext(ctx,
		`SELECT trading_id, ticker, name, buy_time, buy_price, qty, trigger_source, mode, pick_type, category, market_env, sector, buy_kospi, sell_time, sell_price, profit_rate, profit_amount, close_reason
		 FROM trading_history
		 WHERE sell_time IS NOT NULL AND sell_time >= ? AND sell_time <= ?
		 ORDER BY sell_time`,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("closed trades: %w", err)
	}
	defer rows.Close()

	var out []contracts.TradeRecord
	for rows.Next() {
		var tr contracts.TradeRecord
		var buyTime, sellTime string
		if err := rows.Scan(&tr.TradingID, &tr.Ticker, &tr.Name, &buyTime, &tr.BuyPrice,
			&tr.Qty, &tr.TriggerSource, &tr.Mode, &tr.PickType, &tr.Category,
			&tr.MarketEnv, &tr.Sector, &tr.BuyKOSPI, &sellTime, &tr.SellPrice,
			&tr.ProfitRate, &tr.ProfitAmount, &tr.CloseReason); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if tr.BuyTime, err = time.Parse(time.RFC3339, buyTime); err != nil {
			return nil, fmt.Errorf("parse buy_time: %w", err)
		}
		if tr.SellTime, err = time.Parse(time.RFC3339, sellTime); err != nil {
			return nil, fmt.Errorf("parse sell_time: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
