// Package performance settles T+1/T+3/T+7 returns for every intraday
// alert and exposes the per-trigger weekly statistics.
package performance

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/pkg/database"
	"github.com/wonny/kairos/pkg/logger"
)

// horizons are the settlement offsets in calendar days.
var horizons = []int{1, 3, 7}

// ClosePricer batch-fetches daily close prices. Tickers without a bar on
// the date are absent from the map.
type ClosePricer interface {
	ClosesOn(ctx context.Context, codes []string, date time.Time) (map[string]int64, error)
}

// Tracker owns alert_history and performance_tracker.
// ⭐ SSOT: 알림 성과 추적은 이 트래커에서만
type Tracker struct {
	db     *database.DB
	prices ClosePricer
	logger *logger.Logger
	now    func() time.Time
}

// NewTracker creates the tracker.
func NewTracker(db *database.DB, prices ClosePricer, log *logger.Logger) *Tracker {
	return &Tracker{
		db:     db,
		prices: prices,
		logger: log.WithComponent("performance"),
		now:    market.Now,
	}
}

// RecordAlert persists one alert and its companion tracker row, all
// horizons unsettled. Implements the intraday recorder hook.
func (t *Tracker) RecordAlert(ctx context.Context, alert *contracts.IntradayAlert) error {
	now := t.now()
	return t.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO alert_history
			 (ticker, name, alert_time, alert_date, change_rate, delta_rate, source, alert_type, price_at_alert)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			alert.StockCode, alert.StockName, now.Format(time.RFC3339),
			market.DateKey(now), alert.ChangeRate, alert.DeltaRate,
			string(alert.Source), string(alert.AlertType), alert.CurrentPrice)
		if err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}

		alertID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("alert id: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO performance_tracker (alert_id, ticker, alert_date, price_at_alert)
			 VALUES (?, ?, ?, ?)`,
			alertID, alert.StockCode, market.DateKey(now), alert.CurrentPrice); err != nil {
			return fmt.Errorf("insert tracker: %w", err)
		}
		return nil
	})
}

// trackerRow is one unsettled row for a horizon pass.
type trackerRow struct {
	alertID      int64
	ticker       string
	priceAtAlert int64
}

// RunBatch settles every due horizon: rows alerted exactly h calendar
// days ago and not yet settled for h get today's close priced in. Rows
// whose ticker has no bar today, or whose alert price was unusable, are
// marked done with a null return so they are never retried.
func (t *Tracker) RunBatch(ctx context.Context) error {
	today := t.now()

	for _, h := range horizons {
		targetDate := market.DateKey(today.AddDate(0, 0, -h))
		if err := t.settleHorizon(ctx, h, targetDate, today); err != nil {
			return fmt.Errorf("horizon %dd: %w", h, err)
		}
	}
	return nil
}

func (t *Tracker) settleHorizon(ctx context.Context, h int, targetDate string, today time.Time) error {
	doneCol := fmt.Sprintf("done_%dd", h)

	rows, err := t.db.SQL().QueryContext(ctx, fmt.Sprintf(
		`SELECT alert_id, ticker, price_at_alert FROM performance_tracker
		 WHERE alert_date = ? AND %s = 0`, doneCol), targetDate)
	if err != nil {
		return fmt.Errorf("select due: %w", err)
	}

	var due []trackerRow
	codeSet := map[string]bool{}
	for rows.Next() {
		var r trackerRow
		if err := rows.Scan(&r.alertID, &r.ticker, &r.priceAtAlert); err != nil {
			rows.Close()
			return fmt.Errorf("scan due: %w", err)
		}
		due = append(due, r)
		codeSet[r.ticker] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	codes := make([]string, 0, len(codeSet))
	for code := range codeSet {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	closes, err := t.prices.ClosesOn(ctx, codes, today)
	if err != nil {
		return fmt.Errorf("fetch closes: %w", err)
	}

	trackedDate := market.DateKey(today)
	settled := 0

	err = t.db.WithTx(ctx, func(tx *sql.Tx) error {
		markOnly, err := tx.PrepareContext(ctx, fmt.Sprintf(
			`UPDATE performance_tracker SET done_%dd = 1, tracked_date_%dd = ? WHERE alert_id = ?`, h, h))
		if err != nil {
			return err
		}
		defer markOnly.Close()

		settle, err := tx.PrepareContext(ctx, fmt.Sprintf(
			`UPDATE performance_tracker
			 SET done_%dd = 1, tracked_date_%dd = ?, price_%dd = ?, return_%dd = ?
			 WHERE alert_id = ?`, h, h, h, h))
		if err != nil {
			return err
		}
		defer settle.Close()

		for _, r := range due {
			price, ok := closes[r.ticker]
			if !ok || price <= 0 || r.priceAtAlert <= 0 {
				if _, err := markOnly.ExecContext(ctx, trackedDate, r.alertID); err != nil {
					return err
				}
				continue
			}
			ret := round2(float64(price-r.priceAtAlert) / float64(r.priceAtAlert) * 100)
			if _, err := settle.ExecContext(ctx, trackedDate, price, ret, r.alertID); err != nil {
				return err
			}
			settled++
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.logger.WithFields(map[string]interface{}{
		"horizon": h,
		"due":     len(due),
		"settled": settled,
	}).Info("Horizon settled")
	return nil
}

// RealizedResults builds the RAG feedback map for a date from its alert
// history: per ticker the best observed change rate and the derived
// 20%/upper-limit flags.
func (t *Tracker) RealizedResults(ctx context.Context, date string) (map[string]contracts.RealizedResult, error) {
	rows, err := t.db.SQL().QueryContext(ctx,
		`SELECT ticker, name, MAX(change_rate), GROUP_CONCAT(DISTINCT alert_type)
		 FROM alert_history WHERE alert_date = ? GROUP BY ticker`, date)
	if err != nil {
		return nil, fmt.Errorf("realized results: %w", err)
	}
	defer rows.Close()

	out := make(map[string]contracts.RealizedResult)
	for rows.Next() {
		var r contracts.RealizedResult
		var types string
		if err := rows.Scan(&r.StockCode, &r.StockName, &r.MaxReturn, &types); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.MaxReturn = round2(r.MaxReturn)
		r.Hit20Pct = r.MaxReturn >= 20
		r.HitUpper = r.MaxReturn >= contracts.UpperLimitAdjacentPct
		r.Memo = types
		out[r.StockCode] = r
	}
	return out, rows.Err()
}

// SourceStats is one trigger source's weekly aggregate.
type SourceStats struct {
	Source    contracts.TriggerSource
	Alerts    int
	Settled   int
	Wins      int
	WinRate   float64 // percent of settled
	AvgReturn float64 // T+1, percent
}

// GetWeeklyStats aggregates the last seven days of settled T+1 returns
// by trigger source.
func (t *Tracker) GetWeeklyStats(ctx context.Context) ([]SourceStats, error) {
	since := market.DateKey(t.now().AddDate(0, 0, -7))

	rows, err := t.db.SQL().QueryContext(ctx,
		`SELECT a.source,
		        COUNT(*),
		        COUNT(p.return_1d),
		        COALESCE(SUM(CASE WHEN p.return_1d > 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(p.return_1d), 0)
		 FROM alert_history a
		 JOIN performance_tracker p ON p.alert_id = a.id
		 WHERE a.alert_date >= ?
		 GROUP BY a.source
		 ORDER BY a.source`, since)
	if err != nil {
		return nil, fmt.Errorf("weekly stats: %w", err)
	}
	defer rows.Close()

	var out []SourceStats
	for rows.Next() {
		var s SourceStats
		if err := rows.Scan(&s.Source, &s.Alerts, &s.Settled, &s.Wins, &s.AvgReturn); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		if s.Settled > 0 {
			s.WinRate = round2(float64(s.Wins) / float64(s.Settled) * 100)
		}
		s.AvgReturn = round2(s.AvgReturn)
		out = append(out, s)
	}
	return out, rows.Err()
}

func round2(v float64) float64 {
	if v >= 0 {
		return float64(int64(v*100+0.5)) / 100
	}
	return float64(int64(v*100-0.5)) / 100
}
