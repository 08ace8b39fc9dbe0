package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is the complete DDL for the core. Every statement is
// CREATE ... IF NOT EXISTS so InitDB can run on every startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS alert_history (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker          TEXT NOT NULL,
		name            TEXT NOT NULL DEFAULT '',
		alert_time      TEXT NOT NULL,
		alert_date      TEXT NOT NULL,
		change_rate     REAL NOT NULL DEFAULT 0,
		delta_rate      REAL NOT NULL DEFAULT 0,
		source          TEXT NOT NULL DEFAULT '',
		alert_type      TEXT NOT NULL DEFAULT '',
		price_at_alert  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_history_date ON alert_history(alert_date)`,

	`CREATE TABLE IF NOT EXISTS performance_tracker (
		alert_id        INTEGER PRIMARY KEY,
		ticker          TEXT NOT NULL,
		alert_date      TEXT NOT NULL,
		price_at_alert  INTEGER NOT NULL DEFAULT 0,
		done_1d         INTEGER NOT NULL DEFAULT 0,
		tracked_date_1d TEXT,
		price_1d        INTEGER,
		return_1d       REAL,
		done_3d         INTEGER NOT NULL DEFAULT 0,
		tracked_date_3d TEXT,
		price_3d        INTEGER,
		return_3d       REAL,
		done_7d         INTEGER NOT NULL DEFAULT 0,
		tracked_date_7d TEXT,
		price_7d        INTEGER,
		return_7d       REAL,
		FOREIGN KEY(alert_id) REFERENCES alert_history(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_perf_tracker_date ON performance_tracker(alert_date)`,

	`CREATE TABLE IF NOT EXISTS positions (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		trading_id     TEXT NOT NULL UNIQUE,
		ticker         TEXT NOT NULL,
		name           TEXT NOT NULL DEFAULT '',
		buy_time       TEXT NOT NULL,
		buy_price      INTEGER NOT NULL,
		qty            INTEGER NOT NULL,
		trigger_source TEXT NOT NULL DEFAULT '',
		mode           TEXT NOT NULL DEFAULT 'VTS',
		pick_type      TEXT NOT NULL DEFAULT 'swing',
		category       TEXT NOT NULL DEFAULT '',
		peak_price     INTEGER NOT NULL DEFAULT 0,
		stop_loss      INTEGER NOT NULL DEFAULT 0,
		market_env     TEXT NOT NULL DEFAULT '',
		sector         TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_ticker ON positions(ticker)`,

	`CREATE TABLE IF NOT EXISTS trading_history (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		trading_id     TEXT NOT NULL UNIQUE,
		ticker         TEXT NOT NULL,
		name           TEXT NOT NULL DEFAULT '',
		buy_time       TEXT NOT NULL,
		buy_price      INTEGER NOT NULL,
		qty            INTEGER NOT NULL,
		trigger_source TEXT NOT NULL DEFAULT '',
		mode           TEXT NOT NULL DEFAULT 'VTS',
		pick_type      TEXT NOT NULL DEFAULT 'swing',
		category       TEXT NOT NULL DEFAULT '',
		market_env     TEXT NOT NULL DEFAULT '',
		sector         TEXT NOT NULL DEFAULT '',
		buy_kospi      REAL NOT NULL DEFAULT 0,
		sell_time      TEXT,
		sell_price     INTEGER,
		profit_rate    REAL,
		profit_amount  INTEGER,
		close_reason   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trading_history_source ON trading_history(trigger_source)`,

	`CREATE TABLE IF NOT EXISTS daily_picks (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		pick_date     TEXT NOT NULL,
		rank          INTEGER NOT NULL,
		stock_code    TEXT NOT NULL DEFAULT '',
		stock_name    TEXT NOT NULL,
		reason        TEXT NOT NULL DEFAULT '',
		category      TEXT NOT NULL DEFAULT '',
		signal_type   TEXT NOT NULL DEFAULT '미분류',
		target_return TEXT NOT NULL DEFAULT '',
		stop_loss     TEXT NOT NULL DEFAULT '',
		is_theme      INTEGER NOT NULL DEFAULT 0,
		entry_window  TEXT NOT NULL DEFAULT '',
		cap_tier      TEXT NOT NULL DEFAULT '미분류'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_picks_date ON daily_picks(pick_date)`,

	`CREATE TABLE IF NOT EXISTS rag_patterns (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		date         TEXT NOT NULL,
		signal_type  TEXT NOT NULL,
		stock_name   TEXT NOT NULL DEFAULT '',
		stock_code   TEXT NOT NULL DEFAULT '',
		cap_tier     TEXT NOT NULL DEFAULT '미분류',
		was_picked   INTEGER NOT NULL DEFAULT 0,
		pick_rank    INTEGER,
		max_return   REAL NOT NULL DEFAULT 0,
		hit_20pct    INTEGER NOT NULL DEFAULT 0,
		hit_upper    INTEGER NOT NULL DEFAULT 0,
		pattern_memo TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rag_patterns_lookup ON rag_patterns(signal_type, cap_tier, date)`,

	`CREATE TABLE IF NOT EXISTS trading_principles (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		trigger_source TEXT NOT NULL,
		action         TEXT NOT NULL DEFAULT 'buy',
		total_trades   INTEGER NOT NULL DEFAULT 0,
		wins           INTEGER NOT NULL DEFAULT 0,
		win_rate       REAL NOT NULL DEFAULT 0,
		confidence     TEXT NOT NULL DEFAULT 'low',
		pattern_tags   TEXT NOT NULL DEFAULT '',
		last_updated   TEXT NOT NULL,
		UNIQUE(trigger_source, action)
	)`,

	`CREATE TABLE IF NOT EXISTS theme_accuracy (
		theme        TEXT PRIMARY KEY,
		picks        INTEGER NOT NULL DEFAULT 0,
		hits         INTEGER NOT NULL DEFAULT 0,
		hit_rate     REAL NOT NULL DEFAULT 0,
		last_updated TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS signal_weights (
		signal_type  TEXT PRIMARY KEY,
		weight       REAL NOT NULL DEFAULT 1.0,
		last_updated TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS trading_journal (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_date          TEXT NOT NULL,
		trading_id          TEXT NOT NULL DEFAULT '',
		ticker              TEXT NOT NULL,
		name                TEXT NOT NULL DEFAULT '',
		profit_rate         REAL NOT NULL DEFAULT 0,
		close_reason        TEXT NOT NULL DEFAULT '',
		situation_analysis  TEXT NOT NULL DEFAULT '',
		judgment_evaluation TEXT NOT NULL DEFAULT '',
		lessons             TEXT NOT NULL DEFAULT '',
		pattern_tags        TEXT NOT NULL DEFAULT '',
		one_line_summary    TEXT NOT NULL DEFAULT '',
		summary_text        TEXT NOT NULL DEFAULT '',
		compression_layer   INTEGER NOT NULL DEFAULT 1,
		created_at          TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trading_journal_date ON trading_journal(trade_date)`,

	`CREATE TABLE IF NOT EXISTS kospi_index_stats (
		band         TEXT PRIMARY KEY,
		trades       INTEGER NOT NULL DEFAULT 0,
		wins         INTEGER NOT NULL DEFAULT 0,
		win_rate     REAL NOT NULL DEFAULT 0,
		avg_profit   REAL NOT NULL DEFAULT 0,
		last_updated TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS theme_event_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		event_date  TEXT NOT NULL,
		theme       TEXT NOT NULL,
		event_type  TEXT NOT NULL DEFAULT '',
		stock_codes TEXT NOT NULL DEFAULT '',
		note        TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	)`,
}

// InitDB creates every table and index used by the core in one pass.
// Idempotent; safe to call on every startup. Failure here is fatal.
func (db *DB) InitDB(ctx context.Context) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("schema init: %w", err)
			}
		}
		return nil
	})
}
