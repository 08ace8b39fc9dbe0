package learning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/pkg/database"
	"github.com/wonny/kairos/pkg/logger"
)

// Themes records theme/event history and keeps the per-theme hit-rate
// and per-signal weight tables current.
type Themes struct {
	db     *database.DB
	logger *logger.Logger
	now    func() time.Time
}

// NewThemes creates the recorder.
func NewThemes(db *database.DB, log *logger.Logger) *Themes {
	return &Themes{
		db:     db,
		logger: log.WithComponent("themes"),
		now:    market.Now,
	}
}

// RecordEvent appends one theme event with its member tickers.
func (t *Themes) RecordEvent(ctx context.Context, date, theme, eventType string, codes []string, note string) error {
	if theme == "" {
		return fmt.Errorf("theme required")
	}
	_, err := t.db.SQL().ExecContext(ctx,
		`INSERT INTO theme_event_history (event_date, theme, event_type, stock_codes, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		date, theme, eventType, strings.Join(codes, ","), note,
		t.now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert theme event: %w", err)
	}
	return nil
}

// UpdateAccuracy recomputes per-theme hit rates: each event's tickers
// are matched against same-date RAG rows; a ticker that reached 20% or
// the upper limit counts as a hit.
func (t *Themes) UpdateAccuracy(ctx context.Context) error {
	rows, err := t.db.SQL().QueryContext(ctx,
		`SELECT event_date, theme, stock_codes FROM theme_event_history`)
	if err != nil {
		return fmt.Errorf("select events: %w", err)
	}

	type agg struct{ picks, hits int }
	byTheme := map[string]*agg{}

	type event struct {
		date  string
		theme string
		codes []string
	}
	var events []event
	for rows.Next() {
		var e event
		var codes string
		if err := rows.Scan(&e.date, &e.theme, &codes); err != nil {
			rows.Close()
			return fmt.Errorf("scan event: %w", err)
		}
		for _, code := range strings.Split(codes, ",") {
			if code = strings.TrimSpace(code); code != "" {
				e.codes = append(e.codes, code)
			}
		}
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range events {
		a := byTheme[e.theme]
		if a == nil {
			a = &agg{}
			byTheme[e.theme] = a
		}
		for _, code := range e.codes {
			a.picks++
			var hit int
			err := t.db.SQL().QueryRowContext(ctx,
				`SELECT COUNT(*) FROM rag_patterns
				 WHERE date = ? AND stock_code = ? AND (hit_20pct = 1 OR hit_upper = 1)`,
				e.date, code).Scan(&hit)
			if err != nil {
				return fmt.Errorf("hit lookup %s: %w", code, err)
			}
			if hit > 0 {
				a.hits++
			}
		}
	}

	updated := t.now().Format(time.RFC3339)
	for theme, a := range byTheme {
		rate := 0.0
		if a.picks > 0 {
			rate = float64(a.hits) / float64(a.picks) * 100
		}
		if _, err := t.db.SQL().ExecContext(ctx,
			`INSERT INTO theme_accuracy (theme, picks, hits, hit_rate, last_updated)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(theme) DO UPDATE SET
			   picks = excluded.picks,
			   hits = excluded.hits,
			   hit_rate = excluded.hit_rate,
			   last_updated = excluded.last_updated`,
			theme, a.picks, a.hits, rate, updated); err != nil {
			return fmt.Errorf("upsert theme %s: %w", theme, err)
		}
	}
	return nil
}

// UpdateSignalWeights rescales each signal type's weight from its RAG
// 20%-hit ratio: weight = 0.5 + hit_ratio, clamped to [0.5, 1.5].
func (t *Themes) UpdateSignalWeights(ctx context.Context) error {
	rows, err := t.db.SQL().QueryContext(ctx,
		`SELECT signal_type,
		        COUNT(*),
		        SUM(CASE WHEN hit_20pct = 1 OR hit_upper = 1 THEN 1 ELSE 0 END)
		 FROM rag_patterns GROUP BY signal_type`)
	if err != nil {
		return fmt.Errorf("group signals: %w", err)
	}

	type sigAgg struct {
		signal string
		total  int
		hits   int
	}
	var sigs []sigAgg
	for rows.Next() {
		var s sigAgg
		if err := rows.Scan(&s.signal, &s.total, &s.hits); err != nil {
			rows.Close()
			return fmt.Errorf("scan signal: %w", err)
		}
		sigs = append(sigs, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	updated := t.now().Format(time.RFC3339)
	for _, s := range sigs {
		weight := 0.5
		if s.total > 0 {
			weight += float64(s.hits) / float64(s.total)
		}
		if weight > 1.5 {
			weight = 1.5
		}
		if _, err := t.db.SQL().ExecContext(ctx,
			`INSERT INTO signal_weights (signal_type, weight, last_updated)
			 VALUES (?, ?, ?)
			 ON CONFLICT(signal_type) DO UPDATE SET
			   weight = excluded.weight,
			   last_updated = excluded.last_updated`,
			s.signal, weight, updated); err != nil {
			return fmt.Errorf("upsert weight %s: %w", s.signal, err)
		}
	}
	return nil
}
