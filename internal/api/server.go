// Package api exposes the read-only ops surface: health, job status,
// open positions, daily picks, and weekly performance. It never mutates
// state or places orders.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/internal/morning"
	"github.com/wonny/kairos/internal/performance"
	"github.com/wonny/kairos/internal/position"
	"github.com/wonny/kairos/internal/scheduler"
	"github.com/wonny/kairos/internal/watchlist"
	"github.com/wonny/kairos/pkg/config"
	"github.com/wonny/kairos/pkg/logger"
)

// Server is the ops HTTP server.
type Server struct {
	cfg       *config.Config
	sched     *scheduler.Scheduler
	positions *position.Repo
	picks     *morning.PickRepo
	tracker   *performance.Tracker
	logger    *logger.Logger
	http      *http.Server
}

// NewServer builds the router. Start it with Run.
func NewServer(cfg *config.Config, sched *scheduler.Scheduler, positions *position.Repo, picks *morning.PickRepo, tracker *performance.Tracker, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		sched:     sched,
		positions: positions,
		picks:     picks,
		tracker:   tracker,
		logger:    log.WithComponent("api"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/positions", s.handlePositions).Methods(http.MethodGet)
	r.HandleFunc("/api/picks", s.handlePicks).Methods(http.MethodGet)
	r.HandleFunc("/api/performance/weekly", s.handleWeekly).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.WithField("addr", s.http.Addr).Info("Ops API listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("Response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":            string(s.cfg.TradingMode),
		"auto_trade":      s.cfg.AutoTradeEnabled,
		"market_env":      string(watchlist.MarketEnv()),
		"watchlist_ready": watchlist.IsReady(),
		"watched":         len(watchlist.Get()),
		"jobs":            s.sched.Status(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	open, err := s.positions.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(open),
		"positions": open,
	})
}

// handlePicks serves the picks for ?date=YYYYMMDD, defaulting to today.
func (s *Server) handlePicks(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = market.DateKey(market.Now())
	}
	if len(date) != 8 {
		s.writeError(w, http.StatusBadRequest, "date must be YYYYMMDD")
		return
	}

	picks, err := s.picks.LoadPicks(r.Context(), date)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":  date,
		"count": len(picks),
		"picks": picks,
	})
}

func (s *Server) handleWeekly(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tracker.GetWeeklyStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sources": stats})
}
