// Package position owns order admission, open positions, and the tiered
// exit ladder. Day-trade positions are force-closed at 14:50, everything
// else at the 15:20 final sweep.
package position

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/internal/watchlist"
	"github.com/wonny/kairos/pkg/config"
	"github.com/wonny/kairos/pkg/logger"
)

const (
	// 트레일링 비율: 강세장 0.92, 그 외 0.95
	trailingRatioBull    = 0.92
	trailingRatioDefault = 0.95

	// minRiskReward: 목표수익/손절폭 비율 하한
	minRiskReward = 1.5
)

// Manager is the position manager.
// ⭐ SSOT: 매수/매도 의사결정은 이 매니저에서만
type Manager struct {
	broker  contracts.Broker
	repo    *Repo
	cfg     *config.Config
	sink    contracts.MessageSink
	journal contracts.JournalRecorder
	logger  *logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	armedAt time.Time
}

// NewManager creates the manager. sink and journal may be nil.
func NewManager(broker contracts.Broker, repo *Repo, cfg *config.Config, sink contracts.MessageSink, journal contracts.JournalRecorder, log *logger.Logger) *Manager {
	return &Manager{
		broker:  broker,
		repo:    repo,
		cfg:     cfg,
		sink:    sink,
		journal: journal,
		logger:  log.WithComponent("position"),
		now:     market.Now,
	}
}

// Arm starts the live-mode confirmation window: real orders stay blocked
// until the configured delay has passed. No-op outside REAL mode.
func (m *Manager) Arm() {
	if m.cfg.TradingMode != config.ModeReal || !m.cfg.RealConfirmEnabled {
		return
	}
	m.mu.Lock()
	m.armedAt = m.now().Add(m.cfg.RealConfirmDelay())
	m.mu.Unlock()

	m.logger.WithField("delay", m.cfg.RealConfirmDelay().String()).
		Warn("REAL mode armed, orders blocked until the delay passes")
}

func (m *Manager) realBlocked() bool {
	if m.cfg.TradingMode != config.ModeReal || !m.cfg.RealConfirmEnabled {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armedAt.IsZero() || m.now().Before(m.armedAt)
}

// CanBuy runs the admission checks in order: auto-trade flag, live-mode
// arming, not already held, regime position cap, daily loss limit, and
// the pick's risk/reward ratio. The R/R check fails open when the pick
// carries no parseable target or the stop is a raw price.
func (m *Manager) CanBuy(ctx context.Context, code string) (bool, string) {
	if !m.cfg.AutoTradeEnabled {
		return false, "자동매매 비활성화"
	}
	if m.realBlocked() {
		return false, "실전모드 확인 대기중"
	}

	mode := string(m.cfg.TradingMode)

	held, err := m.repo.Holds(ctx, code, mode)
	if err != nil {
		return false, fmt.Sprintf("보유 조회 실패: %v", err)
	}
	if held {
		return false, "이미 보유중"
	}

	open, err := m.repo.OpenCount(ctx, mode)
	if err != nil {
		return false, fmt.Sprintf("포지션 조회 실패: %v", err)
	}
	if cap := m.positionCap(); open >= cap {
		return false, fmt.Sprintf("포지션 한도 도달 (%d/%d)", open, cap)
	}

	pnl, err := m.repo.DailyRealizedPnL(ctx, m.now())
	if err != nil {
		return false, fmt.Sprintf("손익 조회 실패: %v", err)
	}
	if pnl <= m.cfg.DailyLossLimitPct {
		return false, fmt.Sprintf("일일 손실 한도 도달 (%.2f%%)", pnl)
	}

	if pick := watchlist.PickFor(code); pick != nil {
		target, okT := contracts.ParseTargetReturn(pick.TargetReturn)
		stopPct, stopPrice, okS := contracts.ParseStopLoss(pick.StopLoss)
		if okT && okS && stopPrice == 0 && stopPct < 0 {
			if rr := target / -stopPct; rr < minRiskReward {
				return false, fmt.Sprintf("손익비 미달 (%.2f)", rr)
			}
		}
	}
	return true, ""
}

// positionCap is the regime-dependent open-position limit.
func (m *Manager) positionCap() int {
	switch watchlist.MarketEnv() {
	case contracts.EnvBull:
		return m.cfg.PositionMaxBull
	case contracts.EnvBear:
		return m.cfg.PositionMaxBear
	default:
		return m.cfg.PositionMaxNeutral
	}
}

// OpenPosition admits and executes a buy for one alert: CanBuy, market
// buy sized in KRW, then the atomic positions + trading_history insert
// with entry-time market_env, sector, and KOSPI snapshots.
func (m *Manager) OpenPosition(ctx context.Context, alert *contracts.IntradayAlert) (*contracts.Position, error) {
	ok, reason := m.CanBuy(ctx, alert.StockCode)
	if !ok {
		m.logger.WithFields(map[string]interface{}{
			"code":   alert.StockCode,
			"reason": reason,
		}).Info("Buy rejected")
		return nil, nil
	}

	order, err := m.broker.Buy(ctx, alert.StockCode, m.cfg.BuyAmountKRW)
	if err != nil {
		return nil, fmt.Errorf("buy %s: %w", alert.StockCode, err)
	}
	if !order.Success {
		m.logger.WithFields(map[string]interface{}{
			"code": alert.StockCode,
			"msg":  order.Msg,
		}).Warn("Buy order refused")
		return nil, nil
	}

	pick := watchlist.PickFor(alert.StockCode)
	pickType := contracts.PickTypeSwing
	var category contracts.Category
	var stopPrice int64
	if pick != nil {
		pickType = pick.PickType()
		category = pick.Category
		if _, price, ok := contracts.ParseStopLoss(pick.StopLoss); ok {
			stopPrice = price
		}
	}

	pos := &contracts.Position{
		TradingID:     uuid.NewString(),
		Ticker:        alert.StockCode,
		Name:          alert.StockName,
		BuyTime:       m.now(),
		BuyPrice:      order.BuyPrice,
		Qty:           order.Qty,
		TriggerSource: alert.Source,
		Mode:          string(m.cfg.TradingMode),
		PickType:      pickType,
		Category:      category,
		PeakPrice:     order.BuyPrice,
		StopLoss:      stopPrice,
		MarketEnv:     watchlist.MarketEnv(),
		Sector:        watchlist.Sector(alert.StockCode),
	}

	if err := m.repo.Open(ctx, pos, watchlist.KOSPI()); err != nil {
		return nil, fmt.Errorf("persist position: %w", err)
	}

	m.logger.WithFields(map[string]interface{}{
		"code":  pos.Ticker,
		"qty":   pos.Qty,
		"price": pos.BuyPrice,
		"type":  string(pos.PickType),
	}).Info("Position opened")

	m.notify(ctx, fmt.Sprintf("💰 <b>매수</b> %s(%s)\n%d주 × %d원 (%s)",
		pos.Name, pos.Ticker, pos.Qty, pos.BuyPrice, pos.PickType))
	return pos, nil
}

// Trader adapts the manager to the intraday alert hook: target and
// momentum alerts attempt an entry, stop alerts never buy.
type Trader struct {
	Manager *Manager
}

func (t Trader) RecordAlert(ctx context.Context, alert *contracts.IntradayAlert) error {
	if alert.AlertType == contracts.AlertPriceStop {
		return nil
	}
	_, err := t.Manager.OpenPosition(ctx, alert)
	return err
}

// CheckExit evaluates every open position against the exit ladder in
// strict order: take_profit_2, take_profit_1, trailing_stop, stop_loss.
// The first match closes the position.
func (m *Manager) CheckExit(ctx context.Context) error {
	positions, err := m.repo.List(ctx)
	if err != nil {
		return err
	}

	for i := range positions {
		pos := &positions[i]
		quote, err := m.broker.GetPrice(ctx, pos.Ticker)
		if err != nil {
			m.logger.WithError(err).WithField("code", pos.Ticker).Warn("Exit quote failed")
			continue
		}

		if quote.Last > pos.PeakPrice {
			pos.PeakPrice = quote.Last
			if err := m.repo.UpdatePeak(ctx, pos.TradingID, pos.PeakPrice); err != nil {
				m.logger.WithError(err).WithField("code", pos.Ticker).Warn("Peak update failed")
			}
		}

		if reason, hit := m.exitReason(pos, quote.Last); hit {
			if err := m.close(ctx, pos, quote.Last, reason); err != nil {
				m.logger.WithError(err).WithField("code", pos.Ticker).Warn("Exit close failed")
			}
		}
	}
	return nil
}

// exitReason applies the ladder to one position. A position that never
// rose above its entry cannot trail-stop.
func (m *Manager) exitReason(pos *contracts.Position, last int64) (contracts.CloseReason, bool) {
	profit := profitRate(pos.BuyPrice, last)

	switch {
	case profit >= m.cfg.TakeProfit2:
		return contracts.CloseTakeProfit2, true
	case profit >= m.cfg.TakeProfit1:
		return contracts.CloseTakeProfit1, true
	case pos.PeakPrice > pos.BuyPrice && float64(last) <= float64(pos.PeakPrice)*m.trailingRatio(pos.MarketEnv):
		return contracts.CloseTrailingStop, true
	case profit <= m.cfg.StopLoss:
		return contracts.CloseStopLoss, true
	case pos.StopLoss > 0 && last <= pos.StopLoss:
		return contracts.CloseStopLoss, true
	}
	return "", false
}

func (m *Manager) trailingRatio(env contracts.MarketEnv) float64 {
	if env == contracts.EnvBull {
		return trailingRatioBull
	}
	return trailingRatioDefault
}

// ForceCloseAll closes every open day-trade position (14:50 sweep).
// Swing positions survive until the final sweep.
func (m *Manager) ForceCloseAll(ctx context.Context) error {
	return m.closeAll(ctx, contracts.CloseForce, func(pos *contracts.Position) bool {
		return pos.PickType == contracts.PickTypeDayTrade
	})
}

// FinalCloseAll closes every remaining open position (15:20 sweep).
func (m *Manager) FinalCloseAll(ctx context.Context) error {
	return m.closeAll(ctx, contracts.CloseFinal, func(*contracts.Position) bool { return true })
}

func (m *Manager) closeAll(ctx context.Context, reason contracts.CloseReason, match func(*contracts.Position) bool) error {
	positions, err := m.repo.List(ctx)
	if err != nil {
		return err
	}

	var failed []string
	for i := range positions {
		pos := &positions[i]
		if !match(pos) {
			continue
		}

		last := pos.BuyPrice
		if quote, err := m.broker.GetPrice(ctx, pos.Ticker); err == nil {
			last = quote.Last
		}
		if err := m.close(ctx, pos, last, reason); err != nil {
			m.logger.WithError(err).WithField("code", pos.Ticker).Warn("Sweep close failed")
			failed = append(failed, pos.Ticker)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("sweep left %s open", strings.Join(failed, ","))
	}
	return nil
}

// close sells, settles the trading_history row, and hands the complete
// trade to the journal. Journal and sink failures are non-fatal.
func (m *Manager) close(ctx context.Context, pos *contracts.Position, last int64, reason contracts.CloseReason) error {
	sell, err := m.broker.Sell(ctx, pos.Ticker, pos.Qty)
	if err != nil {
		return fmt.Errorf("sell %s: %w", pos.Ticker, err)
	}
	if !sell.Success {
		return fmt.Errorf("sell %s refused: %s", pos.Ticker, sell.Msg)
	}

	sellPrice := sell.SellPrice
	if sellPrice <= 0 {
		sellPrice = last
	}

	sellTime := m.now()
	profit := profitRate(pos.BuyPrice, sellPrice)
	amount := (sellPrice - pos.BuyPrice) * int64(pos.Qty)

	if err := m.repo.Close(ctx, pos.TradingID, sellTime, sellPrice, profit, amount, reason); err != nil {
		return err
	}

	m.logger.WithFields(map[string]interface{}{
		"code":   pos.Ticker,
		"profit": profit,
		"reason": string(reason),
	}).Info("Position closed")

	if m.journal != nil {
		trade, err := m.repo.Trade(ctx, pos.TradingID)
		if err != nil {
			m.logger.WithError(err).WithField("code", pos.Ticker).Warn("Trade readback failed")
		} else if err := m.journal.RecordTrade(ctx, trade); err != nil {
			m.logger.WithError(err).WithField("code", pos.Ticker).Warn("Journal record failed")
		}
	}

	emoji := "🔴"
	if profit > 0 {
		emoji = "🟢"
	}
	m.notify(ctx, fmt.Sprintf("%s <b>매도</b> %s(%s)\n%d주 × %d원 · %+.2f%% (%s)",
		emoji, pos.Name, pos.Ticker, pos.Qty, sellPrice, profit, reason))
	return nil
}

func (m *Manager) notify(ctx context.Context, text string) {
	if m.sink == nil {
		return
	}
	if err := m.sink.SendText(ctx, text); err != nil {
		m.logger.WithError(err).Warn("Trade notice send failed")
	}
}

// profitRate is (last-buy)/buy in percent, rounded to 2 decimals.
func profitRate(buy, last int64) float64 {
	if buy <= 0 {
		return 0
	}
	return math.Round(float64(last-buy)/float64(buy)*10000) / 100
}
