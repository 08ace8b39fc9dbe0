package contracts

import "time"

// Position is one open holding tracked by the position manager. Created by
// OpenPosition, deleted by ClosePosition; while it exists a matching
// trading_history row has sell_time NULL.
type Position struct {
	ID            int64         `json:"id"`
	TradingID     string        `json:"trading_id"`
	Ticker        string        `json:"ticker"`
	Name          string        `json:"name"`
	BuyTime       time.Time     `json:"buy_time"`
	BuyPrice      int64         `json:"buy_price"` // won
	Qty           int           `json:"qty"`
	TriggerSource TriggerSource `json:"trigger_source"`
	Mode          string        `json:"mode"` // VTS / REAL
	PickType      PickType      `json:"pick_type"`
	Category      Category      `json:"category"`
	PeakPrice     int64         `json:"peak_price"` // updated in place by exit evaluator
	StopLoss      int64         `json:"stop_loss"`  // price, 0 when percentage-driven
	MarketEnv     MarketEnv     `json:"market_env"` // classification at entry time
	Sector        string        `json:"sector"`
}

// TradeRecord is a closed trading_history row.
type TradeRecord struct {
	TradingID     string        `json:"trading_id"`
	Ticker        string        `json:"ticker"`
	Name          string        `json:"name"`
	BuyTime       time.Time     `json:"buy_time"`
	BuyPrice      int64         `json:"buy_price"`
	Qty           int           `json:"qty"`
	TriggerSource TriggerSource `json:"trigger_source"`
	Mode          string        `json:"mode"`
	PickType      PickType      `json:"pick_type"`
	Category      Category      `json:"category"`
	MarketEnv     MarketEnv     `json:"market_env"`
	Sector        string        `json:"sector"`
	BuyKOSPI      float64       `json:"buy_kospi"`
	SellTime      time.Time     `json:"sell_time"`
	SellPrice     int64         `json:"sell_price"`
	ProfitRate    float64       `json:"profit_rate"`   // %, 2 decimals
	ProfitAmount  int64         `json:"profit_amount"` // won
	CloseReason   CloseReason   `json:"close_reason"`
}

// Win reports whether this trade counts as a win for principle extraction.
func (t TradeRecord) Win() bool {
	return t.CloseReason == CloseTakeProfit1 || t.CloseReason == CloseTakeProfit2
}
