package contracts

// Quote is the broker's current-price answer for one ticker.
type Quote struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Last       int64   `json:"last"`
	Open       int64   `json:"open"`
	ChangeRate float64 `json:"change_rate"` // % vs prior close
	CumVolume  int64   `json:"cum_volume"`
}

// OrderbookLevel is one price level on either side of the book.
type OrderbookLevel struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// Orderbook is the 10-level book snapshot.
type Orderbook struct {
	Bids     []OrderbookLevel `json:"bids"` // [0] is best bid
	Asks     []OrderbookLevel `json:"asks"` // [0] is best ask
	TotalBid int64            `json:"total_bid"`
	TotalAsk int64            `json:"total_ask"`
}

// OrderbookAnalysis is the derived strength reading attached to alerts.
type OrderbookAnalysis struct {
	BidAskRatio          float64        `json:"bid_ask_ratio"`
	Top3AskConcentration float64        `json:"top3_ask_concentration"`
	Label                OrderbookLabel `json:"label"`
}

// RankEntry is one row of a volume-rank or change-rate-rank answer.
type RankEntry struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Last       int64   `json:"last"`
	ChangeRate float64 `json:"change_rate"`
	CumVolume  int64   `json:"cum_volume"`
}

// OrderResult is the broker's market-buy answer.
type OrderResult struct {
	Success  bool   `json:"success"`
	Qty      int    `json:"qty"`
	BuyPrice int64  `json:"buy_price"`
	OrderNo  string `json:"order_no"`
	Msg      string `json:"msg"`
}

// SellResult is the broker's market-sell answer.
type SellResult struct {
	Success   bool   `json:"success"`
	SellPrice int64  `json:"sell_price"`
	OrderNo   string `json:"order_no"`
	Msg       string `json:"msg"`
}

// Holding is one row of the balance answer.
type Holding struct {
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Qty          int     `json:"qty"`
	AvgPrice     int64   `json:"avg_price"`
	CurrentPrice int64   `json:"current_price"`
	ProfitPct    float64 `json:"profit_pct"`
}

// Balance is the account snapshot.
type Balance struct {
	Holdings       []Holding `json:"holdings"`
	AvailableCash  int64     `json:"available_cash"`
	TotalEval      int64     `json:"total_eval"`
	TotalProfitPct float64   `json:"total_profit_pct"`
}

// IntradayAlert is the watcher's output contract. Field set is fixed.
type IntradayAlert struct {
	StockCode          string             `json:"stock_code"`
	StockName          string             `json:"stock_name"`
	CurrentPrice       int64              `json:"current_price"`
	ChangeRate         float64            `json:"change_rate"`
	DeltaRate          float64            `json:"delta_rate"`
	VolumeRatio        float64            `json:"volume_ratio"`
	MomentaryStrength  float64            `json:"momentary_strength"`
	ConditionMet       bool               `json:"condition_met"` // always true on emit
	DetectedAt         string             `json:"detected_at"`   // HH:MM:SS KST
	Source             TriggerSource      `json:"source"`
	OrderbookAnalysis  *OrderbookAnalysis `json:"orderbook_analysis"` // nil when not fetched
	PickReason         string             `json:"pick_reason"`
	AlertType          AlertType          `json:"alert_type"`
}

// TickData is one real-time trade tick from the broker stream.
type TickData struct {
	Code       string  `json:"code"`
	Price      int64   `json:"price"`
	ChangeRate float64 `json:"change_rate"`
	CumVolume  int64   `json:"cum_volume"`
	Time       string  `json:"time"` // HHMMSS
}
