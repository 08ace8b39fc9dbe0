package contracts

import "context"

// Broker is the abstract broker gateway the core consumes.
// ⭐ SSOT: 증권사 연동 인터페이스는 여기서만 정의
type Broker interface {
	// GetPrice retrieves the current quote for a ticker
	GetPrice(ctx context.Context, code string) (*Quote, error)

	// GetOrderbook retrieves the 10-level order book
	GetOrderbook(ctx context.Context, code string) (*Orderbook, error)

	// GetVolumeRank retrieves the volume ranking for a market (J=KOSPI, Q=KOSDAQ)
	GetVolumeRank(ctx context.Context, market string) ([]RankEntry, error)

	// GetChangeRank retrieves the change-rate ranking for a market
	GetChangeRank(ctx context.Context, market string) ([]RankEntry, error)

	// Buy places a market buy sized in KRW
	Buy(ctx context.Context, code string, amountKRW int64) (*OrderResult, error)

	// Sell places a market sell for qty shares
	Sell(ctx context.Context, code string, qty int) (*SellResult, error)

	// GetBalance retrieves the account snapshot
	GetBalance(ctx context.Context) (*Balance, error)

	// GetHoldingQty returns held quantity for a ticker (0 when not held)
	GetHoldingQty(ctx context.Context, code string) (int, error)
}

// MessageSink is the abstract notification surface.
// 전송 실패는 항상 non-fatal: 호출측이 에러를 로그만 하고 계속 진행한다.
type MessageSink interface {
	SendText(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, png []byte, caption string) error
}

// LLM produces a JSON answer for a prompt, trying each model in its
// fallback list. Returns an error only when every model is exhausted.
type LLM interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
	Available() bool
}

// JournalRecorder receives every closed trade synchronously.
type JournalRecorder interface {
	RecordTrade(ctx context.Context, trade *TradeRecord) error
}
