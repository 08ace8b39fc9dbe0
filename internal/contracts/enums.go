package contracts

// Category is the pipeline-internal material label produced by the morning
// pipeline (stage 2 candidates and stage 3 picks).
type Category string

const (
	CategoryFiling       Category = "공시"
	CategoryTheme        Category = "테마"
	CategoryRotation     Category = "순환매"
	CategoryShortSqueeze Category = "숏스퀴즈"
)

// SignalType is the stable label persisted in the RAG store and daily_picks.
// 주의: 파이프라인 내부 라벨 "공시"는 저장 전 반드시 "DART_공시"로 정규화.
type SignalType string

const (
	SignalFiling       SignalType = "DART_공시"
	SignalTheme        SignalType = "테마"
	SignalRotation     SignalType = "순환매"
	SignalShortSqueeze SignalType = "숏스퀴즈"
	SignalUnknown      SignalType = "미분류"
)

// NormalizeSignalType maps a pipeline category to its persisted signal type.
// The raw label "공시" must never reach storage (regression guard).
func NormalizeSignalType(category Category) SignalType {
	switch category {
	case CategoryFiling, Category("filing"):
		return SignalFiling
	case CategoryTheme, Category("theme"):
		return SignalTheme
	case CategoryRotation, Category("rotation"):
		return SignalRotation
	case CategoryShortSqueeze, Category("short_squeeze"):
		return SignalShortSqueeze
	default:
		return SignalUnknown
	}
}

// CapTier is the discrete market-cap bucket shared by the morning pipeline,
// the RAG store, and the learning batches.
type CapTier string

const (
	CapTierMicro  CapTier = "소형_300억미만"
	CapTierSmall  CapTier = "소형_1000억미만"
	CapTierSmallX CapTier = "소형_3000억미만"
	CapTierMid    CapTier = "중형"
	CapTierNone   CapTier = "미분류"
)

// CapTierFromMarketCap classifies a market cap in KRW.
func CapTierFromMarketCap(marketCapKRW int64) CapTier {
	switch {
	case marketCapKRW <= 0:
		return CapTierNone
	case marketCapKRW < 30_000_000_000:
		return CapTierMicro
	case marketCapKRW < 100_000_000_000:
		return CapTierSmall
	case marketCapKRW < 300_000_000_000:
		return CapTierSmallX
	default:
		return CapTierMid
	}
}

// PickType decides exit handling: day-trade picks are force-closed at 14:50,
// swing picks survive until the final 15:20 sweep.
type PickType string

const (
	PickTypeDayTrade PickType = "day_trade"
	PickTypeSwing    PickType = "swing"
)

// DerivePickType maps a category to its pick type. 공시/테마 are day trades.
func DerivePickType(category Category) PickType {
	switch NormalizeSignalType(category) {
	case SignalFiling, SignalTheme:
		return PickTypeDayTrade
	default:
		return PickTypeSwing
	}
}

// CloseReason is the terminal state of a trading_history row.
type CloseReason string

const (
	CloseTakeProfit1  CloseReason = "take_profit_1"
	CloseTakeProfit2  CloseReason = "take_profit_2"
	CloseStopLoss     CloseReason = "stop_loss"
	CloseTrailingStop CloseReason = "trailing_stop"
	CloseForce        CloseReason = "force_close"
	CloseFinal        CloseReason = "final_close"
	CloseManual       CloseReason = "manual"
)

// TriggerSource identifies what fired the entry.
type TriggerSource string

const (
	TriggerVolume    TriggerSource = "volume"
	TriggerRate      TriggerSource = "rate"
	TriggerWebsocket TriggerSource = "websocket"
	TriggerGapUp     TriggerSource = "gap_up"
	TriggerWatchlist TriggerSource = "watchlist"
)

// AlertType labels an intraday alert.
type AlertType string

const (
	AlertPriceTarget AlertType = "가격도달_목표"
	AlertPriceStop   AlertType = "가격도달_손절"
	AlertBidWall     AlertType = "매수벽"
	AlertMomentum    AlertType = "급등모멘텀"
)

// Regime is the stage-1 global market classification.
type Regime string

const (
	RegimeRiskOn  Regime = "리스크온"
	RegimeRiskOff Regime = "리스크오프"
	RegimeNeutral Regime = "중립"
)

// MarketEnv is the domestic market classification derived from the KOSPI
// change rate; it sizes the position cap and the trailing-stop ratio.
type MarketEnv string

const (
	EnvBull     MarketEnv = "강세장"
	EnvBear     MarketEnv = "약세장/횡보"
	EnvSideways MarketEnv = "횡보"
)

// MarketEnvFromKOSPI classifies by KOSPI daily change rate (percent).
// 경계값 포함: +1.0% → 강세장, -1.0% → 약세장/횡보.
func MarketEnvFromKOSPI(changeRate float64) MarketEnv {
	switch {
	case changeRate >= 1.0:
		return EnvBull
	case changeRate <= -1.0:
		return EnvBear
	default:
		return EnvSideways
	}
}

// MaterialStrength is the stage-2 candidate grading.
type MaterialStrength string

const (
	StrengthHigh MaterialStrength = "상"
	StrengthMid  MaterialStrength = "중"
	StrengthLow  MaterialStrength = "하"
)

// OrderbookLabel classifies order-book strength.
type OrderbookLabel string

const (
	OrderbookStrong  OrderbookLabel = "강세"
	OrderbookNeutral OrderbookLabel = "중립"
	OrderbookWeak    OrderbookLabel = "약세"
)
