package contracts

import "time"

// Collector names. success_flags is keyed by these.
const (
	CollectorFilings           = "filings"
	CollectorMarket            = "market"
	CollectorNewsNaver         = "news_naver"
	CollectorNewsAPI           = "news_newsapi"
	CollectorGlobalRSS         = "news_global_rss"
	CollectorPrice             = "price_domestic"
	CollectorSectorETF         = "sector_etf"
	CollectorShort             = "short_interest"
	CollectorEventCalendar     = "event_calendar"
	CollectorClosingStrength   = "closing_strength"
	CollectorVolumeSurge       = "volume_surge"
	CollectorFundConcentration = "fund_concentration"
)

// CollectorNames lists every registered collector, in fan-out order.
var CollectorNames = []string{
	CollectorFilings,
	CollectorMarket,
	CollectorNewsNaver,
	CollectorNewsAPI,
	CollectorGlobalRSS,
	CollectorPrice,
	CollectorSectorETF,
	CollectorShort,
	CollectorEventCalendar,
	CollectorClosingStrength,
	CollectorVolumeSurge,
	CollectorFundConcentration,
}

// Filing is one DART disclosure record.
type Filing struct {
	StockCode   string    `json:"stock_code"`
	StockName   string    `json:"stock_name"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	FiledAt     time.Time `json:"filed_at"`
	ReceiptNo   string    `json:"receipt_no"`
	Consequence string    `json:"consequence"`
}

// NewsItem is one news headline from any source.
type NewsItem struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// SectorMove is one global sector/commodity/forex delta.
type SectorMove struct {
	Name      string  `json:"name"`
	ChangePct float64 `json:"change_pct"`
}

// MarketOverview is the global market snapshot (us_market / commodities / forex).
type MarketOverview struct {
	USMarket    USMarket     `json:"us_market"`
	Commodities []SectorMove `json:"commodities"`
	Forex       []SectorMove `json:"forex"`
}

// USMarket holds US index and sector moves.
type USMarket struct {
	Indices []SectorMove `json:"indices"`
	Sectors []SectorMove `json:"sectors"`
}

// StockSnapshot is a single domestic stock snapshot inside PriceData.
type StockSnapshot struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Close      int64   `json:"close"`
	ChangeRate float64 `json:"change_rate"`
	Volume     int64   `json:"volume"`
	MarketCap  int64   `json:"market_cap"`
	Sector     string  `json:"sector"`
}

// IndexSnapshot is a market index level and daily change.
type IndexSnapshot struct {
	Level      float64 `json:"level"`
	ChangeRate float64 `json:"change_rate"`
}

// PriceData is the domestic price section of the daily cache. A nil
// *PriceData means the price fetch failed outright (hard-unavailable);
// an empty struct means "fetched, nothing notable".
type PriceData struct {
	ByCode        map[string]StockSnapshot `json:"by_code"`
	ByName        map[string]StockSnapshot `json:"by_name"`
	BySector      map[string][]string      `json:"by_sector"`
	UpperLimit    []StockSnapshot          `json:"upper_limit"`
	TopGainers    []StockSnapshot          `json:"top_gainers"`
	TopLosers     []StockSnapshot          `json:"top_losers"`
	Institutional []StockSnapshot          `json:"institutional"`
	KOSPI         IndexSnapshot            `json:"kospi"`
	KOSDAQ        IndexSnapshot            `json:"kosdaq"`
}

// EventEntry is one scheduled market event.
type EventEntry struct {
	Date  string `json:"date"`
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

// ScreenResult is one row from a screening collector
// (closing strength / volume surge / fund concentration / short interest / sector ETF).
type ScreenResult struct {
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Detail string  `json:"detail"`
}

// DailyCache is the consolidated morning collection result, written once per
// collection run and read concurrently thereafter. The key set is fixed:
// every field below exists after a run, empty-valued when its collector
// failed — except PriceData, which stays nil on failure by contract.
type DailyCache struct {
	CollectedAt time.Time `json:"collected_at"`

	DartData      []Filing              `json:"dart_data"`
	MarketData    MarketOverview        `json:"market_data"`
	NewsNaver     map[string][]NewsItem `json:"news_naver"`
	NewsNewsAPI   map[string][]NewsItem `json:"news_newsapi"`
	NewsGlobalRSS []NewsItem            `json:"news_global_rss"`
	PriceData     *PriceData            `json:"price_data"`

	SectorETFData           []ScreenResult `json:"sector_etf_data"`
	ShortData               []ScreenResult `json:"short_data"`
	EventCalendar           []EventEntry   `json:"event_calendar"`
	ClosingStrengthResult   []ScreenResult `json:"closing_strength_result"`
	VolumeSurgeResult       []ScreenResult `json:"volume_surge_result"`
	FundConcentrationResult []ScreenResult `json:"fund_concentration_result"`

	SuccessFlags map[string]bool `json:"success_flags"`
}

// NewDailyCache returns a cache with every sequence key at its empty value
// and PriceData nil.
func NewDailyCache() *DailyCache {
	return &DailyCache{
		DartData:                []Filing{},
		NewsNaver:               map[string][]NewsItem{},
		NewsNewsAPI:             map[string][]NewsItem{},
		NewsGlobalRSS:           []NewsItem{},
		SectorETFData:           []ScreenResult{},
		ShortData:               []ScreenResult{},
		EventCalendar:           []EventEntry{},
		ClosingStrengthResult:   []ScreenResult{},
		VolumeSurgeResult:       []ScreenResult{},
		FundConcentrationResult: []ScreenResult{},
		SuccessFlags:            map[string]bool{},
	}
}
