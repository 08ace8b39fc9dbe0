// Package naver fetches daily prices, index levels, and market caps from
// Naver Finance. It backs the trading-day probe, the morning price
// collection, and the T+N settlement closes.
package naver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/internal/market"
	"github.com/wonny/kairos/pkg/config"
	"github.com/wonny/kairos/pkg/httputil"
	"github.com/wonny/kairos/pkg/logger"
)

// bellwetherCode: 거래일 판정 기준 종목 (삼성전자)
const bellwetherCode = "005930"

const fchartURL = "https://fchart.stock.naver.com/siseJson.naver"

// Client is the Naver Finance client. Requests are paced to stay polite;
// Naver has no documented quota but throttles aggressive callers.
type Client struct {
	cfg        config.NaverConfig
	httpClient *httputil.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewClient creates a Naver Finance client paced at 5 req/s.
func NewClient(cfg config.NaverConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		logger:     log.WithComponent("naver"),
	}
}

// DailyBar is one row of the siseJson daily chart. Values are floats
// because index charts carry fractional levels; stock bars are whole KRW.
type DailyBar struct {
	Date   string // YYYYMMDD
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// siseJsonRow matches the heterogenous row arrays Naver returns:
// header row is all strings, data rows are [string, num, num, num, num, num, str].
var nonJSONQuote = regexp.MustCompile(`'`)

// DailyBars fetches up to count daily bars for a ticker, oldest first.
func (c *Client) DailyBars(ctx context.Context, code string, count int) ([]DailyBar, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s?symbol=%s&requestType=1&count=%d&timeframe=day", fchartURL, code, count)
	resp, err := c.httpClient.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("siseJson %s: %w", code, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("siseJson %s: read: %w", code, err)
	}

	return parseSiseJSON(body)
}

// parseSiseJSON decodes the quasi-JSON chart payload. Naver uses single
// quotes and a leading header row.
func parseSiseJSON(body []byte) ([]DailyBar, error) {
	cleaned := nonJSONQuote.ReplaceAllString(string(body), `"`)
	cleaned = strings.TrimSpace(cleaned)

	var rows [][]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &rows); err != nil {
		return nil, fmt.Errorf("parse chart payload: %w", err)
	}

	bars := make([]DailyBar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}

		var date string
		if err := json.Unmarshal(row[0], &date); err != nil {
			continue
		}
		// 헤더 행("날짜")과 데이터 행(YYYYMMDD)을 구분
		if len(date) != 8 || !isDigits(date) {
			continue
		}

		var nums [5]float64
		ok := true
		for i := 0; i < 5; i++ {
			if err := json.Unmarshal(row[i+1], &nums[i]); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		bars = append(bars, DailyBar{
			Date: date, Open: nums[0], High: nums[1], Low: nums[2], Close: nums[3], Volume: int64(nums[4]),
		})
	}
	return bars, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// HasDailyBar reports whether the bellwether ticker has a daily bar for
// the date. Satisfies market.TradingDayProbe.
func (c *Client) HasDailyBar(ctx context.Context, date time.Time) (bool, error) {
	bars, err := c.DailyBars(ctx, bellwetherCode, 10)
	if err != nil {
		return false, err
	}

	key := market.DateKey(date)
	for _, bar := range bars {
		if bar.Date == key {
			return true, nil
		}
	}
	return false, nil
}

// CloseOn returns the closing price of a ticker on a specific date, or 0
// when that date has no bar (holiday, suspension, delisting).
func (c *Client) CloseOn(ctx context.Context, code string, date time.Time) (int64, error) {
	bars, err := c.DailyBars(ctx, code, 30)
	if err != nil {
		return 0, err
	}

	key := market.DateKey(date)
	for _, bar := range bars {
		if bar.Date == key {
			return int64(bar.Close), nil
		}
	}
	return 0, nil
}

// ClosesOn batch-resolves closing prices for many tickers on one date.
// Tickers without a bar are absent from the map; per-ticker fetch errors
// are logged and skipped so one bad ticker cannot sink the batch.
func (c *Client) ClosesOn(ctx context.Context, codes []string, date time.Time) (map[string]int64, error) {
	out := make(map[string]int64, len(codes))
	for _, code := range codes {
		price, err := c.CloseOn(ctx, code, date)
		if err != nil {
			c.logger.WithError(err).WithField("code", code).Warn("Close fetch failed")
			continue
		}
		if price > 0 {
			out[code] = price
		}
	}
	return out, nil
}

// IndexSnapshot fetches a market index level and daily change.
// symbol: KOSPI or KOSDAQ.
func (c *Client) IndexSnapshot(ctx context.Context, symbol string) (*contracts.IndexSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s?symbol=%s&requestType=1&count=2&timeframe=day", fchartURL, symbol)
	resp, err := c.httpClient.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("index %s: read: %w", symbol, err)
	}

	bars, err := parseSiseJSON(body)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("index %s: no bars", symbol)
	}

	last := bars[len(bars)-1]
	snap := &contracts.IndexSnapshot{Level: last.Close}
	if len(bars) >= 2 {
		prev := bars[len(bars)-2]
		if prev.Close > 0 {
			snap.ChangeRate = round2((last.Close - prev.Close) / prev.Close * 100)
		}
	}
	return snap, nil
}

func round2(v float64) float64 {
	if v < 0 {
		return float64(int64(v*100-0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}
