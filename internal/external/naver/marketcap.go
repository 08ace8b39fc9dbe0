package naver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/wonny/kairos/internal/contracts"
)

// marketSumPages: 시가총액 상위 페이지 수 (페이지당 50종목)
const marketSumPages = 6

// MarketCapRows scrapes the market-cap ranking table for a market.
// sosok: 0=KOSPI, 1=KOSDAQ.
func (c *Client) MarketCapRows(ctx context.Context, sosok int) ([]contracts.StockSnapshot, error) {
	var out []contracts.StockSnapshot

	for page := 1; page <= marketSumPages; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		u := fmt.Sprintf("%s/sise/sise_market_sum.naver?sosok=%d&page=%d", c.cfg.BaseURL, sosok, page)
		resp, err := c.httpClient.Get(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("market sum p%d: %w", page, err)
		}

		doc, err := goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("market sum p%d: parse: %w", page, err)
		}

		rows := parseMarketSumDoc(doc)
		if len(rows) == 0 {
			break // 마지막 페이지 이후는 빈 테이블
		}
		out = append(out, rows...)
	}
	return out, nil
}

// parseMarketSumDoc extracts snapshot rows from the ranking table.
// Column layout: N | 종목명 | 현재가 | 전일비 | 등락률 | 액면가 | 시가총액(억) | ...
func parseMarketSumDoc(doc *goquery.Document) []contracts.StockSnapshot {
	var out []contracts.StockSnapshot

	doc.Find("table.type_2 tbody tr").Each(func(_ int, tr *goquery.Selection) {
		link := tr.Find("a.tltle")
		if link.Length() == 0 {
			return // 구분선 행
		}

		href, _ := link.Attr("href")
		code := codeFromHref(href)
		if code == "" {
			return
		}

		tds := tr.Find("td")
		if tds.Length() < 7 {
			return
		}

		snap := contracts.StockSnapshot{
			Code: code,
			Name: strings.TrimSpace(link.Text()),
		}
		snap.Close = parseCommaInt(tds.Eq(2).Text())
		snap.ChangeRate = parsePct(tds.Eq(4).Text())
		// 시가총액은 억원 단위로 표기된다
		snap.MarketCap = parseCommaInt(tds.Eq(6).Text()) * 100_000_000

		out = append(out, snap)
	})
	return out
}

func codeFromHref(href string) string {
	const marker = "code="
	i := strings.Index(href, marker)
	if i < 0 {
		return ""
	}
	code := href[i+len(marker):]
	if j := strings.IndexByte(code, '&'); j >= 0 {
		code = code[:j]
	}
	return code
}

func parseCommaInt(s string) int64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	var v int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return v
		}
		v = v*10 + int64(r-'0')
	}
	return v
}

// parsePct handles "+2.45%", "-1.20%", "0.00%".
func parsePct(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "+"), "-")

	var whole, frac int64
	var fracDigits int
	seenDot := false
	for _, r := range s {
		if r == '.' {
			seenDot = true
			continue
		}
		if r < '0' || r > '9' {
			return 0
		}
		if seenDot {
			frac = frac*10 + int64(r-'0')
			fracDigits++
		} else {
			whole = whole*10 + int64(r-'0')
		}
	}

	v := float64(whole)
	scale := 1.0
	for i := 0; i < fracDigits; i++ {
		scale *= 10
	}
	if fracDigits > 0 {
		v += float64(frac) / scale
	}
	if neg {
		return -v
	}
	return v
}

// CollectPriceData assembles the domestic price snapshot: market-cap rows
// for both markets, index levels, and the derived gainer/loser/upper-limit
// views. Used as the morning price collector.
func (c *Client) CollectPriceData(ctx context.Context) (*contracts.PriceData, error) {
	kospiRows, err := c.MarketCapRows(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("kospi rows: %w", err)
	}
	kosdaqRows, err := c.MarketCapRows(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("kosdaq rows: %w", err)
	}

	pd := &contracts.PriceData{
		ByCode:   make(map[string]contracts.StockSnapshot),
		ByName:   make(map[string]contracts.StockSnapshot),
		BySector: make(map[string][]string),
	}

	all := append(kospiRows, kosdaqRows...)
	for _, snap := range all {
		pd.ByCode[snap.Code] = snap
		pd.ByName[snap.Name] = snap
		if snap.Sector != "" {
			pd.BySector[snap.Sector] = append(pd.BySector[snap.Sector], snap.Code)
		}
		if snap.ChangeRate >= contracts.UpperLimitAdjacentPct {
			pd.UpperLimit = append(pd.UpperLimit, snap)
		}
	}

	sorted := append([]contracts.StockSnapshot(nil), all...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChangeRate > sorted[j].ChangeRate })

	topN := 20
	if len(sorted) < topN {
		topN = len(sorted)
	}
	pd.TopGainers = append(pd.TopGainers, sorted[:topN]...)
	for i := len(sorted) - 1; i >= 0 && len(pd.TopLosers) < 20; i-- {
		pd.TopLosers = append(pd.TopLosers, sorted[i])
	}

	if snap, err := c.IndexSnapshot(ctx, "KOSPI"); err == nil {
		pd.KOSPI = *snap
	} else {
		c.logger.WithError(err).Warn("KOSPI index fetch failed")
	}
	if snap, err := c.IndexSnapshot(ctx, "KOSDAQ"); err == nil {
		pd.KOSDAQ = *snap
	} else {
		c.logger.WithError(err).Warn("KOSDAQ index fetch failed")
	}

	c.logger.WithFields(map[string]interface{}{
		"stocks":      len(pd.ByCode),
		"upper_limit": len(pd.UpperLimit),
	}).Info("Domestic price snapshot collected")

	return pd, nil
}
