package intraday

import (
	"github.com/wonny/kairos/internal/contracts"
	"github.com/wonny/kairos/pkg/config"
)

// weakBidAskRatio: 이 밑이면 매도 우위로 분류
const weakBidAskRatio = 0.8

// AnalyzeOrderbook derives the strength reading from a book snapshot.
// 강세: 총매수/총매도 ≥ 1.5, 또는 ≥ 1.1이면서 매도 상위3 집중 ≥ 0.5
// (벽이 얇게 몰려 있으면 돌파가 쉽다). 약세: < 0.8. 나머지 중립.
func AnalyzeOrderbook(ob *contracts.Orderbook, cfg *config.Config) *contracts.OrderbookAnalysis {
	if ob == nil || ob.TotalAsk <= 0 {
		return &contracts.OrderbookAnalysis{Label: contracts.OrderbookNeutral}
	}

	ratio := float64(ob.TotalBid) / float64(ob.TotalAsk)

	var top3 int64
	for i := 0; i < 3 && i < len(ob.Asks); i++ {
		top3 += ob.Asks[i].Qty
	}
	concentration := float64(top3) / float64(ob.TotalAsk)

	label := contracts.OrderbookNeutral
	switch {
	case ratio >= cfg.OrderbookBidAskGood:
		label = contracts.OrderbookStrong
	case ratio >= cfg.OrderbookBidAskMin && concentration >= cfg.OrderbookTop3Min:
		label = contracts.OrderbookStrong
	case ratio < weakBidAskRatio:
		label = contracts.OrderbookWeak
	}

	return &contracts.OrderbookAnalysis{
		BidAskRatio:          ratio,
		Top3AskConcentration: concentration,
		Label:                label,
	}
}
