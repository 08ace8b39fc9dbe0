package kis

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/wonny/kairos/internal/contracts"
)

// GetPrice retrieves the current quote for a ticker.
func (c *Client) GetPrice(ctx context.Context, code string) (*contracts.Quote, error) {
	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "J")
	q.Set("FID_INPUT_ISCD", code)

	resp, err := c.request(ctx, http.MethodGet,
		"/uapi/domestic-stock/v1/quotations/inquire-price?"+q.Encode(),
		"FHKST01010100", nil)
	if err != nil {
		return nil, fmt.Errorf("inquire-price %s: %w", code, err)
	}

	var pr priceResponse
	if err := readAPI(resp, &pr); err != nil {
		return nil, fmt.Errorf("inquire-price %s: %w", code, err)
	}

	return &contracts.Quote{
		Code:       code,
		Name:       pr.Output.HtsKorIsnm,
		Last:       parseI64(pr.Output.StckPrpr),
		Open:       parseI64(pr.Output.StckOprc),
		ChangeRate: parseF64(pr.Output.PrdyCtrt),
		CumVolume:  parseI64(pr.Output.AcmlVol),
	}, nil
}

// GetOrderbook retrieves the 10-level order book for a ticker.
func (c *Client) GetOrderbook(ctx context.Context, code string) (*contracts.Orderbook, error) {
	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "J")
	q.Set("FID_INPUT_ISCD", code)

	resp, err := c.request(ctx, http.MethodGet,
		"/uapi/domestic-stock/v1/quotations/inquire-asking-price-exp-ccn?"+q.Encode(),
		"FHKST01010200", nil)
	if err != nil {
		return nil, fmt.Errorf("inquire-asking-price %s: %w", code, err)
	}

	var or orderbookResponse
	if err := readAPI(resp, &or); err != nil {
		return nil, fmt.Errorf("inquire-asking-price %s: %w", code, err)
	}

	return orderbookFromFields(or.Output1), nil
}

// orderbookFromFields assembles the book from KIS's askp1..10 / bidp1..10
// key scheme. Missing keys parse as zero rows.
func orderbookFromFields(fields map[string]string) *contracts.Orderbook {
	ob := &contracts.Orderbook{
		Asks: make([]contracts.OrderbookLevel, 0, 10),
		Bids: make([]contracts.OrderbookLevel, 0, 10),
	}

	for i := 1; i <= 10; i++ {
		ob.Asks = append(ob.Asks, contracts.OrderbookLevel{
			Price: parseI64(fields[fmt.Sprintf("askp%d", i)]),
			Qty:   parseI64(fields[fmt.Sprintf("askp_rsqn%d", i)]),
		})
		ob.Bids = append(ob.Bids, contracts.OrderbookLevel{
			Price: parseI64(fields[fmt.Sprintf("bidp%d", i)]),
			Qty:   parseI64(fields[fmt.Sprintf("bidp_rsqn%d", i)]),
		})
	}

	ob.TotalAsk = parseI64(fields["total_askp_rsqn"])
	ob.TotalBid = parseI64(fields["total_bidp_rsqn"])
	return ob
}

// GetVolumeRank retrieves the volume ranking. market: J=KOSPI, Q=KOSDAQ.
func (c *Client) GetVolumeRank(ctx context.Context, market string) ([]contracts.RankEntry, error) {
	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", market)
	q.Set("FID_COND_SCR_DIV_CODE", "20171")
	q.Set("FID_INPUT_ISCD", "0000")
	q.Set("FID_DIV_CLS_CODE", "0")
	q.Set("FID_BLNG_CLS_CODE", "0")
	q.Set("FID_TRGT_CLS_CODE", "111111111")
	q.Set("FID_TRGT_EXLS_CLS_CODE", "000000")
	q.Set("FID_INPUT_PRICE_1", "")
	q.Set("FID_INPUT_PRICE_2", "")
	q.Set("FID_VOL_CNT", "")
	q.Set("FID_INPUT_DATE_1", "")

	resp, err := c.request(ctx, http.MethodGet,
		"/uapi/domestic-stock/v1/quotations/volume-rank?"+q.Encode(),
		"FHPST01710000", nil)
	if err != nil {
		return nil, fmt.Errorf("volume-rank %s: %w", market, err)
	}

	var rr rankResponse
	if err := readAPI(resp, &rr); err != nil {
		return nil, fmt.Errorf("volume-rank %s: %w", market, err)
	}
	return rankEntries(&rr), nil
}

// GetChangeRank retrieves the change-rate ranking. market: J=KOSPI, Q=KOSDAQ.
func (c *Client) GetChangeRank(ctx context.Context, market string) ([]contracts.RankEntry, error) {
	q := url.Values{}
	q.Set("fid_cond_mrkt_div_code", market)
	q.Set("fid_cond_scr_div_code", "20170")
	q.Set("fid_input_iscd", "0000")
	q.Set("fid_rank_sort_cls_code", "0") // 상승률순
	q.Set("fid_input_cnt_1", "0")
	q.Set("fid_prc_cls_code", "0")
	q.Set("fid_trgt_cls_code", "0")
	q.Set("fid_trgt_exls_cls_code", "0")
	q.Set("fid_div_cls_code", "0")
	q.Set("fid_rsfl_rate1", "")
	q.Set("fid_rsfl_rate2", "")
	q.Set("fid_input_price_1", "")
	q.Set("fid_input_price_2", "")
	q.Set("fid_vol_cnt", "")

	resp, err := c.request(ctx, http.MethodGet,
		"/uapi/domestic-stock/v1/ranking/fluctuation?"+q.Encode(),
		"FHPST01700000", nil)
	if err != nil {
		return nil, fmt.Errorf("fluctuation-rank %s: %w", market, err)
	}

	var rr rankResponse
	if err := readAPI(resp, &rr); err != nil {
		return nil, fmt.Errorf("fluctuation-rank %s: %w", market, err)
	}
	return rankEntries(&rr), nil
}

func rankEntries(rr *rankResponse) []contracts.RankEntry {
	out := make([]contracts.RankEntry, 0, len(rr.Output))
	for _, row := range rr.Output {
		code := row.MkscShrnIscd
		if code == "" {
			code = row.StckShrnIscd
		}
		out = append(out, contracts.RankEntry{
			Code:       code,
			Name:       row.HtsKorIsnm,
			Last:       parseI64(row.StckPrpr),
			ChangeRate: parseF64(row.PrdyCtrt),
			CumVolume:  parseI64(row.AcmlVol),
		})
	}
	return out
}
