package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/wonny/kairos/internal/contracts"
)

const orderCashPath = "/uapi/domestic-stock/v1/trading/order-cash"

// cashOrder is the order-cash request body. ORD_DVSN "01" = 시장가.
type cashOrder struct {
	CANO       string `json:"CANO"`
	AcntPrdtCd string `json:"ACNT_PRDT_CD"`
	Pdno       string `json:"PDNO"`
	OrdDvsn    string `json:"ORD_DVSN"`
	OrdQty     string `json:"ORD_QTY"`
	OrdUnpr    string `json:"ORD_UNPR"`
}

// Buy places a market buy sized in KRW. Quantity is the largest share
// count the budget covers at the current price; below one share the
// order is rejected locally.
func (c *Client) Buy(ctx context.Context, code string, amountKRW int64) (*contracts.OrderResult, error) {
	quote, err := c.GetPrice(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("buy %s: quote: %w", code, err)
	}
	if quote.Last <= 0 {
		return nil, fmt.Errorf("buy %s: invalid price %d", code, quote.Last)
	}

	qty := int(amountKRW / quote.Last)
	if qty < 1 {
		return &contracts.OrderResult{
			Success: false,
			Msg:     fmt.Sprintf("예산 %d원으로 1주 매수 불가 (현재가 %d원)", amountKRW, quote.Last),
		}, nil
	}

	or, err := c.placeOrder(ctx, code, qty, c.trID("TTTC0802U", "VTTC0802U"))
	if err != nil {
		return nil, fmt.Errorf("buy %s: %w", code, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"code":     code,
		"qty":      qty,
		"price":    quote.Last,
		"order_no": or.Output.Odno,
		"mode":     string(c.mode),
	}).Info("Market buy placed")

	return &contracts.OrderResult{
		Success:  true,
		Qty:      qty,
		BuyPrice: quote.Last,
		OrderNo:  or.Output.Odno,
		Msg:      or.Msg1,
	}, nil
}

// Sell places a market sell for qty shares.
func (c *Client) Sell(ctx context.Context, code string, qty int) (*contracts.SellResult, error) {
	if qty < 1 {
		return nil, fmt.Errorf("sell %s: invalid qty %d", code, qty)
	}

	quote, err := c.GetPrice(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("sell %s: quote: %w", code, err)
	}

	or, err := c.placeOrder(ctx, code, qty, c.trID("TTTC0801U", "VTTC0801U"))
	if err != nil {
		return nil, fmt.Errorf("sell %s: %w", code, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"code":     code,
		"qty":      qty,
		"price":    quote.Last,
		"order_no": or.Output.Odno,
		"mode":     string(c.mode),
	}).Info("Market sell placed")

	return &contracts.SellResult{
		Success:   true,
		SellPrice: quote.Last,
		OrderNo:   or.Output.Odno,
		Msg:       or.Msg1,
	}, nil
}

func (c *Client) placeOrder(ctx context.Context, code string, qty int, trID string) (*orderResponse, error) {
	cano, prdtCd := splitAccount(c.credsFor(c.mode).accountNo)
	body, err := json.Marshal(cashOrder{
		CANO:       cano,
		AcntPrdtCd: prdtCd,
		Pdno:       code,
		OrdDvsn:    "01",
		OrdQty:     fmt.Sprintf("%d", qty),
		OrdUnpr:    "0",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	resp, err := c.request(ctx, http.MethodPost, orderCashPath, trID, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var or orderResponse
	if err := readAPI(resp, &or); err != nil {
		return nil, err
	}
	return &or, nil
}

// GetBalance retrieves the account snapshot: holdings plus cash and
// total evaluation.
func (c *Client) GetBalance(ctx context.Context) (*contracts.Balance, error) {
	cano, prdtCd := splitAccount(c.credsFor(c.mode).accountNo)

	q := url.Values{}
	q.Set("CANO", cano)
	q.Set("ACNT_PRDT_CD", prdtCd)
	q.Set("AFHR_FLPR_YN", "N")
	q.Set("OFL_YN", "")
	q.Set("INQR_DVSN", "02")
	q.Set("UNPR_DVSN", "01")
	q.Set("FUND_STTL_ICLD_YN", "N")
	q.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	q.Set("PRCS_DVSN", "00")
	q.Set("CTX_AREA_FK100", "")
	q.Set("CTX_AREA_NK100", "")

	resp, err := c.request(ctx, http.MethodGet,
		"/uapi/domestic-stock/v1/trading/inquire-balance?"+q.Encode(),
		c.trID("TTTC8434R", "VTTC8434R"), nil)
	if err != nil {
		return nil, fmt.Errorf("inquire-balance: %w", err)
	}

	var br balanceResponse
	if err := readAPI(resp, &br); err != nil {
		return nil, fmt.Errorf("inquire-balance: %w", err)
	}

	bal := &contracts.Balance{
		Holdings: make([]contracts.Holding, 0, len(br.Output1)),
	}
	for _, row := range br.Output1 {
		qty := int(parseI64(row.HldgQty))
		if qty == 0 {
			continue // 잔고 0 종목은 제외
		}
		bal.Holdings = append(bal.Holdings, contracts.Holding{
			Code:         row.Pdno,
			Name:         row.PrdtName,
			Qty:          qty,
			AvgPrice:     parseI64(row.PchsAvgPric),
			CurrentPrice: parseI64(row.Prpr),
			ProfitPct:    parseF64(row.EvluPflsRt),
		})
	}
	if len(br.Output2) > 0 {
		bal.AvailableCash = parseI64(br.Output2[0].DncaTotAmt)
		bal.TotalEval = parseI64(br.Output2[0].TotEvluAmt)
		bal.TotalProfitPct = parseF64(br.Output2[0].AsstIcdcErngRt)
	}
	return bal, nil
}

// GetHoldingQty returns the held quantity for a ticker, 0 when not held.
func (c *Client) GetHoldingQty(ctx context.Context, code string) (int, error) {
	bal, err := c.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	for _, h := range bal.Holdings {
		if h.Code == code {
			return h.Qty, nil
		}
	}
	return 0, nil
}
