package kis

import (
	"strconv"
	"strings"
)

// KIS의 모든 수치는 문자열로 내려온다. 빈 문자열은 0으로 처리.

func parseI64(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseF64(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// priceResponse: 주식현재가 시세 (FHKST01010100)
type priceResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg1   string `json:"msg1"`
	Output struct {
		StckPrpr   string `json:"stck_prpr"`     // 현재가
		StckOprc   string `json:"stck_oprc"`     // 시가
		PrdyCtrt   string `json:"prdy_ctrt"`     // 전일 대비율
		AcmlVol    string `json:"acml_vol"`      // 누적 거래량
		HtsKorIsnm string `json:"hts_kor_isnm"`  // 종목명
	} `json:"output"`
}

// orderbookResponse: 주식현재가 호가/예상체결 (FHKST01010200)
// 호가 40필드는 키 조합으로 순회하기 위해 맵으로 받는다.
type orderbookResponse struct {
	RtCd    string            `json:"rt_cd"`
	Msg1    string            `json:"msg1"`
	Output1 map[string]string `json:"output1"`
}

// rankResponse: 거래량/등락률 순위 공통 응답
type rankResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg1   string `json:"msg1"`
	Output []struct {
		MkscShrnIscd string `json:"mksc_shrn_iscd"` // 종목코드
		StckShrnIscd string `json:"stck_shrn_iscd"` // 등락률 순위는 이 키를 씀
		HtsKorIsnm   string `json:"hts_kor_isnm"`
		StckPrpr     string `json:"stck_prpr"`
		PrdyCtrt     string `json:"prdy_ctrt"`
		AcmlVol      string `json:"acml_vol"`
	} `json:"output"`
}

// orderResponse: 현금 주문 공통 응답
type orderResponse struct {
	RtCd   string `json:"rt_cd"`
	Msg1   string `json:"msg1"`
	Output struct {
		Odno string `json:"ODNO"` // 주문번호
	} `json:"output"`
}

// balanceResponse: 주식 잔고조회 (TTTC8434R)
type balanceResponse struct {
	RtCd    string `json:"rt_cd"`
	Msg1    string `json:"msg1"`
	Output1 []struct {
		Pdno         string `json:"pdno"`          // 종목코드
		PrdtName     string `json:"prdt_name"`     // 종목명
		HldgQty      string `json:"hldg_qty"`      // 보유수량
		PchsAvgPric  string `json:"pchs_avg_pric"` // 매입평균가
		Prpr         string `json:"prpr"`          // 현재가
		EvluPflsRt   string `json:"evlu_pfls_rt"`  // 평가손익율
	} `json:"output1"`
	Output2 []struct {
		DncaTotAmt      string `json:"dnca_tot_amt"`        // 예수금
		TotEvluAmt      string `json:"tot_evlu_amt"`        // 총평가금액
		AsstIcdcErngRt  string `json:"asst_icdc_erng_rt"`   // 자산증감수익율
	} `json:"output2"`
}

// approvalResponse: 웹소켓 접속키 발급
type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

func (r *priceResponse) result() (string, string)     { return r.RtCd, r.Msg1 }
func (r *orderbookResponse) result() (string, string) { return r.RtCd, r.Msg1 }
func (r *rankResponse) result() (string, string)      { return r.RtCd, r.Msg1 }
func (r *orderResponse) result() (string, string)     { return r.RtCd, r.Msg1 }
func (r *balanceResponse) result() (string, string)   { return r.RtCd, r.Msg1 }

// splitAccount breaks "12345678-01" into CANO and ACNT_PRDT_CD.
// Without a dash the first 8 digits are the CANO.
func splitAccount(accountNo string) (cano, prdtCd string) {
	if i := strings.IndexByte(accountNo, '-'); i >= 0 {
		return accountNo[:i], accountNo[i+1:]
	}
	if len(accountNo) > 8 {
		return accountNo[:8], accountNo[8:]
	}
	return accountNo, "01"
}
