package naver

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSiseJSON(t *testing.T) {
	body := []byte(`[["날짜", "시가", "고가", "저가", "종가", "거래량", "외국인소진율"],
["20260820", 70500, 71800, 70200, 71200, 13240551, "52.1"],
["20260821", 71200, 71900, 70900, 71500, 9882120, "52.2"]]`)

	bars, err := parseSiseJSON(body)
	require.NoError(t, err)
	require.Len(t, bars, 2, "header row must be skipped")

	assert.Equal(t, "20260820", bars[0].Date)
	assert.InDelta(t, 71200, bars[0].Close, 1e-9)
	assert.Equal(t, int64(13240551), bars[0].Volume)
	assert.Equal(t, "20260821", bars[1].Date)
}

func TestParseSiseJSON_SingleQuotes(t *testing.T) {
	// Naver가 실제로 내려주는 형태: 홑따옴표
	body := []byte(`[['날짜', '시가', '고가', '저가', '종가', '거래량', '외국인소진율'],
['20260821', 2648.5, 2661.2, 2640.1, 2655.33, 542000, '0.0']]`)

	bars, err := parseSiseJSON(body)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.InDelta(t, 2655.33, bars[0].Close, 1e-9)
}

func TestParseSiseJSON_Malformed(t *testing.T) {
	_, err := parseSiseJSON([]byte(`<html>blocked</html>`))
	assert.Error(t, err)
}

const marketSumRow = `
<table class="type_2"><tbody>
<tr><td>1</td><td><a class="tltle" href="/item/main.naver?code=005930">삼성전자</a></td>
<td>71,200</td><td>+1,700</td><td>+2.45%</td><td>100</td><td>4,251,234</td><td>x</td></tr>
<tr><td colspan="8"></td></tr>
<tr><td>2</td><td><a class="tltle" href="/item/main.naver?code=068270">셀트리온</a></td>
<td>182,000</td><td>-2,000</td><td>-1.09%</td><td>1,000</td><td>250,100</td><td>x</td></tr>
</tbody></table>`

func TestParseMarketSumDoc(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(marketSumRow))
	require.NoError(t, err)

	rows := parseMarketSumDoc(doc)
	require.Len(t, rows, 2, "divider rows must be skipped")

	assert.Equal(t, "005930", rows[0].Code)
	assert.Equal(t, "삼성전자", rows[0].Name)
	assert.Equal(t, int64(71200), rows[0].Close)
	assert.InDelta(t, 2.45, rows[0].ChangeRate, 1e-9)
	assert.Equal(t, int64(4_251_234)*100_000_000, rows[0].MarketCap)

	assert.Equal(t, "068270", rows[1].Code)
	assert.InDelta(t, -1.09, rows[1].ChangeRate, 1e-9)
}

func TestParsePct(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"+2.45%", 2.45},
		{"-1.09%", -1.09},
		{"0.00%", 0},
		{"+29.97%", 29.97},
		{"", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, parsePct(tt.in), 1e-9, tt.in)
	}
}

func TestCodeFromHref(t *testing.T) {
	assert.Equal(t, "005930", codeFromHref("/item/main.naver?code=005930"))
	assert.Equal(t, "005930", codeFromHref("/item/main.naver?code=005930&page=1"))
	assert.Equal(t, "", codeFromHref("/item/main.naver"))
}
