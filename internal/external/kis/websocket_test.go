package kis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTickPayload fills a full tick record with the few fields we read.
func buildTickPayload(code, hhmmss, price, rate, cumVol string) string {
	fields := make([]string, tickFieldCount)
	for i := range fields {
		fields[i] = "0"
	}
	fields[tickFieldCode] = code
	fields[tickFieldTime] = hhmmss
	fields[tickFieldPrice] = price
	fields[tickFieldChangeRate] = rate
	fields[tickFieldCumVolume] = cumVol
	return strings.Join(fields, "^")
}

func TestParseTickFrame_SingleRecord(t *testing.T) {
	raw := "0|H0STCNT0|001|" + buildTickPayload("005930", "093015", "71200", "2.45", "13240551")

	trID, ticks, err := parseTickFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, trTick, trID)
	require.Len(t, ticks, 1)

	assert.Equal(t, "005930", ticks[0].Code)
	assert.Equal(t, "093015", ticks[0].Time)
	assert.Equal(t, int64(71200), ticks[0].Price)
	assert.InDelta(t, 2.45, ticks[0].ChangeRate, 1e-9)
	assert.Equal(t, int64(13240551), ticks[0].CumVolume)
}

func TestParseTickFrame_MultiRecord(t *testing.T) {
	payload := buildTickPayload("005930", "093015", "71200", "2.45", "100") + "^" +
		buildTickPayload("000660", "093016", "182000", "5.10", "200")
	raw := "0|H0STCNT0|002|" + payload

	_, ticks, err := parseTickFrame(raw)
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, "005930", ticks[0].Code)
	assert.Equal(t, "000660", ticks[1].Code)
	assert.Equal(t, int64(182000), ticks[1].Price)
}

func TestParseTickFrame_OtherTRIgnored(t *testing.T) {
	raw := "0|H0STASP0|001|005930^093015^71200"
	trID, ticks, err := parseTickFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, trOrderbook, trID)
	assert.Empty(t, ticks)
}

func TestParseTickFrame_Malformed(t *testing.T) {
	_, _, err := parseTickFrame("garbage")
	assert.Error(t, err)

	_, _, err = parseTickFrame("0|H0STCNT0|001|too^few^fields")
	assert.Error(t, err)
}

func TestOrderbookFromFields(t *testing.T) {
	fields := map[string]string{
		"askp1": "71300", "askp_rsqn1": "1200",
		"askp2": "71400", "askp_rsqn2": "900",
		"bidp1": "71200", "bidp_rsqn1": "3400",
		"bidp2": "71100", "bidp_rsqn2": "2100",
		"total_askp_rsqn": "52000",
		"total_bidp_rsqn": "91000",
	}

	ob := orderbookFromFields(fields)
	require.Len(t, ob.Asks, 10)
	require.Len(t, ob.Bids, 10)

	assert.Equal(t, int64(71300), ob.Asks[0].Price)
	assert.Equal(t, int64(1200), ob.Asks[0].Qty)
	assert.Equal(t, int64(71200), ob.Bids[0].Price)
	assert.Equal(t, int64(52000), ob.TotalAsk)
	assert.Equal(t, int64(91000), ob.TotalBid)

	// 빠진 레벨은 0으로 채워진다
	assert.Zero(t, ob.Asks[9].Price)
}
