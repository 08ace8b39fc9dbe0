package watchlist

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wonny/kairos/internal/contracts"
)

func TestSetGet_CopySemantics(t *testing.T) {
	Clear()
	defer Clear()

	Set(map[string]contracts.WatchlistEntry{
		"005930": {Name: "삼성전자", PrevDayVolume: 1_000_000, Priority: 1, Category: contracts.CategoryFiling},
	})

	got := Get()
	assert.Equal(t, "삼성전자", got["005930"].Name)

	// Mutating the returned map must not corrupt the slot
	delete(got, "005930")
	got["000660"] = contracts.WatchlistEntry{Name: "SK하이닉스"}

	assert.True(t, Contains("005930"))
	assert.False(t, Contains("000660"))
}

func TestSet_ClampsPrevDayVolume(t *testing.T) {
	Clear()
	defer Clear()

	Set(map[string]contracts.WatchlistEntry{
		"123456": {Name: "테스트", PrevDayVolume: 0},
	})

	assert.Equal(t, int64(1), Get()["123456"].PrevDayVolume)
}

func TestIsReady(t *testing.T) {
	Clear()
	assert.False(t, IsReady())

	Set(map[string]contracts.WatchlistEntry{"005930": {Name: "삼성전자", PrevDayVolume: 1}})
	assert.True(t, IsReady())

	Clear()
	assert.False(t, IsReady())
}

func TestMarketEnvFromKOSPI_Boundaries(t *testing.T) {
	Clear()
	defer Clear()

	SetMarketEnvFromKOSPI(1.0)
	assert.Equal(t, contracts.EnvBull, MarketEnv())

	SetMarketEnvFromKOSPI(-1.0)
	assert.Equal(t, contracts.EnvBear, MarketEnv())

	SetMarketEnvFromKOSPI(0.3)
	assert.Equal(t, contracts.EnvSideways, MarketEnv())
}

func TestSectorMap(t *testing.T) {
	Clear()
	defer Clear()

	SetSectorMap(map[string]string{"005930": "전기전자"})
	assert.Equal(t, "전기전자", Sector("005930"))
	assert.Equal(t, "", Sector("000000"))

	Clear()
	assert.Equal(t, "", Sector("005930"))
}
