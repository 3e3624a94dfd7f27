package snapshot

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wjorgensen/StreamDroplets/database/balance"
)

func TestBuild_TotalsAndUserRows(t *testing.T) {
	date := time.Date(2025, 3, 4, 17, 30, 0, 0, time.UTC)
	a := common.HexToAddress("0xa")
	b := common.HexToAddress("0xb")
	pool := common.HexToAddress("0x9001")

	shares := []balance.ShareBalance{
		{Address: a, Asset: "xETH", Shares: big.NewInt(50), Underlying: big.NewInt(55)},
		{Address: b, Asset: "xETH", Shares: big.NewInt(100), Underlying: big.NewInt(110)},
		{Address: b, Asset: "xBTC", Shares: big.NewInt(0)},
	}
	positions := []balance.IntegrationBalance{
		{Address: a, Protocol: "euler", Contract: pool, Asset: "xETH", Shares: big.NewInt(7), Underlying: big.NewInt(8)},
	}
	valuations := map[string]Valuation{
		"xETH": {PricePerShare: big.NewInt(1_100_000), Round: 9},
	}

	daily, users := Build(date, []string{"xETH", "xBTC", "xUSD"}, valuations, shares, positions)

	require.Len(t, daily, 3)
	require.Equal(t, "xBTC", daily[0].Asset)
	require.Equal(t, uint64(0), daily[0].Holders)
	require.Equal(t, "xETH", daily[1].Asset)
	require.Equal(t, "150", daily[1].TotalShares.String())
	require.Equal(t, "165", daily[1].TotalUnderlying.String())
	require.Equal(t, uint64(2), daily[1].Holders)
	require.Equal(t, uint64(9), daily[1].ValuationRound)
	require.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), daily[1].Date)

	require.Len(t, users, 3)
	require.True(t, users[0].Direct())
	require.False(t, users[2].Direct())
	require.Equal(t, pool, users[2].Contract)
}

func TestBuild_MarksStaleAsset(t *testing.T) {
	daily, _ := Build(time.Now(), []string{"xETH"}, map[string]Valuation{"xETH": {Round: 3, Stale: true}}, nil, nil)
	require.Len(t, daily, 1)
	require.True(t, daily[0].Stale)
	require.Nil(t, daily[0].PricePerShare)
}
