package pricing

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/database/reference"
	"github.com/wjorgensen/StreamDroplets/event/contracts"
)

var testVault = common.HexToAddress("0x7e57")

// fakeVault serves round() and roundPricePerShare(uint256) from memory.
type fakeVault struct {
	round  uint64
	prices map[uint64]*big.Int
	down   bool
	calls  int
}

func (f *fakeVault) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	if f.down {
		return nil, errors.New("connection refused")
	}
	method, err := contracts.StreamVaultABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "round":
		return method.Outputs.Pack(new(big.Int).SetUint64(f.round))
	case "roundPricePerShare":
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		pps, ok := f.prices[args[0].(*big.Int).Uint64()]
		if !ok {
			pps = new(big.Int)
		}
		return method.Outputs.Pack(pps)
	}
	return nil, errors.New("unexpected method")
}

type memPriceCache struct {
	rows map[string]reference.PriceCache
}

func (m *memPriceCache) PriceCache(asset string) (*reference.PriceCache, error) {
	row, ok := m.rows[asset]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *memPriceCache) StorePriceCache(row reference.PriceCache) error {
	m.rows[row.Asset] = row
	return nil
}

func pps(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

func testOracle(vault *fakeVault, cache *memPriceCache) *Oracle {
	return NewOracle(log.New(), vault, []Asset{{Symbol: "xETH", Vault: testVault, PPSDecimals: 18}}, cache)
}

func TestSharesForUnderlying_Floor(t *testing.T) {
	// 1,000,000 * 10^18 / 1.05e18 = 952,380.95... -> 952,380
	got := SharesForUnderlying(big.NewInt(1_000_000), pps("1050000000000000000"), 18)
	require.Equal(t, "952380", got.String())

	// sign of the input is ignored
	got = SharesForUnderlying(big.NewInt(-1_000_000), pps("1050000000000000000"), 18)
	require.Equal(t, "952380", got.String())
}

func TestUnderlyingForShares_Floor(t *testing.T) {
	got := UnderlyingForShares(big.NewInt(952_380), pps("1050000000000000000"), 18)
	require.Equal(t, "999999", got.String())
}

func TestOracle_SharesForUnstakeUsesPreviousRound(t *testing.T) {
	vault := &fakeVault{round: 6, prices: map[uint64]*big.Int{4: pps("1050000000000000000"), 5: pps("2000000000000000000")}}
	o := testOracle(vault, &memPriceCache{rows: map[string]reference.PriceCache{}})

	shares, err := o.SharesForUnstake(context.Background(), "xETH", big.NewInt(1_000_000), 5)
	require.NoError(t, err)
	require.Equal(t, "952380", shares.String())

	// finalized prices are served from memory on repeat
	calls := vault.calls
	_, err = o.SharesForUnstake(context.Background(), "xETH", big.NewInt(5), 5)
	require.NoError(t, err)
	require.Equal(t, calls, vault.calls)
}

func TestOracle_SharesForUnstakeCacheOnlyForSameRound(t *testing.T) {
	cache := &memPriceCache{rows: map[string]reference.PriceCache{
		"xETH": {Asset: "xETH", Round: 4, PricePerShare: pps("1050000000000000000")},
	}}
	o := testOracle(&fakeVault{down: true}, cache)

	shares, err := o.SharesForUnstake(context.Background(), "xETH", big.NewInt(1_000_000), 5)
	require.NoError(t, err)
	require.Equal(t, "952380", shares.String())

	_, err = o.SharesForUnstake(context.Background(), "xETH", big.NewInt(1_000_000), 7)
	require.Error(t, err)
}

func TestOracle_QuoteLiveStoresCache(t *testing.T) {
	vault := &fakeVault{round: 9, prices: map[uint64]*big.Int{8: pps("1100000000000000000")}}
	cache := &memPriceCache{rows: map[string]reference.PriceCache{}}
	o := testOracle(vault, cache)

	q, err := o.Quote(context.Background(), "xETH", 1234, 9)
	require.NoError(t, err)
	require.Equal(t, SourceLive, q.Source)
	require.Equal(t, uint64(8), q.Round)
	require.Equal(t, "1100000000000000000", q.PricePerShare.String())
	require.Equal(t, uint64(8), cache.rows["xETH"].Round)
	require.Equal(t, uint64(1234), cache.rows["xETH"].BlockNumber)
}

func TestOracle_QuoteFallsBackToCache(t *testing.T) {
	cache := &memPriceCache{rows: map[string]reference.PriceCache{
		"xETH": {Asset: "xETH", Round: 8, PricePerShare: pps("1100000000000000000")},
	}}
	o := testOracle(&fakeVault{down: true}, cache)

	q, err := o.Quote(context.Background(), "xETH", 1234, 9)
	require.NoError(t, err)
	require.Equal(t, SourceCache, q.Source)
	require.Equal(t, uint64(8), q.Round)
}

func TestOracle_QuoteRejectsDiscontinuity(t *testing.T) {
	cache := &memPriceCache{rows: map[string]reference.PriceCache{
		"xETH": {Asset: "xETH", Round: 6, PricePerShare: pps("1100000000000000000")},
	}}
	o := testOracle(&fakeVault{down: true}, cache)

	_, err := o.Quote(context.Background(), "xETH", 1234, 9)
	require.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestOracle_QuoteNoCache(t *testing.T) {
	o := testOracle(&fakeVault{down: true}, &memPriceCache{rows: map[string]reference.PriceCache{}})
	_, err := o.Quote(context.Background(), "xETH", 1, 0)
	require.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestOracle_UnknownAsset(t *testing.T) {
	o := testOracle(&fakeVault{}, &memPriceCache{rows: map[string]reference.PriceCache{}})
	_, err := o.CurrentRound(context.Background(), "xBTC", nil)
	require.ErrorIs(t, err, ErrUnknownAsset)
}
