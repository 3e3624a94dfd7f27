package integration

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/database/memdb"
	"github.com/wjorgensen/StreamDroplets/database/reference"
	"github.com/wjorgensen/StreamDroplets/event/contracts"
	"github.com/wjorgensen/StreamDroplets/pricing"
)

var (
	testDate    = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	alice       = common.HexToAddress("0xa11ce")
	bob         = common.HexToAddress("0xb0b")
	router      = common.HexToAddress("0x7007e7")
	pair        = common.HexToAddress("0x9a17")
	lendVault   = common.HexToAddress("0x4626")
	streamVault = common.HexToAddress("0x57ea")
	depositAddr = common.HexToAddress("0xde9051")
)

type logBuilder struct {
	t     *testing.T
	index uint
}

func (b *logBuilder) log(contractAbi *abi.ABI, name string, emitter common.Address, tx string, args ...interface{}) types.Log {
	b.t.Helper()
	lg, err := contracts.EncodeLog(contractAbi, name, emitter, args...)
	require.NoError(b.t, err)
	b.index++
	lg.TxHash = common.HexToHash(tx)
	lg.BlockNumber = 100 + uint64(b.index)
	lg.Index = b.index
	return lg
}

func decodeAll(t *testing.T, tracker ProtocolTracker, logs []types.Log) []event.IntegrationEvent {
	t.Helper()
	var events []event.IntegrationEvent
	for _, lg := range logs {
		evs, err := tracker.Decode(1, testDate, lg)
		require.NoError(t, err)
		events = append(events, evs...)
	}
	return events
}

func positionRow(t *testing.T, store *memdb.Store, protocol string, contract, addr common.Address) *balance.IntegrationBalance {
	t.Helper()
	rows, err := store.IntegrationBalancesByKeys([]balance.IntegrationKey{{Address: addr, Protocol: protocol, Contract: contract, Asset: "xETH"}})
	require.NoError(t, err)
	if len(rows) == 0 {
		return nil
	}
	return &rows[0]
}

func TestERC4626Tracker_DecodeAndFold(t *testing.T) {
	store := memdb.New()
	tracker := NewERC4626Tracker(log.New(), Config{
		Name: "euler", Asset: "xETH", Contracts: map[uint64][]common.Address{1: {lendVault}},
	}, nil, store, store)

	b := &logBuilder{t: t}
	logs := []types.Log{
		b.log(contracts.ERC4626ABI, "Transfer", lendVault, "0x1", common.Address{}, alice, big.NewInt(900)),
		b.log(contracts.ERC4626ABI, "Deposit", lendVault, "0x1", router, alice, big.NewInt(1_000), big.NewInt(900)),
		b.log(contracts.ERC4626ABI, "Transfer", lendVault, "0x2", alice, bob, big.NewInt(300)),
		b.log(contracts.ERC4626ABI, "Withdraw", lendVault, "0x3", bob, bob, bob, big.NewInt(110), big.NewInt(100)),
	}
	events := decodeAll(t, tracker, logs)
	require.Len(t, events, 3)
	require.NoError(t, tracker.Persist(events))
	// persisting twice is a no-op
	require.NoError(t, tracker.Persist(events))
	require.NoError(t, tracker.FoldBalances(context.Background(), testDate))

	a := positionRow(t, store, "euler", lendVault, alice)
	require.NotNil(t, a)
	require.Equal(t, int64(600), a.Shares.Int64())
	require.Equal(t, int64(1_000), a.Underlying.Int64())

	bb := positionRow(t, store, "euler", lendVault, bob)
	require.NotNil(t, bb)
	require.Equal(t, int64(200), bb.Shares.Int64())
}

func TestERC4626Tracker_NegativeRejected(t *testing.T) {
	store := memdb.New()
	tracker := NewERC4626Tracker(log.New(), Config{Name: "euler", Asset: "xETH"}, nil, store, store)

	b := &logBuilder{t: t}
	events := decodeAll(t, tracker, []types.Log{
		b.log(contracts.ERC4626ABI, "Withdraw", lendVault, "0x3", bob, bob, bob, big.NewInt(110), big.NewInt(100)),
	})
	require.NoError(t, tracker.Persist(events))
	require.ErrorIs(t, tracker.FoldBalances(context.Background(), testDate), ErrNegativePosition)
	require.Nil(t, positionRow(t, store, "euler", lendVault, bob))
}

func TestAMMTracker_ReconcilesRouterLiquidity(t *testing.T) {
	store := memdb.New()
	tracker := NewAMMTracker(log.New(), AMMConfig{
		Config:  Config{Name: "shadow", Asset: "xETH", Contracts: map[uint64][]common.Address{1: {pair}}},
		Routers: []common.Address{router},
	}, nil, store, store)

	b := &logBuilder{t: t}
	pairABI := contracts.UniswapV2PairABI
	logs := []types.Log{
		// add liquidity, LP minted to the router and forwarded
		b.log(pairABI, "Transfer", pair, "0xa1", common.Address{}, router, big.NewInt(100)),
		b.log(pairABI, "Mint", pair, "0xa1", router, big.NewInt(500), big.NewInt(900)),
		b.log(pairABI, "Transfer", pair, "0xa1", router, alice, big.NewInt(100)),
		// router forwarding LP with no mint in the transaction
		b.log(pairABI, "Transfer", pair, "0xa2", router, bob, big.NewInt(7)),
		// remove liquidity through the router
		b.log(pairABI, "Transfer", pair, "0xa3", alice, router, big.NewInt(40)),
		b.log(pairABI, "Transfer", pair, "0xa3", router, pair, big.NewInt(40)),
		b.log(pairABI, "Transfer", pair, "0xa3", pair, common.Address{}, big.NewInt(40)),
		b.log(pairABI, "Burn", pair, "0xa3", router, big.NewInt(200), big.NewInt(360), alice),
	}
	decoded := decodeAll(t, tracker, logs)
	events, err := tracker.Reconcile(context.Background(), 1, decoded)
	require.NoError(t, err)

	kinds := make([]event.PositionKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	require.Equal(t, []event.PositionKind{event.PositionDeposit, event.PositionSwap, event.PositionWithdraw}, kinds)
	require.Equal(t, int64(500), events[0].UnderlyingDelta.Int64())
	require.Equal(t, int64(-200), events[2].UnderlyingDelta.Int64())

	require.NoError(t, tracker.Persist(events))
	require.NoError(t, tracker.FoldBalances(context.Background(), testDate))

	a := positionRow(t, store, "shadow", pair, alice)
	require.NotNil(t, a)
	require.Equal(t, int64(60), a.Shares.Int64())
	require.Equal(t, int64(300), a.Underlying.Int64())
	require.Nil(t, positionRow(t, store, "shadow", pair, bob))

	stored, err := store.IntegrationEventsForDate(testDate, "shadow")
	require.NoError(t, err)
	require.Len(t, stored, 3)
}

func TestAMMTracker_DirectMintAndBurn(t *testing.T) {
	tracker := NewAMMTracker(log.New(), AMMConfig{
		Config:     Config{Name: "shadow", Asset: "xETH"},
		Routers:    []common.Address{router},
		TokenIndex: 1,
	}, nil, memdb.New(), memdb.New())

	b := &logBuilder{t: t}
	pairABI := contracts.UniswapV2PairABI
	decoded := decodeAll(t, tracker, []types.Log{
		b.log(pairABI, "Transfer", pair, "0xb1", common.Address{}, alice, big.NewInt(50)),
		b.log(pairABI, "Mint", pair, "0xb1", router, big.NewInt(1), big.NewInt(80)),
		b.log(pairABI, "Transfer", pair, "0xb2", alice, pair, big.NewInt(20)),
		b.log(pairABI, "Transfer", pair, "0xb2", pair, common.Address{}, big.NewInt(20)),
		b.log(pairABI, "Burn", pair, "0xb2", alice, big.NewInt(1), big.NewInt(30), alice),
		b.log(pairABI, "Transfer", pair, "0xb3", alice, bob, big.NewInt(5)),
	})
	events, err := tracker.Reconcile(context.Background(), 1, decoded)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, event.PositionDeposit, events[0].Kind)
	require.Equal(t, alice, events[0].Account)
	require.Equal(t, int64(80), events[0].UnderlyingDelta.Int64())
	require.Equal(t, event.PositionWithdraw, events[1].Kind)
	require.Equal(t, int64(-30), events[1].UnderlyingDelta.Int64())
	require.Equal(t, event.PositionTransfer, events[2].Kind)
	require.Equal(t, bob, events[2].Counterparty)
}

func TestWithinTolerance(t *testing.T) {
	tol := decimal.New(1, -4)
	tests := []struct {
		name       string
		prev, next int64
		within     bool
	}{
		{"unchanged", 1_000_000, 1_000_000, true},
		{"small drift", 1_000_000, 1_000_050, true},
		{"at tolerance", 1_000_000, 1_000_100, true},
		{"beyond tolerance", 1_000_000, 1_000_101, false},
		{"downward", 1_000_000, 999_000, false},
		{"zero previous", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.within, WithinTolerance(big.NewInt(tt.prev), big.NewInt(tt.next), tol))
		})
	}
}

// fakeLendingVault answers decimals() and convertToAssets(uint256).
type fakeLendingVault struct {
	rate *big.Int
}

func (f *fakeLendingVault) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := contracts.ERC4626ABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "decimals":
		return method.Outputs.Pack(uint8(18))
	case "convertToAssets":
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		shares := args[0].(*big.Int)
		out := new(big.Int).Mul(shares, f.rate)
		return method.Outputs.Pack(out.Quo(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
	}
	return nil, errors.New("unexpected method")
}

func TestERC4626Tracker_RevalueSkipsWithinTolerance(t *testing.T) {
	store := memdb.New()
	require.NoError(t, store.CommitIntegrationBalances([]balance.IntegrationBalance{
		{Address: alice, Protocol: "euler", Contract: lendVault, Asset: "xETH", Shares: big.NewInt(1_000_000), Underlying: big.NewInt(1_000_000)},
		{Address: bob, Protocol: "euler", Contract: lendVault, Asset: "xETH", Shares: big.NewInt(1_000_000), Underlying: big.NewInt(900_000)},
	}, nil))

	rate, _ := new(big.Int).SetString("1000050000000000000", 10)
	chains := map[uint64]Chain{1: {Caller: &fakeLendingVault{rate: rate}}}
	tracker := NewERC4626Tracker(log.New(), Config{
		Name: "euler", Asset: "xETH", Contracts: map[uint64][]common.Address{1: {lendVault}},
	}, chains, store, store)

	require.NoError(t, tracker.Revalue(context.Background(), map[uint64]uint64{1: 500}))
	require.Equal(t, int64(1_000_000), positionRow(t, store, "euler", lendVault, alice).Underlying.Int64())
	require.Equal(t, int64(1_000_050), positionRow(t, store, "euler", lendVault, bob).Underlying.Int64())

	// no closing block for the chain leaves every position untouched
	require.NoError(t, tracker.Revalue(context.Background(), map[uint64]uint64{}))
}

type stubPricer struct {
	pps *big.Int
}

func (s stubPricer) Scale(string) (uint8, error) { return 18, nil }

func (s stubPricer) Quote(_ context.Context, asset string, _ uint64, _ uint64) (pricing.Quote, error) {
	if s.pps == nil {
		return pricing.Quote{}, pricing.ErrPriceUnavailable
	}
	return pricing.Quote{Asset: asset, PricePerShare: s.pps, Round: 3, Source: pricing.SourceLive}, nil
}

func offchainFixture(t *testing.T, pricer Pricer) (*memdb.Store, *OffchainTracker) {
	t.Helper()
	store := memdb.New()
	require.NoError(t, store.StoreDeposits([]reference.DepositReference{{
		DepositID: "dep-1", Protocol: "royco", Market: "m1", ChainID: 1, Asset: "xETH",
		Owner: alice, DepositAddress: depositAddr, Amount: big.NewInt(500),
		SourceCreatedAt: testDate,
	}}))
	tracker := NewOffchainTracker(log.New(), OffchainConfig{
		Config:           Config{Name: "royco", Asset: "xETH", Contracts: map[uint64][]common.Address{1: {streamVault}}},
		CanonicalChainID: 1,
	}, nil, store, store, store, pricer)
	require.NoError(t, tracker.Refresh())
	return store, tracker
}

func TestOffchainTracker_DepositAndMatchedWithdrawal(t *testing.T) {
	store, tracker := offchainFixture(t, stubPricer{})
	b := &logBuilder{t: t}

	events := decodeAll(t, tracker, []types.Log{
		b.log(contracts.StreamVaultABI, "Transfer", streamVault, "0xc1", alice, depositAddr, big.NewInt(500)),
		b.log(contracts.StreamVaultABI, "Transfer", streamVault, "0xc2", alice, bob, big.NewInt(1)),
	})
	require.Len(t, events, 1)
	require.Equal(t, event.PositionDeposit, events[0].Kind)
	require.Equal(t, alice, events[0].Account)
	require.Equal(t, depositAddr, events[0].Contract)
	require.NoError(t, tracker.Persist(events))
	require.NoError(t, tracker.FoldBalances(context.Background(), testDate))
	require.Equal(t, int64(500), positionRow(t, store, "royco", depositAddr, alice).Shares.Int64())

	next := testDate.AddDate(0, 0, 1)
	wd, err := tracker.Decode(1, next, b.log(contracts.StreamVaultABI, "Transfer", streamVault, "0xc3", depositAddr, alice, big.NewInt(500)))
	require.NoError(t, err)
	require.Len(t, wd, 1)
	require.Equal(t, event.PositionWithdraw, wd[0].Kind)
	require.NoError(t, tracker.Persist(wd))
	require.NoError(t, tracker.FoldBalances(context.Background(), next))
	require.Nil(t, positionRow(t, store, "royco", depositAddr, alice))
}

func TestOffchainTracker_UnmatchedWithdrawalIsFatal(t *testing.T) {
	_, tracker := offchainFixture(t, stubPricer{})
	b := &logBuilder{t: t}

	_, err := tracker.Decode(1, testDate, b.log(contracts.StreamVaultABI, "Transfer", streamVault, "0xd1", depositAddr, bob, big.NewInt(500)))
	require.ErrorIs(t, err, ErrUnmatchedWithdrawal)

	_, err = tracker.Decode(1, testDate, b.log(contracts.StreamVaultABI, "Transfer", streamVault, "0xd2", depositAddr, alice, big.NewInt(499)))
	require.ErrorIs(t, err, ErrUnmatchedWithdrawal)
}

func TestOffchainTracker_RevalueMarksStaleWithoutPrice(t *testing.T) {
	store, tracker := offchainFixture(t, stubPricer{})
	require.NoError(t, store.CommitIntegrationBalances([]balance.IntegrationBalance{
		{Address: alice, Protocol: "royco", Contract: depositAddr, Asset: "xETH", Shares: big.NewInt(500), Underlying: big.NewInt(500)},
	}, nil))

	require.NoError(t, tracker.Revalue(context.Background(), map[uint64]uint64{1: 10}))
	row := positionRow(t, store, "royco", depositAddr, alice)
	require.True(t, row.ValuationStale)
	require.Equal(t, int64(500), row.Underlying.Int64())

	pps, _ := new(big.Int).SetString("1100000000000000000", 10)
	tracker.pricer = stubPricer{pps: pps}
	require.NoError(t, tracker.Revalue(context.Background(), map[uint64]uint64{1: 11}))
	row = positionRow(t, store, "royco", depositAddr, alice)
	require.False(t, row.ValuationStale)
	require.Equal(t, int64(550), row.Underlying.Int64())
}
