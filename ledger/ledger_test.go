package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/database/memdb"
	"github.com/wjorgensen/StreamDroplets/metrics"
	"github.com/wjorgensen/StreamDroplets/pricing"
)

var (
	day   = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
	pool  = common.HexToAddress("0x9001")
)

type fakePricer struct {
	prices map[uint64]*big.Int
	quote  *pricing.Quote
}

func (p *fakePricer) SharesForUnstake(_ context.Context, _ string, underlying *big.Int, round uint64) (*big.Int, error) {
	pps, ok := p.prices[round-1]
	if !ok {
		return nil, pricing.ErrPriceUnavailable
	}
	return pricing.SharesForUnderlying(underlying, pps, 18), nil
}

func (p *fakePricer) Scale(asset string) (uint8, error) {
	if asset != "xETH" && asset != "xBTC" {
		return 0, pricing.ErrUnknownAsset
	}
	return 18, nil
}

func (p *fakePricer) Quote(_ context.Context, asset string, _ uint64, _ uint64) (pricing.Quote, error) {
	if p.quote == nil || asset != p.quote.Asset {
		return pricing.Quote{}, pricing.ErrPriceUnavailable
	}
	return *p.quote, nil
}

func seed(t *testing.T, store *memdb.Store, addr common.Address, asset string, shares int64) {
	t.Helper()
	require.NoError(t, store.CommitShareBalances([]balance.ShareBalance{{
		Address: addr, Asset: asset, Shares: big.NewInt(shares), Underlying: big.NewInt(shares),
	}}, nil))
}

var nextLog uint

func chainEvent(kind event.Kind, tag event.Tag, from, to common.Address, amount int64) event.ChainEvent {
	nextLog++
	return event.ChainEvent{
		ChainID:     1,
		TxHash:      common.HexToHash(fmt.Sprintf("0x%x", nextLog)),
		LogIndex:    nextLog,
		BlockNumber: 100 + uint64(nextLog),
		EventDate:   day,
		Asset:       "xETH",
		Kind:        kind,
		Tag:         tag,
		Sender:      from,
		Receiver:    to,
		Amount:      big.NewInt(amount),
	}
}

func shares(t *testing.T, store *memdb.Store, addr common.Address) *big.Int {
	t.Helper()
	rows, err := store.ShareBalancesByKeys([]balance.Key{{Address: addr, Asset: "xETH"}})
	require.NoError(t, err)
	if len(rows) == 0 {
		return nil
	}
	return rows[0].Shares
}

func newTestLedger(store *memdb.Store, pricer *fakePricer) *Ledger {
	return NewLedger(log.New(), store, store, pricer, []string{"xETH"}, metrics.NoopMetrics)
}

func TestLedger_TransferScenario(t *testing.T) {
	store := memdb.New()
	seed(t, store, alice, "xETH", 150)
	require.NoError(t, store.StoreChainEvents([]event.ChainEvent{
		chainEvent(event.KindTransfer, event.TagNone, alice, bob, 100),
	}))

	result, err := newTestLedger(store, &fakePricer{}).ProcessDay(context.Background(), day)
	require.NoError(t, err)
	require.Equal(t, 1, result.Events)
	require.Equal(t, 2, result.Upserts)
	require.Equal(t, int64(50), shares(t, store, alice).Int64())
	require.Equal(t, int64(100), shares(t, store, bob).Int64())
}

func TestLedger_UnstakeConversionFloors(t *testing.T) {
	store := memdb.New()
	seed(t, store, alice, "xETH", 2_000_000)
	round := uint64(5)
	unstake := chainEvent(event.KindUnstake, event.TagNone, alice, common.Address{}, -1_000_000)
	unstake.Round = &round
	require.NoError(t, store.StoreChainEvents([]event.ChainEvent{unstake}))

	pps, _ := new(big.Int).SetString("1050000000000000000", 10)
	pricer := &fakePricer{prices: map[uint64]*big.Int{4: pps}}
	result, err := newTestLedger(store, pricer).ProcessDay(context.Background(), day)
	require.NoError(t, err)
	require.Equal(t, uint64(5), result.MaxRounds["xETH"])
	require.Equal(t, int64(2_000_000-952_380), shares(t, store, alice).Int64())
}

func TestLedger_NegativeRejectsWholeDay(t *testing.T) {
	store := memdb.New()
	seed(t, store, alice, "xETH", 10)
	seed(t, store, bob, "xETH", 5)
	require.NoError(t, store.StoreChainEvents([]event.ChainEvent{
		chainEvent(event.KindRedeem, event.TagNone, alice, common.Address{}, 7),
		chainEvent(event.KindTransfer, event.TagNone, bob, alice, 6),
	}))
	before, err := store.AllShareBalances()
	require.NoError(t, err)

	_, err = newTestLedger(store, &fakePricer{}).ProcessDay(context.Background(), day)
	require.ErrorIs(t, err, ErrNegativeBalance)
	var negErr *NegativeBalanceError
	require.True(t, errors.As(err, &negErr))
	require.Len(t, negErr.Entries, 1)
	require.Equal(t, bob, negErr.Entries[0].Key.Address)
	require.Equal(t, int64(-1), negErr.Entries[0].Value.Int64())

	after, err := store.AllShareBalances()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestLedger_DuplicateEventsFoldOnce(t *testing.T) {
	ev := chainEvent(event.KindTransfer, event.TagNone, alice, bob, 40)

	once := NewWorkingSet([]balance.ShareBalance{{Address: alice, Asset: "xETH", Shares: big.NewInt(100)}})
	require.NoError(t, Fold(context.Background(), once, []event.ChainEvent{ev}, &fakePricer{}))

	twice := NewWorkingSet([]balance.ShareBalance{{Address: alice, Asset: "xETH", Shares: big.NewInt(100)}})
	require.NoError(t, Fold(context.Background(), twice, []event.ChainEvent{ev, ev}, &fakePricer{}))

	for _, key := range []balance.Key{{Address: alice, Asset: "xETH"}, {Address: bob, Asset: "xETH"}} {
		require.Equal(t, once.Get(key), twice.Get(key))
	}

	// a second store of the same event is a no-op, so the day result is unchanged
	store := memdb.New()
	seed(t, store, alice, "xETH", 100)
	require.NoError(t, store.StoreChainEvents([]event.ChainEvent{ev}))
	require.NoError(t, store.StoreChainEvents([]event.ChainEvent{ev}))
	_, err := newTestLedger(store, &fakePricer{}).ProcessDay(context.Background(), day)
	require.NoError(t, err)
	require.Equal(t, int64(60), shares(t, store, alice).Int64())
	require.Equal(t, int64(40), shares(t, store, bob).Int64())
}

func TestFold_TaggedTransfersAreSingleSided(t *testing.T) {
	ws := NewWorkingSet([]balance.ShareBalance{{Address: alice, Asset: "xETH", Shares: big.NewInt(100)}})
	events := []event.ChainEvent{
		chainEvent(event.KindTransfer, event.TagPoolTo, alice, pool, 30),
		chainEvent(event.KindTransfer, event.TagIntegrationFrom, pool, bob, 20),
		chainEvent(event.KindBridgeSent, event.TagNone, alice, common.Address{}, -10),
		chainEvent(event.KindBridgeReceived, event.TagNone, common.Address{}, bob, 5),
		chainEvent(event.KindStake, event.TagNone, alice, common.Address{}, 1_000),
	}
	require.NoError(t, Fold(context.Background(), ws, events, &fakePricer{}))

	require.Equal(t, int64(60), ws.Get(balance.Key{Address: alice, Asset: "xETH"}).Int64())
	require.Equal(t, int64(25), ws.Get(balance.Key{Address: bob, Asset: "xETH"}).Int64())
	require.Equal(t, int64(0), ws.Get(balance.Key{Address: pool, Asset: "xETH"}).Int64())
}

func TestFold_UnstakeWithoutRound(t *testing.T) {
	ws := NewWorkingSet(nil)
	ev := chainEvent(event.KindUnstake, event.TagNone, alice, common.Address{}, -5)
	require.Error(t, Fold(context.Background(), ws, []event.ChainEvent{ev}, &fakePricer{}))
}

func TestWorkingSet_Changes(t *testing.T) {
	ws := NewWorkingSet([]balance.ShareBalance{
		{Address: alice, Asset: "xETH", Shares: big.NewInt(10), Underlying: big.NewInt(11)},
	})
	ws.Add(balance.Key{Address: alice, Asset: "xETH"}, big.NewInt(-10))
	ws.Add(balance.Key{Address: bob, Asset: "xETH"}, big.NewInt(3))
	ws.Add(balance.Key{Address: pool, Asset: "xETH"}, big.NewInt(3))
	ws.Add(balance.Key{Address: pool, Asset: "xETH"}, big.NewInt(-3))

	now := time.Now()
	upserts, deletes := ws.Changes(now)
	require.Equal(t, []balance.Key{{Address: alice, Asset: "xETH"}}, deletes)
	require.Len(t, upserts, 1)
	require.Equal(t, bob, upserts[0].Address)
	require.Equal(t, int64(3), upserts[0].Shares.Int64())
	require.Equal(t, now, upserts[0].UpdatedAt)
}

func TestLedger_RevalueMarksStaleWithoutPrice(t *testing.T) {
	store := memdb.New()
	seed(t, store, alice, "xETH", 100)
	seed(t, store, bob, "xBTC", 100)

	pps, _ := new(big.Int).SetString("1500000000000000000", 10)
	pricer := &fakePricer{quote: &pricing.Quote{Asset: "xETH", PricePerShare: pps, Round: 7, Source: pricing.SourceLive}}
	l := NewLedger(log.New(), store, store, pricer, []string{"xETH", "xBTC"}, metrics.NoopMetrics)

	report := l.Revalue(context.Background(), 1_000, map[string]uint64{"xBTC": 3})
	require.Len(t, report.Failed, 1)
	require.ErrorIs(t, report.Failed["xBTC"], pricing.ErrPriceUnavailable)
	require.True(t, report.Valuations["xBTC"].Stale)
	require.False(t, report.Valuations["xETH"].Stale)
	require.Equal(t, uint64(7), report.Valuations["xETH"].Round)

	eth, err := store.ShareBalancesByAsset("xETH")
	require.NoError(t, err)
	require.Equal(t, int64(150), eth[0].Underlying.Int64())
	require.Equal(t, uint64(7), eth[0].ValuationRound)
	require.False(t, eth[0].ValuationStale)

	// the stale asset keeps its last underlying value
	btc, err := store.ShareBalancesByAsset("xBTC")
	require.NoError(t, err)
	require.Equal(t, int64(100), btc[0].Underlying.Int64())
	require.True(t, btc[0].ValuationStale)
}
