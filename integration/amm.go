package integration

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/common/bigint"
	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/event/contracts"
	"github.com/wjorgensen/StreamDroplets/synchronizer"
)

var (
	pairTransfer = contracts.EventID(contracts.UniswapV2PairABI, "Transfer")
	pairMint     = contracts.EventID(contracts.UniswapV2PairABI, "Mint")
	pairBurn     = contracts.EventID(contracts.UniswapV2PairABI, "Burn")
)

type AMMConfig struct {
	Config
	Routers []common.Address
	// TokenIndex is 0 or 1, the side of each pair holding our vault share.
	TokenIndex int
}

// AMMTracker follows LP positions in Uniswap V2 style pairs. Liquidity added
// through a router shows up as an LP transfer from the router to the user;
// those transfers are held as pending until Reconcile pairs them with the
// mint or burn of the same transaction.
type AMMTracker struct {
	base
	routers    map[common.Address]struct{}
	tokenIndex int
}

func NewAMMTracker(log log.Logger, cfg AMMConfig, chains map[uint64]Chain, events event.IntegrationEventDB, positions balance.IntegrationBalanceDB) *AMMTracker {
	routers := make(map[common.Address]struct{}, len(cfg.Routers))
	for _, r := range cfg.Routers {
		routers[r] = struct{}{}
	}
	return &AMMTracker{
		base:       newBase(log, cfg.Config, chains, events, positions),
		routers:    routers,
		tokenIndex: cfg.TokenIndex,
	}
}

func (t *AMMTracker) isRouter(addr common.Address) bool {
	_, ok := t.routers[addr]
	return ok
}

func (t *AMMTracker) Fetch(ctx context.Context, chainID uint64, r synchronizer.Range) ([]types.Log, error) {
	topics := [][]common.Hash{{pairTransfer, pairMint, pairBurn}}
	return t.fetch(ctx, chainID, t.Contracts(chainID), topics, r)
}

func (t *AMMTracker) ourAmount(amount0, amount1 *big.Int) *big.Int {
	if t.tokenIndex == 1 {
		return bigint.Clone(amount1)
	}
	return bigint.Clone(amount0)
}

func (t *AMMTracker) Decode(chainID uint64, date time.Time, lg types.Log) ([]event.IntegrationEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, nil
	}
	pair := lg.Address
	switch lg.Topics[0] {
	case pairMint:
		var m contracts.PairMint
		if err := contracts.UnpackLog(&m, &lg, "Mint", contracts.UniswapV2PairABI); err != nil {
			return nil, fmt.Errorf("failed to decode Mint %s:%d: %w", lg.TxHash, lg.Index, err)
		}
		ev := t.newEvent(chainID, date, lg, event.PositionPoolMint)
		ev.Account = m.Sender
		ev.SharesDelta = new(big.Int)
		ev.UnderlyingDelta = t.ourAmount(m.Amount0, m.Amount1)
		return []event.IntegrationEvent{ev}, nil

	case pairBurn:
		var b contracts.PairBurn
		if err := contracts.UnpackLog(&b, &lg, "Burn", contracts.UniswapV2PairABI); err != nil {
			return nil, fmt.Errorf("failed to decode Burn %s:%d: %w", lg.TxHash, lg.Index, err)
		}
		ev := t.newEvent(chainID, date, lg, event.PositionPoolBurn)
		ev.Account = b.Sender
		ev.Counterparty = b.To
		ev.SharesDelta = new(big.Int)
		ev.UnderlyingDelta = t.ourAmount(b.Amount0, b.Amount1)
		return []event.IntegrationEvent{ev}, nil

	case pairTransfer:
		var tr contracts.ERC20Transfer
		if err := contracts.UnpackLog(&tr, &lg, "Transfer", contracts.UniswapV2PairABI); err != nil {
			return nil, fmt.Errorf("failed to decode Transfer %s:%d: %w", lg.TxHash, lg.Index, err)
		}
		if tr.From == tr.To || tr.Value == nil || tr.Value.Sign() == 0 {
			return nil, nil
		}
		ev := t.newEvent(chainID, date, lg, "")
		ev.Account, ev.Counterparty = tr.From, tr.To
		ev.UnderlyingDelta = new(big.Int)
		value := bigint.Clone(tr.Value)
		zero := common.Address{}

		switch {
		case tr.From == zero && (tr.To == pair || t.isRouter(tr.To)):
			ev.Kind, ev.SharesDelta = event.PositionMintMarker, value
		case tr.From == zero:
			// minted straight to the user
			ev.Kind, ev.Account, ev.Counterparty, ev.SharesDelta = event.PositionDeposit, tr.To, zero, value
		case tr.To == zero:
			ev.Kind, ev.SharesDelta = event.PositionBurnMarker, value.Neg(value)
		case t.isRouter(tr.From) && t.isRouter(tr.To), t.isRouter(tr.From) && tr.To == pair, tr.From == pair:
			return nil, nil
		case t.isRouter(tr.From):
			ev.Kind, ev.Account, ev.Counterparty, ev.SharesDelta = event.PositionPending, tr.To, tr.From, value
		case t.isRouter(tr.To):
			ev.Kind, ev.SharesDelta = event.PositionPending, value.Neg(value)
		case tr.To == pair:
			// LP returned to the pair ahead of a direct burn
			ev.Kind, ev.Counterparty, ev.SharesDelta = event.PositionWithdraw, zero, value.Neg(value)
		default:
			ev.Kind, ev.SharesDelta = event.PositionTransfer, value
		}
		return []event.IntegrationEvent{ev}, nil
	}
	return nil, nil
}

type pairTx struct {
	contract common.Address
	tx       common.Hash
}

type markerKey struct {
	pairTx
	kind   event.PositionKind
	amount string
}

// poolAmounts queues the underlying amounts of pool Mint and Burn events per
// transaction.
type poolAmounts map[pairTx]map[event.PositionKind][]*big.Int

func (p poolAmounts) push(tk pairTx, kind event.PositionKind, amount *big.Int) {
	if p[tk] == nil {
		p[tk] = make(map[event.PositionKind][]*big.Int)
	}
	p[tk][kind] = append(p[tk][kind], amount)
}

func (p poolAmounts) take(tk pairTx, kind event.PositionKind) *big.Int {
	amounts := p[tk][kind]
	if len(amounts) == 0 {
		return new(big.Int)
	}
	p[tk][kind] = amounts[1:]
	return amounts[0]
}

// underlying returns the signed underlying delta for a liquidity operation.
func (p poolAmounts) underlying(tk pairTx, kind event.PositionKind) *big.Int {
	if kind == event.PositionWithdraw {
		return new(big.Int).Neg(p.take(tk, event.PositionPoolBurn))
	}
	return p.take(tk, event.PositionPoolMint)
}

// Reconcile resolves pending transfers and attaches underlying amounts to
// liquidity operations. A pending transfer matched by (tx, |amount|) to a
// mint or burn marker becomes a deposit or withdrawal; an unmatched one is a
// swap. Markers and pool events are consumed.
func (t *AMMTracker) Reconcile(_ context.Context, chainID uint64, events []event.IntegrationEvent) ([]event.IntegrationEvent, error) {
	markers := make(map[markerKey]int)
	pool := make(poolAmounts)
	for _, ev := range events {
		tk := pairTx{contract: ev.Contract, tx: ev.TxHash}
		switch ev.Kind {
		case event.PositionMintMarker, event.PositionBurnMarker:
			markers[markerKey{tk, ev.Kind, bigint.Abs(ev.SharesDelta).String()}]++
		case event.PositionPoolMint, event.PositionPoolBurn:
			pool.push(tk, ev.Kind, bigint.Abs(ev.UnderlyingDelta))
		}
	}

	var out []event.IntegrationEvent
	var matched, swaps int
	for _, ev := range events {
		tk := pairTx{contract: ev.Contract, tx: ev.TxHash}
		switch ev.Kind {
		case event.PositionPending:
			markerKind, kind := event.PositionMintMarker, event.PositionDeposit
			if ev.SharesDelta.Sign() < 0 {
				markerKind, kind = event.PositionBurnMarker, event.PositionWithdraw
			}
			mk := markerKey{tk, markerKind, bigint.Abs(ev.SharesDelta).String()}
			if markers[mk] == 0 {
				ev.Kind = event.PositionSwap
				swaps++
				out = append(out, ev)
				continue
			}
			markers[mk]--
			matched++
			ev.Kind = kind
			ev.UnderlyingDelta = pool.underlying(tk, kind)
			out = append(out, ev)

		case event.PositionDeposit, event.PositionWithdraw:
			ev.UnderlyingDelta = pool.underlying(tk, ev.Kind)
			out = append(out, ev)

		case event.PositionTransfer, event.PositionSwap:
			out = append(out, ev)
		}
	}
	if matched > 0 || swaps > 0 {
		t.log.Debug("pending transfers reconciled", "chain_id", chainID, "matched", matched, "swaps", swaps)
	}
	return out, nil
}

func (t *AMMTracker) Revalue(ctx context.Context, blocks map[uint64]uint64) error {
	rows, err := t.positions.IntegrationBalancesByProtocol(t.Name())
	if err != nil {
		return fmt.Errorf("failed to load %s positions: %w", t.Name(), err)
	}

	type share struct {
		reserve, supply *big.Int
	}
	pairs := make(map[common.Address]*share)
	for chainID, addrs := range t.cfg.Contracts {
		block, ok := blocks[chainID]
		if !ok {
			continue
		}
		c, err := t.chain(chainID)
		if err != nil {
			return err
		}
		for _, pair := range addrs {
			r0, r1, supply, err := contracts.PairReserves(ctx, c.Caller, pair, new(big.Int).SetUint64(block))
			if err != nil || supply.Sign() == 0 {
				t.log.Error("failed to read pair reserves", "pair", pair, "chain_id", chainID, "err", err)
				pairs[pair] = nil
				continue
			}
			reserve := r0
			if t.tokenIndex == 1 {
				reserve = r1
			}
			pairs[pair] = &share{reserve: reserve, supply: supply}
		}
	}

	var priced []balance.IntegrationBalance
	for _, row := range rows {
		if _, ok := pairs[row.Contract]; ok {
			priced = append(priced, row)
		}
	}
	return t.revalue(priced, func(row balance.IntegrationBalance) (*big.Int, bool) {
		s := pairs[row.Contract]
		if s == nil {
			return nil, false
		}
		return bigint.MulDiv(row.Shares, s.reserve, s.supply), true
	})
}
