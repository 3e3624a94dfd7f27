package integration

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/common/bigint"
	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/event/contracts"
	"github.com/wjorgensen/StreamDroplets/synchronizer"
	"github.com/wjorgensen/StreamDroplets/synchronizer/node"
)

var (
	erc4626Deposit  = contracts.EventID(contracts.ERC4626ABI, "Deposit")
	erc4626Withdraw = contracts.EventID(contracts.ERC4626ABI, "Withdraw")
	erc4626Transfer = contracts.EventID(contracts.ERC4626ABI, "Transfer")
)

// ERC4626Tracker follows lending vaults whose deposit asset is one of our
// vault shares. Positions are held in the lending vault's own shares.
type ERC4626Tracker struct {
	base

	mu       sync.Mutex
	decimals map[common.Address]uint8
}

func NewERC4626Tracker(log log.Logger, cfg Config, chains map[uint64]Chain, events event.IntegrationEventDB, positions balance.IntegrationBalanceDB) *ERC4626Tracker {
	return &ERC4626Tracker{
		base:     newBase(log, cfg, chains, events, positions),
		decimals: make(map[common.Address]uint8),
	}
}

func (t *ERC4626Tracker) Fetch(ctx context.Context, chainID uint64, r synchronizer.Range) ([]types.Log, error) {
	topics := [][]common.Hash{{erc4626Deposit, erc4626Withdraw, erc4626Transfer}}
	return t.fetch(ctx, chainID, t.Contracts(chainID), topics, r)
}

func (t *ERC4626Tracker) Decode(chainID uint64, date time.Time, lg types.Log) ([]event.IntegrationEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, nil
	}
	switch lg.Topics[0] {
	case erc4626Deposit:
		var dep contracts.ERC4626Deposit
		if err := contracts.UnpackLog(&dep, &lg, "Deposit", contracts.ERC4626ABI); err != nil {
			return nil, fmt.Errorf("failed to decode Deposit %s:%d: %w", lg.TxHash, lg.Index, err)
		}
		ev := t.newEvent(chainID, date, lg, event.PositionDeposit)
		ev.Account = dep.Owner
		ev.Counterparty = dep.Sender
		ev.SharesDelta = bigint.Clone(dep.Shares)
		ev.UnderlyingDelta = bigint.Clone(dep.Assets)
		return []event.IntegrationEvent{ev}, nil

	case erc4626Withdraw:
		var wd contracts.ERC4626Withdraw
		if err := contracts.UnpackLog(&wd, &lg, "Withdraw", contracts.ERC4626ABI); err != nil {
			return nil, fmt.Errorf("failed to decode Withdraw %s:%d: %w", lg.TxHash, lg.Index, err)
		}
		ev := t.newEvent(chainID, date, lg, event.PositionWithdraw)
		ev.Account = wd.Owner
		ev.Counterparty = wd.Receiver
		ev.SharesDelta = new(big.Int).Neg(wd.Shares)
		ev.UnderlyingDelta = new(big.Int).Neg(wd.Assets)
		return []event.IntegrationEvent{ev}, nil

	case erc4626Transfer:
		var tr contracts.ERC20Transfer
		if err := contracts.UnpackLog(&tr, &lg, "Transfer", contracts.ERC4626ABI); err != nil {
			return nil, fmt.Errorf("failed to decode Transfer %s:%d: %w", lg.TxHash, lg.Index, err)
		}
		// mints and burns accompany Deposit and Withdraw
		if tr.From == (common.Address{}) || tr.To == (common.Address{}) || tr.From == tr.To {
			return nil, nil
		}
		ev := t.newEvent(chainID, date, lg, event.PositionTransfer)
		ev.Account = tr.From
		ev.Counterparty = tr.To
		ev.SharesDelta = bigint.Clone(tr.Value)
		ev.UnderlyingDelta = new(big.Int)
		return []event.IntegrationEvent{ev}, nil
	}
	return nil, nil
}

func (t *ERC4626Tracker) decimalsOf(ctx context.Context, caller contracts.ContractCaller, vault common.Address, block *big.Int) (uint8, error) {
	t.mu.Lock()
	d, ok := t.decimals[vault]
	t.mu.Unlock()
	if ok {
		return d, nil
	}
	d, err := contracts.CallDecimals(ctx, caller, contracts.ERC4626ABI, vault, block)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.decimals[vault] = d
	t.mu.Unlock()
	return d, nil
}

// rate returns convertToAssets(10^decimals) and the scale it is quoted in.
func (t *ERC4626Tracker) rate(ctx context.Context, chainID uint64, vault common.Address, block uint64) (*big.Int, uint8, error) {
	c, err := t.chain(chainID)
	if err != nil {
		return nil, 0, err
	}
	at := new(big.Int).SetUint64(block)
	decimals, err := t.decimalsOf(ctx, c.Caller, vault, at)
	if err != nil {
		return nil, 0, err
	}
	assets, err := contracts.CallBig(ctx, c.Caller, contracts.ERC4626ABI, vault, at, "convertToAssets", bigint.Pow10(decimals))
	if err != nil {
		return nil, 0, err
	}
	return assets, decimals, nil
}

func (t *ERC4626Tracker) Revalue(ctx context.Context, blocks map[uint64]uint64) error {
	rows, err := t.positions.IntegrationBalancesByProtocol(t.Name())
	if err != nil {
		return fmt.Errorf("failed to load %s positions: %w", t.Name(), err)
	}

	type quote struct {
		rate  *big.Int
		scale uint8
		ok    bool
	}
	quotes := make(map[common.Address]quote)
	for chainID, vaults := range t.cfg.Contracts {
		block, ok := blocks[chainID]
		if !ok {
			continue
		}
		for _, vault := range vaults {
			rate, scale, err := t.rate(ctx, chainID, vault, block)
			switch {
			case errors.Is(err, node.ErrContractNotDeployed):
				t.log.Debug("vault not deployed at block", "vault", vault, "block", block)
				quotes[vault] = quote{}
			case err != nil:
				t.log.Error("failed to read exchange rate", "vault", vault, "chain_id", chainID, "err", err)
				quotes[vault] = quote{}
			default:
				quotes[vault] = quote{rate: rate, scale: scale, ok: true}
			}
		}
	}

	var priced []balance.IntegrationBalance
	for _, row := range rows {
		if _, ok := quotes[row.Contract]; ok {
			priced = append(priced, row)
		}
	}
	return t.revalue(priced, func(row balance.IntegrationBalance) (*big.Int, bool) {
		q := quotes[row.Contract]
		if !q.ok {
			return nil, false
		}
		return bigint.MulDiv(row.Shares, q.rate, bigint.Pow10(q.scale)), true
	})
}
