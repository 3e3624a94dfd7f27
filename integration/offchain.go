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
	"github.com/wjorgensen/StreamDroplets/database/reference"
	"github.com/wjorgensen/StreamDroplets/event/contracts"
	"github.com/wjorgensen/StreamDroplets/pricing"
	"github.com/wjorgensen/StreamDroplets/synchronizer"
)

// ErrUnmatchedWithdrawal is returned when vault shares leave a deposit
// address without a reference record explaining where they went.
var ErrUnmatchedWithdrawal = errors.New("unmatched withdrawal from deposit address")

var vaultTransfer = contracts.EventID(contracts.StreamVaultABI, "Transfer")

type Pricer interface {
	Scale(asset string) (uint8, error)
	Quote(ctx context.Context, asset string, block uint64, minRound uint64) (pricing.Quote, error)
}

type OffchainConfig struct {
	Config
	CanonicalChainID uint64
}

// OffchainTracker follows protocols that hold vault shares in per-user
// deposit addresses known only from an external API. Contracts lists the
// vault share contracts whose transfers are watched; positions are keyed by
// the deposit address.
type OffchainTracker struct {
	base
	refs      reference.DepositReferenceView
	pricer    Pricer
	canonical uint64

	mu        sync.RWMutex
	byAddress map[common.Address][]reference.DepositReference
}

func NewOffchainTracker(log log.Logger, cfg OffchainConfig, chains map[uint64]Chain, events event.IntegrationEventDB, positions balance.IntegrationBalanceDB, refs reference.DepositReferenceView, pricer Pricer) *OffchainTracker {
	return &OffchainTracker{
		base:      newBase(log, cfg.Config, chains, events, positions),
		refs:      refs,
		pricer:    pricer,
		canonical: cfg.CanonicalChainID,
		byAddress: make(map[common.Address][]reference.DepositReference),
	}
}

// Refresh reloads the deposit references the decoder matches against.
func (t *OffchainTracker) Refresh() error {
	refs, err := t.refs.DepositsForProtocol(t.Name())
	if err != nil {
		return fmt.Errorf("failed to load %s deposit references: %w", t.Name(), err)
	}
	byAddress := make(map[common.Address][]reference.DepositReference, len(refs))
	for _, ref := range refs {
		byAddress[ref.DepositAddress] = append(byAddress[ref.DepositAddress], ref)
	}
	t.mu.Lock()
	t.byAddress = byAddress
	t.mu.Unlock()
	return nil
}

func (t *OffchainTracker) references(addr common.Address) []reference.DepositReference {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byAddress[addr]
}

func (t *OffchainTracker) Fetch(ctx context.Context, chainID uint64, r synchronizer.Range) ([]types.Log, error) {
	if err := t.Refresh(); err != nil {
		return nil, err
	}
	return t.fetch(ctx, chainID, t.Contracts(chainID), [][]common.Hash{{vaultTransfer}}, r)
}

func (t *OffchainTracker) Decode(chainID uint64, date time.Time, lg types.Log) ([]event.IntegrationEvent, error) {
	if len(lg.Topics) == 0 || lg.Topics[0] != vaultTransfer {
		return nil, nil
	}
	var tr contracts.ERC20Transfer
	if err := contracts.UnpackLog(&tr, &lg, "Transfer", contracts.StreamVaultABI); err != nil {
		return nil, fmt.Errorf("failed to decode Transfer %s:%d: %w", lg.TxHash, lg.Index, err)
	}

	fromRefs, toRefs := t.references(tr.From), t.references(tr.To)
	switch {
	case len(toRefs) > 0 && len(fromRefs) == 0:
		ev := t.newEvent(chainID, date, lg, event.PositionDeposit)
		ev.Contract = tr.To
		ev.Account = toRefs[0].Owner
		ev.Counterparty = tr.From
		ev.SharesDelta = bigint.Clone(tr.Value)
		ev.UnderlyingDelta = new(big.Int)
		return []event.IntegrationEvent{ev}, nil

	case len(fromRefs) > 0:
		for _, ref := range fromRefs {
			if ref.Owner == tr.To && bigint.Equal(ref.Amount, tr.Value) {
				ev := t.newEvent(chainID, date, lg, event.PositionWithdraw)
				ev.Contract = tr.From
				ev.Account = ref.Owner
				ev.Counterparty = tr.From
				ev.SharesDelta = new(big.Int).Neg(tr.Value)
				ev.UnderlyingDelta = new(big.Int)
				return []event.IntegrationEvent{ev}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s sent %s to %s in %s", ErrUnmatchedWithdrawal, tr.From, tr.Value, tr.To, lg.TxHash)
	}
	return nil, nil
}

func (t *OffchainTracker) Revalue(ctx context.Context, blocks map[uint64]uint64) error {
	block, ok := blocks[t.canonical]
	if !ok {
		return nil
	}
	rows, err := t.positions.IntegrationBalancesByProtocol(t.Name())
	if err != nil {
		return fmt.Errorf("failed to load %s positions: %w", t.Name(), err)
	}
	if len(rows) == 0 {
		return nil
	}

	scale, err := t.pricer.Scale(t.cfg.Asset)
	if err != nil {
		return err
	}
	quote, qerr := t.pricer.Quote(ctx, t.cfg.Asset, block, 0)
	if qerr != nil {
		t.log.Error("no price for offchain positions, marking stale", "asset", t.cfg.Asset, "err", qerr)
	}
	return t.revalue(rows, func(row balance.IntegrationBalance) (*big.Int, bool) {
		if qerr != nil {
			return nil, false
		}
		return pricing.UnderlyingForShares(row.Shares, quote.PricePerShare, scale), true
	})
}
