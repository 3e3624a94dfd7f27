package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/event/contracts"
	"github.com/wjorgensen/StreamDroplets/synchronizer"
)

// DefaultTolerance is the relative change below which a revaluation is not
// written back.
var DefaultTolerance = decimal.New(1, -4)

// ProtocolTracker mirrors user positions held inside one external protocol.
type ProtocolTracker interface {
	Name() string
	Contracts(chainID uint64) []common.Address

	Fetch(ctx context.Context, chainID uint64, r synchronizer.Range) ([]types.Log, error)
	Decode(chainID uint64, date time.Time, lg types.Log) ([]event.IntegrationEvent, error)
	Persist(events []event.IntegrationEvent) error

	FoldBalances(ctx context.Context, date time.Time) error
	// Revalue prices every position at the given per-chain closing blocks.
	// Chains missing from blocks are left untouched.
	Revalue(ctx context.Context, blocks map[uint64]uint64) error
}

// Reconciler is implemented by trackers whose decoded events need a second
// pass over the whole unbatched range before they can be persisted.
type Reconciler interface {
	Reconcile(ctx context.Context, chainID uint64, events []event.IntegrationEvent) ([]event.IntegrationEvent, error)
}

type LogSource interface {
	FetchLogs(ctx context.Context, addresses []common.Address, topics [][]common.Hash, r synchronizer.Range) ([]types.Log, error)
}

// Chain is what a tracker needs from one chain.
type Chain struct {
	Logs   LogSource
	Caller contracts.ContractCaller
}

// Config is shared by every tracker kind.
type Config struct {
	Name      string
	Asset     string
	Contracts map[uint64][]common.Address
	Tolerance decimal.Decimal
}

type base struct {
	log       log.Logger
	cfg       Config
	chains    map[uint64]Chain
	events    event.IntegrationEventDB
	positions balance.IntegrationBalanceDB
}

func newBase(log log.Logger, cfg Config, chains map[uint64]Chain, events event.IntegrationEventDB, positions balance.IntegrationBalanceDB) base {
	if cfg.Tolerance.IsZero() {
		cfg.Tolerance = DefaultTolerance
	}
	return base{
		log:       log.New("module", "integration", "protocol", cfg.Name),
		cfg:       cfg,
		chains:    chains,
		events:    events,
		positions: positions,
	}
}

func (b *base) Name() string {
	return b.cfg.Name
}

func (b *base) Contracts(chainID uint64) []common.Address {
	return b.cfg.Contracts[chainID]
}

func (b *base) chain(chainID uint64) (Chain, error) {
	c, ok := b.chains[chainID]
	if !ok {
		return Chain{}, fmt.Errorf("protocol %s has no client for chain %d", b.cfg.Name, chainID)
	}
	return c, nil
}

func (b *base) fetch(ctx context.Context, chainID uint64, addresses []common.Address, topics [][]common.Hash, r synchronizer.Range) ([]types.Log, error) {
	if len(addresses) == 0 || r.Empty() {
		return nil, nil
	}
	c, err := b.chain(chainID)
	if err != nil {
		return nil, err
	}
	logs, err := c.Logs.FetchLogs(ctx, addresses, topics, r)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s logs on chain %d: %w", b.cfg.Name, chainID, err)
	}
	return logs, nil
}

// Persist stores the persisted kinds among events and drops intermediate ones.
func (b *base) Persist(events []event.IntegrationEvent) error {
	rows := make([]event.IntegrationEvent, 0, len(events))
	for _, ev := range events {
		if !ev.Kind.Persisted() {
			continue
		}
		if ev.GUID == uuid.Nil {
			ev.GUID = uuid.New()
		}
		rows = append(rows, ev)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := b.events.StoreIntegrationEvents(rows); err != nil {
		return fmt.Errorf("failed to store %s events: %w", b.cfg.Name, err)
	}
	b.log.Debug("stored integration events", "count", len(rows))
	return nil
}

// FoldBalances applies the date's persisted events to this protocol's
// positions. Nothing is written if any position would go negative.
func (b *base) FoldBalances(ctx context.Context, date time.Time) error {
	events, err := b.events.IntegrationEventsForDate(date, b.cfg.Name)
	if err != nil {
		return fmt.Errorf("failed to load %s events: %w", b.cfg.Name, err)
	}
	if len(events) == 0 {
		return nil
	}
	committed, err := b.positions.IntegrationBalancesByKeys(TouchedKeys(events))
	if err != nil {
		return fmt.Errorf("failed to load %s positions: %w", b.cfg.Name, err)
	}
	ps := NewPositionSet(committed)
	FoldEvents(ps, events)
	if err := ps.Validate(); err != nil {
		return err
	}
	upserts, deletes := ps.Changes(time.Now())
	if err := b.positions.CommitIntegrationBalances(upserts, deletes); err != nil {
		return fmt.Errorf("failed to commit %s positions: %w", b.cfg.Name, err)
	}
	b.log.Info("positions committed", "date", date.Format("2006-01-02"), "events", len(events), "upserts", len(upserts), "deletes", len(deletes))
	return nil
}

func (b *base) newEvent(chainID uint64, date time.Time, lg types.Log, kind event.PositionKind) event.IntegrationEvent {
	return event.IntegrationEvent{
		GUID:        uuid.New(),
		Protocol:    b.cfg.Name,
		ChainID:     chainID,
		Contract:    lg.Address,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
		EventDate:   date,
		Asset:       b.cfg.Asset,
		Kind:        kind,
	}
}
