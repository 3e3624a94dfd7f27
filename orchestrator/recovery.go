package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wjorgensen/StreamDroplets/common/bigint"
	"github.com/wjorgensen/StreamDroplets/database"
	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/integration"
	"github.com/wjorgensen/StreamDroplets/ledger"
)

// ErrRecoveryNegative means replaying a partial day onto its restored
// balances would drive a balance below zero. The date is left untouched.
var ErrRecoveryNegative = errors.New("recovery would produce a negative balance")

// Recover rolls back and reprocesses every date that has recorded events but
// no finalized snapshot, oldest first.
func (o *Orchestrator) Recover(ctx context.Context) error {
	dates, err := o.store.Days.PartialDates()
	if err != nil {
		return fmt.Errorf("failed to detect partial days: %w", err)
	}
	if len(dates) == 0 {
		o.log.Info("no partial days found")
		return nil
	}
	if err := o.SyncReferences(ctx); err != nil {
		return err
	}
	for _, date := range dates {
		o.log.Warn("recovering partial day", "date", date.Format("2006-01-02"))
		if err := o.RollbackDay(ctx, date); err != nil {
			return err
		}
		o.metrics.RecordRecovery(date)
		if err := o.ProcessDay(ctx, date); err != nil {
			return fmt.Errorf("failed to reprocess %s: %w", date.Format("2006-01-02"), err)
		}
	}
	return nil
}

// RollbackDay restores date's touched balances to the previous day's
// snapshot and deletes every record of date.
func (o *Orchestrator) RollbackDay(ctx context.Context, date time.Time) error {
	o.dayMu.Lock()
	defer o.dayMu.Unlock()

	plan, err := o.PlanRecovery(ctx, date)
	if err != nil {
		return err
	}
	if err := o.store.Days.RollbackDate(plan); err != nil {
		return fmt.Errorf("failed to roll back %s: %w", date.Format("2006-01-02"), err)
	}
	o.log.Info("partial day rolled back", "date", date.Format("2006-01-02"),
		"share_restores", len(plan.ShareRestores), "share_deletes", len(plan.ShareDeletes),
		"position_restores", len(plan.IntegrationRestores), "position_deletes", len(plan.IntegrationDeletes))
	return nil
}

type userKey struct {
	address  common.Address
	asset    string
	protocol string
	contract common.Address
}

// PlanRecovery computes the rollback for date and checks that replaying the
// date's raw events onto the restored balances cannot go negative.
func (o *Orchestrator) PlanRecovery(ctx context.Context, date time.Time) (database.RollbackPlan, error) {
	date = dayOf(date)
	plan := database.RollbackPlan{Date: date}

	prev, err := o.store.Snapshots.UserSnapshots(date.AddDate(0, 0, -1))
	if err != nil {
		return plan, fmt.Errorf("failed to load previous snapshot: %w", err)
	}
	restore := make(map[userKey]int, len(prev))
	for i, row := range prev {
		restore[userKey{row.Address, row.Asset, row.Protocol, row.Contract}] = i
	}

	chainEvents, err := o.store.ChainEvents.ChainEventsForDate(date, event.LedgerTags...)
	if err != nil {
		return plan, fmt.Errorf("failed to load chain events: %w", err)
	}
	for _, key := range ledger.TouchedKeys(chainEvents) {
		i, ok := restore[userKey{key.Address, key.Asset, "", common.Address{}}]
		if !ok {
			plan.ShareDeletes = append(plan.ShareDeletes, key)
			continue
		}
		plan.ShareRestores = append(plan.ShareRestores, balance.ShareBalance{
			Address:    key.Address,
			Asset:      key.Asset,
			Shares:     bigint.Clone(prev[i].Shares),
			Underlying: bigint.Clone(prev[i].Underlying),
			UpdatedAt:  o.now(),
		})
	}

	positionEvents, err := o.store.IntegrationEvents.IntegrationEventsForDate(date, "")
	if err != nil {
		return plan, fmt.Errorf("failed to load integration events: %w", err)
	}
	for _, key := range integration.TouchedKeys(positionEvents) {
		i, ok := restore[userKey{key.Address, key.Asset, key.Protocol, key.Contract}]
		if !ok {
			plan.IntegrationDeletes = append(plan.IntegrationDeletes, key)
			continue
		}
		plan.IntegrationRestores = append(plan.IntegrationRestores, balance.IntegrationBalance{
			Address:    key.Address,
			Protocol:   key.Protocol,
			Contract:   key.Contract,
			Asset:      key.Asset,
			Shares:     bigint.Clone(prev[i].Shares),
			Underlying: bigint.Clone(prev[i].Underlying),
			UpdatedAt:  o.now(),
		})
	}

	ws := ledger.NewWorkingSet(plan.ShareRestores)
	if err := ledger.Fold(ctx, ws, chainEvents, o.converter); err != nil {
		return plan, fmt.Errorf("failed to replay chain events: %w", err)
	}
	if err := ws.Validate(); err != nil {
		return plan, fmt.Errorf("%w: %s: %v", ErrRecoveryNegative, date.Format("2006-01-02"), err)
	}
	ps := integration.NewPositionSet(plan.IntegrationRestores)
	integration.FoldEvents(ps, positionEvents)
	if err := ps.Validate(); err != nil {
		return plan, fmt.Errorf("%w: %s: %v", ErrRecoveryNegative, date.Format("2006-01-02"), err)
	}
	return plan, nil
}
