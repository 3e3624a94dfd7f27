package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wjorgensen/StreamDroplets/database"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/database/progress"
	"github.com/wjorgensen/StreamDroplets/database/snapshot"
	"github.com/wjorgensen/StreamDroplets/database/utils"
	"github.com/wjorgensen/StreamDroplets/integration"
	"github.com/wjorgensen/StreamDroplets/synchronizer"
	"github.com/wjorgensen/StreamDroplets/synchronizer/blocktime"
)

func dayOf(t time.Time) time.Time {
	return utils.Day(t)
}

// dayEnd is the last second of date in UTC.
func dayEnd(date time.Time) time.Time {
	return utils.Day(date).Add(24*time.Hour - time.Second)
}

// chainDay is one chain's slice of a day.
type chainDay struct {
	chain  Chain
	cursor *progress.ProgressCursor
	r      synchronizer.Range
}

// closing is the last block the chain's balances are known at once the
// range is applied.
func (c chainDay) closing() uint64 {
	if !c.r.Empty() {
		return c.r.To
	}
	if c.cursor != nil {
		return c.cursor.LastProcessedBlock
	}
	if c.chain.StartBlock > 0 {
		return c.chain.StartBlock - 1
	}
	return 0
}

func emptyRange(from uint64) synchronizer.Range {
	return synchronizer.Range{From: from + 1, To: from}
}

// BlockRange returns [cursor+1, blockAtOrBefore(end of date)] for chain.
// The range is empty when no block was produced after the cursor.
func (o *Orchestrator) BlockRange(ctx context.Context, chain Chain, cursor *progress.ProgressCursor, date time.Time) (synchronizer.Range, error) {
	from := chain.StartBlock
	var hint *blocktime.Hint
	if cursor != nil {
		from = cursor.LastProcessedBlock + 1
		hint = &blocktime.Hint{Block: cursor.LastProcessedBlock, Time: uint64(dayEnd(cursor.LastProcessedDate).Unix())}
	}
	to, err := chain.Blocks.BlockAtOrBefore(ctx, dayEnd(date), hint)
	switch {
	case errors.Is(err, blocktime.ErrBeforeGenesis):
		return emptyRange(from), nil
	case err != nil:
		return synchronizer.Range{}, fmt.Errorf("failed to find closing block on %s: %w", chain.Name, err)
	}
	if to < from {
		return emptyRange(from), nil
	}
	return synchronizer.Range{From: from, To: to}, nil
}

// ProcessDay runs the whole pipeline for date. Every write before
// FinalizeDay is either idempotent or undone by recovery, so a failure at any
// step leaves date as a partial day. Reference data is synced by the caller;
// see SyncReferences.
func (o *Orchestrator) ProcessDay(ctx context.Context, date time.Time) (err error) {
	o.dayMu.Lock()
	defer o.dayMu.Unlock()

	date = dayOf(date)
	done := o.metrics.RecordDay(date)
	defer func() { done(err) }()
	log := o.log.New("date", date.Format("2006-01-02"))
	log.Info("processing day")

	days := make([]chainDay, 0, len(o.chains))
	for _, chain := range o.chains {
		cursor, err := o.store.Cursors.Cursor(chain.ChainID)
		if err != nil {
			return fmt.Errorf("failed to read cursor for %s: %w", chain.Name, err)
		}
		r, err := o.BlockRange(ctx, chain, cursor, date)
		if err != nil {
			return err
		}
		days = append(days, chainDay{chain: chain, cursor: cursor, r: r})
	}

	for _, d := range days {
		if err := o.ingest(ctx, d, date); err != nil {
			return err
		}
	}

	result, err := o.ledger.ProcessDay(ctx, date)
	if err != nil {
		return fmt.Errorf("ledger failed: %w", err)
	}
	for _, tracker := range o.trackers {
		if err := tracker.FoldBalances(ctx, date); err != nil {
			return fmt.Errorf("%s fold failed: %w", tracker.Name(), err)
		}
	}

	closing := make(map[uint64]uint64, len(days))
	for _, d := range days {
		closing[d.chain.ChainID] = d.closing()
	}
	report := o.ledger.Revalue(ctx, closing[o.cfg.CanonicalChainID], result.MaxRounds)
	for asset, err := range report.Failed {
		log.Warn("asset valuation stale", "asset", asset, "err", err)
	}
	for _, tracker := range o.trackers {
		if err := tracker.Revalue(ctx, closing); err != nil {
			return fmt.Errorf("%s revalue failed: %w", tracker.Name(), err)
		}
	}

	shares, err := o.store.ShareBalances.AllShareBalances()
	if err != nil {
		return fmt.Errorf("failed to load share balances: %w", err)
	}
	positions, err := o.store.IntegrationBalances.AllIntegrationBalances()
	if err != nil {
		return fmt.Errorf("failed to load integration balances: %w", err)
	}
	daily, users := snapshot.Build(date, o.cfg.Assets, report.Valuations, shares, positions)

	cursors := make([]progress.ProgressCursor, 0, len(days))
	now := o.now()
	for _, d := range days {
		if d.cursor == nil && d.r.Empty() {
			// nothing scanned yet, the next range still opens at StartBlock
			continue
		}
		cursors = append(cursors, progress.ProgressCursor{
			ChainID:            d.chain.ChainID,
			LastProcessedBlock: d.closing(),
			LastProcessedDate:  date,
			UpdatedAt:          now,
		})
	}
	if err := o.store.Days.FinalizeDay(database.DayClose{Date: date, Daily: daily, Users: users, Cursors: cursors}); err != nil {
		return fmt.Errorf("failed to finalize day: %w", err)
	}
	for _, c := range cursors {
		o.metrics.RecordCursor(c.ChainID, c.LastProcessedBlock)
	}
	log.Info("day finalized", "events", result.Events, "holders", len(users), "stale_assets", len(report.Failed))
	return nil
}

// ingest fetches, decodes and records one chain's vault and integration
// events for the day's whole range.
func (o *Orchestrator) ingest(ctx context.Context, d chainDay, date time.Time) error {
	if d.r.Empty() {
		o.log.Debug("empty range", "chain", d.chain.Name, "range", d.r)
		return nil
	}
	logs, err := d.chain.Logs.FetchLogs(ctx, d.chain.Addresses, nil, d.r)
	if err != nil {
		return fmt.Errorf("failed to fetch %s logs in %s: %w", d.chain.Name, d.r, err)
	}
	if _, err := o.recorder.Record(d.chain.ChainID, date, logs); err != nil {
		return err
	}

	for _, tracker := range o.trackers {
		if len(tracker.Contracts(d.chain.ChainID)) == 0 {
			continue
		}
		if err := o.ingestTracker(ctx, tracker, d, date); err != nil {
			return fmt.Errorf("%s on %s: %w", tracker.Name(), d.chain.Name, err)
		}
	}
	return nil
}

func (o *Orchestrator) ingestTracker(ctx context.Context, tracker integration.ProtocolTracker, d chainDay, date time.Time) error {
	logs, err := tracker.Fetch(ctx, d.chain.ChainID, d.r)
	if err != nil {
		return err
	}
	var events []event.IntegrationEvent
	for _, lg := range logs {
		decoded, err := tracker.Decode(d.chain.ChainID, date, lg)
		if err != nil {
			return err
		}
		events = append(events, decoded...)
	}
	if r, ok := tracker.(integration.Reconciler); ok {
		if events, err = r.Reconcile(ctx, d.chain.ChainID, events); err != nil {
			return err
		}
	}
	return tracker.Persist(events)
}
