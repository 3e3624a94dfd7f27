package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/database/snapshot"
	"github.com/wjorgensen/StreamDroplets/metrics"
	"github.com/wjorgensen/StreamDroplets/pricing"
)

type Pricer interface {
	Converter
	Scale(asset string) (uint8, error)
	Quote(ctx context.Context, asset string, block uint64, minRound uint64) (pricing.Quote, error)
}

// Ledger owns share_balances.
type Ledger struct {
	log      log.Logger
	events   event.ChainEventView
	balances balance.ShareBalanceDB
	pricer   Pricer
	assets   []string
	metrics  metrics.Metricer
}

func NewLedger(log log.Logger, events event.ChainEventView, balances balance.ShareBalanceDB, pricer Pricer, assets []string, m metrics.Metricer) *Ledger {
	return &Ledger{
		log:      log.New("module", "ledger"),
		events:   events,
		balances: balances,
		pricer:   pricer,
		assets:   assets,
		metrics:  m,
	}
}

type DayResult struct {
	Date    time.Time
	Events  int
	Upserts int
	Deletes int
	// MaxRounds is the highest round referenced per asset, the floor for a
	// cached price to stay valid.
	MaxRounds map[string]uint64
}

// ProcessDay folds every ledger event of date into share_balances. Nothing
// is written when any balance would go negative.
func (l *Ledger) ProcessDay(ctx context.Context, date time.Time) (DayResult, error) {
	events, err := l.events.ChainEventsForDate(date, event.LedgerTags...)
	if err != nil {
		return DayResult{}, fmt.Errorf("failed to load chain events: %w", err)
	}
	result := DayResult{Date: date, Events: len(events), MaxRounds: MaxRounds(events)}

	committed, err := l.balances.ShareBalancesByKeys(TouchedKeys(events))
	if err != nil {
		return result, fmt.Errorf("failed to load share balances: %w", err)
	}

	ws := NewWorkingSet(committed)
	if err := Fold(ctx, ws, events, l.pricer); err != nil {
		return result, err
	}
	if err := ws.Validate(); err != nil {
		l.log.Error("day rejected", "date", date.Format("2006-01-02"), "err", err)
		return result, err
	}

	upserts, deletes := ws.Changes(time.Now())
	if err := l.balances.CommitShareBalances(upserts, deletes); err != nil {
		return result, fmt.Errorf("failed to commit share balances: %w", err)
	}
	result.Upserts, result.Deletes = len(upserts), len(deletes)
	l.log.Info("ledger day committed", "date", date.Format("2006-01-02"), "events", result.Events, "upserts", result.Upserts, "deletes", result.Deletes)
	return result, nil
}

// RevalueReport holds the per-asset outcome of a revaluation.
type RevalueReport struct {
	Valuations map[string]snapshot.Valuation
	Failed     map[string]error
}

// Revalue prices every share balance at block. An asset with no usable
// price keeps its previous underlying values and is marked stale; the
// other assets are unaffected.
func (l *Ledger) Revalue(ctx context.Context, block uint64, minRounds map[string]uint64) RevalueReport {
	report := RevalueReport{
		Valuations: make(map[string]snapshot.Valuation, len(l.assets)),
		Failed:     make(map[string]error),
	}
	for _, asset := range l.assets {
		valuation, err := l.revalueAsset(ctx, asset, block, minRounds[asset])
		if err != nil {
			l.log.Error("asset revaluation failed, marking stale", "asset", asset, "block", block, "err", err)
			report.Failed[asset] = err
			if merr := l.balances.MarkShareValuationsStale(asset); merr != nil {
				l.log.Error("failed to mark valuations stale", "asset", asset, "err", merr)
			}
			valuation = snapshot.Valuation{Stale: true}
		}
		l.metrics.RecordStaleAsset(asset, valuation.Stale)
		report.Valuations[asset] = valuation
	}
	return report
}

func (l *Ledger) revalueAsset(ctx context.Context, asset string, block uint64, minRound uint64) (snapshot.Valuation, error) {
	scale, err := l.pricer.Scale(asset)
	if err != nil {
		return snapshot.Valuation{}, err
	}
	quote, err := l.pricer.Quote(ctx, asset, block, minRound)
	if err != nil {
		return snapshot.Valuation{}, err
	}
	rows, err := l.balances.ShareBalancesByAsset(asset)
	if err != nil {
		return snapshot.Valuation{}, fmt.Errorf("failed to load %s balances: %w", asset, err)
	}
	for i := range rows {
		rows[i].Underlying = pricing.UnderlyingForShares(rows[i].Shares, quote.PricePerShare, scale)
		rows[i].ValuationRound = quote.Round
		rows[i].ValuationStale = false
	}
	if err := l.balances.UpdateShareValuations(rows); err != nil {
		return snapshot.Valuation{}, fmt.Errorf("failed to update %s valuations: %w", asset, err)
	}
	return snapshot.Valuation{PricePerShare: new(big.Int).Set(quote.PricePerShare), Round: quote.Round}, nil
}
