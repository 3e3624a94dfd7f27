package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/common/tasks"
	"github.com/wjorgensen/StreamDroplets/database"
	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/database/progress"
	"github.com/wjorgensen/StreamDroplets/database/snapshot"
	"github.com/wjorgensen/StreamDroplets/event/classifier"
	"github.com/wjorgensen/StreamDroplets/integration"
	"github.com/wjorgensen/StreamDroplets/ledger"
	"github.com/wjorgensen/StreamDroplets/metrics"
	"github.com/wjorgensen/StreamDroplets/synchronizer"
	"github.com/wjorgensen/StreamDroplets/synchronizer/blocktime"
)

const DefaultSchedule = "CRON_TZ=UTC 5 0 * * *"

type LogSource interface {
	FetchLogs(ctx context.Context, addresses []common.Address, topics [][]common.Hash, r synchronizer.Range) ([]types.Log, error)
}

type BlockFinder interface {
	BlockAtOrBefore(ctx context.Context, t time.Time, hint *blocktime.Hint) (uint64, error)
}

// Chain is one indexed chain. Addresses are the vault and bridge adapter
// contracts whose logs feed the classifier.
type Chain struct {
	ChainID    uint64
	Name       string
	StartBlock uint64
	Addresses  []common.Address
	Logs       LogSource
	Blocks     BlockFinder
}

type Recorder interface {
	Record(chainID uint64, date time.Time, logs []types.Log) (int, error)
}

type BookLoader interface {
	Reload() (*classifier.AddressBook, error)
}

type ReferenceSyncer interface {
	Protocol() string
	Sync(ctx context.Context) (int, error)
}

type Ledger interface {
	ProcessDay(ctx context.Context, date time.Time) (ledger.DayResult, error)
	Revalue(ctx context.Context, block uint64, minRounds map[string]uint64) ledger.RevalueReport
}

// DayStore holds the writes that span several tables.
type DayStore interface {
	RollbackDate(plan database.RollbackPlan) error
	FinalizeDay(day database.DayClose) error
	PartialDates() ([]time.Time, error)
}

// Store is every table the orchestrator reads.
type Store struct {
	ChainEvents         event.ChainEventView
	IntegrationEvents   event.IntegrationEventView
	ShareBalances       balance.ShareBalanceView
	IntegrationBalances balance.IntegrationBalanceView
	Cursors             progress.ProgressCursorView
	Snapshots           snapshot.SnapshotView
	Days                DayStore
}

type Config struct {
	StartDate        time.Time
	FinalityDelay    time.Duration
	Schedule         string
	CanonicalChainID uint64
	Assets           []string
}

type Orchestrator struct {
	log     log.Logger
	cfg     Config
	store   Store
	metrics metrics.Metricer

	chains    []Chain
	recorder  Recorder
	books     BookLoader
	syncers   []ReferenceSyncer
	ledger    Ledger
	converter ledger.Converter
	trackers  []integration.ProtocolTracker

	now func() time.Time

	// serializes day processing between backfill and cron runs
	dayMu sync.Mutex

	cron           *cron.Cron
	resourceCtx    context.Context
	resourceCancel context.CancelFunc
	tasks          tasks.Group
}

type Deps struct {
	Chains    []Chain
	Recorder  Recorder
	Books     BookLoader
	Syncers   []ReferenceSyncer
	Ledger    Ledger
	Converter ledger.Converter
	Trackers  []integration.ProtocolTracker
}

func NewOrchestrator(log log.Logger, cfg Config, store Store, deps Deps, m metrics.Metricer, shutdown context.CancelCauseFunc) (*Orchestrator, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.StartDate.IsZero() {
		return nil, errors.New("start date is required")
	}
	canonical := false
	for _, c := range deps.Chains {
		canonical = canonical || c.ChainID == cfg.CanonicalChainID
	}
	if !canonical {
		return nil, fmt.Errorf("canonical chain %d is not configured", cfg.CanonicalChainID)
	}

	resCtx, resCancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		log:            log.New("module", "orchestrator"),
		cfg:            cfg,
		store:          store,
		metrics:        m,
		chains:         deps.Chains,
		recorder:       deps.Recorder,
		books:          deps.Books,
		syncers:        deps.Syncers,
		ledger:         deps.Ledger,
		converter:      deps.Converter,
		trackers:       deps.Trackers,
		now:            time.Now,
		resourceCtx:    resCtx,
		resourceCancel: resCancel,
		tasks: tasks.Group{HandleCrit: func(err error) {
			shutdown(fmt.Errorf("critical error in orchestrator: %w", err))
		}},
	}
	o.cron = cron.New(cron.WithLogger(cronLogger{o.log}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{o.log})))
	if _, err := o.cron.AddFunc(cfg.Schedule, o.onSchedule); err != nil {
		resCancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}
	return o, nil
}

// SyncReferences runs every deposit sync and reloads the address book. A
// failure here means the reference data may be incomplete.
func (o *Orchestrator) SyncReferences(ctx context.Context) error {
	for _, s := range o.syncers {
		if _, err := s.Sync(ctx); err != nil {
			return fmt.Errorf("deposit sync for %s failed: %w", s.Protocol(), err)
		}
	}
	if o.books != nil {
		if _, err := o.books.Reload(); err != nil {
			return err
		}
	}
	return nil
}

// Start recovers partial days, backfills every completed day and then hands
// over to the daily schedule.
func (o *Orchestrator) Start() error {
	o.log.Info("starting orchestrator...", "schedule", o.cfg.Schedule)
	o.tasks.Go(func() error {
		if err := o.Recover(o.resourceCtx); err != nil {
			o.tasks.HandleCrit(err)
			return err
		}
		if err := o.CatchUp(o.resourceCtx); err != nil {
			o.tasks.HandleCrit(err)
			return err
		}
		o.cron.Start()
		return nil
	})
	return nil
}

func (o *Orchestrator) Close() error {
	o.resourceCancel()
	<-o.cron.Stop().Done()
	return o.tasks.Wait()
}

func (o *Orchestrator) onSchedule() {
	if err := o.CatchUp(o.resourceCtx); err != nil {
		o.tasks.HandleCrit(err)
	}
}

// NextDate is the first day without a finalized snapshot.
func (o *Orchestrator) NextDate() (time.Time, error) {
	latest, err := o.store.Snapshots.LatestSnapshotDate()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	if latest == nil {
		return dayOf(o.cfg.StartDate), nil
	}
	return latest.AddDate(0, 0, 1), nil
}

// Processable reports whether date ended at least FinalityDelay ago.
func (o *Orchestrator) Processable(date time.Time) bool {
	return !dayEnd(date).Add(o.cfg.FinalityDelay).After(o.now())
}

// CatchUp processes every completed day after the last snapshot, one at a
// time. References are synced once before the first day of the pass.
func (o *Orchestrator) CatchUp(ctx context.Context) error {
	synced := false
	for {
		if ctx.Err() != nil {
			return nil
		}
		date, err := o.NextDate()
		if err != nil {
			return err
		}
		if !o.Processable(date) {
			o.log.Info("caught up", "next", date.Format("2006-01-02"))
			return nil
		}
		if !synced {
			if err := o.SyncReferences(ctx); err != nil {
				return err
			}
			synced = true
		}
		err = o.ProcessDay(ctx, date)
		switch {
		case errors.Is(err, blocktime.ErrNotReached):
			o.log.Warn("chain head not past day end, waiting", "date", date.Format("2006-01-02"), "err", err)
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return err
		}
	}
}

type cronLogger struct {
	log log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
