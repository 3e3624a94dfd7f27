package database

import (
	"fmt"
	"time"

	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/progress"
	"github.com/wjorgensen/StreamDroplets/database/snapshot"
	"github.com/wjorgensen/StreamDroplets/database/utils"
)

// RollbackPlan restores every balance a partial day touched to its value at
// the close of the previous day.
type RollbackPlan struct {
	Date                time.Time
	ShareRestores       []balance.ShareBalance
	ShareDeletes        []balance.Key
	IntegrationRestores []balance.IntegrationBalance
	IntegrationDeletes  []balance.IntegrationKey
}

// DayClose is everything written when a day finalizes.
type DayClose struct {
	Date    time.Time
	Daily   []snapshot.DailySnapshot
	Users   []snapshot.UserDailySnapshot
	Cursors []progress.ProgressCursor
}

// RollbackDate applies plan and removes every raw and derived record of the
// date in one transaction.
func (db *DB) RollbackDate(plan RollbackPlan) error {
	return db.Transaction(func(tx *DB) error {
		if err := tx.ShareBalances.CommitShareBalances(plan.ShareRestores, plan.ShareDeletes); err != nil {
			return fmt.Errorf("failed to restore share balances: %w", err)
		}
		if err := tx.IntegrationBalances.CommitIntegrationBalances(plan.IntegrationRestores, plan.IntegrationDeletes); err != nil {
			return fmt.Errorf("failed to restore integration balances: %w", err)
		}
		if err := tx.ChainEvents.DeleteChainEventsForDate(plan.Date); err != nil {
			return fmt.Errorf("failed to delete chain events: %w", err)
		}
		if err := tx.IntegrationEvents.DeleteIntegrationEventsForDate(plan.Date); err != nil {
			return fmt.Errorf("failed to delete integration events: %w", err)
		}
		if err := tx.Snapshots.DeleteSnapshotsForDate(plan.Date); err != nil {
			return fmt.Errorf("failed to delete snapshots: %w", err)
		}
		return nil
	})
}

// FinalizeDay writes the day's snapshots and advances every cursor together.
func (db *DB) FinalizeDay(day DayClose) error {
	return db.Transaction(func(tx *DB) error {
		if err := tx.Snapshots.StoreSnapshots(day.Daily, day.Users); err != nil {
			return fmt.Errorf("failed to store snapshots: %w", err)
		}
		for _, cursor := range day.Cursors {
			if err := tx.Cursors.AdvanceCursor(cursor); err != nil {
				return fmt.Errorf("failed to advance cursor for chain %d: %w", cursor.ChainID, err)
			}
		}
		return nil
	})
}

const partialDatesQuery = `
SELECT dates.d FROM (
	SELECT DISTINCT event_date AS d FROM chain_events
	UNION
	SELECT DISTINCT event_date AS d FROM integration_events
) dates
WHERE NOT EXISTS (SELECT 1 FROM daily_snapshots s WHERE s.date = dates.d)
ORDER BY dates.d ASC`

// PartialDates lists dates with recorded events but no finalized snapshot.
func (db *DB) PartialDates() ([]time.Time, error) {
	var dates []time.Time
	if err := db.gorm.Raw(partialDatesQuery).Scan(&dates).Error; err != nil {
		return nil, err
	}
	for i := range dates {
		dates[i] = utils.Day(dates[i])
	}
	return dates, nil
}
