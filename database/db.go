// Database module defines the DB struct which wraps the per-table interfaces for events, balances, progress and snapshots.
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/config"
	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/database/progress"
	"github.com/wjorgensen/StreamDroplets/database/reference"
	"github.com/wjorgensen/StreamDroplets/database/snapshot"
	"github.com/wjorgensen/StreamDroplets/database/utils"
	_ "github.com/wjorgensen/StreamDroplets/database/utils/serializers"
	"github.com/wjorgensen/StreamDroplets/synchronizer/retry"
)

type DB struct {
	gorm *gorm.DB

	ChainEvents         event.ChainEventDB
	IntegrationEvents   event.IntegrationEventDB
	ShareBalances       balance.ShareBalanceDB
	IntegrationBalances balance.IntegrationBalanceDB
	Cursors             progress.ProgressCursorDB
	Snapshots           snapshot.SnapshotDB
	PriceCaches         reference.PriceCacheDB
	Deposits            reference.DepositReferenceDB
}

func NewDB(ctx context.Context, log log.Logger, dbConfig config.DBConfig) (*DB, error) {
	log = log.New("module", "db")

	dsn := fmt.Sprintf("host=%s dbname=%s sslmode=disable", dbConfig.Host, dbConfig.Name)
	if dbConfig.Port != 0 {
		dsn += fmt.Sprintf(" port=%d", dbConfig.Port)
	}
	if dbConfig.User != "" {
		dsn += fmt.Sprintf(" user=%s", dbConfig.User)
	}
	if dbConfig.Password != "" {
		dsn += fmt.Sprintf(" password=%s", dbConfig.Password)
	}

	gormConfig := gorm.Config{
		Logger:                 utils.NewLogger(log),
		SkipDefaultTransaction: true,
		CreateBatchSize:        3_000,
	}

	retryStrategy := &retry.ExponentialStrategy{Min: 1000, Max: 20_000, MaxJitter: 250}
	gorm, err := retry.Do[*gorm.DB](ctx, 10, retryStrategy, func() (*gorm.DB, error) {
		gorm, err := gorm.Open(postgres.Open(dsn), &gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return gorm, nil
	})
	if err != nil {
		return nil, err
	}
	return newDB(gorm), nil
}

func newDB(gorm *gorm.DB) *DB {
	return &DB{
		gorm:                gorm,
		ChainEvents:         event.NewChainEventDB(gorm),
		IntegrationEvents:   event.NewIntegrationEventDB(gorm),
		ShareBalances:       balance.NewShareBalanceDB(gorm),
		IntegrationBalances: balance.NewIntegrationBalanceDB(gorm),
		Cursors:             progress.NewProgressCursorDB(gorm),
		Snapshots:           snapshot.NewSnapshotDB(gorm),
		PriceCaches:         reference.NewPriceCacheDB(gorm),
		Deposits:            reference.NewDepositReferenceDB(gorm),
	}
}

// Transaction executes all operations conducted with the supplied database in a single
// transaction. If the supplied function errors, the transaction is rolled back.
func (db *DB) Transaction(fn func(db *DB) error) error {
	return db.gorm.Transaction(func(tx *gorm.DB) error {
		return fn(newDB(tx))
	})
}

func (db *DB) Close() error {
	sql, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sql.Close()
}

// ExecuteSQLMigration runs every file under migrationsFolder in lexical order.
func (db *DB) ExecuteSQLMigration(migrationsFolder string) error {
	var files []string
	err := filepath.Walk(migrationsFolder, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Failed to process migration file: %s", path))
		}
		if info.IsDir() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, path := range files {
		fileContent, readErr := os.ReadFile(path)
		if readErr != nil {
			return errors.Wrap(readErr, fmt.Sprintf("Error reading SQL file: %s", path))
		}
		execErr := db.gorm.Exec(string(fileContent)).Error
		if execErr != nil {
			return errors.Wrap(execErr, fmt.Sprintf("Error executing SQL script: %s", path))
		}
	}
	return nil
}
