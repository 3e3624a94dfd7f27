package database

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wjorgensen/StreamDroplets/database/balance"
	"github.com/wjorgensen/StreamDroplets/database/event"
	"github.com/wjorgensen/StreamDroplets/database/reference"
	"github.com/wjorgensen/StreamDroplets/database/utils"
)

const postgresMaxBinds = 65535

// dryRunGorm opens a postgres session that renders statements without a
// server and records the bind count of every create and query statement.
func dryRunGorm(t *testing.T) (*gorm.DB, *[]int) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=127.0.0.1 port=5432 user=droplets dbname=droplets sslmode=disable",
	}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)

	var binds []int
	record := func(tx *gorm.DB) {
		binds = append(binds, len(tx.Statement.Vars))
	}
	require.NoError(t, gormDB.Callback().Create().After("gorm:create").Register("droplets:binds", record))
	require.NoError(t, gormDB.Callback().Query().After("gorm:query").Register("droplets:binds", record))
	return gormDB, &binds
}

func requireUnderBindLimit(t *testing.T, binds []int, statements int) {
	require.Len(t, binds, statements)
	for _, n := range binds {
		require.Greater(t, n, 0)
		require.LessOrEqual(t, n, postgresMaxBinds)
	}
}

func TestStoreChainEvents_BusyDaySplitsStatements(t *testing.T) {
	gormDB, binds := dryRunGorm(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	events := make([]event.ChainEvent, 5_000)
	for i := range events {
		events[i] = event.ChainEvent{
			GUID:        uuid.New(),
			ChainID:     1,
			TxHash:      common.BigToHash(big.NewInt(int64(i + 1))),
			LogIndex:    uint(i),
			BlockNumber: uint64(100 + i),
			EventDate:   day,
			Asset:       "xETH",
			Kind:        event.KindTransfer,
			Sender:      common.BigToAddress(big.NewInt(int64(i + 1))),
			Receiver:    common.BigToAddress(big.NewInt(int64(i + 2))),
			Amount:      big.NewInt(1),
		}
	}
	require.NoError(t, event.NewChainEventDB(gormDB).StoreChainEvents(events))
	requireUnderBindLimit(t, *binds, 2)
}

func TestStoreIntegrationEvents_BusyDaySplitsStatements(t *testing.T) {
	gormDB, binds := dryRunGorm(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	events := make([]event.IntegrationEvent, 7_000)
	for i := range events {
		events[i] = event.IntegrationEvent{
			GUID:            uuid.New(),
			Protocol:        "morpho",
			ChainID:         8453,
			TxHash:          common.BigToHash(big.NewInt(int64(i + 1))),
			LogIndex:        uint(i),
			BlockNumber:     uint64(i),
			EventDate:       day,
			Asset:           "xETH",
			Kind:            event.PositionDeposit,
			SharesDelta:     big.NewInt(1),
			UnderlyingDelta: big.NewInt(1),
		}
	}
	require.NoError(t, event.NewIntegrationEventDB(gormDB).StoreIntegrationEvents(events))
	requireUnderBindLimit(t, *binds, 3)
}

func TestStoreDeposits_FullResyncSplitsStatements(t *testing.T) {
	gormDB, binds := dryRunGorm(t)

	refs := make([]reference.DepositReference, 6_001)
	for i := range refs {
		refs[i] = reference.DepositReference{
			DepositID: uuid.NewString(),
			Protocol:  "royco",
			Market:    "0xabc",
			ChainID:   1,
			Asset:     "xETH",
			Amount:    big.NewInt(1),
		}
	}
	require.NoError(t, reference.NewDepositReferenceDB(gormDB).StoreDeposits(refs))
	requireUnderBindLimit(t, *binds, 3)
}

func TestShareBalancesByKeys_ChunksLookup(t *testing.T) {
	gormDB, binds := dryRunGorm(t)

	keys := make([]balance.Key, 40_000)
	for i := range keys {
		keys[i] = balance.Key{Address: common.BigToAddress(big.NewInt(int64(i + 1))), Asset: "xETH"}
	}
	_, err := balance.NewShareBalanceDB(gormDB).ShareBalancesByKeys(keys)
	require.NoError(t, err)
	requireUnderBindLimit(t, *binds, len(keys)/utils.KeyLookupSize)
}

func TestIntegrationBalancesByKeys_ChunksLookup(t *testing.T) {
	gormDB, binds := dryRunGorm(t)

	keys := make([]balance.IntegrationKey, 20_001)
	for i := range keys {
		keys[i] = balance.IntegrationKey{
			Address:  common.BigToAddress(big.NewInt(int64(i + 1))),
			Protocol: "morpho",
			Contract: common.HexToAddress("0x21"),
			Asset:    "xETH",
		}
	}
	_, err := balance.NewIntegrationBalanceDB(gormDB).IntegrationBalancesByKeys(keys)
	require.NoError(t, err)
	requireUnderBindLimit(t, *binds, 5)
}

func TestChunks(t *testing.T) {
	require.Empty(t, utils.Chunks([]int{}, 3))
	require.Equal(t, [][]int{{1, 2, 3}, {4, 5}}, utils.Chunks([]int{1, 2, 3, 4, 5}, 3))
	require.Equal(t, [][]int{{1, 2}}, utils.Chunks([]int{1, 2}, 0))
}
