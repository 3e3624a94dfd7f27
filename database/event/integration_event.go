package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wjorgensen/StreamDroplets/database/utils"
)

type PositionKind string

const (
	PositionDeposit  PositionKind = "deposit"
	PositionWithdraw PositionKind = "withdraw"
	PositionTransfer PositionKind = "transfer"
	PositionSwap     PositionKind = "swap"

	// Intermediate kinds produced by decoders and resolved by a
	// reconcile pass. They are never persisted.
	PositionPending    PositionKind = "pending"
	PositionMintMarker PositionKind = "mint-marker"
	PositionBurnMarker PositionKind = "burn-marker"
	PositionPoolMint   PositionKind = "pool-mint"
	PositionPoolBurn   PositionKind = "pool-burn"
)

// Persisted reports whether events of this kind belong in integration_events.
func (k PositionKind) Persisted() bool {
	switch k {
	case PositionDeposit, PositionWithdraw, PositionTransfer, PositionSwap:
		return true
	}
	return false
}

// IntegrationEvent is a position change inside an external protocol.
//
// For deposit and withdraw, SharesDelta applies to Account. For transfer,
// SharesDelta is the positive amount moved from Account to Counterparty.
type IntegrationEvent struct {
	GUID            uuid.UUID      `gorm:"primaryKey"`
	Protocol        string         `gorm:"column:protocol"`
	ChainID         uint64         `gorm:"column:chain_id"`
	Contract        common.Address `gorm:"column:contract;serializer:bytes"`
	TxHash          common.Hash    `gorm:"column:tx_hash;serializer:bytes"`
	LogIndex        uint           `gorm:"column:log_index"`
	BlockNumber     uint64         `gorm:"column:block_number"`
	EventDate       time.Time      `gorm:"column:event_date;type:date"`
	Asset           string         `gorm:"column:asset"`
	Kind            PositionKind   `gorm:"column:kind"`
	Account         common.Address `gorm:"column:account;serializer:bytes"`
	Counterparty    common.Address `gorm:"column:counterparty;serializer:bytes"`
	SharesDelta     *big.Int       `gorm:"column:shares_delta;serializer:int256"`
	UnderlyingDelta *big.Int       `gorm:"column:underlying_delta;serializer:int256"`
}

func (IntegrationEvent) TableName() string {
	return "integration_events"
}

func (e IntegrationEvent) Key() Key {
	return Key{ChainID: e.ChainID, TxHash: e.TxHash, LogIndex: e.LogIndex}
}

type IntegrationEventView interface {
	IntegrationEventsForDate(date time.Time, protocol string) ([]IntegrationEvent, error)
}

type IntegrationEventDB interface {
	IntegrationEventView
	StoreIntegrationEvents([]IntegrationEvent) error
	DeleteIntegrationEventsForDate(date time.Time) error
}

type integrationEventDB struct {
	gorm *gorm.DB
}

func NewIntegrationEventDB(db *gorm.DB) IntegrationEventDB {
	return &integrationEventDB{gorm: db}
}

func (db integrationEventDB) StoreIntegrationEvents(events []IntegrationEvent) error {
	if len(events) == 0 {
		return nil
	}
	result := db.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "protocol"}, {Name: "chain_id"}, {Name: "tx_hash"}, {Name: "log_index"}},
		DoNothing: true,
	}).CreateInBatches(&events, utils.BatchInsertSize)
	return result.Error
}

// IntegrationEventsForDate returns every event of one protocol on date, in
// chain order. Pass an empty protocol for all protocols.
func (db integrationEventDB) IntegrationEventsForDate(date time.Time, protocol string) ([]IntegrationEvent, error) {
	query := db.gorm.Where("event_date = ?", utils.DateParam(date))
	if protocol != "" {
		query = query.Where("protocol = ?", protocol)
	}
	var events []IntegrationEvent
	result := query.Order("chain_id ASC, block_number ASC, tx_hash ASC, log_index ASC").Find(&events)
	if result.Error != nil {
		return nil, result.Error
	}
	return events, nil
}

func (db integrationEventDB) DeleteIntegrationEventsForDate(date time.Time) error {
	return db.gorm.Where("event_date = ?", utils.DateParam(date)).Delete(&IntegrationEvent{}).Error
}
