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

type Kind string

const (
	KindStake          Kind = "stake"
	KindUnstake        Kind = "unstake"
	KindRedeem         Kind = "redeem"
	KindTransfer       Kind = "transfer"
	KindBridgeSent     Kind = "bridge_sent"
	KindBridgeReceived Kind = "bridge_received"
)

// Tag classifies a transfer by its counterparty. The empty tag is an
// ordinary user to user transfer.
type Tag string

const (
	TagNone             Tag = ""
	TagRouterDeposit    Tag = "router-deposit"
	TagRouterTo         Tag = "router-to"
	TagRouterFrom       Tag = "router-from"
	TagIntegrationTo    Tag = "integration-to"
	TagIntegrationFrom  Tag = "integration-from"
	TagPoolTo           Tag = "pool-to"
	TagPoolFrom         Tag = "pool-from"
	TagBridgePoolTo     Tag = "bridge-pool-to"
	TagBridgePoolFrom   Tag = "bridge-pool-from"
	TagProtocolInternal Tag = "protocol-internal"
)

// LedgerTags are the tags whose events move a user's vault share balance.
var LedgerTags = []Tag{
	TagNone,
	TagRouterTo, TagRouterFrom,
	TagIntegrationTo, TagIntegrationFrom,
	TagPoolTo, TagPoolFrom,
}

// Outgoing reports whether only the sender side of a tagged transfer is
// user-owned.
func (t Tag) Outgoing() bool {
	return t == TagRouterTo || t == TagIntegrationTo || t == TagPoolTo || t == TagBridgePoolTo
}

// Incoming reports whether only the receiver side of a tagged transfer is
// user-owned.
func (t Tag) Incoming() bool {
	return t == TagRouterFrom || t == TagIntegrationFrom || t == TagPoolFrom || t == TagBridgePoolFrom
}

type Key struct {
	ChainID  uint64
	TxHash   common.Hash
	LogIndex uint
}

// ChainEvent is one decoded vault or bridge log. Amount is a signed delta
// relative to the event's primary account.
type ChainEvent struct {
	GUID        uuid.UUID      `gorm:"primaryKey"`
	ChainID     uint64         `gorm:"column:chain_id"`
	TxHash      common.Hash    `gorm:"column:tx_hash;serializer:bytes"`
	LogIndex    uint           `gorm:"column:log_index"`
	BlockNumber uint64         `gorm:"column:block_number"`
	EventDate   time.Time      `gorm:"column:event_date;type:date"`
	Asset       string         `gorm:"column:asset"`
	Kind        Kind           `gorm:"column:kind"`
	Tag         Tag            `gorm:"column:tag"`
	Sender      common.Address `gorm:"column:sender;serializer:bytes"`
	Receiver    common.Address `gorm:"column:receiver;serializer:bytes"`
	Amount      *big.Int       `gorm:"column:amount;serializer:int256"`
	Round       *uint64        `gorm:"column:round"`
	PeerChainID uint64         `gorm:"column:peer_chain_id"`
}

func (ChainEvent) TableName() string {
	return "chain_events"
}

func (e ChainEvent) Key() Key {
	return Key{ChainID: e.ChainID, TxHash: e.TxHash, LogIndex: e.LogIndex}
}

type ChainEventView interface {
	ChainEventsForDate(date time.Time, tags ...Tag) ([]ChainEvent, error)
	ChainEventsForAddress(address common.Address, limit int) ([]ChainEvent, error)
}

type ChainEventDB interface {
	ChainEventView
	StoreChainEvents([]ChainEvent) error
	DeleteChainEventsForDate(date time.Time) error
}

type chainEventDB struct {
	gorm *gorm.DB
}

func NewChainEventDB(db *gorm.DB) ChainEventDB {
	return &chainEventDB{gorm: db}
}

// StoreChainEvents inserts events, ignoring any already recorded under the
// same (chain_id, tx_hash, log_index).
func (db chainEventDB) StoreChainEvents(events []ChainEvent) error {
	if len(events) == 0 {
		return nil
	}
	result := db.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain_id"}, {Name: "tx_hash"}, {Name: "log_index"}},
		DoNothing: true,
	}).CreateInBatches(&events, utils.BatchInsertSize)
	return result.Error
}

func (db chainEventDB) ChainEventsForDate(date time.Time, tags ...Tag) ([]ChainEvent, error) {
	query := db.gorm.Where("event_date = ?", utils.DateParam(date))
	if len(tags) > 0 {
		query = query.Where("tag IN ?", tags)
	}
	var events []ChainEvent
	result := query.Order("block_number ASC, tx_hash ASC, log_index ASC").Find(&events)
	if result.Error != nil {
		return nil, result.Error
	}
	return events, nil
}

func (db chainEventDB) ChainEventsForAddress(address common.Address, limit int) ([]ChainEvent, error) {
	addr := utils.AddressParam(address)
	var events []ChainEvent
	result := db.gorm.Where("sender = ? OR receiver = ?", addr, addr).
		Order("block_number DESC, log_index DESC").
		Limit(limit).
		Find(&events)
	if result.Error != nil {
		return nil, result.Error
	}
	return events, nil
}

func (db chainEventDB) DeleteChainEventsForDate(date time.Time) error {
	return db.gorm.Where("event_date = ?", utils.DateParam(date)).Delete(&ChainEvent{}).Error
}
