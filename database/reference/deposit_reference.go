package reference

import (
	"math/big"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wjorgensen/StreamDroplets/database/utils"
)

// DepositReference is one deposit record mirrored from an off-chain
// protocol's API. DepositAddress holds the vault shares on Owner's behalf.
type DepositReference struct {
	DepositID       string         `gorm:"primaryKey;column:deposit_id"`
	Protocol        string         `gorm:"column:protocol"`
	Market          string         `gorm:"column:market"`
	ChainID         uint64         `gorm:"column:chain_id"`
	Asset           string         `gorm:"column:asset"`
	Owner           common.Address `gorm:"column:owner;serializer:bytes"`
	DepositAddress  common.Address `gorm:"column:deposit_address;serializer:bytes"`
	Amount          *big.Int       `gorm:"column:amount;serializer:u256"`
	SourceCreatedAt time.Time      `gorm:"column:source_created_at"`
	SyncedAt        time.Time      `gorm:"column:synced_at"`
}

func (DepositReference) TableName() string {
	return "external_deposit_references"
}

type DepositReferenceView interface {
	CountDeposits(protocol, market string) (int64, error)
	LatestDepositTime(protocol, market string) (time.Time, error)
	DepositsForProtocol(protocol string) ([]DepositReference, error)
}

type DepositReferenceDB interface {
	DepositReferenceView
	StoreDeposits([]DepositReference) error
}

type depositReferenceDB struct {
	gorm *gorm.DB
}

func NewDepositReferenceDB(db *gorm.DB) DepositReferenceDB {
	return &depositReferenceDB{gorm: db}
}

// CountDeposits counts the records of one market of protocol. Markets are
// stored lowercase.
func (db depositReferenceDB) CountDeposits(protocol, market string) (int64, error) {
	var count int64
	result := db.gorm.Model(&DepositReference{}).
		Where("protocol = ? AND market = ?", protocol, strings.ToLower(market)).
		Count(&count)
	return count, result.Error
}

// LatestDepositTime returns the zero time when the market has no records.
func (db depositReferenceDB) LatestDepositTime(protocol, market string) (time.Time, error) {
	var latest *time.Time
	result := db.gorm.Model(&DepositReference{}).
		Where("protocol = ? AND market = ?", protocol, strings.ToLower(market)).
		Select("MAX(source_created_at)").
		Scan(&latest)
	if result.Error != nil {
		return time.Time{}, result.Error
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return latest.UTC(), nil
}

func (db depositReferenceDB) DepositsForProtocol(protocol string) ([]DepositReference, error) {
	var refs []DepositReference
	result := db.gorm.Where("protocol = ?", protocol).Order("source_created_at ASC, deposit_id ASC").Find(&refs)
	if result.Error != nil {
		return nil, result.Error
	}
	return refs, nil
}

func (db depositReferenceDB) StoreDeposits(refs []DepositReference) error {
	if len(refs) == 0 {
		return nil
	}
	now := time.Now()
	for i := range refs {
		refs[i].SyncedAt = now
	}
	return db.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "deposit_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner", "deposit_address", "amount", "synced_at"}),
	}).CreateInBatches(&refs, utils.BatchInsertSize).Error
}
