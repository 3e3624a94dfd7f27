package snapshot

import (
	"errors"
	"math/big"
	"time"

	"gorm.io/gorm"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wjorgensen/StreamDroplets/database/utils"
)

// DailySnapshot is the per-asset total at the close of a finalized day.
type DailySnapshot struct {
	Date            time.Time `gorm:"primaryKey;column:date;type:date"`
	Asset           string    `gorm:"primaryKey;column:asset"`
	TotalShares     *big.Int  `gorm:"column:total_shares;serializer:u256"`
	TotalUnderlying *big.Int  `gorm:"column:total_underlying;serializer:u256"`
	Holders         uint64    `gorm:"column:holders"`
	PricePerShare   *big.Int  `gorm:"column:price_per_share;serializer:u256"`
	ValuationRound  uint64    `gorm:"column:valuation_round"`
	Stale           bool      `gorm:"column:stale"`
}

func (DailySnapshot) TableName() string {
	return "daily_snapshots"
}

// UserDailySnapshot is one position at the close of a finalized day. Direct
// vault positions carry an empty Protocol and the zero Contract.
type UserDailySnapshot struct {
	Date       time.Time      `gorm:"primaryKey;column:date;type:date"`
	Address    common.Address `gorm:"primaryKey;column:address;serializer:bytes"`
	Asset      string         `gorm:"primaryKey;column:asset"`
	Protocol   string         `gorm:"primaryKey;column:protocol"`
	Contract   common.Address `gorm:"primaryKey;column:contract;serializer:bytes"`
	Shares     *big.Int       `gorm:"column:shares;serializer:u256"`
	Underlying *big.Int       `gorm:"column:underlying;serializer:u256"`
}

func (UserDailySnapshot) TableName() string {
	return "user_daily_snapshots"
}

// Direct reports whether the row is a vault share position rather than an
// integration position.
func (s UserDailySnapshot) Direct() bool {
	return s.Protocol == ""
}

type SnapshotView interface {
	DailySnapshots(date time.Time) ([]DailySnapshot, error)
	UserSnapshots(date time.Time) ([]UserDailySnapshot, error)
	UserSnapshotsForAddress(date time.Time, address common.Address) ([]UserDailySnapshot, error)
	LatestSnapshotDate() (*time.Time, error)
}

type SnapshotDB interface {
	SnapshotView
	StoreSnapshots(daily []DailySnapshot, users []UserDailySnapshot) error
	DeleteSnapshotsForDate(date time.Time) error
}

type snapshotDB struct {
	gorm *gorm.DB
}

func NewSnapshotDB(db *gorm.DB) SnapshotDB {
	return &snapshotDB{gorm: db}
}

func (db snapshotDB) DailySnapshots(date time.Time) ([]DailySnapshot, error) {
	var rows []DailySnapshot
	result := db.gorm.Where("date = ?", utils.DateParam(date)).Order("asset ASC").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

func (db snapshotDB) UserSnapshots(date time.Time) ([]UserDailySnapshot, error) {
	var rows []UserDailySnapshot
	result := db.gorm.Where("date = ?", utils.DateParam(date)).Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

func (db snapshotDB) UserSnapshotsForAddress(date time.Time, address common.Address) ([]UserDailySnapshot, error) {
	var rows []UserDailySnapshot
	result := db.gorm.Where("date = ? AND address = ?", utils.DateParam(date), utils.AddressParam(address)).
		Order("asset ASC, protocol ASC, contract ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

func (db snapshotDB) LatestSnapshotDate() (*time.Time, error) {
	var latest DailySnapshot
	result := db.gorm.Order("date DESC").Take(&latest)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	date := utils.Day(latest.Date)
	return &date, nil
}

func (db snapshotDB) StoreSnapshots(daily []DailySnapshot, users []UserDailySnapshot) error {
	if len(daily) > 0 {
		if err := db.gorm.CreateInBatches(&daily, utils.BatchInsertSize).Error; err != nil {
			return err
		}
	}
	if len(users) > 0 {
		if err := db.gorm.CreateInBatches(&users, utils.BatchInsertSize).Error; err != nil {
			return err
		}
	}
	return nil
}

func (db snapshotDB) DeleteSnapshotsForDate(date time.Time) error {
	day := utils.DateParam(date)
	if err := db.gorm.Where("date = ?", day).Delete(&UserDailySnapshot{}).Error; err != nil {
		return err
	}
	return db.gorm.Where("date = ?", day).Delete(&DailySnapshot{}).Error
}
