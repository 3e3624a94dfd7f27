package balance

import (
	"math/big"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wjorgensen/StreamDroplets/database/utils"
)

type Key struct {
	Address common.Address
	Asset   string
}

// ShareBalance is a user's direct vault share position, consolidated across
// chains. Rows exist only while Shares is positive.
type ShareBalance struct {
	Address        common.Address `gorm:"primaryKey;column:address;serializer:bytes"`
	Asset          string         `gorm:"primaryKey;column:asset"`
	Shares         *big.Int       `gorm:"column:shares;serializer:u256"`
	Underlying     *big.Int       `gorm:"column:underlying;serializer:u256"`
	ValuationRound uint64         `gorm:"column:valuation_round"`
	ValuationStale bool           `gorm:"column:valuation_stale"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (ShareBalance) TableName() string {
	return "share_balances"
}

func (b ShareBalance) Key() Key {
	return Key{Address: b.Address, Asset: b.Asset}
}

type ShareBalanceView interface {
	ShareBalancesByKeys(keys []Key) ([]ShareBalance, error)
	ShareBalancesByAsset(asset string) ([]ShareBalance, error)
	ShareBalancesByAddress(address common.Address) ([]ShareBalance, error)
	AllShareBalances() ([]ShareBalance, error)
}

type ShareBalanceDB interface {
	ShareBalanceView
	CommitShareBalances(upserts []ShareBalance, deletes []Key) error
	UpdateShareValuations(rows []ShareBalance) error
	MarkShareValuationsStale(asset string) error
}

type shareBalanceDB struct {
	gorm *gorm.DB
}

func NewShareBalanceDB(db *gorm.DB) ShareBalanceDB {
	return &shareBalanceDB{gorm: db}
}

func (db shareBalanceDB) ShareBalancesByKeys(keys []Key) ([]ShareBalance, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var rows []ShareBalance
	for _, chunk := range utils.Chunks(keys, utils.KeyLookupSize) {
		pairs := make([][]interface{}, 0, len(chunk))
		for _, k := range chunk {
			pairs = append(pairs, []interface{}{utils.AddressParam(k.Address), k.Asset})
		}
		var found []ShareBalance
		result := db.gorm.Where("(address, asset) IN ?", pairs).Find(&found)
		if result.Error != nil {
			return nil, result.Error
		}
		rows = append(rows, found...)
	}
	return rows, nil
}

func (db shareBalanceDB) ShareBalancesByAsset(asset string) ([]ShareBalance, error) {
	var rows []ShareBalance
	result := db.gorm.Where("asset = ?", asset).Order("address ASC").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

func (db shareBalanceDB) ShareBalancesByAddress(address common.Address) ([]ShareBalance, error) {
	var rows []ShareBalance
	result := db.gorm.Where("address = ?", utils.AddressParam(address)).Order("asset ASC").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

func (db shareBalanceDB) AllShareBalances() ([]ShareBalance, error) {
	var rows []ShareBalance
	result := db.gorm.Order("asset ASC, address ASC").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

// CommitShareBalances writes full rows for upserts and removes deletes, all
// or nothing.
func (db shareBalanceDB) CommitShareBalances(upserts []ShareBalance, deletes []Key) error {
	return db.gorm.Transaction(func(tx *gorm.DB) error {
		if len(upserts) > 0 {
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "address"}, {Name: "asset"}},
				DoUpdates: clause.AssignmentColumns([]string{"shares", "underlying", "valuation_round", "valuation_stale", "updated_at"}),
			}).CreateInBatches(&upserts, utils.BatchInsertSize)
			if result.Error != nil {
				return result.Error
			}
		}
		for _, k := range deletes {
			result := tx.Where("address = ? AND asset = ?", utils.AddressParam(k.Address), k.Asset).Delete(&ShareBalance{})
			if result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
}

func (db shareBalanceDB) UpdateShareValuations(rows []ShareBalance) error {
	return db.gorm.Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			result := tx.Model(&ShareBalance{}).
				Where("address = ? AND asset = ?", utils.AddressParam(row.Address), row.Asset).
				Updates(map[string]interface{}{
					"underlying":      row.Underlying.String(),
					"valuation_round": row.ValuationRound,
					"valuation_stale": row.ValuationStale,
					"updated_at":      time.Now(),
				})
			if result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
}

func (db shareBalanceDB) MarkShareValuationsStale(asset string) error {
	return db.gorm.Model(&ShareBalance{}).Where("asset = ?", asset).Update("valuation_stale", true).Error
}
