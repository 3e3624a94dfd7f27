package balance

import (
	"math/big"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wjorgensen/StreamDroplets/database/utils"
)

type IntegrationKey struct {
	Address  common.Address
	Protocol string
	Contract common.Address
	Asset    string
}

// IntegrationBalance is a user's position inside one (protocol, contract).
type IntegrationBalance struct {
	Address        common.Address `gorm:"primaryKey;column:address;serializer:bytes"`
	Protocol       string         `gorm:"primaryKey;column:protocol"`
	Contract       common.Address `gorm:"primaryKey;column:contract;serializer:bytes"`
	Asset          string         `gorm:"primaryKey;column:asset"`
	Shares         *big.Int       `gorm:"column:shares;serializer:u256"`
	Underlying     *big.Int       `gorm:"column:underlying;serializer:u256"`
	ValuationStale bool           `gorm:"column:valuation_stale"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (IntegrationBalance) TableName() string {
	return "integration_balances"
}

func (b IntegrationBalance) Key() IntegrationKey {
	return IntegrationKey{Address: b.Address, Protocol: b.Protocol, Contract: b.Contract, Asset: b.Asset}
}

type IntegrationBalanceView interface {
	IntegrationBalancesByKeys(keys []IntegrationKey) ([]IntegrationBalance, error)
	IntegrationBalancesByProtocol(protocol string) ([]IntegrationBalance, error)
	IntegrationBalancesByAddress(address common.Address) ([]IntegrationBalance, error)
	AllIntegrationBalances() ([]IntegrationBalance, error)
}

type IntegrationBalanceDB interface {
	IntegrationBalanceView
	CommitIntegrationBalances(upserts []IntegrationBalance, deletes []IntegrationKey) error
	UpdateIntegrationValuations(rows []IntegrationBalance) error
}

type integrationBalanceDB struct {
	gorm *gorm.DB
}

func NewIntegrationBalanceDB(db *gorm.DB) IntegrationBalanceDB {
	return &integrationBalanceDB{gorm: db}
}

func (db integrationBalanceDB) IntegrationBalancesByKeys(keys []IntegrationKey) ([]IntegrationBalance, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var rows []IntegrationBalance
	for _, chunk := range utils.Chunks(keys, utils.KeyLookupSize) {
		tuples := make([][]interface{}, 0, len(chunk))
		for _, k := range chunk {
			tuples = append(tuples, []interface{}{utils.AddressParam(k.Address), k.Protocol, utils.AddressParam(k.Contract), k.Asset})
		}
		var found []IntegrationBalance
		result := db.gorm.Where("(address, protocol, contract, asset) IN ?", tuples).Find(&found)
		if result.Error != nil {
			return nil, result.Error
		}
		rows = append(rows, found...)
	}
	return rows, nil
}

func (db integrationBalanceDB) IntegrationBalancesByProtocol(protocol string) ([]IntegrationBalance, error) {
	var rows []IntegrationBalance
	result := db.gorm.Where("protocol = ?", protocol).Order("contract ASC, address ASC").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

func (db integrationBalanceDB) IntegrationBalancesByAddress(address common.Address) ([]IntegrationBalance, error) {
	var rows []IntegrationBalance
	result := db.gorm.Where("address = ?", utils.AddressParam(address)).Order("protocol ASC, contract ASC").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

func (db integrationBalanceDB) AllIntegrationBalances() ([]IntegrationBalance, error) {
	var rows []IntegrationBalance
	result := db.gorm.Order("protocol ASC, contract ASC, address ASC").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	return rows, nil
}

func (db integrationBalanceDB) CommitIntegrationBalances(upserts []IntegrationBalance, deletes []IntegrationKey) error {
	return db.gorm.Transaction(func(tx *gorm.DB) error {
		if len(upserts) > 0 {
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "address"}, {Name: "protocol"}, {Name: "contract"}, {Name: "asset"}},
				DoUpdates: clause.AssignmentColumns([]string{"shares", "underlying", "valuation_stale", "updated_at"}),
			}).CreateInBatches(&upserts, utils.BatchInsertSize)
			if result.Error != nil {
				return result.Error
			}
		}
		for _, k := range deletes {
			result := tx.Where("address = ? AND protocol = ? AND contract = ? AND asset = ?",
				utils.AddressParam(k.Address), k.Protocol, utils.AddressParam(k.Contract), k.Asset).
				Delete(&IntegrationBalance{})
			if result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
}

func (db integrationBalanceDB) UpdateIntegrationValuations(rows []IntegrationBalance) error {
	return db.gorm.Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			result := tx.Model(&IntegrationBalance{}).
				Where("address = ? AND protocol = ? AND contract = ? AND asset = ?",
					utils.AddressParam(row.Address), row.Protocol, utils.AddressParam(row.Contract), row.Asset).
				Updates(map[string]interface{}{
					"underlying":      row.Underlying.String(),
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
