package reference

import (
	"errors"
	"math/big"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PriceCache is the last price-per-share successfully read for an asset.
type PriceCache struct {
	Asset         string    `gorm:"primaryKey;column:asset"`
	Round         uint64    `gorm:"column:round"`
	PricePerShare *big.Int  `gorm:"column:price_per_share;serializer:u256"`
	BlockNumber   uint64    `gorm:"column:block_number"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (PriceCache) TableName() string {
	return "price_caches"
}

type PriceCacheView interface {
	PriceCache(asset string) (*PriceCache, error)
}

type PriceCacheDB interface {
	PriceCacheView
	StorePriceCache(PriceCache) error
}

type priceCacheDB struct {
	gorm *gorm.DB
}

func NewPriceCacheDB(db *gorm.DB) PriceCacheDB {
	return &priceCacheDB{gorm: db}
}

func (db priceCacheDB) PriceCache(asset string) (*PriceCache, error) {
	var cached PriceCache
	result := db.gorm.Where("asset = ?", asset).Take(&cached)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &cached, nil
}

func (db priceCacheDB) StorePriceCache(cached PriceCache) error {
	cached.UpdatedAt = time.Now()
	return db.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset"}},
		DoUpdates: clause.AssignmentColumns([]string{"round", "price_per_share", "block_number", "updated_at"}),
	}).Create(&cached).Error
}
