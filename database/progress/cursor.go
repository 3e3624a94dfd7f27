package progress

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrCursorRegression = errors.New("progress cursor regression")

// ProgressCursor records where indexing resumes on one chain.
type ProgressCursor struct {
	ChainID            uint64    `gorm:"primaryKey;column:chain_id"`
	LastProcessedBlock uint64    `gorm:"column:last_processed_block"`
	LastProcessedDate  time.Time `gorm:"column:last_processed_date;type:date"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (ProgressCursor) TableName() string {
	return "progress_cursors"
}

type ProgressCursorView interface {
	Cursor(chainID uint64) (*ProgressCursor, error)
	Cursors() ([]ProgressCursor, error)
}

type ProgressCursorDB interface {
	ProgressCursorView
	AdvanceCursor(cursor ProgressCursor) error
}

type progressCursorDB struct {
	gorm *gorm.DB
}

func NewProgressCursorDB(db *gorm.DB) ProgressCursorDB {
	return &progressCursorDB{gorm: db}
}

func (db progressCursorDB) Cursor(chainID uint64) (*ProgressCursor, error) {
	var cursor ProgressCursor
	result := db.gorm.Where("chain_id = ?", chainID).Take(&cursor)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &cursor, nil
}

func (db progressCursorDB) Cursors() ([]ProgressCursor, error) {
	var cursors []ProgressCursor
	result := db.gorm.Order("chain_id ASC").Find(&cursors)
	if result.Error != nil {
		return nil, result.Error
	}
	return cursors, nil
}

// AdvanceCursor moves a chain's cursor forward. Moving either the block or
// the date backwards fails with ErrCursorRegression.
func (db progressCursorDB) AdvanceCursor(cursor ProgressCursor) error {
	var current ProgressCursor
	result := db.gorm.Clauses(clause.Locking{Strength: "UPDATE"}).Where("chain_id = ?", cursor.ChainID).Take(&current)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	if result.Error == nil {
		if err := CheckAdvance(current, cursor); err != nil {
			return err
		}
	}

	cursor.UpdatedAt = time.Now()
	return db.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_processed_block", "last_processed_date", "updated_at"}),
	}).Create(&cursor).Error
}

// CheckAdvance returns ErrCursorRegression when next is behind current.
func CheckAdvance(current, next ProgressCursor) error {
	if next.LastProcessedBlock < current.LastProcessedBlock {
		return fmt.Errorf("%w: chain %d block %d < %d", ErrCursorRegression, next.ChainID, next.LastProcessedBlock, current.LastProcessedBlock)
	}
	if next.LastProcessedDate.Before(current.LastProcessedDate) {
		return fmt.Errorf("%w: chain %d date %s < %s", ErrCursorRegression, next.ChainID,
			next.LastProcessedDate.Format("2006-01-02"), current.LastProcessedDate.Format("2006-01-02"))
	}
	return nil
}
