// Package store persists orders and positions in SQLite via GORM.
package store

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OrderRecord is the persisted form of an order
type OrderRecord struct {
	ID            string `gorm:"primaryKey"`
	Symbol        string `gorm:"index"`
	Side          string
	Type          string
	Quantity      int64
	Price         float64
	Status        string `gorm:"index"`
	FilledQty     int64
	AvgFillPrice  float64
	Commission    float64
	RejectReason  string
	BrokerOrderID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PositionRecord is the persisted form of an open position. One row per
// symbol; closed positions are deleted.
type PositionRecord struct {
	Symbol      string `gorm:"primaryKey"`
	Quantity    int64
	AvgPrice    float64
	Sector      string
	RealizedPnL float64
	UpdatedAt   time.Time
}

// Store is the repository over the trading database
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&OrderRecord{}, &PositionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveOrder inserts or updates an order record
func (s *Store) SaveOrder(o *OrderRecord) error {
	return s.db.Save(o).Error
}

// GetOrder fetches one order by ID. Returns gorm.ErrRecordNotFound if
// it does not exist.
func (s *Store) GetOrder(id string) (*OrderRecord, error) {
	var o OrderRecord
	if err := s.db.First(&o, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrders returns orders newest first, optionally filtered by status
func (s *Store) ListOrders(status string, limit int) ([]OrderRecord, error) {
	q := s.db.Order("created_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var orders []OrderRecord
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// CountOrdersSince counts orders created at or after t
func (s *Store) CountOrdersSince(t time.Time) (int64, error) {
	var n int64
	err := s.db.Model(&OrderRecord{}).Where("created_at >= ?", t).Count(&n).Error
	return n, err
}

// SavePosition inserts or updates a position record
func (s *Store) SavePosition(p *PositionRecord) error {
	return s.db.Save(p).Error
}

// GetPosition fetches the position for a symbol, or nil if flat
func (s *Store) GetPosition(symbol string) (*PositionRecord, error) {
	var p PositionRecord
	err := s.db.First(&p, "symbol = ?", symbol).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPositions returns all open positions
func (s *Store) ListPositions() ([]PositionRecord, error) {
	var positions []PositionRecord
	if err := s.db.Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

// DeletePosition removes a closed position
func (s *Store) DeletePosition(symbol string) error {
	return s.db.Delete(&PositionRecord{}, "symbol = ?", symbol).Error
}
