// Package gormstore persists ledger orders with Gorm + SQLite.
package gormstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	sqlite "gorm.io/driver/sqlite"

	"nautgate/internal/ledger"
	storemodel "nautgate/internal/store/model"
)

type orderModel = storemodel.OrderModel
type venueEventModel = storemodel.VenueEventModel

// GormStore implements ledger.Persister on SQLite.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path must not be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&orderModel{}, &venueEventModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for reads, low lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ ledger.Persister = (*GormStore)(nil)

// SaveOrder upserts the snapshot keyed by client order id.
func (s *GormStore) SaveOrder(o ledger.Order) error {
	if s == nil || s.db == nil {
		return nil
	}
	amends, err := json.Marshal(o.Amends)
	if err != nil {
		return err
	}
	m := orderModel{
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  o.VenueOrderID,
		VenueID:       o.VenueID,
		InstrumentID:  o.InstrumentID,
		Side:          string(o.Side),
		OrderType:     string(o.Type),
		Quantity:      o.Quantity.String(),
		TimeInForce:   string(o.TimeInForce),
		State:         o.State.String(),
		FilledQty:     o.FilledQty.String(),
		AvgFillPrice:  o.AvgFillPrice.String(),
		RejectReason:  o.RejectReason,
		AmendsJSON:    amends,
		CreatedAtUnix: o.CreatedAt.Unix(),
		UpdatedAtUnix: o.LastUpdatedAt.Unix(),
	}
	if o.Price != nil {
		m.Price = o.Price.String()
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "client_order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"venue_order_id", "state", "filled_qty", "avg_fill_price",
			"reject_reason", "amends_json", "updated_at",
		}),
	}).Create(&m).Error
}

// RecordVenueEvent appends one venue transition row.
func (s *GormStore) RecordVenueEvent(venueID, from, to, detail string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Create(&venueEventModel{
		VenueID:   venueID,
		FromState: from,
		ToState:   to,
		Detail:    detail,
		AtUnix:    time.Now().Unix(),
	}).Error
}

// TerminalOrders lists persisted orders in a terminal state older than the
// cutoff, for offline inspection of what the in-memory purge evicted.
func (s *GormStore) TerminalOrders(cutoff time.Time) ([]storemodel.OrderModel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []storemodel.OrderModel
	err := s.db.
		Where("state IN ?", []string{"FILLED", "CANCELED", "REJECTED", "EXPIRED"}).
		Where("updated_at < ?", cutoff.Unix()).
		Order("updated_at asc").
		Find(&rows).Error
	return rows, err
}
