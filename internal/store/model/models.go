package model

import (
	"gorm.io/datatypes"
)

// OrderModel is the persisted form of a ledger order. The ledger writes
// through on every committed change; rows survive process restarts for audit
// and reconciliation.
type OrderModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	ClientOrderID string         `gorm:"column:client_order_id;uniqueIndex"`
	VenueOrderID  string         `gorm:"column:venue_order_id;index"`
	VenueID       string         `gorm:"column:venue_id;index"`
	InstrumentID  string         `gorm:"column:instrument_id;index"`
	Side          string         `gorm:"column:side"`
	OrderType     string         `gorm:"column:order_type"`
	Quantity      string         `gorm:"column:quantity"`
	Price         string         `gorm:"column:price"`
	TimeInForce   string         `gorm:"column:time_in_force"`
	State         string         `gorm:"column:state;index"`
	FilledQty     string         `gorm:"column:filled_qty"`
	AvgFillPrice  string         `gorm:"column:avg_fill_price"`
	RejectReason  string         `gorm:"column:reject_reason"`
	AmendsJSON    datatypes.JSON `gorm:"column:amends_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

// VenueEventModel records venue connection transitions for audit.
type VenueEventModel struct {
	ID        int64  `gorm:"column:id;primaryKey"`
	VenueID   string `gorm:"column:venue_id;index"`
	FromState string `gorm:"column:from_state"`
	ToState   string `gorm:"column:to_state"`
	Detail    string `gorm:"column:detail"`
	AtUnix    int64  `gorm:"column:at"`
}

func (VenueEventModel) TableName() string { return "venue_events" }
