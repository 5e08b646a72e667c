package inventory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hackgods/hospital-operations/internal/db"
)

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Movement reference types.
const (
	RefPrescription = "PRESCRIPTION"
	RefBatchReceipt = "BATCH_RECEIPT"
)

type Item struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Batch struct {
	ID          int64     `json:"id"`
	ItemID      int64     `json:"item_id"`
	BatchNumber string    `json:"batch_number"`
	Supplier    string    `json:"supplier"`
	Quantity    int       `json:"quantity"`
	ExpiryDate  time.Time `json:"expiry_date"`
	ReceivedAt  time.Time `json:"received_at"`
}

// IsExpired is derived on every read: a batch expiring today is still usable.
func (b Batch) IsExpired(today time.Time) bool {
	return b.ExpiryDate.Before(db.DateOnly(today))
}

type Movement struct {
	ID            int64     `json:"id"`
	ItemID        int64     `json:"item_id"`
	BatchID       int64     `json:"batch_id"`
	Quantity      int       `json:"quantity"`
	Direction     Direction `json:"direction"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   int64     `json:"reference_id"`
	ActorID       *int64    `json:"actor_id,omitempty"`
	// UnitPrice is the price billed per unit; set on OUT movements only.
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Allocation is the share of a request taken from one batch.
type Allocation struct {
	BatchID     int64  `json:"batch_id"`
	BatchNumber string `json:"batch_number"`
	Quantity    int    `json:"quantity"`
	Remaining   int    `json:"remaining"`
}

type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelLow      Level = "LOW"
	LevelHealthy  Level = "HEALTHY"
)

type StockLevel struct {
	ItemID    int64  `json:"item_id"`
	Name      string `json:"name"`
	Unit      string `json:"unit"`
	Available int    `json:"available"`
	Expired   int    `json:"expired"`
	Level     Level  `json:"level"`
}

type BatchState string

const (
	BatchOK           BatchState = "OK"
	BatchExpiringSoon BatchState = "EXPIRING_SOON"
	BatchExpired      BatchState = "EXPIRED"
	BatchDepleted     BatchState = "DEPLETED"
)

type BatchStatus struct {
	Batch
	ItemName     string     `json:"item_name"`
	State        BatchState `json:"state"`
	DaysToExpiry int        `json:"days_to_expiry"`
}

type BatchFilter struct {
	ItemID *int64
	State  *BatchState
}

// ItemStock is the raw per-item aggregate the store returns.
type ItemStock struct {
	Item
	Available int
	Expired   int
}

// PrescriptionLine is a prescribed item together with what billing needs.
type PrescriptionLine struct {
	PrescriptionID int64
	ItemID         int64
	Quantity       int
	VisitID        int64
	ItemName       string
	UnitPrice      decimal.Decimal
}

type DispenseResult struct {
	PrescriptionID int64        `json:"prescription_id"`
	ItemID         int64        `json:"item_id"`
	Quantity       int          `json:"quantity"`
	Allocations    []Allocation `json:"allocations"`
	StockLeft      int          `json:"stock_left"`
	Level          Level        `json:"level"`
	InvoiceID      *int64       `json:"invoice_id,omitempty"`
}

type ReceiveRequest struct {
	ItemID      int64
	BatchNumber string
	Supplier    string
	Quantity    int
	ExpiryDate  time.Time
}
