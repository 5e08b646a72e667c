package inventory

import (
	"context"
	"time"

	"github.com/hackgods/hospital-operations/internal/apperr"
)

var (
	ErrItemNotFound             = apperr.NotFound("ITEM_NOT_FOUND", "pharmacy item not found")
	ErrPrescriptionLineNotFound = apperr.NotFound("PRESCRIPTION_LINE_NOT_FOUND", "item is not on this prescription")
	ErrAlreadyDispensed         = apperr.Conflict("ALREADY_DISPENSED", "this prescription line has already been dispensed")
	ErrDuplicateBatch           = apperr.Conflict("DUPLICATE_BATCH", "batch number already received for this item")
	ErrInsufficientStock        = apperr.Exhausted("INSUFFICIENT_STOCK", "insufficient non-expired stock")
	ErrInvalidQuantity          = apperr.Validation("INVALID_QUANTITY", "quantity must be a positive integer")
	ErrExceedsPrescribed        = apperr.Validation("QUANTITY_EXCEEDS_PRESCRIBED", "cannot dispense more than prescribed")
	ErrExpiredBatch             = apperr.Validation("EXPIRED_BATCH", "cannot receive a batch that is already expired")
	ErrMissingBatchNumber       = apperr.Validation("MISSING_BATCH_NUMBER", "batch number is required")
	ErrInvalidBatchState        = apperr.Validation("INVALID_BATCH_STATE", "unknown batch state")
)

type Repository interface {
	GetItem(ctx context.Context, id int64) (*Item, error)
	ListItems(ctx context.Context) ([]Item, error)

	// LockPrescriptionLine locks the line and shares the visit row so a
	// concurrent endVisit sees this dispense either fully or not at all.
	LockPrescriptionLine(ctx context.Context, prescriptionID, itemID int64) (*PrescriptionLine, error)
	HasOutMovement(ctx context.Context, refType string, refID, itemID int64) (bool, error)
	// LockUsableBatches locks the item's non-empty, non-expired batches in
	// FEFO order.
	LockUsableBatches(ctx context.Context, itemID int64, today time.Time) ([]Batch, error)
	// DecrementBatch fails with ErrInsufficientStock rather than go negative.
	DecrementBatch(ctx context.Context, batchID int64, qty int) (int, error)
	InsertMovement(ctx context.Context, m Movement) (*Movement, error)
	InsertBatch(ctx context.Context, r ReceiveRequest) (*Batch, error)

	AvailableStock(ctx context.Context, itemID int64, today time.Time) (int, error)
	StockByItem(ctx context.Context, today time.Time) ([]ItemStock, error)
	ListBatches(ctx context.Context, itemID *int64) ([]BatchStatus, error)
	ListMovements(ctx context.Context, itemID int64, limit int) ([]Movement, error)
}
