package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-operations/internal/access"
)

// SweepReport summarises one pass of the stock watch.
type SweepReport struct {
	Items         int `json:"items"`
	Batches       int `json:"batches"`
	LevelAlerts   int `json:"level_alerts"`
	ExpiryAlerts  int `json:"expiry_alerts"`
	CriticalItems int `json:"critical_items"`
	ExpiredUnits  int `json:"expired_units"`
}

// Watch periodically derives stock levels and batch states and tells
// pharmacists about changes. It only notifies on transitions so a batch that
// stays EXPIRING_SOON is reported once per process. The last seen states live
// in memory: a restarted worker, or a replica taking over the sweep lock,
// reports every non-healthy item and expiring batch again on its first pass.
type Watch struct {
	svc    *Service
	logger *zap.Logger

	mu      sync.Mutex
	levels  map[int64]Level
	batches map[int64]BatchState
}

func NewWatch(svc *Service, logger *zap.Logger) *Watch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watch{
		svc:     svc,
		logger:  logger,
		levels:  make(map[int64]Level),
		batches: make(map[int64]BatchState),
	}
}

// Sweep runs one pass. Notifications are written in a single transaction.
func (w *Watch) Sweep(ctx context.Context) (SweepReport, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var report SweepReport
	levels, err := w.svc.levels(ctx)
	if err != nil {
		return report, err
	}
	batches, err := w.svc.batchStates(ctx, nil)
	if err != nil {
		return report, err
	}
	report.Items = len(levels)
	report.Batches = len(batches)

	var messages []string
	nextLevels := make(map[int64]Level, len(levels))
	for _, l := range levels {
		nextLevels[l.ItemID] = l.Level
		report.ExpiredUnits += l.Expired
		if l.Level == LevelCritical {
			report.CriticalItems++
		}
		prev, seen := w.levels[l.ItemID]
		if l.Level == LevelHealthy || (seen && prev == l.Level) {
			continue
		}
		messages = append(messages, fmt.Sprintf("%s stock is %s: %d %s available", l.Name, l.Level, l.Available, l.Unit))
		report.LevelAlerts++
	}

	nextBatches := make(map[int64]BatchState, len(batches))
	for _, b := range batches {
		nextBatches[b.ID] = b.State
		if b.State != BatchExpiringSoon && b.State != BatchExpired {
			continue
		}
		if b.State == BatchExpired && b.Quantity == 0 {
			continue
		}
		if prev, seen := w.batches[b.ID]; seen && prev == b.State {
			continue
		}
		if b.State == BatchExpired {
			messages = append(messages, fmt.Sprintf("Batch %s of %s expired on %s with %d units left",
				b.BatchNumber, b.ItemName, b.ExpiryDate.Format(time.DateOnly), b.Quantity))
		} else {
			messages = append(messages, fmt.Sprintf("Batch %s of %s expires in %d days (%d units)",
				b.BatchNumber, b.ItemName, b.DaysToExpiry, b.Quantity))
		}
		report.ExpiryAlerts++
	}

	if len(messages) > 0 {
		err := w.svc.tx.InTx(ctx, func(ctx context.Context) error {
			for _, m := range messages {
				if err := w.svc.sink.NotifyRole(ctx, access.RolePharmacist, m); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return report, err
		}
	}

	for _, m := range messages {
		w.logger.Debug("stock alert sent", zap.String("message", m))
	}
	w.levels = nextLevels
	w.batches = nextBatches
	return report, nil
}
