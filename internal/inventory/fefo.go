package inventory

import (
	"fmt"
	"sort"
	"time"

	"github.com/hackgods/hospital-operations/internal/config"
	"github.com/hackgods/hospital-operations/internal/db"
)

// PlanFEFO picks batches first-expire-first-out until qty is covered.
// Expired and empty batches are skipped; ties on expiry go to the older batch
// id. Nothing is returned unless the whole quantity can be served.
func PlanFEFO(batches []Batch, today time.Time, qty int) ([]Allocation, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}

	usable := make([]Batch, 0, len(batches))
	available := 0
	for _, b := range batches {
		if b.Quantity <= 0 || b.IsExpired(today) {
			continue
		}
		usable = append(usable, b)
		available += b.Quantity
	}
	if available < qty {
		return nil, ErrInsufficientStock.WithMessage(
			fmt.Sprintf("insufficient stock: requested %d, available %d", qty, available))
	}

	sort.SliceStable(usable, func(i, j int) bool {
		if !usable[i].ExpiryDate.Equal(usable[j].ExpiryDate) {
			return usable[i].ExpiryDate.Before(usable[j].ExpiryDate)
		}
		return usable[i].ID < usable[j].ID
	})

	var plan []Allocation
	need := qty
	for _, b := range usable {
		if need == 0 {
			break
		}
		take := min(b.Quantity, need)
		plan = append(plan, Allocation{
			BatchID:     b.ID,
			BatchNumber: b.BatchNumber,
			Quantity:    take,
			Remaining:   b.Quantity - take,
		})
		need -= take
	}
	return plan, nil
}

// Classify maps summed non-expired stock to an alert level.
func Classify(available int, p config.StockPolicy) Level {
	switch {
	case available <= p.CriticalLevel:
		return LevelCritical
	case available <= p.LowLevel:
		return LevelLow
	default:
		return LevelHealthy
	}
}

// StateOf derives a batch's status for today.
func StateOf(b Batch, today time.Time, warningDays int) (BatchState, int) {
	days := int(b.ExpiryDate.Sub(db.DateOnly(today)).Hours() / 24)
	switch {
	case b.IsExpired(today):
		return BatchExpired, days
	case b.Quantity <= 0:
		return BatchDepleted, days
	case days <= warningDays:
		return BatchExpiringSoon, days
	default:
		return BatchOK, days
	}
}
