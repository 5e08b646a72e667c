package api

import (
	"net/http"

	"github.com/hackgods/hospital-operations/internal/inventory"
)

func (h *handler) dispense(r *http.Request, actor int64) (int, any, error) {
	prescriptionID, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		return 0, nil, err
	}
	var req DispenseRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	res, err := h.svc.Inventory.Dispense(r.Context(), prescriptionID, itemID, req.Quantity, actor)
	if err != nil {
		return 0, nil, err
	}
	h.metrics.AddDispensed(res.Quantity)
	return http.StatusOK, res, nil
}

func (h *handler) receiveBatch(r *http.Request, actor int64) (int, any, error) {
	var req ReceiveBatchRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	expiry, err := parseDate("expiry_date", req.ExpiryDate)
	if err != nil {
		return 0, nil, err
	}
	b, err := h.svc.Inventory.ReceiveBatch(r.Context(), inventory.ReceiveRequest{
		ItemID:      req.ItemID,
		BatchNumber: req.BatchNumber,
		Supplier:    req.Supplier,
		Quantity:    req.Quantity,
		ExpiryDate:  expiry,
	}, actor)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, b, nil
}

func (h *handler) listItems(r *http.Request, actor int64) (int, any, error) {
	out, err := h.svc.Inventory.ListItems(r.Context(), actor)
	return http.StatusOK, out, err
}

func (h *handler) stockLevel(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Inventory.StockLevel(r.Context(), id, actor)
	return http.StatusOK, out, err
}

func (h *handler) stockAlerts(r *http.Request, actor int64) (int, any, error) {
	out, err := h.svc.Inventory.StockAlerts(r.Context(), actor)
	return http.StatusOK, out, err
}

func (h *handler) batchStatus(r *http.Request, actor int64) (int, any, error) {
	var (
		f   inventory.BatchFilter
		err error
	)
	if f.ItemID, err = queryID(r, "item_id"); err != nil {
		return 0, nil, err
	}
	if raw := r.URL.Query().Get("state"); raw != "" {
		state := inventory.BatchState(raw)
		f.State = &state
	}
	out, err := h.svc.Inventory.BatchStatus(r.Context(), f, actor)
	return http.StatusOK, out, err
}

func (h *handler) expiringBatches(r *http.Request, actor int64) (int, any, error) {
	days, err := queryInt(r, "days", 30)
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Inventory.ExpiringBatches(r.Context(), days, actor)
	return http.StatusOK, out, err
}

func (h *handler) movements(r *http.Request, actor int64) (int, any, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return 0, nil, err
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.Inventory.Movements(r.Context(), id, limit, actor)
	return http.StatusOK, out, err
}
