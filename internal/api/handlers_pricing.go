package api

import (
	"encoding/json"
	"net/http"
)

type calculatePointsRequest struct {
	ItemType string `json:"item_type"`
	Category string `json:"category"`
	Quantity *int   `json:"quantity,omitempty"`
}

// SupportedItemTypesHandler lists the item types the settlement contract accepts.
func (h *RewardsHandlers) SupportedItemTypesHandler(w http.ResponseWriter, r *http.Request) {
	table := h.service.Pricing()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pricing_version": table.Version,
		"item_types":      table.SupportedItemTypes(),
		"category_base":   table.CategoryBase,
	})
}

// CalculatePointsHandler prices a hypothetical item without recording anything.
func (h *RewardsHandlers) CalculatePointsHandler(w http.ResponseWriter, r *http.Request) {
	var req calculatePointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	points, err := h.service.QuotePoints(req.ItemType, req.Category, quantity)
	if err != nil {
		h.handleServiceError(w, "calculate_points", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"item_type":       req.ItemType,
		"category":        req.Category,
		"quantity":        quantity,
		"points":          points,
		"supported":       h.service.Pricing().Supports(req.ItemType),
		"pricing_version": h.service.Pricing().Version,
	})
}
