package api

import (
	"encoding/json"
	"net/http"

	"github.com/recyclr/rewards-service/internal/domain"
)

// GetBalanceHandler returns the caller's points aggregate.
func (h *RewardsHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUserID(w, r, "get_balance")
	if !ok {
		return
	}

	balance, err := h.service.Ledger().Balance(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "get_balance", err)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// GetPointsHistoryHandler returns the caller's ledger entries, newest first (page, limit, type).
func (h *RewardsHandlers) GetPointsHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUserID(w, r, "get_points_history")
	if !ok {
		return
	}

	page, okPage := queryInt(r, "page", 1)
	limit, okLimit := queryInt(r, "limit", 0)
	if !okPage || !okLimit {
		h.writeError(w, http.StatusBadRequest, "page and limit must be integers")
		return
	}

	history, err := h.service.Ledger().History(r.Context(), userID, page, limit, r.URL.Query().Get("type"))
	if err != nil {
		h.handleServiceError(w, "get_points_history", err)
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

// RedeemPointsHandler spends points from the caller's available balance.
func (h *RewardsHandlers) RedeemPointsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUserID(w, r, "redeem_points")
	if !ok {
		return
	}

	var req domain.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entry, err := h.service.Ledger().Redeem(r.Context(), userID, req.Points)
	if err != nil {
		h.handleServiceError(w, "redeem_points", err)
		return
	}

	balance, err := h.service.Ledger().Balance(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, "redeem_points", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transaction": entry,
		"balance":     balance,
	})
}

// LeaderboardHandler ranks users by lifetime points (limit).
func (h *RewardsHandlers) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	entries, err := h.service.Ledger().Leaderboard(r.Context(), limit)
	if err != nil {
		h.handleServiceError(w, "leaderboard", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}
