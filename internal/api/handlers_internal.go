package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/recyclr/rewards-service/internal/domain"
)

// ForceVerifyHandler settles a submitted submission without consulting the network.
func (h *RewardsHandlers) ForceVerifyHandler(w http.ResponseWriter, r *http.Request) {
	submissionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid submission ID format")
		return
	}

	sub, err := h.service.ForceVerifySubmission(r.Context(), submissionID)
	if err != nil {
		h.handleServiceError(w, "force_verify", err)
		return
	}
	log.Printf("level=info component=api endpoint=force_verify outcome=settled submission_id=%s", sub.ID)
	h.writeJSON(w, http.StatusOK, sub)
}

// ReconcileHandler runs one settlement reconciliation sweep (limit).
func (h *RewardsHandlers) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	result, err := h.service.ReconcileSubmitted(r.Context(), limit)
	if err != nil {
		h.handleServiceError(w, "reconcile", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GrantBonusHandler credits bonus points to a user.
func (h *RewardsHandlers) GrantBonusHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.BonusGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entry, err := h.service.Ledger().GrantBonus(r.Context(), req.UserID, req.Points, req.Description)
	if err != nil {
		h.handleServiceError(w, "grant_bonus", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}
