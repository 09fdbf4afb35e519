package api

import (
	"encoding/json"
	"errors"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/recyclr/rewards-service/internal/app"
	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/pkg/imagestore"
)

const verificationImageField = "verification_image"

// createSubmissionResponse carries the receipt and, when the payload could not be
// built, the reason. The submission and award exist either way.
type createSubmissionResponse struct {
	*domain.SubmissionReceipt
	PayloadError string `json:"payload_error,omitempty"`
}

// CreateSubmissionHandler records a deposit. It accepts JSON, or multipart form data
// with an optional verification_image file.
func (h *RewardsHandlers) CreateSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUserID(w, r, "create_submission")
	if !ok {
		return
	}

	var req domain.CreateSubmissionRequest
	if isMultipart(r) {
		parsed, err := h.parseMultipartSubmission(r)
		if err != nil {
			h.handleServiceError(w, "create_submission", err)
			return
		}
		req = parsed
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	receipt, err := h.service.CreateSubmission(r.Context(), userID, req)
	if err != nil {
		if receipt != nil && receipt.Submission != nil && errors.Is(err, app.ErrPayloadBuildFailed) {
			h.writeJSON(w, http.StatusCreated, createSubmissionResponse{SubmissionReceipt: receipt, PayloadError: err.Error()})
			return
		}
		h.handleServiceError(w, "create_submission", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, createSubmissionResponse{SubmissionReceipt: receipt})
}

func (h *RewardsHandlers) parseMultipartSubmission(r *http.Request) (domain.CreateSubmissionRequest, error) {
	var req domain.CreateSubmissionRequest
	if err := r.ParseMultipartForm(imagestore.MaxImageBytes + (1 << 20)); err != nil {
		return req, &app.ValidationError{Field: "body", Message: "invalid multipart form"}
	}

	req.BinCode = r.FormValue("bin_code")
	req.ItemType = r.FormValue("item_type")
	req.Category = r.FormValue("category")
	if raw := strings.TrimSpace(r.FormValue("quantity")); raw != "" {
		quantity, err := strconv.Atoi(raw)
		if err != nil {
			return req, &app.ValidationError{Field: "quantity", Message: "must be a positive integer"}
		}
		req.Quantity = &quantity
	}

	file, _, err := r.FormFile(verificationImageField)
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return req, &app.ValidationError{Field: verificationImageField, Message: "could not be read"}
	}
	defer file.Close()

	if h.images == nil {
		return req, imagestore.ErrImageStoreDisabled
	}
	ref, err := h.images.Upload(r.Context(), file)
	if err != nil {
		return req, err
	}
	req.ImageRef = &ref
	return req, nil
}

// ListSubmissionsHandler lists the caller's submissions (page, limit, status).
func (h *RewardsHandlers) ListSubmissionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUserID(w, r, "list_submissions")
	if !ok {
		return
	}

	page, okPage := queryInt(r, "page", 1)
	limit, okLimit := queryInt(r, "limit", 0)
	if !okPage || !okLimit {
		h.writeError(w, http.StatusBadRequest, "page and limit must be integers")
		return
	}

	result, err := h.service.ListSubmissions(r.Context(), userID, page, limit, r.URL.Query().Get("status"))
	if err != nil {
		h.handleServiceError(w, "list_submissions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetSubmissionHandler returns one of the caller's submissions.
func (h *RewardsHandlers) GetSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	userID, submissionID, ok := h.submissionRequest(w, r, "get_submission")
	if !ok {
		return
	}

	sub, err := h.service.GetSubmission(r.Context(), userID, submissionID)
	if err != nil {
		h.handleServiceError(w, "get_submission", err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

// RebuildPayloadHandler rebuilds the unsigned payload of a pending submission.
func (h *RewardsHandlers) RebuildPayloadHandler(w http.ResponseWriter, r *http.Request) {
	userID, submissionID, ok := h.submissionRequest(w, r, "rebuild_payload")
	if !ok {
		return
	}

	receipt, err := h.service.RebuildPayload(r.Context(), userID, submissionID)
	if err != nil {
		h.handleServiceError(w, "rebuild_payload", err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

// SubmitTransactionHandler relays the externally signed payload.
func (h *RewardsHandlers) SubmitTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, submissionID, ok := h.submissionRequest(w, r, "submit_transaction")
	if !ok {
		return
	}

	var req domain.SubmitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub, err := h.service.SubmitSignedPayload(r.Context(), userID, submissionID, req.SignedPayload)
	if err != nil {
		h.handleServiceError(w, "submit_transaction", err)
		return
	}
	log.Printf("level=info component=api endpoint=submit_transaction outcome=submitted submission_id=%s", sub.ID)
	h.writeJSON(w, http.StatusOK, sub)
}

// VerifyTransactionHandler checks settlement of a submitted transaction.
func (h *RewardsHandlers) VerifyTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, submissionID, ok := h.submissionRequest(w, r, "verify_transaction")
	if !ok {
		return
	}

	result, err := h.service.VerifySubmission(r.Context(), userID, submissionID)
	if err != nil {
		h.handleServiceError(w, "verify_transaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *RewardsHandlers) submissionRequest(w http.ResponseWriter, r *http.Request, endpoint string) (uuid.UUID, uuid.UUID, bool) {
	submissionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid submission ID format")
		return uuid.Nil, uuid.Nil, false
	}
	userID, ok := h.resolveUserID(w, r, endpoint)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return userID, submissionID, true
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}
