/**
 * @description
 * This file contains the shared plumbing for the rewards-service HTTP handlers:
 * the handler struct, user resolution, and the mapping from service errors to
 * HTTP status codes. Handlers are responsible for parsing incoming requests, calling
 * the application service, and writing the HTTP response.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/store, pkg/imagestore: For service logic and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/recyclr/rewards-service/internal/app"
	"github.com/recyclr/rewards-service/internal/store"
	"github.com/recyclr/rewards-service/pkg/imagestore"
)

// ImageUploader stores a verification image and returns its reference.
type ImageUploader interface {
	Upload(ctx context.Context, r io.Reader) (string, error)
}

// RewardsHandlers holds the application service that handlers will use.
type RewardsHandlers struct {
	service *app.Service
	images  ImageUploader
}

// NewRewardsHandlers creates handlers. images may be nil when uploads are disabled.
func NewRewardsHandlers(service *app.Service, images ImageUploader) *RewardsHandlers {
	return &RewardsHandlers{service: service, images: images}
}

// resolveUserID maps the authenticated Clerk subject to the internal user id.
func (h *RewardsHandlers) resolveUserID(w http.ResponseWriter, r *http.Request, endpoint string) (uuid.UUID, bool) {
	clerkUserID, ok := GetClerkUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return uuid.Nil, false
	}

	userID, err := h.service.ResolveInternalUserID(r.Context(), clerkUserID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=user_resolution_failed clerk_user_id=%s err=%v", endpoint, clerkUserID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not resolve user")
		return uuid.Nil, false
	}
	return userID, true
}

// handleServiceError translates service errors into HTTP responses.
func (h *RewardsHandlers) handleServiceError(w http.ResponseWriter, endpoint string, err error) {
	var validationErr *app.ValidationError
	var rateErr *app.RateLimitError

	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, "Too many submissions, please try again later")
	case errors.Is(err, store.ErrBinNotFound):
		h.writeError(w, http.StatusNotFound, "Bin not found or not active")
	case errors.Is(err, store.ErrSubmissionNotFound):
		h.writeError(w, http.StatusNotFound, "Submission not found")
	case errors.Is(err, store.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, app.ErrItemNotAccepted):
		h.writeError(w, http.StatusUnprocessableEntity, "This bin does not accept the item type")
	case errors.Is(err, app.ErrUnsupportedItem):
		h.writeError(w, http.StatusUnprocessableEntity, "Item type is not supported")
	case errors.Is(err, app.ErrInvalidQuantity):
		h.writeError(w, http.StatusBadRequest, "Quantity is out of range")
	case errors.Is(err, store.ErrInvalidAmount), errors.Is(err, store.ErrInvalidLedgerKind):
		h.writeError(w, http.StatusBadRequest, "Points must be a positive whole number")
	case errors.Is(err, store.ErrInsufficientBalance):
		h.writeError(w, http.StatusUnprocessableEntity, "Insufficient points balance")
	case errors.Is(err, store.ErrInvalidStateTransition):
		h.writeError(w, http.StatusConflict, "Submission is not in a state that allows this action")
	case errors.Is(err, app.ErrPayloadNotBuilt):
		h.writeError(w, http.StatusConflict, "Settlement payload has not been built; rebuild it first")
	case errors.Is(err, app.ErrSubmitRefused):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrSettlementRejected):
		h.writeError(w, http.StatusUnprocessableEntity, "Settlement was rejected")
	case errors.Is(err, app.ErrSettlementTransport), errors.Is(err, app.ErrPayloadBuildFailed):
		log.Printf("level=warn component=api endpoint=%s outcome=upstream_failed err=%v", endpoint, err)
		h.writeError(w, http.StatusBadGateway, "Settlement network unavailable, please retry")
	case errors.Is(err, imagestore.ErrImageTooLarge):
		h.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, imagestore.ErrUnsupportedImage):
		h.writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, imagestore.ErrImageStoreDisabled):
		h.writeError(w, http.StatusServiceUnavailable, "Image uploads are not enabled")
	default:
		log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// queryInt reads an integer query parameter, returning fallback when absent.
func queryInt(r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}

// writeJSON is a helper for writing JSON responses.
func (h *RewardsHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data)
}

// writeError is a helper for writing JSON error responses.
func (h *RewardsHandlers) writeError(w http.ResponseWriter, status int, message string) {
	writeJSONError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
