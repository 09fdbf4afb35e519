package app

import (
	"errors"
	"fmt"

	"github.com/recyclr/rewards-service/internal/pricing"
)

var (
	ErrItemNotAccepted     = errors.New("bin does not accept this item type")
	ErrUnsupportedItem     = pricing.ErrUnsupportedItem
	ErrInvalidQuantity     = pricing.ErrInvalidQuantity
	ErrSettlementTransport = errors.New("settlement network unreachable")
	ErrSettlementRejected  = errors.New("settlement rejected by network")
	// ErrSubmitRefused means the network refused a signed payload at submit time.
	// The submission stays pending and may be signed and submitted again.
	ErrSubmitRefused      = errors.New("settlement network refused the signed payload")
	ErrPayloadBuildFailed = errors.New("settlement payload could not be built")
	ErrPayloadNotBuilt    = errors.New("settlement payload has not been built for this submission")
	ErrRateLimited        = errors.New("too many submissions")
)

// ValidationError reports a malformed field in caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// RateLimitError is returned when a user exceeds the submission rate.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s; retry after %ds", ErrRateLimited.Error(), e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// explicitRejection is implemented by gateway errors that carry a definitive refusal
// from the settlement network, as opposed to a transport failure.
type explicitRejection interface {
	error
	IsExplicitRejection() bool
}

func asExplicitRejection(err error) (explicitRejection, bool) {
	var rej explicitRejection
	if errors.As(err, &rej) && rej.IsExplicitRejection() {
		return rej, true
	}
	return nil, false
}

// rejectionReason extracts a short reason string from an explicit rejection error.
func rejectionReason(err error) string {
	var withReason interface{ RejectionReason() string }
	if errors.As(err, &withReason) {
		if reason := withReason.RejectionReason(); reason != "" {
			return reason
		}
	}
	return "rejected_by_network"
}
