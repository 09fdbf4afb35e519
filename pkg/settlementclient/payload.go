package settlementclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/internal/pricing"
	"golang.org/x/crypto/blake2b"
)

const payloadSchemaVersion = 1

// ErrUnsupportedItem is returned when a submission cannot be expressed as a settlement datum.
// It is the pricing sentinel, so callers classify build refusals like unpriceable items.
var ErrUnsupportedItem = pricing.ErrUnsupportedItem

var itemTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// recyclingDatum is the canonical record committed on the network. Field order is fixed
// by the struct, so encoding/json yields the same bytes for the same submission.
type recyclingDatum struct {
	Schema         int    `json:"schema"`
	Network        string `json:"network"`
	Contract       string `json:"contract"`
	SubmissionID   string `json:"submission_id"`
	UserID         string `json:"user_id"`
	BinID          string `json:"bin_id"`
	BinCode        string `json:"bin_code"`
	ItemType       string `json:"item_type"`
	Category       string `json:"category"`
	Quantity       int    `json:"quantity"`
	Points         int64  `json:"points"`
	PricingVersion string `json:"pricing_version"`
}

// BuildPayload constructs the unsigned settlement payload for a submission. It performs no I/O:
// the same submission always yields the same bytes and the same handle.
func (c *Client) BuildPayload(ctx context.Context, sub domain.Submission) (*domain.SettlementPayload, error) {
	itemType := strings.ToLower(strings.TrimSpace(sub.ItemType))
	if !itemTypePattern.MatchString(itemType) {
		return nil, fmt.Errorf("%w: item type %q", ErrUnsupportedItem, sub.ItemType)
	}
	if c.supported != nil {
		if _, ok := c.supported[itemType]; !ok {
			return nil, fmt.Errorf("%w: item type %q", ErrUnsupportedItem, sub.ItemType)
		}
	}
	if _, ok := domain.ParseWasteCategory(string(sub.Category)); !ok {
		return nil, fmt.Errorf("%w: category %q", ErrUnsupportedItem, sub.Category)
	}
	if sub.Quantity < 1 || sub.Points < 0 {
		return nil, fmt.Errorf("%w: quantity=%d points=%d", ErrUnsupportedItem, sub.Quantity, sub.Points)
	}
	if sub.ID == uuid.Nil || sub.UserID == uuid.Nil || sub.BinID == uuid.Nil {
		return nil, fmt.Errorf("%w: submission, user and bin ids are required", ErrUnsupportedItem)
	}

	raw, err := json.Marshal(recyclingDatum{
		Schema:         payloadSchemaVersion,
		Network:        c.Network,
		Contract:       c.ContractAddress,
		SubmissionID:   sub.ID.String(),
		UserID:         sub.UserID.String(),
		BinID:          sub.BinID.String(),
		BinCode:        sub.BinCode,
		ItemType:       itemType,
		Category:       string(sub.Category),
		Quantity:       sub.Quantity,
		Points:         sub.Points,
		PricingVersion: sub.PricingVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("encode settlement datum: %w", err)
	}

	digest := blake2b.Sum256(raw)
	return &domain.SettlementPayload{
		Handle:         domain.SettlementHandle(hex.EncodeToString(digest[:])),
		PayloadHex:     hex.EncodeToString(raw),
		Network:        c.Network,
		PricingVersion: sub.PricingVersion,
	}, nil
}
