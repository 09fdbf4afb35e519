package domain

import (
	"strings"

	"github.com/google/uuid"
)

type BinStatus string

const (
	BinStatusActive      BinStatus = "active"
	BinStatusMaintenance BinStatus = "maintenance"
	BinStatusRetired     BinStatus = "retired"
)

// Bin is a physical collection point. The rewards pipeline only reads bins.
type Bin struct {
	ID                uuid.UUID `json:"id"`
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	Latitude          *float64  `json:"latitude,omitempty"`
	Longitude         *float64  `json:"longitude,omitempty"`
	AcceptedItemTypes []string  `json:"accepted_item_types"`
	Status            BinStatus `json:"status"`
}

// Accepts reports whether the bin takes the given item type.
func (b *Bin) Accepts(itemType string) bool {
	normalized := strings.ToLower(strings.TrimSpace(itemType))
	for _, accepted := range b.AcceptedItemTypes {
		if strings.ToLower(strings.TrimSpace(accepted)) == normalized {
			return true
		}
	}
	return false
}
