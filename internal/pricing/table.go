/**
 * @description
 * Package pricing turns a recycled item into a whole number of reward points.
 * A Table is immutable once built and is injected into the orchestrator; every
 * submission records the version of the table that priced it.
 *
 * @notes
 * - Policy: floor(categoryBase[category] * typeMultiplier[itemType] * quantity).
 * - Unknown categories fall back to the lowest base, unknown item types to 1.0.
 */
package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/recyclr/rewards-service/internal/domain"
)

const DefaultVersion = "v1"

// MaxQuantity bounds the units a single submission may claim.
const MaxQuantity = 10000

// maxPoints keeps every award exactly representable as a float64 and far from int64 overflow
// once summed into balances.
const maxPoints = 1 << 53

var (
	ErrUnsupportedItem = errors.New("unsupported item type")
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	ErrInvalidTable    = errors.New("invalid pricing table")
)

// floor tolerance for products such as 10 * 1.2 * 5 that land a hair below the integer.
const epsilon = 1e-9

// Table maps (category, item type, quantity) to points.
type Table struct {
	Version         string                           `json:"version"`
	CategoryBase    map[domain.WasteCategory]float64 `json:"category_base"`
	TypeMultipliers map[string]float64               `json:"type_multipliers"`
}

// DefaultTable returns the built-in v1 table. The item types listed here are the ones
// the settlement contract can record.
func DefaultTable() *Table {
	return &Table{
		Version: DefaultVersion,
		CategoryBase: map[domain.WasteCategory]float64{
			domain.CategoryStandard:  10,
			domain.CategoryBattery:   25,
			domain.CategoryHazardous: 50,
		},
		TypeMultipliers: map[string]float64{
			// cables and accessories
			"usb_cable":      1.0,
			"phone_charger":  1.2,
			"laptop_charger": 1.5,
			"hdmi_cable":     1.0,
			"audio_cable":    1.0,
			// small electronics
			"headphones":        1.2,
			"earbuds":           1.0,
			"bluetooth_speaker": 1.8,
			"computer_mouse":    1.0,
			"keyboard":          1.2,
			"remote_control":    1.0,
			"calculator":        1.0,
			// mobile devices
			"smartphone":        2.0,
			"basic_phone":       1.5,
			"smartwatch":        1.8,
			"fitness_tracker":   1.5,
			"portable_speaker":  1.5,
			"gaming_controller": 1.8,
			// large electronics
			"tablet":           2.5,
			"laptop":           3.0,
			"desktop_computer": 4.0,
			"monitor":          3.5,
			"printer":          3.0,
			// batteries
			"phone_battery":  2.5,
			"laptop_battery": 3.5,
			"power_bank":     2.0,
			"car_battery":    5.0,
			"ups_battery":    4.0,
		},
	}
}

// LoadTable reads a table from a JSON file. An empty path yields the default table.
func LoadTable(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTable(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing table: %w", err)
	}

	var table Table
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if err := table.normalize(); err != nil {
		return nil, err
	}
	return &table, nil
}

func (t *Table) normalize() error {
	t.Version = strings.TrimSpace(t.Version)
	if t.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidTable)
	}
	if len(t.CategoryBase) == 0 {
		return fmt.Errorf("%w: at least one category base is required", ErrInvalidTable)
	}
	for category, base := range t.CategoryBase {
		if _, ok := domain.ParseWasteCategory(string(category)); !ok {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidTable, category)
		}
		if base <= 0 {
			return fmt.Errorf("%w: base for %q must be positive", ErrInvalidTable, category)
		}
	}

	multipliers := make(map[string]float64, len(t.TypeMultipliers))
	for itemType, multiplier := range t.TypeMultipliers {
		key := normalizeItemType(itemType)
		if key == "" {
			return fmt.Errorf("%w: empty item type", ErrInvalidTable)
		}
		if multiplier <= 0 {
			return fmt.Errorf("%w: multiplier for %q must be positive", ErrInvalidTable, itemType)
		}
		multipliers[key] = multiplier
	}
	t.TypeMultipliers = multipliers
	return nil
}

// Points prices quantity units of itemType in category.
func (t *Table) Points(category domain.WasteCategory, itemType string, quantity int) (int64, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}

	base, ok := t.CategoryBase[category]
	if !ok {
		base = t.lowestBase()
	}
	multiplier, ok := t.TypeMultipliers[normalizeItemType(itemType)]
	if !ok {
		multiplier = 1.0
	}

	points := math.Floor(base*multiplier*float64(quantity) + epsilon)
	if math.IsNaN(points) || points < 0 || points > maxPoints {
		return 0, fmt.Errorf("%w: %d units of %s price out of range", ErrInvalidQuantity, quantity, itemType)
	}
	return int64(points), nil
}

// Supports reports whether itemType is in the supported set.
func (t *Table) Supports(itemType string) bool {
	_, ok := t.TypeMultipliers[normalizeItemType(itemType)]
	return ok
}

// SupportedItemTypes lists the supported item types in lexical order.
func (t *Table) SupportedItemTypes() []string {
	items := make([]string, 0, len(t.TypeMultipliers))
	for itemType := range t.TypeMultipliers {
		items = append(items, itemType)
	}
	sort.Strings(items)
	return items
}

func (t *Table) lowestBase() float64 {
	lowest := 0.0
	for _, base := range t.CategoryBase {
		if lowest == 0 || base < lowest {
			lowest = base
		}
	}
	return lowest
}

func normalizeItemType(itemType string) string {
	return strings.ToLower(strings.TrimSpace(itemType))
}
