package pricing

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/recyclr/rewards-service/internal/domain"
)

func TestDefaultTablePoints(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		name     string
		category domain.WasteCategory
		itemType string
		quantity int
		want     int64
	}{
		{name: "smartphone standard", category: domain.CategoryStandard, itemType: "smartphone", quantity: 1, want: 20},
		{name: "phone battery floors half point", category: domain.CategoryBattery, itemType: "phone_battery", quantity: 3, want: 187},
		{name: "hazardous car battery", category: domain.CategoryHazardous, itemType: "car_battery", quantity: 1, want: 250},
		{name: "charger multiplier does not lose a point", category: domain.CategoryStandard, itemType: "phone_charger", quantity: 5, want: 60},
		{name: "item type is case insensitive", category: domain.CategoryStandard, itemType: " Laptop ", quantity: 2, want: 60},
		{name: "unknown item type uses multiplier one", category: domain.CategoryBattery, itemType: "toaster", quantity: 2, want: 50},
		{name: "unknown category uses lowest base", category: domain.WasteCategory("mystery"), itemType: "tablet", quantity: 1, want: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.Points(tt.category, tt.itemType, tt.quantity)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d points, got %d", tt.want, got)
			}
		})
	}
}

func TestPointsIsDeterministic(t *testing.T) {
	table := DefaultTable()
	first, _ := table.Points(domain.CategoryBattery, "laptop_battery", 7)
	for i := 0; i < 100; i++ {
		got, _ := table.Points(domain.CategoryBattery, "laptop_battery", 7)
		if got != first {
			t.Fatalf("expected %d on every call, got %d", first, got)
		}
	}
}

func TestPointsRejectsNonPositiveQuantity(t *testing.T) {
	table := DefaultTable()
	for _, quantity := range []int{0, -1} {
		if _, err := table.Points(domain.CategoryStandard, "smartphone", quantity); !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("quantity %d: expected ErrInvalidQuantity, got %v", quantity, err)
		}
	}
}

func TestPointsRejectsQuantityThatOverflows(t *testing.T) {
	table := DefaultTable()
	for _, quantity := range []int{math.MaxInt / 100, math.MaxInt} {
		points, err := table.Points(domain.CategoryHazardous, "car_battery", quantity)
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("quantity %d: expected ErrInvalidQuantity, got points=%d err=%v", quantity, points, err)
		}
	}

	points, err := table.Points(domain.CategoryHazardous, "car_battery", MaxQuantity)
	if err != nil {
		t.Fatalf("expected MaxQuantity to price, got %v", err)
	}
	if points != 2500000 {
		t.Fatalf("expected 2500000 points, got %d", points)
	}
}

func TestSupports(t *testing.T) {
	table := DefaultTable()
	if !table.Supports("ups_battery") {
		t.Fatalf("expected ups_battery to be supported")
	}
	if table.Supports("toaster") {
		t.Fatalf("expected toaster to be unsupported")
	}
	if got := len(table.SupportedItemTypes()); got != 28 {
		t.Fatalf("expected 28 supported item types, got %d", got)
	}
}

func TestLoadTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.json")
	body := `{"version":"v2","category_base":{"standard":12,"battery":30},"type_multipliers":{"Smartphone":2.5}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write table: %v", err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable returned error: %v", err)
	}
	if table.Version != "v2" {
		t.Fatalf("expected version v2, got %q", table.Version)
	}
	got, err := table.Points(domain.CategoryStandard, "smartphone", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 30 {
		t.Fatalf("expected 30 points, got %d", got)
	}
	// hazardous is absent from this table, so the lowest base applies
	got, _ = table.Points(domain.CategoryHazardous, "smartphone", 1)
	if got != 30 {
		t.Fatalf("expected lowest-base fallback of 30, got %d", got)
	}
}

func TestLoadTableRejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing version", body: `{"category_base":{"standard":10},"type_multipliers":{}}`},
		{name: "negative base", body: `{"version":"v9","category_base":{"standard":-1},"type_multipliers":{}}`},
		{name: "unknown category", body: `{"version":"v9","category_base":{"plastic":10},"type_multipliers":{}}`},
		{name: "zero multiplier", body: `{"version":"v9","category_base":{"standard":10},"type_multipliers":{"usb_cable":0}}`},
		{name: "malformed json", body: `{"version":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "pricing.json")
			if err := os.WriteFile(path, []byte(tt.body), 0o600); err != nil {
				t.Fatalf("write table: %v", err)
			}
			if _, err := LoadTable(path); !errors.Is(err, ErrInvalidTable) {
				t.Fatalf("expected ErrInvalidTable, got %v", err)
			}
		})
	}
}

func TestLoadTableEmptyPathUsesDefault(t *testing.T) {
	table, err := LoadTable("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Version != DefaultVersion {
		t.Fatalf("expected default version, got %q", table.Version)
	}
}
