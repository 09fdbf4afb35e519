package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/internal/store"
)

func TestAwardIsIdempotentPerSubmission(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	submissionID := uuid.New()

	first, created, err := h.service.Ledger().Award(ctx, h.userID, 40, submissionID, "")
	if err != nil || !created {
		t.Fatalf("expected first award to be created, got created=%v err=%v", created, err)
	}
	second, created, err := h.service.Ledger().Award(ctx, h.userID, 40, submissionID, "")
	if err != nil {
		t.Fatalf("expected repeated award to succeed, got %v", err)
	}
	if created {
		t.Fatalf("expected repeated award to be a no-op")
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing entry %s, got %s", first.ID, second.ID)
	}

	balance := h.balance(t)
	if balance.Total != 40 || balance.Lifetime != 40 {
		t.Fatalf("expected single credit of 40, got %+v", balance)
	}
	if h.publisher.count(RoutingKeyPointsAwarded) != 1 {
		t.Fatalf("expected one points.awarded event, got %d", h.publisher.count(RoutingKeyPointsAwarded))
	}
}

func TestAwardRejectsNonPositivePoints(t *testing.T) {
	h := newTestHarness(t)
	for _, points := range []int64{0, -5} {
		if _, _, err := h.service.Ledger().Award(context.Background(), h.userID, points, uuid.New(), ""); !errors.Is(err, store.ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %d, got %v", points, err)
		}
	}
}

func TestRedeemNeverOverspends(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	ledger := h.service.Ledger()

	if _, _, err := ledger.Award(ctx, h.userID, 100, uuid.New(), ""); err != nil {
		t.Fatalf("award failed: %v", err)
	}

	entry, err := ledger.Redeem(ctx, h.userID, 60)
	if err != nil {
		t.Fatalf("expected redeem to succeed, got %v", err)
	}
	if entry.Kind != domain.LedgerEntryRedeemed || entry.Delta != -60 {
		t.Fatalf("expected redeemed entry of -60, got %+v", entry)
	}

	if _, err := ledger.Redeem(ctx, h.userID, 41); !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := ledger.Redeem(ctx, h.userID, 0); !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	balance := h.balance(t)
	if balance.Total != 40 || balance.Available != 40 || balance.Lifetime != 100 {
		t.Fatalf("expected 40/40/100, got %+v", balance)
	}
	assertReconciled(t, balance, h.history(t))
	if h.publisher.count(RoutingKeyPointsRedeemed) != 1 {
		t.Fatalf("expected one points.redeemed event, got %d", h.publisher.count(RoutingKeyPointsRedeemed))
	}
}

func TestConcurrentDeductsStayWithinBalance(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	ledger := h.service.Ledger()

	if _, _, err := ledger.Award(ctx, h.userID, 250, uuid.New(), ""); err != nil {
		t.Fatalf("award failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Deduct(ctx, h.userID, 10, ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 25 {
		t.Fatalf("expected 25 successful deducts, got %d", succeeded)
	}
	balance := h.balance(t)
	if balance.Available != 0 {
		t.Fatalf("expected available 0, got %d", balance.Available)
	}
	assertReconciled(t, balance, h.history(t))
}

func TestGrantBonusCountsTowardsLifetime(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	entry, err := h.service.Ledger().GrantBonus(ctx, h.userID, 15, "")
	if err != nil {
		t.Fatalf("expected bonus to succeed, got %v", err)
	}
	if entry.Kind != domain.LedgerEntryBonus || entry.Description != bonusDescription {
		t.Fatalf("unexpected bonus entry %+v", entry)
	}
	if balance := h.balance(t); balance.Lifetime != 15 || balance.Available != 15 {
		t.Fatalf("expected bonus in lifetime and available, got %+v", balance)
	}

	var validationErr *ValidationError
	if _, err := h.service.Ledger().GrantBonus(ctx, uuid.Nil, 15, ""); !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error for missing user, got %v", err)
	}
}

func TestHistoryPaginationAndFilter(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	ledger := h.service.Ledger()

	for i := 0; i < 3; i++ {
		if _, _, err := ledger.Award(ctx, h.userID, 10, uuid.New(), ""); err != nil {
			t.Fatalf("award failed: %v", err)
		}
	}
	if _, err := ledger.Redeem(ctx, h.userID, 5); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}

	page, err := ledger.History(ctx, h.userID, 1, 2, "")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(page.Entries) != 2 || page.Pagination.Total != 4 || page.Pagination.TotalPages != 2 {
		t.Fatalf("unexpected first page %+v", page.Pagination)
	}
	if page.Entries[0].Kind != domain.LedgerEntryRedeemed {
		t.Fatalf("expected newest entry first, got %s", page.Entries[0].Kind)
	}

	earned, err := ledger.History(ctx, h.userID, 1, 10, "earned")
	if err != nil {
		t.Fatalf("filtered history failed: %v", err)
	}
	if earned.Pagination.Total != 3 {
		t.Fatalf("expected 3 earned entries, got %d", earned.Pagination.Total)
	}

	var validationErr *ValidationError
	if _, err := ledger.History(ctx, h.userID, 1, 10, "refund"); !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
}

func TestPageWindowClamps(t *testing.T) {
	tests := []struct {
		page, size         int
		wantLimit, wantOff int
	}{
		{page: 0, size: 0, wantLimit: 20, wantOff: 0},
		{page: 3, size: 10, wantLimit: 10, wantOff: 20},
		{page: 1, size: 1000, wantLimit: 100, wantOff: 0},
		{page: -2, size: 5, wantLimit: 5, wantOff: 0},
	}
	for _, tt := range tests {
		limit, offset := pageWindow(tt.page, tt.size, 20, 100)
		if limit != tt.wantLimit || offset != tt.wantOff {
			t.Fatalf("pageWindow(%d, %d): expected %d/%d, got %d/%d", tt.page, tt.size, tt.wantLimit, tt.wantOff, limit, offset)
		}
	}
}
