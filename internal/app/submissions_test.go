package app

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/internal/pricing"
	"github.com/recyclr/rewards-service/internal/store"
	"github.com/recyclr/rewards-service/pkg/settlementclient"
)

func TestSubmissionLifecycleSettlesWithoutChangingBalance(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	receipt := h.createSubmission(t, "smartphone", "standard", 1)
	sub := receipt.Submission
	if sub.Points != 20 {
		t.Fatalf("expected 20 points, got %d", sub.Points)
	}
	if sub.Status != domain.SubmissionStatusPending {
		t.Fatalf("expected pending, got %s", sub.Status)
	}
	if sub.PricingVersion != "v1" {
		t.Fatalf("expected pricing version v1, got %q", sub.PricingVersion)
	}
	if receipt.Payload == nil || sub.SettlementHandle == nil || *sub.SettlementHandle != receipt.Payload.Handle {
		t.Fatalf("expected payload handle to be attached, got receipt=%+v", receipt)
	}
	if receipt.Award == nil || receipt.Award.Delta != 20 || receipt.Award.Kind != domain.LedgerEntryEarned {
		t.Fatalf("expected earned award of 20, got %+v", receipt.Award)
	}

	balance := h.balance(t)
	if balance.Total != 20 || balance.Available != 20 || balance.Lifetime != 20 {
		t.Fatalf("expected balance 20/20/20 after create, got %+v", balance)
	}

	submitted, err := h.service.SubmitSignedPayload(ctx, h.userID, sub.ID, "signed-blob")
	if err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	if submitted.Status != domain.SubmissionStatusSubmitted {
		t.Fatalf("expected submitted, got %s", submitted.Status)
	}
	if submitted.SettlementHandle == nil || *submitted.SettlementHandle != "tx-signed-blob" {
		t.Fatalf("expected handle to become the transaction id, got %v", submitted.SettlementHandle)
	}

	h.gateway.verifyConfirmed = true
	result, err := h.service.VerifySubmission(ctx, h.userID, sub.ID)
	if err != nil {
		t.Fatalf("expected verify to succeed, got %v", err)
	}
	if !result.Confirmed || result.Submission.Status != domain.SubmissionStatusSettled {
		t.Fatalf("expected settled submission, got %+v", result)
	}
	if result.Submission.SettledAt == nil {
		t.Fatalf("expected settled_at to be stamped")
	}

	balance = h.balance(t)
	if balance.Total != 20 || balance.Available != 20 || balance.Lifetime != 20 {
		t.Fatalf("expected balance unchanged at 20 after settlement, got %+v", balance)
	}
	assertReconciled(t, balance, h.history(t))

	for _, key := range []string{RoutingKeySubmissionCreated, RoutingKeySubmissionSubmitted, RoutingKeySubmissionSettled, RoutingKeyPointsAwarded} {
		if h.publisher.count(key) != 1 {
			t.Fatalf("expected one %s event, got %d", key, h.publisher.count(key))
		}
	}
}

func TestRefusedSubmitKeepsSubmissionPendingAndAllowsRetry(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.gateway.submitResults = []*domain.SettlementResult{{Success: false, Error: "invalid_signature"}}

	receipt := h.createSubmission(t, "smartphone", "standard", 1)
	id := receipt.Submission.ID

	_, err := h.service.SubmitSignedPayload(ctx, h.userID, id, "bad-signature")
	if !errors.Is(err, ErrSubmitRefused) {
		t.Fatalf("expected ErrSubmitRefused, got %v", err)
	}

	sub, err := h.service.GetSubmission(ctx, h.userID, id)
	if err != nil {
		t.Fatalf("failed to load submission: %v", err)
	}
	if sub.Status != domain.SubmissionStatusPending {
		t.Fatalf("expected pending after refusal, got %s", sub.Status)
	}
	if sub.FailureReason == nil || *sub.FailureReason != "invalid_signature" {
		t.Fatalf("expected failure reason to be recorded, got %v", sub.FailureReason)
	}

	submitted, err := h.service.SubmitSignedPayload(ctx, h.userID, id, "good-signature")
	if err != nil {
		t.Fatalf("expected second submit to succeed, got %v", err)
	}
	if submitted.Status != domain.SubmissionStatusSubmitted {
		t.Fatalf("expected submitted, got %s", submitted.Status)
	}
	if submitted.FailureReason != nil {
		t.Fatalf("expected failure reason to be cleared, got %q", *submitted.FailureReason)
	}

	entries := h.history(t)
	if len(entries) != 1 {
		t.Fatalf("expected a single ledger entry, got %d", len(entries))
	}
	if balance := h.balance(t); balance.Total != 20 {
		t.Fatalf("expected balance 20, got %d", balance.Total)
	}
}

func TestSubmitTransportFailureIsRetryable(t *testing.T) {
	h := newTestHarness(t)
	h.gateway.submitErrs = []error{errTransport}
	receipt := h.createSubmission(t, "laptop", "standard", 1)

	_, err := h.service.SubmitSignedPayload(context.Background(), h.userID, receipt.Submission.ID, "signed")
	if !errors.Is(err, ErrSettlementTransport) {
		t.Fatalf("expected ErrSettlementTransport, got %v", err)
	}

	sub, _ := h.service.GetSubmission(context.Background(), h.userID, receipt.Submission.ID)
	if sub.Status != domain.SubmissionStatusPending {
		t.Fatalf("expected pending after transport failure, got %s", sub.Status)
	}
}

func TestSubmitRequiresPendingSubmissionWithPayload(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	sub := h.submitted(t)
	if _, err := h.service.SubmitSignedPayload(ctx, h.userID, sub.ID, "again"); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition for resubmitting, got %v", err)
	}

	if _, err := h.service.SubmitSignedPayload(ctx, h.userID, sub.ID, "   "); err == nil {
		t.Fatalf("expected validation error for empty signed payload")
	} else {
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) || validationErr.Field != "signed_payload" {
			t.Fatalf("expected signed_payload validation error, got %v", err)
		}
	}

	if _, err := h.service.SubmitSignedPayload(ctx, uuid.New(), sub.ID, "signed"); !errors.Is(err, store.ErrSubmissionNotFound) {
		t.Fatalf("expected other users to get ErrSubmissionNotFound, got %v", err)
	}
}

func TestCreateSubmissionValidation(t *testing.T) {
	h := newTestHarness(t)

	tests := []struct {
		name    string
		req     domain.CreateSubmissionRequest
		wantErr error
		field   string
	}{
		{name: "missing bin", req: domain.CreateSubmissionRequest{ItemType: "smartphone", Category: "standard"}, field: "bin_code"},
		{name: "missing item", req: domain.CreateSubmissionRequest{BinCode: testBinCode, Category: "standard"}, field: "item_type"},
		{name: "bad category", req: domain.CreateSubmissionRequest{BinCode: testBinCode, ItemType: "smartphone", Category: "organic"}, field: "category"},
		{name: "zero quantity", req: domain.CreateSubmissionRequest{BinCode: testBinCode, ItemType: "smartphone", Category: "standard", Quantity: intPtr(0)}, field: "quantity"},
		{name: "negative quantity", req: domain.CreateSubmissionRequest{BinCode: testBinCode, ItemType: "smartphone", Category: "standard", Quantity: intPtr(-3)}, field: "quantity"},
		{name: "quantity above limit", req: domain.CreateSubmissionRequest{BinCode: testBinCode, ItemType: "smartphone", Category: "standard", Quantity: intPtr(pricing.MaxQuantity + 1)}, field: "quantity"},
		{name: "overflowing quantity", req: domain.CreateSubmissionRequest{BinCode: testBinCode, ItemType: "laptop", Category: "hazardous", Quantity: intPtr(math.MaxInt / 100)}, field: "quantity"},
		{name: "unknown bin", req: domain.CreateSubmissionRequest{BinCode: "NOPE", ItemType: "smartphone", Category: "standard"}, wantErr: store.ErrBinNotFound},
		{name: "retired bin", req: domain.CreateSubmissionRequest{BinCode: "BIN-RETIRED", ItemType: "smartphone", Category: "standard"}, wantErr: store.ErrBinNotFound},
		{name: "item not accepted", req: domain.CreateSubmissionRequest{BinCode: testBinCode, ItemType: "car_battery", Category: "battery"}, wantErr: ErrItemNotAccepted},
		{name: "unsupported item", req: domain.CreateSubmissionRequest{BinCode: testBinCode, ItemType: "paint_can", Category: "hazardous"}, wantErr: ErrUnsupportedItem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receipt, err := h.service.CreateSubmission(context.Background(), h.userID, tt.req)
			if err == nil {
				t.Fatalf("expected error, got receipt %+v", receipt)
			}
			if tt.field != "" {
				var validationErr *ValidationError
				if !errors.As(err, &validationErr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				if validationErr.Field != tt.field {
					t.Fatalf("expected field %q, got %q", tt.field, validationErr.Field)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if balance := h.balance(t); balance.Total != 0 {
		t.Fatalf("expected no points for failed submissions, got %d", balance.Total)
	}
	page, err := h.service.ListSubmissions(context.Background(), h.userID, 1, 10, "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if page.Pagination.Total != 0 {
		t.Fatalf("expected no persisted submissions, got %d", page.Pagination.Total)
	}
}

func TestQuotePointsRejectsOutOfRangeQuantity(t *testing.T) {
	h := newTestHarness(t)

	var validationErr *ValidationError
	if _, err := h.service.QuotePoints("car_battery", "hazardous", math.MaxInt/100); !errors.As(err, &validationErr) || validationErr.Field != "quantity" {
		t.Fatalf("expected quantity ValidationError, got %v", err)
	}
	points, err := h.service.QuotePoints("car_battery", "hazardous", pricing.MaxQuantity)
	if err != nil || points != 2500000 {
		t.Fatalf("expected 2500000 points at the limit, got %d err=%v", points, err)
	}
}

func TestCreateSubmissionDefaultsQuantityAndNormalizesItemType(t *testing.T) {
	h := newTestHarness(t)

	receipt, err := h.service.CreateSubmission(context.Background(), h.userID, domain.CreateSubmissionRequest{
		BinCode:  testBinCode,
		ItemType: "  Phone_Battery ",
		Category: "battery",
	})
	if err != nil {
		t.Fatalf("expected submission to be created, got %v", err)
	}
	if receipt.Submission.Quantity != 1 {
		t.Fatalf("expected quantity 1, got %d", receipt.Submission.Quantity)
	}
	if receipt.Submission.ItemType != "phone_battery" {
		t.Fatalf("expected normalized item type, got %q", receipt.Submission.ItemType)
	}
	if receipt.Submission.Points != 62 {
		t.Fatalf("expected 62 points, got %d", receipt.Submission.Points)
	}
}

func TestPayloadBuildFailureKeepsAwardAndRebuildDoesNotReaward(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.gateway.buildErr = errors.New("encoder unavailable")

	receipt, err := h.service.CreateSubmission(ctx, h.userID, domain.CreateSubmissionRequest{
		BinCode:  testBinCode,
		ItemType: "phone_battery",
		Category: "battery",
		Quantity: intPtr(3),
	})
	if !errors.Is(err, ErrPayloadBuildFailed) {
		t.Fatalf("expected ErrPayloadBuildFailed, got %v", err)
	}
	if receipt == nil || receipt.Submission == nil {
		t.Fatalf("expected submission to be returned alongside the error")
	}
	if receipt.Submission.Points != 187 {
		t.Fatalf("expected 187 points, got %d", receipt.Submission.Points)
	}
	if receipt.Submission.SettlementHandle != nil {
		t.Fatalf("expected no handle after failed build")
	}
	if balance := h.balance(t); balance.Total != 187 {
		t.Fatalf("expected provisional award to stand, got %d", balance.Total)
	}

	if _, err := h.service.SubmitSignedPayload(ctx, h.userID, receipt.Submission.ID, "signed"); !errors.Is(err, ErrPayloadNotBuilt) {
		t.Fatalf("expected ErrPayloadNotBuilt, got %v", err)
	}

	h.gateway.buildErr = nil
	rebuilt, err := h.service.RebuildPayload(ctx, h.userID, receipt.Submission.ID)
	if err != nil {
		t.Fatalf("expected rebuild to succeed, got %v", err)
	}
	if rebuilt.Payload == nil || rebuilt.Submission.SettlementHandle == nil {
		t.Fatalf("expected rebuilt payload and handle, got %+v", rebuilt)
	}

	entries := h.history(t)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one award entry, got %d", len(entries))
	}
	if balance := h.balance(t); balance.Total != 187 {
		t.Fatalf("expected balance to stay 187, got %d", balance.Total)
	}
}

func TestRebuildPayloadRejectsNonPending(t *testing.T) {
	h := newTestHarness(t)
	sub := h.submitted(t)

	if _, err := h.service.RebuildPayload(context.Background(), h.userID, sub.ID); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestListSubmissionsFiltersByStatus(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.createSubmission(t, "usb_cable", "standard", 1)
	h.createSubmission(t, "laptop", "standard", 1)
	h.submitted(t)

	page, err := h.service.ListSubmissions(ctx, h.userID, 1, 10, "pending")
	if err != nil {
		t.Fatalf("expected list to succeed, got %v", err)
	}
	if len(page.Submissions) != 2 || page.Pagination.Total != 2 {
		t.Fatalf("expected 2 pending submissions, got %d (total %d)", len(page.Submissions), page.Pagination.Total)
	}

	all, err := h.service.ListSubmissions(ctx, h.userID, 1, 2, "")
	if err != nil {
		t.Fatalf("expected list to succeed, got %v", err)
	}
	if all.Pagination.Total != 3 || all.Pagination.TotalPages != 2 || len(all.Submissions) != 2 {
		t.Fatalf("expected 3 total over 2 pages, got %+v", all.Pagination)
	}

	var validationErr *ValidationError
	if _, err := h.service.ListSubmissions(ctx, h.userID, 1, 10, "archived"); !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

type rateLimiterStub struct {
	count      int
	retryAfter int
	err        error
	calls      int
}

func (r *rateLimiterStub) ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error) {
	r.calls++
	return r.count, r.retryAfter, r.err
}

func TestCreateSubmissionRateLimit(t *testing.T) {
	h := newTestHarness(t)
	limiter := &rateLimiterStub{count: 6, retryAfter: 42}
	h.service.SetSubmissionRateLimiter(limiter, 5)

	_, err := h.service.CreateSubmission(context.Background(), h.userID, domain.CreateSubmissionRequest{BinCode: testBinCode, ItemType: "smartphone", Category: "standard"})
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rateErr.RetryAfterSeconds != 42 {
		t.Fatalf("expected retry after 42s, got %d", rateErr.RetryAfterSeconds)
	}

	limiter.count = 1
	limiter.err = errors.New("redis down")
	if _, err := h.service.CreateSubmission(context.Background(), h.userID, domain.CreateSubmissionRequest{BinCode: testBinCode, ItemType: "smartphone", Category: "standard"}); err != nil {
		t.Fatalf("expected limiter failure to fail open, got %v", err)
	}
}

func TestConcurrentSubmitOnlyOneWins(t *testing.T) {
	h := newTestHarness(t)
	receipt := h.createSubmission(t, "smartphone", "standard", 1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.service.SubmitSignedPayload(context.Background(), h.userID, receipt.Submission.ID, "signed"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful submit, got %d", successes)
	}
}

func TestSettlementClientRefusalIsUnsupportedItem(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	h.service.gateway = settlementclient.NewClient("http://127.0.0.1:0", "", "preprod", "addr_test1").
		WithSupportedItemTypes([]string{"laptop"})

	receipt, err := h.service.CreateSubmission(ctx, h.userID, domain.CreateSubmissionRequest{
		BinCode:  testBinCode,
		ItemType: "smartphone",
		Category: "standard",
	})
	if !errors.Is(err, ErrPayloadBuildFailed) || !errors.Is(err, ErrUnsupportedItem) {
		t.Fatalf("expected payload build failure classified as unsupported item, got %v", err)
	}
	if receipt == nil || receipt.Submission == nil || receipt.Submission.Status != domain.SubmissionStatusPending {
		t.Fatalf("expected pending submission in receipt, got %+v", receipt)
	}

	_, err = h.service.RebuildPayload(ctx, h.userID, receipt.Submission.ID)
	if !errors.Is(err, ErrUnsupportedItem) {
		t.Fatalf("expected rebuild to fail with ErrUnsupportedItem, got %v", err)
	}
	if balance := h.balance(t); balance.Total != 20 {
		t.Fatalf("expected single provisional award of 20, got %d", balance.Total)
	}
}
