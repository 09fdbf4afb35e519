package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/internal/pricing"
	"github.com/recyclr/rewards-service/internal/store"
)

const testBinCode = "BIN-001"

// gatewayStub is a scripted settlement network.
type gatewayStub struct {
	mu sync.Mutex

	buildErr error

	submitResults []*domain.SettlementResult
	submitErrs    []error
	submitCalls   int

	verifyConfirmed bool
	verifyErr       error
	verifyCalls     int
}

func (g *gatewayStub) BuildPayload(ctx context.Context, sub domain.Submission) (*domain.SettlementPayload, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.buildErr != nil {
		return nil, g.buildErr
	}
	return &domain.SettlementPayload{
		Handle:         domain.SettlementHandle("payload-" + sub.ID.String()),
		PayloadHex:     "7b7d",
		Network:        "testnet",
		PricingVersion: sub.PricingVersion,
	}, nil
}

func (g *gatewayStub) Submit(ctx context.Context, signedPayload string) (*domain.SettlementResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	call := g.submitCalls
	g.submitCalls++

	if call < len(g.submitErrs) && g.submitErrs[call] != nil {
		return nil, g.submitErrs[call]
	}
	if call < len(g.submitResults) && g.submitResults[call] != nil {
		return g.submitResults[call], nil
	}
	return &domain.SettlementResult{Handle: domain.SettlementHandle("tx-" + signedPayload), Success: true}, nil
}

func (g *gatewayStub) Verify(ctx context.Context, handle domain.SettlementHandle) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	return g.verifyConfirmed, g.verifyErr
}

// rejectionErr mimics the settlement client's explicit refusal error.
type rejectionErr struct{ reason string }

func (e *rejectionErr) Error() string             { return "settlement api error: " + e.reason }
func (e *rejectionErr) IsExplicitRejection() bool { return true }
func (e *rejectionErr) RejectionReason() string   { return e.reason }

// publisherStub records published routing keys.
type publisherStub struct {
	mu          sync.Mutex
	routingKeys []string
	err         error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routingKeys = append(p.routingKeys, routingKey)
	return p.err
}

func (p *publisherStub) Close() {}

func (p *publisherStub) count(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, key := range p.routingKeys {
		if key == routingKey {
			n++
		}
	}
	return n
}

type testHarness struct {
	service   *Service
	repo      *store.MemoryRepository
	gateway   *gatewayStub
	publisher *publisherStub
	userID    uuid.UUID
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	repo := store.NewMemoryRepository()
	repo.PutBin(domain.Bin{
		Code:              testBinCode,
		Name:              "Campus Library",
		AcceptedItemTypes: []string{"smartphone", "laptop", "phone_battery", "usb_cable", "paint_can"},
		Status:            domain.BinStatusActive,
	})
	repo.PutBin(domain.Bin{
		Code:              "BIN-RETIRED",
		AcceptedItemTypes: []string{"smartphone"},
		Status:            domain.BinStatusRetired,
	})

	gateway := &gatewayStub{}
	publisher := &publisherStub{}
	service := NewService(repo, pricing.DefaultTable(), gateway, publisher, "")

	userID, err := repo.FindOrCreateUserIDByClerkUserID(context.Background(), "user_"+uuid.NewString())
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	return &testHarness{service: service, repo: repo, gateway: gateway, publisher: publisher, userID: userID}
}

func intPtr(v int) *int { return &v }

func (h *testHarness) createSubmission(t *testing.T, itemType, category string, quantity int) *domain.SubmissionReceipt {
	t.Helper()
	receipt, err := h.service.CreateSubmission(context.Background(), h.userID, domain.CreateSubmissionRequest{
		BinCode:  testBinCode,
		ItemType: itemType,
		Category: category,
		Quantity: intPtr(quantity),
	})
	if err != nil {
		t.Fatalf("expected submission to be created, got %v", err)
	}
	return receipt
}

func (h *testHarness) submitted(t *testing.T) *domain.Submission {
	t.Helper()
	receipt := h.createSubmission(t, "smartphone", "standard", 1)
	sub, err := h.service.SubmitSignedPayload(context.Background(), h.userID, receipt.Submission.ID, "signed-"+receipt.Submission.ID.String())
	if err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	return sub
}

func (h *testHarness) balance(t *testing.T) *domain.Balance {
	t.Helper()
	balance, err := h.service.Ledger().Balance(context.Background(), h.userID)
	if err != nil {
		t.Fatalf("failed to load balance: %v", err)
	}
	return balance
}

func (h *testHarness) history(t *testing.T) []domain.LedgerEntry {
	t.Helper()
	page, err := h.service.Ledger().History(context.Background(), h.userID, 1, 100, "")
	if err != nil {
		t.Fatalf("failed to load history: %v", err)
	}
	return page.Entries
}

// assertReconciled checks that the aggregate equals the signed sum of the log.
func assertReconciled(t *testing.T, balance *domain.Balance, entries []domain.LedgerEntry) {
	t.Helper()
	var sum, lifetime int64
	for _, entry := range entries {
		sum += entry.Delta
		if entry.Kind.IsCredit() {
			lifetime += entry.Delta
		}
	}
	if balance.Total != sum || balance.Available != sum {
		t.Fatalf("expected total and available %d, got total=%d available=%d", sum, balance.Total, balance.Available)
	}
	if balance.Lifetime != lifetime {
		t.Fatalf("expected lifetime %d, got %d", lifetime, balance.Lifetime)
	}
}

var errTransport = errors.New("dial tcp: connection refused")
