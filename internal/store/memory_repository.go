package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/recyclr/rewards-service/internal/domain"
)

// MemoryRepository is an in-process Repository used for local runs (STORE_DRIVER=memory)
// and as the reference implementation in tests. Ledger writes lock one mutex per user.
type MemoryRepository struct {
	mu          sync.RWMutex
	users       map[string]uuid.UUID
	bins        map[string]domain.Bin
	submissions map[uuid.UUID]*domain.Submission

	ledgersMu sync.Mutex
	ledgers   map[uuid.UUID]*memoryLedger

	now func() time.Time
}

type memoryLedger struct {
	mu      sync.Mutex
	balance domain.Balance
	entries []domain.LedgerEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:       make(map[string]uuid.UUID),
		bins:        make(map[string]domain.Bin),
		submissions: make(map[uuid.UUID]*domain.Submission),
		ledgers:     make(map[uuid.UUID]*memoryLedger),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// PutBin adds or replaces a bin keyed by code.
func (m *MemoryRepository) PutBin(bin domain.Bin) {
	if bin.ID == uuid.Nil {
		bin.ID = uuid.New()
	}
	if bin.Status == "" {
		bin.Status = domain.BinStatusActive
	}
	bin.AcceptedItemTypes = append([]string(nil), bin.AcceptedItemTypes...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bins[strings.TrimSpace(bin.Code)] = bin
}

// LoadBins reads a JSON array of bins, the format used to seed either store.
func LoadBins(path string) ([]domain.Bin, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bin seed: %w", err)
	}
	var bins []domain.Bin
	if err := json.Unmarshal(raw, &bins); err != nil {
		return nil, fmt.Errorf("decode bin seed: %w", err)
	}
	for i := range bins {
		if strings.TrimSpace(bins[i].Code) == "" {
			return nil, fmt.Errorf("decode bin seed: bin %d has no code", i)
		}
	}
	return bins, nil
}

func (m *MemoryRepository) FindOrCreateUserIDByClerkUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error) {
	clerkUserID = strings.TrimSpace(clerkUserID)
	if clerkUserID == "" {
		return uuid.Nil, ErrUserNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.users[clerkUserID]; ok {
		return id, nil
	}
	id := uuid.New()
	m.users[clerkUserID] = id
	return id, nil
}

func (m *MemoryRepository) FindBinByCode(ctx context.Context, code string) (*domain.Bin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bin, ok := m.bins[strings.TrimSpace(code)]
	if !ok {
		return nil, ErrBinNotFound
	}
	bin.AcceptedItemTypes = append([]string(nil), bin.AcceptedItemTypes...)
	return &bin, nil
}

func (m *MemoryRepository) CreateSubmission(ctx context.Context, params CreateSubmissionParams) (*domain.Submission, error) {
	now := m.now()
	sub := &domain.Submission{
		ID:             uuid.New(),
		UserID:         params.UserID,
		BinID:          params.BinID,
		BinCode:        params.BinCode,
		ItemType:       params.ItemType,
		Category:       params.Category,
		Quantity:       params.Quantity,
		Points:         params.Points,
		PricingVersion: params.PricingVersion,
		ImageRef:       params.ImageRef,
		Status:         domain.SubmissionStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[sub.ID] = sub
	return copySubmission(sub), nil
}

func (m *MemoryRepository) FindSubmissionByID(ctx context.Context, submissionID uuid.UUID) (*domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.submissions[submissionID]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	return copySubmission(sub), nil
}

func (m *MemoryRepository) FindSubmissionBySettlementHandle(ctx context.Context, handle domain.SettlementHandle) (*domain.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *domain.Submission
	for _, sub := range m.submissions {
		if sub.SettlementHandle == nil || *sub.SettlementHandle != handle {
			continue
		}
		if found == nil || sub.CreatedAt.After(found.CreatedAt) {
			found = sub
		}
	}
	if found == nil {
		return nil, ErrSubmissionNotFound
	}
	return copySubmission(found), nil
}

func (m *MemoryRepository) ListSubmissionsByUser(ctx context.Context, userID uuid.UUID, opts domain.SubmissionListOptions) (*domain.SubmissionPage, error) {
	m.mu.RLock()
	var matched []domain.Submission
	for _, sub := range m.submissions {
		if sub.UserID != userID {
			continue
		}
		if opts.Status != nil && sub.Status != *opts.Status {
			continue
		}
		matched = append(matched, *copySubmission(sub))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() > matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return &domain.SubmissionPage{
		Submissions: window(matched, opts.Limit, opts.Offset),
		Pagination:  domain.NewPagination(opts.Limit, opts.Offset, int64(len(matched))),
	}, nil
}

func (m *MemoryRepository) ListSubmittedSubmissions(ctx context.Context, limit int) ([]domain.Submission, error) {
	m.mu.RLock()
	var matched []domain.Submission
	for _, sub := range m.submissions {
		if sub.Status == domain.SubmissionStatusSubmitted {
			matched = append(matched, *copySubmission(sub))
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return submittedAt(matched[i]).Before(submittedAt(matched[j]))
	})
	return window(matched, limit, 0), nil
}

func (m *MemoryRepository) AttachSettlementHandle(ctx context.Context, submissionID uuid.UUID, handle domain.SettlementHandle) (*domain.Submission, error) {
	sub, _, err := m.transition(submissionID, domain.SubmissionStatusPending, domain.SubmissionStatusPending, func(sub *domain.Submission) {
		h := handle
		sub.SettlementHandle = &h
	})
	return sub, err
}

func (m *MemoryRepository) RecordSubmissionFailure(ctx context.Context, submissionID uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[submissionID]
	if !ok {
		return ErrSubmissionNotFound
	}
	if sub.Status == domain.SubmissionStatusPending {
		r := reason
		sub.FailureReason = &r
		sub.UpdatedAt = m.now()
	}
	return nil
}

func (m *MemoryRepository) MarkSubmissionSubmitted(ctx context.Context, submissionID uuid.UUID, handle domain.SettlementHandle) (*domain.Submission, error) {
	sub, _, err := m.transition(submissionID, domain.SubmissionStatusPending, domain.SubmissionStatusSubmitted, func(sub *domain.Submission) {
		h := handle
		now := m.now()
		sub.SettlementHandle = &h
		sub.FailureReason = nil
		sub.SubmittedAt = &now
	})
	return sub, err
}

func (m *MemoryRepository) MarkSubmissionSettled(ctx context.Context, submissionID uuid.UUID) (*domain.Submission, bool, error) {
	return m.transition(submissionID, domain.SubmissionStatusSubmitted, domain.SubmissionStatusSettled, func(sub *domain.Submission) {
		now := m.now()
		sub.SettledAt = &now
	})
}

func (m *MemoryRepository) MarkSubmissionRejected(ctx context.Context, submissionID uuid.UUID, reason string) (*domain.Submission, bool, error) {
	return m.transition(submissionID, domain.SubmissionStatusSubmitted, domain.SubmissionStatusRejected, func(sub *domain.Submission) {
		r := reason
		sub.FailureReason = &r
	})
}

// transition mirrors the conditional UPDATE ... WHERE status = expected of the Postgres store.
func (m *MemoryRepository) transition(submissionID uuid.UUID, expected, target domain.SubmissionStatus, apply func(*domain.Submission)) (*domain.Submission, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[submissionID]
	if !ok {
		return nil, false, ErrSubmissionNotFound
	}
	if sub.Status != expected {
		return resolveMissedTransition(copySubmission(sub), target)
	}
	apply(sub)
	sub.Status = target
	sub.UpdatedAt = m.now()
	return copySubmission(sub), true, nil
}

func (m *MemoryRepository) ledgerFor(userID uuid.UUID) *memoryLedger {
	m.ledgersMu.Lock()
	defer m.ledgersMu.Unlock()
	ledger, ok := m.ledgers[userID]
	if !ok {
		ledger = &memoryLedger{balance: domain.Balance{UserID: userID, UpdatedAt: m.now()}}
		m.ledgers[userID] = ledger
	}
	return ledger
}

func (l *memoryLedger) findForSubmission(submissionID uuid.UUID, kind domain.LedgerEntryKind) *domain.LedgerEntry {
	for i := range l.entries {
		entry := l.entries[i]
		if entry.Kind == kind && entry.SubmissionID != nil && *entry.SubmissionID == submissionID {
			return &entry
		}
	}
	return nil
}

func (m *MemoryRepository) CreditPoints(ctx context.Context, params CreditPointsParams) (*domain.LedgerEntry, bool, error) {
	if err := validateCredit(params); err != nil {
		return nil, false, err
	}

	ledger := m.ledgerFor(params.UserID)
	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	if uniquePerSubmission(params.Kind, params.SubmissionID) {
		if existing := ledger.findForSubmission(*params.SubmissionID, params.Kind); existing != nil {
			return existing, false, nil
		}
	}

	entry := m.newEntry(params.UserID, params.Kind, params.Points, params.SubmissionID, params.Description, nil)
	ledger.entries = append(ledger.entries, entry)
	ledger.balance.Total += params.Points
	ledger.balance.Available += params.Points
	ledger.balance.Lifetime += params.Points
	ledger.balance.UpdatedAt = entry.CreatedAt
	return &entry, true, nil
}

func (m *MemoryRepository) DebitPoints(ctx context.Context, params DebitPointsParams) (*domain.LedgerEntry, bool, error) {
	if err := validateDebit(params); err != nil {
		return nil, false, err
	}

	ledger := m.ledgerFor(params.UserID)
	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	if uniquePerSubmission(params.Kind, params.SubmissionID) {
		if existing := ledger.findForSubmission(*params.SubmissionID, params.Kind); existing != nil {
			return existing, false, nil
		}
	}

	amount, err := debitAmount(ledger.balance.Available, params)
	if err != nil || amount == 0 {
		return nil, false, err
	}

	entry := m.newEntry(params.UserID, params.Kind, -amount, params.SubmissionID, params.Description, params.SettlementHandle)
	ledger.entries = append(ledger.entries, entry)
	ledger.balance.Total -= amount
	ledger.balance.Available -= amount
	ledger.balance.UpdatedAt = entry.CreatedAt
	return &entry, true, nil
}

func (m *MemoryRepository) newEntry(userID uuid.UUID, kind domain.LedgerEntryKind, delta int64, submissionID *uuid.UUID, description string, handle *string) domain.LedgerEntry {
	entry := domain.LedgerEntry{
		ID:          uuid.New(),
		UserID:      userID,
		Kind:        kind,
		Delta:       delta,
		Description: description,
		CreatedAt:   m.now(),
	}
	if submissionID != nil {
		id := *submissionID
		entry.SubmissionID = &id
	}
	if handle != nil {
		h := *handle
		entry.SettlementHandle = &h
	}
	return entry
}

func (m *MemoryRepository) GetOrCreateBalance(ctx context.Context, userID uuid.UUID) (*domain.Balance, error) {
	ledger := m.ledgerFor(userID)
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	balance := ledger.balance
	return &balance, nil
}

func (m *MemoryRepository) ListLedgerEntries(ctx context.Context, userID uuid.UUID, opts domain.LedgerListOptions) (*domain.LedgerPage, error) {
	ledger := m.ledgerFor(userID)
	ledger.mu.Lock()
	var matched []domain.LedgerEntry
	// entries are appended in commit order, so walking backwards yields newest first
	for i := len(ledger.entries) - 1; i >= 0; i-- {
		entry := ledger.entries[i]
		if opts.Kind != nil && entry.Kind != *opts.Kind {
			continue
		}
		matched = append(matched, entry)
	}
	ledger.mu.Unlock()

	return &domain.LedgerPage{
		Entries:    window(matched, opts.Limit, opts.Offset),
		Pagination: domain.NewPagination(opts.Limit, opts.Offset, int64(len(matched))),
	}, nil
}

func (m *MemoryRepository) ListLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	m.ledgersMu.Lock()
	ledgers := make([]*memoryLedger, 0, len(m.ledgers))
	for _, ledger := range m.ledgers {
		ledgers = append(ledgers, ledger)
	}
	m.ledgersMu.Unlock()

	var entries []domain.LeaderboardEntry
	for _, ledger := range ledgers {
		ledger.mu.Lock()
		balance := ledger.balance
		ledger.mu.Unlock()
		if balance.Lifetime <= 0 {
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{
			UserID:         balance.UserID,
			LifetimePoints: balance.Lifetime,
			TotalPoints:    balance.Total,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LifetimePoints == entries[j].LifetimePoints {
			return entries[i].UserID.String() < entries[j].UserID.String()
		}
		return entries[i].LifetimePoints > entries[j].LifetimePoints
	})
	entries = window(entries, limit, 0)
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func submittedAt(sub domain.Submission) time.Time {
	if sub.SubmittedAt != nil {
		return *sub.SubmittedAt
	}
	return sub.CreatedAt
}

func copySubmission(sub *domain.Submission) *domain.Submission {
	c := *sub
	if sub.ImageRef != nil {
		v := *sub.ImageRef
		c.ImageRef = &v
	}
	if sub.SettlementHandle != nil {
		v := *sub.SettlementHandle
		c.SettlementHandle = &v
	}
	if sub.FailureReason != nil {
		v := *sub.FailureReason
		c.FailureReason = &v
	}
	if sub.SubmittedAt != nil {
		v := *sub.SubmittedAt
		c.SubmittedAt = &v
	}
	if sub.SettledAt != nil {
		v := *sub.SettledAt
		c.SettledAt = &v
	}
	return &c
}
