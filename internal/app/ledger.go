package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/recyclr/rewards-service/internal/domain"
	"github.com/recyclr/rewards-service/internal/metrics"
	"github.com/recyclr/rewards-service/internal/store"
)

const (
	defaultHistoryPageSize = 20
	maxHistoryPageSize     = 100
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100

	awardDescription   = "Waste disposal reward"
	redeemDescription  = "Points redemption"
	penaltyDescription = "Reward reversed: settlement rejected"
	bonusDescription   = "Bonus points"
)

// Ledger is the points ledger: an append-only log of entries plus the per-user
// aggregate derived from it. Writes go through the repository, which commits each
// entry together with its aggregate change under a per-user lock.
type Ledger struct {
	repo   store.LedgerRepository
	events *eventPublisher
}

func NewLedger(repo store.LedgerRepository, events *eventPublisher) *Ledger {
	return &Ledger{repo: repo, events: events}
}

// Award credits points earned by a submission. It is idempotent per submission:
// a repeated call returns the existing entry and created=false without crediting.
func (l *Ledger) Award(ctx context.Context, userID uuid.UUID, points int64, submissionID uuid.UUID, description string) (*domain.LedgerEntry, bool, error) {
	if points <= 0 {
		return nil, false, store.ErrInvalidAmount
	}
	if strings.TrimSpace(description) == "" {
		description = awardDescription
	}

	entry, created, err := l.repo.CreditPoints(ctx, store.CreditPointsParams{
		UserID:       userID,
		Kind:         domain.LedgerEntryEarned,
		Points:       points,
		SubmissionID: &submissionID,
		Description:  description,
	})
	if err != nil {
		return nil, false, fmt.Errorf("award points: %w", err)
	}
	if created {
		metrics.RecordLedgerEntry(string(entry.Kind), entry.Delta)
		l.events.points(ctx, RoutingKeyPointsAwarded, entry)
		log.Printf("level=info component=ledger msg=\"points awarded\" user_id=%s submission_id=%s points=%d", userID, submissionID, points)
	}
	return entry, created, nil
}

// Deduct debits points from the available balance. It fails with
// store.ErrInsufficientBalance rather than ever driving the balance negative.
func (l *Ledger) Deduct(ctx context.Context, userID uuid.UUID, points int64, description string) (*domain.LedgerEntry, error) {
	if points <= 0 {
		return nil, store.ErrInvalidAmount
	}
	if strings.TrimSpace(description) == "" {
		description = redeemDescription
	}

	entry, _, err := l.repo.DebitPoints(ctx, store.DebitPointsParams{
		UserID:      userID,
		Kind:        domain.LedgerEntryRedeemed,
		Points:      points,
		Description: description,
	})
	if err != nil {
		return nil, fmt.Errorf("deduct points: %w", err)
	}
	metrics.RecordLedgerEntry(string(entry.Kind), entry.Delta)
	return entry, nil
}

// Redeem spends points on behalf of the user. Payout happens downstream from the
// points.redeemed event.
func (l *Ledger) Redeem(ctx context.Context, userID uuid.UUID, points int64) (*domain.LedgerEntry, error) {
	entry, err := l.Deduct(ctx, userID, points, redeemDescription)
	if err != nil {
		return nil, err
	}
	l.events.points(ctx, RoutingKeyPointsRedeemed, entry)
	log.Printf("level=info component=ledger msg=\"points redeemed\" user_id=%s points=%d", userID, points)
	return entry, nil
}

// GrantBonus credits points that are not tied to a submission.
func (l *Ledger) GrantBonus(ctx context.Context, userID uuid.UUID, points int64, description string) (*domain.LedgerEntry, error) {
	if userID == uuid.Nil {
		return nil, newValidationError("user_id", "is required")
	}
	if points <= 0 {
		return nil, store.ErrInvalidAmount
	}
	if strings.TrimSpace(description) == "" {
		description = bonusDescription
	}

	entry, _, err := l.repo.CreditPoints(ctx, store.CreditPointsParams{
		UserID:      userID,
		Kind:        domain.LedgerEntryBonus,
		Points:      points,
		Description: description,
	})
	if err != nil {
		return nil, fmt.Errorf("grant bonus: %w", err)
	}
	metrics.RecordLedgerEntry(string(entry.Kind), entry.Delta)
	l.events.points(ctx, RoutingKeyPointsBonus, entry)
	return entry, nil
}

// Penalize reverses a submission's award, clamped to what the user still has available.
// At most one penalty is ever written per submission. A nil entry means nothing was taken.
func (l *Ledger) Penalize(ctx context.Context, userID uuid.UUID, submissionID uuid.UUID, handle *domain.SettlementHandle, points int64, description string) (*domain.LedgerEntry, error) {
	if points <= 0 {
		return nil, nil
	}
	if strings.TrimSpace(description) == "" {
		description = penaltyDescription
	}

	entry, created, err := l.repo.DebitPoints(ctx, store.DebitPointsParams{
		UserID:           userID,
		Kind:             domain.LedgerEntryPenalty,
		Points:           points,
		SubmissionID:     &submissionID,
		Description:      description,
		SettlementHandle: handleString(handle),
		ClampToAvailable: true,
	})
	if err != nil {
		return nil, fmt.Errorf("penalize points: %w", err)
	}
	if created && entry != nil {
		metrics.RecordLedgerEntry(string(entry.Kind), entry.Delta)
		l.events.points(ctx, RoutingKeyPointsPenalized, entry)
		log.Printf("level=info component=ledger msg=\"award clawed back\" user_id=%s submission_id=%s points=%d", userID, submissionID, -entry.Delta)
	}
	return entry, nil
}

func handleString(handle *domain.SettlementHandle) *string {
	if handle == nil {
		return nil
	}
	h := handle.String()
	return &h
}

// Balance returns the user's aggregate, creating a zeroed one if absent.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (*domain.Balance, error) {
	return l.repo.GetOrCreateBalance(ctx, userID)
}

// History returns one page of the user's entries, newest first.
// page is 1-based; kind may be empty for no filter.
func (l *Ledger) History(ctx context.Context, userID uuid.UUID, page, pageSize int, kind string) (*domain.LedgerPage, error) {
	limit, offset := pageWindow(page, pageSize, defaultHistoryPageSize, maxHistoryPageSize)
	opts := domain.LedgerListOptions{Limit: limit, Offset: offset}

	if strings.TrimSpace(kind) != "" {
		parsed, ok := domain.ParseLedgerEntryKind(kind)
		if !ok {
			return nil, newValidationError("type", "must be one of earned, redeemed, bonus, penalty")
		}
		opts.Kind = &parsed
	}

	return l.repo.ListLedgerEntries(ctx, userID, opts)
}

// Leaderboard ranks users by lifetime points.
func (l *Ledger) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardSize
	}
	if limit > maxLeaderboardSize {
		limit = maxLeaderboardSize
	}
	return l.repo.ListLeaderboard(ctx, limit)
}

// pageWindow turns 1-based page/pageSize into a clamped limit/offset pair.
func pageWindow(page, pageSize, defaultSize, maxSize int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if pageSize > maxSize {
		pageSize = maxSize
	}
	return pageSize, (page - 1) * pageSize
}
