package gamification

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
)

type ledgerStub struct {
	balances map[uuid.UUID]*BalanceSnapshot
	log      []CoinTransaction
	applyErr error
}

func newLedgerStub() *ledgerStub {
	return &ledgerStub{balances: map[uuid.UUID]*BalanceSnapshot{}}
}

func (l *ledgerStub) snapshot(userID uuid.UUID) *BalanceSnapshot {
	if snap, ok := l.balances[userID]; ok {
		return snap
	}
	snap := &BalanceSnapshot{UserID: userID}
	l.balances[userID] = snap
	return snap
}

func (l *ledgerStub) Apply(_ context.Context, userID uuid.UUID, direction Direction, amount int64, reason string, kind SourceKind, sourceRef string) (*BalanceSnapshot, bool, error) {
	if l.applyErr != nil {
		return nil, false, l.applyErr
	}
	if amount <= 0 {
		return nil, false, ErrInvalidAmount
	}

	snap := l.snapshot(userID)
	if sourceRef != "" {
		for _, tx := range l.log {
			if tx.UserID == userID && tx.SourceKind == kind && tx.SourceRef != nil && *tx.SourceRef == sourceRef {
				if tx.Amount != amount || tx.Direction != direction {
					return nil, false, ErrDuplicateSource
				}
				return snap, false, nil
			}
		}
	}

	switch direction {
	case DirectionEarned:
		snap.TotalEarned += amount
	case DirectionSpent:
		if snap.CurrentBalance < amount {
			return nil, false, ErrInsufficientBalance
		}
		snap.TotalSpent += amount
	}
	snap.CurrentBalance = snap.TotalEarned - snap.TotalSpent

	tx := CoinTransaction{ID: uuid.New(), UserID: userID, Direction: direction, Amount: amount, Reason: reason, SourceKind: kind}
	if sourceRef != "" {
		ref := sourceRef
		tx.SourceRef = &ref
	}
	l.log = append(l.log, tx)
	return snap, true, nil
}

func (l *ledgerStub) GetBalance(_ context.Context, userID uuid.UUID) (*BalanceSnapshot, error) {
	return l.snapshot(userID), nil
}

func (l *ledgerStub) ListTransactions(_ context.Context, userID uuid.UUID, limit int) ([]CoinTransaction, error) {
	var txs []CoinTransaction
	for i := len(l.log) - 1; i >= 0 && len(txs) < limit; i-- {
		if l.log[i].UserID == userID {
			txs = append(txs, l.log[i])
		}
	}
	return txs, nil
}

func (l *ledgerStub) countBySource(kind SourceKind, ref string) int {
	count := 0
	for _, tx := range l.log {
		if tx.SourceKind == kind && tx.SourceRef != nil && *tx.SourceRef == ref {
			count++
		}
	}
	return count
}

// badgeStoreStub mirrors the production coupling: a completion transition
// writes the bonus award through the ledger.
type badgeStoreStub struct {
	active   []Badge
	progress map[string]BadgeProgress
	ledger   *ledgerStub
	applyErr error
}

func newBadgeStoreStub(ledger *ledgerStub, badges ...Badge) *badgeStoreStub {
	return &badgeStoreStub{active: badges, progress: map[string]BadgeProgress{}, ledger: ledger}
}

func progressKey(userID, badgeID uuid.UUID) string {
	return userID.String() + "/" + badgeID.String()
}

func (b *badgeStoreStub) ListActive(context.Context) ([]Badge, error) { return b.active, nil }

func (b *badgeStoreStub) GetByID(_ context.Context, badgeID uuid.UUID) (*Badge, error) {
	for _, badge := range b.active {
		if badge.ID == badgeID {
			return &badge, nil
		}
	}
	return nil, ErrBadgeNotFound
}

func (b *badgeStoreStub) Progress(_ context.Context, userID uuid.UUID) (map[uuid.UUID]BadgeProgress, error) {
	result := map[uuid.UUID]BadgeProgress{}
	for _, p := range b.progress {
		if p.UserID == userID {
			result[p.BadgeID] = p
		}
	}
	return result, nil
}

func (b *badgeStoreStub) ApplyProgress(ctx context.Context, userID uuid.UUID, badge Badge, value float64) (bool, error) {
	if b.applyErr != nil {
		return false, b.applyErr
	}

	key := progressKey(userID, badge.ID)
	if existing, ok := b.progress[key]; ok && existing.Completed {
		return false, nil
	}

	completed := value >= badge.CriteriaThreshold
	b.progress[key] = BadgeProgress{UserID: userID, BadgeID: badge.ID, ProgressValue: value, Completed: completed}

	transitioned := completed
	if completed && badge.CoinReward > 0 {
		_, applied, err := b.ledger.Apply(ctx, userID, DirectionEarned, badge.CoinReward,
			"Badge earned: "+badge.Name, SourceBadgeEarned, badge.ID.String())
		if err != nil {
			return false, err
		}
		transitioned = applied
	}
	return transitioned, nil
}

func (b *badgeStoreStub) UserBadges(_ context.Context, userID uuid.UUID) ([]UserBadge, error) {
	var badges []UserBadge
	for _, badge := range b.active {
		ub := UserBadge{Badge: badge}
		if p, ok := b.progress[progressKey(userID, badge.ID)]; ok {
			ub.ProgressValue = p.ProgressValue
			ub.Completed = p.Completed
		}
		badges = append(badges, ub)
	}
	return badges, nil
}

func newTestService(ledger *ledgerStub, badges *badgeStoreStub, evaluators map[CriteriaKind]EvaluatorFunc) *Service {
	engine := NewEngine(badges)
	for kind, fn := range evaluators {
		engine.Register(kind, fn)
	}
	return NewService(ledger, badges, engine)
}

func TestRecordActivityUnknownKind(t *testing.T) {
	ledger := newLedgerStub()
	svc := newTestService(ledger, newBadgeStoreStub(ledger), nil)

	_, err := svc.RecordActivity(context.Background(), uuid.New(), SourceKind("pet_the_dog"), "")
	if !errors.Is(err, ErrUnknownActivity) {
		t.Fatalf("expected ErrUnknownActivity, got %v", err)
	}
	if len(ledger.log) != 0 {
		t.Fatalf("expected no transactions, got %d", len(ledger.log))
	}
}

func TestRecordActivityAwardsCoins(t *testing.T) {
	ledger := newLedgerStub()
	svc := newTestService(ledger, newBadgeStoreStub(ledger), nil)
	userID := uuid.New()

	result, err := svc.RecordActivity(context.Background(), userID, SourceTestCompletion, "attempt-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if result.CoinsAwarded != 10 {
		t.Fatalf("expected 10 coins for test completion, got %d", result.CoinsAwarded)
	}
	if result.Balance.CurrentBalance != 10 {
		t.Fatalf("expected balance 10, got %d", result.Balance.CurrentBalance)
	}
}

func TestRecordActivityIdempotentReplay(t *testing.T) {
	ledger := newLedgerStub()
	svc := newTestService(ledger, newBadgeStoreStub(ledger), nil)
	userID := uuid.New()

	if _, err := svc.RecordActivity(context.Background(), userID, SourceTestCompletion, "attempt-42"); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	result, err := svc.RecordActivity(context.Background(), userID, SourceTestCompletion, "attempt-42")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if result.CoinsAwarded != 0 {
		t.Fatalf("expected zero coins on replay, got %d", result.CoinsAwarded)
	}
	if len(result.NewBadges) != 0 {
		t.Fatalf("expected no badges on replay, got %v", result.NewBadges)
	}
	if got := ledger.countBySource(SourceTestCompletion, "attempt-42"); got != 1 {
		t.Fatalf("expected exactly one transaction, got %d", got)
	}
	if ledger.snapshot(userID).CurrentBalance != 10 {
		t.Fatalf("expected balance 10 after replay, got %d", ledger.snapshot(userID).CurrentBalance)
	}
}

// The spec scenario: a 95% test completion pays the activity reward, then
// the "Math Champ" badge (threshold 90, reward 25) transitions and pays
// exactly once.
func TestRecordActivityEarnsBadge(t *testing.T) {
	ledger := newLedgerStub()
	mathChamp := Badge{ID: uuid.New(), Name: "Math Champ", CriteriaKind: CriteriaTestScore, CriteriaThreshold: 90, CoinReward: 25, Active: true}
	badges := newBadgeStoreStub(ledger, mathChamp)

	score := 95.0
	svc := newTestService(ledger, badges, map[CriteriaKind]EvaluatorFunc{
		CriteriaTestScore: func(context.Context, uuid.UUID) (float64, error) { return score, nil },
	})
	userID := uuid.New()

	result, err := svc.RecordActivity(context.Background(), userID, SourceTestCompletion, "T1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if result.CoinsAwarded != 10 {
		t.Fatalf("expected 10 activity coins, got %d", result.CoinsAwarded)
	}
	if len(result.NewBadges) != 1 || result.NewBadges[0] != mathChamp.ID {
		t.Fatalf("expected Math Champ in new badges, got %v", result.NewBadges)
	}
	if result.Balance.CurrentBalance != 35 {
		t.Fatalf("expected final balance 35, got %d", result.Balance.CurrentBalance)
	}
	if got := ledger.countBySource(SourceBadgeEarned, mathChamp.ID.String()); got != 1 {
		t.Fatalf("expected one badge award transaction, got %d", got)
	}

	// Re-running evaluation must not pay again.
	newBadges, err := svc.EvaluateAchievements(context.Background(), userID)
	if err != nil {
		t.Fatalf("re-evaluation failed: %v", err)
	}
	if len(newBadges) != 0 {
		t.Fatalf("expected no new badges on re-evaluation, got %v", newBadges)
	}
	if got := ledger.countBySource(SourceBadgeEarned, mathChamp.ID.String()); got != 1 {
		t.Fatalf("badge paid twice: %d transactions", got)
	}
}

func TestAwardCoinsValidation(t *testing.T) {
	ledger := newLedgerStub()
	svc := newTestService(ledger, newBadgeStoreStub(ledger), nil)

	if _, err := svc.AwardCoins(context.Background(), uuid.New(), 0, "bonus", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.AwardCoins(context.Background(), uuid.New(), -5, "bonus", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative amount, got %v", err)
	}
}

func TestSpendInsufficientBalance(t *testing.T) {
	ledger := newLedgerStub()
	svc := newTestService(ledger, newBadgeStoreStub(ledger), nil)
	userID := uuid.New()

	if _, err := svc.AwardCoins(context.Background(), userID, 35, "seed", ""); err != nil {
		t.Fatalf("award failed: %v", err)
	}

	_, err := svc.Spend(context.Background(), userID, 40, "reward shop", "order-1")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if ledger.snapshot(userID).CurrentBalance != 35 {
		t.Fatalf("balance changed on rejected spend: %d", ledger.snapshot(userID).CurrentBalance)
	}
	for _, tx := range ledger.log {
		if tx.Direction == DirectionSpent {
			t.Fatalf("spend transaction written despite rejection: %+v", tx)
		}
	}
}

func TestSpendUpdatesBalance(t *testing.T) {
	ledger := newLedgerStub()
	svc := newTestService(ledger, newBadgeStoreStub(ledger), nil)
	userID := uuid.New()

	if _, err := svc.AwardCoins(context.Background(), userID, 100, "seed", ""); err != nil {
		t.Fatalf("award failed: %v", err)
	}

	snap, err := svc.Spend(context.Background(), userID, 40, "avatar frame", "order-7")
	if err != nil {
		t.Fatalf("spend failed: %v", err)
	}
	if snap.CurrentBalance != 60 || snap.TotalSpent != 40 {
		t.Fatalf("unexpected snapshot after spend: %+v", snap)
	}
}

func TestUserCoinsReturnsRecentTransactions(t *testing.T) {
	ledger := newLedgerStub()
	svc := newTestService(ledger, newBadgeStoreStub(ledger), nil)
	userID := uuid.New()

	for i := 0; i < 12; i++ {
		if _, err := svc.AwardCoins(context.Background(), userID, 1, "drip", fmt.Sprintf("drip-%d", i)); err != nil {
			t.Fatalf("award %d failed: %v", i, err)
		}
	}

	snap, txs, err := svc.UserCoins(context.Background(), userID)
	if err != nil {
		t.Fatalf("user coins failed: %v", err)
	}
	if snap.TotalEarned != 12 {
		t.Fatalf("expected total earned 12, got %d", snap.TotalEarned)
	}
	if len(txs) != recentTransactionCount {
		t.Fatalf("expected %d recent transactions, got %d", recentTransactionCount, len(txs))
	}
}
