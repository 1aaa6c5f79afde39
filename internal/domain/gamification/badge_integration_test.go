package gamification_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ganithub/ganithub-api/internal/domain/gamification"
)

func seedBadge(t *testing.T, db *sqlx.DB, badge gamification.Badge) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO badges (id, name, description, criteria_kind, criteria_threshold, coin_reward, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
	`, badge.ID, badge.Name, badge.Description, string(badge.CriteriaKind), badge.CriteriaThreshold, badge.CoinReward)
	if err != nil {
		t.Fatalf("seed badge: %v", err)
	}
	t.Cleanup(func() {
		db.Exec("DELETE FROM user_badges WHERE badge_id = $1", badge.ID)
		db.Exec("DELETE FROM badges WHERE id = $1", badge.ID)
	})
}

// Two evaluations racing the very first progress row must agree on who owns
// the completion: exactly one reports the transition and exactly one bonus
// transaction is written.
func TestBadgeTransitionReportedOnceUnderConcurrency(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(db)

	ledger := gamification.NewLedgerRepository(db)
	repo := gamification.NewBadgeRepository(db, ledger)

	badge := gamification.Badge{
		ID:                uuid.New(),
		Name:              "Race Badge " + uuid.New().String(),
		Description:       "integration",
		CriteriaKind:      gamification.CriteriaAttendance,
		CriteriaThreshold: 10,
		CoinReward:        30,
		Active:            true,
	}
	seedBadge(t, db, badge)
	userID := uuid.New()

	const workers = 8
	var wg sync.WaitGroup
	transitions := 0
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			transitioned, err := repo.ApplyProgress(context.Background(), userID, badge, 12)
			if err != nil {
				t.Errorf("apply progress failed: %v", err)
				return
			}
			if transitioned {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if transitions != 1 {
		t.Fatalf("expected exactly one reported transition, got %d", transitions)
	}

	var awards int
	if err := db.Get(&awards, `
		SELECT COUNT(*) FROM coin_transactions
		WHERE user_id = $1 AND source_kind = $2 AND source_ref = $3
	`, userID, string(gamification.SourceBadgeEarned), badge.ID.String()); err != nil {
		t.Fatalf("count awards: %v", err)
	}
	if awards != 1 {
		t.Fatalf("expected one bonus transaction, got %d", awards)
	}

	snap, err := ledger.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if snap.TotalEarned != badge.CoinReward {
		t.Fatalf("expected total earned %d, got %d", badge.CoinReward, snap.TotalEarned)
	}
}

// A zero-reward badge has no ledger write to disambiguate the race, so the
// progress upsert itself must report whether it flipped the flag.
func TestZeroRewardBadgeTransitionReportedOnce(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(db)

	ledger := gamification.NewLedgerRepository(db)
	repo := gamification.NewBadgeRepository(db, ledger)

	badge := gamification.Badge{
		ID:                uuid.New(),
		Name:              "Honorary Badge " + uuid.New().String(),
		Description:       "integration",
		CriteriaKind:      gamification.CriteriaVideoCompletion,
		CriteriaThreshold: 5,
		CoinReward:        0,
		Active:            true,
	}
	seedBadge(t, db, badge)
	userID := uuid.New()

	const workers = 8
	var wg sync.WaitGroup
	transitions := 0
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			transitioned, err := repo.ApplyProgress(context.Background(), userID, badge, 6)
			if err != nil {
				t.Errorf("apply progress failed: %v", err)
				return
			}
			if transitioned {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if transitions != 1 {
		t.Fatalf("expected exactly one reported transition, got %d", transitions)
	}

	progress, err := repo.Progress(context.Background(), userID)
	if err != nil {
		t.Fatalf("read progress: %v", err)
	}
	p, ok := progress[badge.ID]
	if !ok || !p.Completed || p.EarnedAt == nil {
		t.Fatalf("expected completed progress row with earned_at, got %+v", p)
	}
}
