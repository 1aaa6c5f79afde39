package gamification

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// BadgeRepository persists badge definitions and per-user progress. The
// completed flag is monotonic; the false->true transition and the bonus-coin
// award commit in one DB transaction.
type BadgeRepository struct {
	db     *sqlx.DB
	ledger *LedgerRepository
}

func NewBadgeRepository(db *sqlx.DB, ledger *LedgerRepository) *BadgeRepository {
	return &BadgeRepository{db: db, ledger: ledger}
}

// ListActive returns all active badge definitions.
func (r *BadgeRepository) ListActive(ctx context.Context) ([]Badge, error) {
	badges := []Badge{}
	err := r.db.SelectContext(ctx, &badges, `
		SELECT id, name, description, criteria_kind, criteria_threshold, coin_reward, active
		FROM badges
		WHERE active = TRUE
		ORDER BY name
	`)
	return badges, err
}

// GetByID returns a badge definition or ErrBadgeNotFound.
func (r *BadgeRepository) GetByID(ctx context.Context, badgeID uuid.UUID) (*Badge, error) {
	var badge Badge
	err := r.db.GetContext(ctx, &badge, `
		SELECT id, name, description, criteria_kind, criteria_threshold, coin_reward, active
		FROM badges WHERE id = $1
	`, badgeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBadgeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &badge, nil
}

// Progress returns the user's progress rows keyed by badge id.
func (r *BadgeRepository) Progress(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]BadgeProgress, error) {
	rows := []BadgeProgress{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT user_id, badge_id, progress_value, completed, earned_at
		FROM user_badges
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}

	progress := make(map[uuid.UUID]BadgeProgress, len(rows))
	for _, row := range rows {
		progress[row.BadgeID] = row
	}
	return progress, nil
}

// UserBadges returns the active badge catalog joined with the user's progress.
func (r *BadgeRepository) UserBadges(ctx context.Context, userID uuid.UUID) ([]UserBadge, error) {
	badges := []UserBadge{}
	err := r.db.SelectContext(ctx, &badges, `
		SELECT b.id, b.name, b.description, b.criteria_kind, b.criteria_threshold, b.coin_reward, b.active,
		       COALESCE(ub.progress_value, 0) AS progress_value,
		       COALESCE(ub.completed, FALSE) AS completed,
		       ub.earned_at
		FROM badges b
		LEFT JOIN user_badges ub ON ub.badge_id = b.id AND ub.user_id = $1
		WHERE b.active = TRUE
		ORDER BY COALESCE(ub.completed, FALSE) DESC, ub.earned_at DESC NULLS LAST, b.name ASC
	`, userID)
	return badges, err
}

// ApplyProgress upserts the user's progress against a badge and, when this
// is the false->true completion transition, writes the bonus-coin award in
// the same transaction. Returns whether the badge was newly completed.
func (r *BadgeRepository) ApplyProgress(ctx context.Context, userID uuid.UUID, badge Badge, progress float64) (bool, error) {
	for attempt := 0; ; attempt++ {
		transitioned, err := r.applyProgressOnce(ctx, userID, badge, progress)
		if err != nil && retryableConflict(err) && attempt < maxConflictRetries {
			continue
		}
		if err != nil && retryableConflict(err) {
			return false, ErrStorageConflict
		}
		return transitioned, err
	}
}

func (r *BadgeRepository) applyProgressOnce(ctx context.Context, userID uuid.UUID, badge Badge, progress float64) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	wasCompleted, err := r.lockProgress(ctx, tx, userID, badge.ID)
	if err != nil {
		return false, err
	}
	if wasCompleted {
		// Monotonic: a completed badge is never re-evaluated or re-awarded.
		return false, tx.Commit()
	}

	completed := progress >= badge.CriteriaThreshold

	// The upsert only touches rows that are not yet completed. Zero rows
	// affected means a concurrent evaluation inserted and completed the row
	// after our lock check saw nothing; that call owns the transition.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO user_badges (user_id, badge_id, progress_value, completed, earned_at)
		VALUES ($1, $2, $3, $4, CASE WHEN $4 THEN now() END)
		ON CONFLICT (user_id, badge_id) DO UPDATE SET
			progress_value = EXCLUDED.progress_value,
			completed = EXCLUDED.completed,
			earned_at = CASE WHEN EXCLUDED.completed THEN now() ELSE user_badges.earned_at END
		WHERE NOT user_badges.completed
	`, userID, badge.ID, progress, completed)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, tx.Commit()
	}

	transitioned := completed
	if completed && badge.CoinReward > 0 {
		// source ref = badge id makes the award idempotent even if a stale
		// progress row ever loses its completed flag. A replayed award means
		// another call already paid and reported this transition.
		_, applied, err := r.ledger.ApplyTx(ctx, tx, userID, DirectionEarned, badge.CoinReward,
			"Badge earned: "+badge.Name, SourceBadgeEarned, badge.ID.String())
		if err != nil {
			return false, err
		}
		transitioned = applied
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return transitioned, nil
}

func (r *BadgeRepository) lockProgress(ctx context.Context, tx *sqlx.Tx, userID, badgeID uuid.UUID) (bool, error) {
	var completed bool
	err := tx.GetContext(ctx, &completed, `
		SELECT completed FROM user_badges
		WHERE user_id = $1 AND badge_id = $2
		FOR UPDATE
	`, userID, badgeID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return completed, err
}

// EnsureDefaultBadges seeds the platform badge catalog, keyed by name so
// reruns are no-ops and admin edits survive restarts.
func (r *BadgeRepository) EnsureDefaultBadges(ctx context.Context) error {
	defaults := []Badge{
		{Name: "First Steps", Description: "Complete your first test", CriteriaKind: CriteriaTestScore, CriteriaThreshold: 1, CoinReward: 10},
		{Name: "Math Champ", Description: "Score 90% or higher on a test", CriteriaKind: CriteriaTestScore, CriteriaThreshold: 90, CoinReward: 25},
		{Name: "Perfect Score", Description: "Score 100% on a test", CriteriaKind: CriteriaTestScore, CriteriaThreshold: 100, CoinReward: 50},
		{Name: "Consistent Learner", Description: "Attend 10 classes", CriteriaKind: CriteriaAttendance, CriteriaThreshold: 10, CoinReward: 30},
		{Name: "Video Explorer", Description: "Complete 5 video lessons", CriteriaKind: CriteriaVideoCompletion, CriteriaThreshold: 5, CoinReward: 20},
		{Name: "Coin Collector", Description: "Earn 100 coins", CriteriaKind: CriteriaTotalCoins, CriteriaThreshold: 100, CoinReward: 25},
	}

	for _, badge := range defaults {
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO badges (id, name, description, criteria_kind, criteria_threshold, coin_reward, active)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE)
			ON CONFLICT (name) DO NOTHING
		`, uuid.New(), badge.Name, badge.Description, string(badge.CriteriaKind), badge.CriteriaThreshold, badge.CoinReward); err != nil {
			return err
		}
	}
	return nil
}
