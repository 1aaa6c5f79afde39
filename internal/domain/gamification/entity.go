package gamification

import (
	"time"

	"github.com/google/uuid"
)

// Direction is the side of the ledger a transaction lands on.
type Direction string

const (
	DirectionEarned Direction = "earned"
	DirectionSpent  Direction = "spent"
)

// SourceKind tags what triggered a coin transaction. Activity kinds double
// as source kinds so the (kind, ref) pair identifies the triggering event.
type SourceKind string

const (
	SourceTestCompletion  SourceKind = "test_completion"
	SourceClassAttendance SourceKind = "class_attendance"
	SourceVideoCompletion SourceKind = "video_completion"
	SourceDailyLogin      SourceKind = "daily_login"
	SourcePerfectScore    SourceKind = "perfect_score"
	SourceStreakBonus     SourceKind = "streak_bonus"
	SourceBadgeEarned     SourceKind = "badge_earned"
	SourceManualAward     SourceKind = "manual_award"
	SourceCoinSpend       SourceKind = "coin_spend"
)

// CriteriaKind is the metric category a badge is evaluated against.
type CriteriaKind string

const (
	CriteriaTestScore       CriteriaKind = "test_score"
	CriteriaAttendance      CriteriaKind = "attendance"
	CriteriaVideoCompletion CriteriaKind = "video_completion"
	CriteriaTotalCoins      CriteriaKind = "total_coins"
)

// CoinTransaction is an immutable ledger row. Rows are only ever appended.
type CoinTransaction struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	Direction  Direction  `db:"direction" json:"direction"`
	Amount     int64      `db:"amount" json:"amount"`
	Reason     string     `db:"reason" json:"reason"`
	SourceKind SourceKind `db:"source_kind" json:"source_kind"`
	SourceRef  *string    `db:"source_ref" json:"source_ref,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// BalanceSnapshot is the derived per-user balance after an update.
// Invariant: CurrentBalance == TotalEarned - TotalSpent >= 0.
type BalanceSnapshot struct {
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	TotalEarned    int64     `db:"total_earned" json:"total_earned"`
	TotalSpent     int64     `db:"total_spent" json:"total_spent"`
	CurrentBalance int64     `db:"current_balance" json:"current_balance"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Badge is a static achievement definition, read-only to the engine.
type Badge struct {
	ID                uuid.UUID    `db:"id" json:"id"`
	Name              string       `db:"name" json:"name"`
	Description       string       `db:"description" json:"description"`
	CriteriaKind      CriteriaKind `db:"criteria_kind" json:"criteria_kind"`
	CriteriaThreshold float64      `db:"criteria_threshold" json:"criteria_threshold"`
	CoinReward        int64        `db:"coin_reward" json:"coin_reward"`
	Active            bool         `db:"active" json:"active"`
}

// BadgeProgress is one user's state against one badge. Completed is
// monotonic: once true it never reverts.
type BadgeProgress struct {
	UserID        uuid.UUID  `db:"user_id" json:"user_id"`
	BadgeID       uuid.UUID  `db:"badge_id" json:"badge_id"`
	ProgressValue float64    `db:"progress_value" json:"progress_value"`
	Completed     bool       `db:"completed" json:"completed"`
	EarnedAt      *time.Time `db:"earned_at" json:"earned_at,omitempty"`
}

// UserBadge is the badge catalog joined with a user's progress.
type UserBadge struct {
	Badge
	ProgressValue float64    `db:"progress_value" json:"progress_value"`
	Completed     bool       `db:"completed" json:"completed"`
	EarnedAt      *time.Time `db:"earned_at" json:"earned_at,omitempty"`
}

// ActivityResult reports the effect of recording one activity.
type ActivityResult struct {
	CoinsAwarded int64            `json:"coins_awarded"`
	Balance      *BalanceSnapshot `json:"balance,omitempty"`
	NewBadges    []uuid.UUID      `json:"new_badges"`
}
