package gamification

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// EvaluatorFunc computes a user's current progress metric for one criteria
// kind. Evaluators only read; all writes happen in the badge store.
type EvaluatorFunc func(ctx context.Context, userID uuid.UUID) (float64, error)

// ProgressSource reads aggregate activity data owned by other subsystems
// (tests, attendance, videos).
type ProgressSource interface {
	MaxTestScore(ctx context.Context, userID uuid.UUID) (float64, error)
	AttendanceCount(ctx context.Context, userID uuid.UUID) (int64, error)
	CompletedVideoCount(ctx context.Context, userID uuid.UUID) (int64, error)
}

// BalanceReader is the slice of the ledger the total_coins evaluator needs.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceSnapshot, error)
}

// DefaultEvaluators returns the built-in criteria evaluators. New kinds are
// added by registering another function on the engine, not by editing this.
func DefaultEvaluators(src ProgressSource, balances BalanceReader) map[CriteriaKind]EvaluatorFunc {
	return map[CriteriaKind]EvaluatorFunc{
		CriteriaTestScore: func(ctx context.Context, userID uuid.UUID) (float64, error) {
			return src.MaxTestScore(ctx, userID)
		},
		CriteriaAttendance: func(ctx context.Context, userID uuid.UUID) (float64, error) {
			count, err := src.AttendanceCount(ctx, userID)
			return float64(count), err
		},
		CriteriaVideoCompletion: func(ctx context.Context, userID uuid.UUID) (float64, error) {
			count, err := src.CompletedVideoCount(ctx, userID)
			return float64(count), err
		},
		CriteriaTotalCoins: func(ctx context.Context, userID uuid.UUID) (float64, error) {
			snap, err := balances.GetBalance(ctx, userID)
			if err != nil {
				return 0, err
			}
			return float64(snap.TotalEarned), nil
		},
	}
}

// PostgresProgressSource queries the collaborator tables directly.
type PostgresProgressSource struct {
	db *sqlx.DB
}

func NewPostgresProgressSource(db *sqlx.DB) *PostgresProgressSource {
	return &PostgresProgressSource{db: db}
}

func (s *PostgresProgressSource) MaxTestScore(ctx context.Context, userID uuid.UUID) (float64, error) {
	var score float64
	err := s.db.GetContext(ctx, &score, `
		SELECT COALESCE(MAX(percentage), 0)
		FROM test_attempts
		WHERE student_id = $1 AND status = 'completed'
	`, userID)
	return score, err
}

func (s *PostgresProgressSource) AttendanceCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM attendance
		WHERE student_id = $1 AND attendance_status = 'present'
	`, userID)
	return count, err
}

func (s *PostgresProgressSource) CompletedVideoCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM video_progress
		WHERE student_id = $1 AND completed = TRUE
	`, userID)
	return count, err
}
