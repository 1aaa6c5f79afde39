package gamification

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// BadgeStore is the persistence surface the achievement engine runs against.
type BadgeStore interface {
	ListActive(ctx context.Context) ([]Badge, error)
	GetByID(ctx context.Context, badgeID uuid.UUID) (*Badge, error)
	Progress(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]BadgeProgress, error)
	ApplyProgress(ctx context.Context, userID uuid.UUID, badge Badge, progress float64) (bool, error)
	UserBadges(ctx context.Context, userID uuid.UUID) ([]UserBadge, error)
}

// Engine evaluates badge criteria against user activity and awards newly
// completed badges. Evaluators are registered per criteria kind; a badge
// whose kind has no evaluator is skipped, so new kinds can ship their
// definitions ahead of their metric.
type Engine struct {
	badges BadgeStore

	mu         sync.RWMutex
	evaluators map[CriteriaKind]EvaluatorFunc
}

func NewEngine(badges BadgeStore) *Engine {
	return &Engine{
		badges:     badges,
		evaluators: make(map[CriteriaKind]EvaluatorFunc),
	}
}

// Register adds or replaces the evaluator for a criteria kind.
func (e *Engine) Register(kind CriteriaKind, fn EvaluatorFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evaluators[kind] = fn
}

func (e *Engine) evaluator(kind CriteriaKind) (EvaluatorFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.evaluators[kind]
	return fn, ok
}

// Evaluate re-checks every active badge for the user and returns the ids of
// badges completed by this call. Each badge's progress upsert and bonus
// award is one atomic unit; on failure the whole pass can simply be rerun.
func (e *Engine) Evaluate(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	badges, err := e.badges.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	progress, err := e.badges.Progress(ctx, userID)
	if err != nil {
		return nil, err
	}

	newlyCompleted := []uuid.UUID{}
	for _, badge := range badges {
		if p, ok := progress[badge.ID]; ok && p.Completed {
			continue
		}

		evaluate, ok := e.evaluator(badge.CriteriaKind)
		if !ok {
			log.Debug().
				Str("badge", badge.Name).
				Str("criteria_kind", string(badge.CriteriaKind)).
				Msg("no evaluator registered, skipping badge")
			continue
		}

		value, err := evaluate(ctx, userID)
		if err != nil {
			return newlyCompleted, err
		}

		transitioned, err := e.badges.ApplyProgress(ctx, userID, badge, value)
		if err != nil {
			return newlyCompleted, err
		}
		if transitioned {
			log.Info().
				Str("user_id", userID.String()).
				Str("badge", badge.Name).
				Float64("progress", value).
				Int64("coin_reward", badge.CoinReward).
				Msg("badge earned")
			newlyCompleted = append(newlyCompleted, badge.ID)
		}
	}

	return newlyCompleted, nil
}
