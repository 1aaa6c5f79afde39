package gamification

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const recentTransactionCount = 10

// LedgerStore is the persistence surface for the coin ledger.
type LedgerStore interface {
	Apply(ctx context.Context, userID uuid.UUID, direction Direction, amount int64, reason string, kind SourceKind, sourceRef string) (*BalanceSnapshot, bool, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceSnapshot, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]CoinTransaction, error)
}

// Service is the entry point other subsystems call when a user does
// something coin-worthy: append to the log, update the balance, then
// re-evaluate achievements for the user.
type Service struct {
	ledger LedgerStore
	badges BadgeStore
	engine *Engine
}

func NewService(ledger LedgerStore, badges BadgeStore, engine *Engine) *Service {
	return &Service{ledger: ledger, badges: badges, engine: engine}
}

// RecordActivity awards the fixed coin amount for an activity and runs
// achievement evaluation. A replay with the same (kind, sourceRef) is a
// no-op returning zero coins and no badges.
func (s *Service) RecordActivity(ctx context.Context, userID uuid.UUID, kind SourceKind, sourceRef string) (*ActivityResult, error) {
	rule, ok := RuleFor(kind)
	if !ok {
		return nil, ErrUnknownActivity
	}

	snap, applied, err := s.ledger.Apply(ctx, userID, DirectionEarned, rule.Amount, rule.Reason, kind, sourceRef)
	if err != nil {
		return nil, err
	}
	if !applied {
		return &ActivityResult{CoinsAwarded: 0, Balance: snap, NewBadges: []uuid.UUID{}}, nil
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("activity", string(kind)).
		Str("source_ref", sourceRef).
		Int64("amount", rule.Amount).
		Msg("activity coins awarded")

	newBadges, err := s.engine.Evaluate(ctx, userID)
	if err != nil {
		// Coins are committed; the caller retries and the replay guard plus
		// idempotent evaluation finish the badge pass.
		return nil, err
	}

	if len(newBadges) > 0 {
		if snap, err = s.ledger.GetBalance(ctx, userID); err != nil {
			return nil, err
		}
	}

	return &ActivityResult{CoinsAwarded: rule.Amount, Balance: snap, NewBadges: newBadges}, nil
}

// AwardCoins grants an arbitrary amount (admin action), then re-evaluates
// achievements since total_coins badges may have crossed their threshold.
func (s *Service) AwardCoins(ctx context.Context, userID uuid.UUID, amount int64, description, sourceRef string) (*ActivityResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if description == "" {
		description = "Manual award"
	}

	snap, applied, err := s.ledger.Apply(ctx, userID, DirectionEarned, amount, description, SourceManualAward, sourceRef)
	if err != nil {
		return nil, err
	}
	if !applied {
		return &ActivityResult{CoinsAwarded: 0, Balance: snap, NewBadges: []uuid.UUID{}}, nil
	}

	log.Info().
		Str("user_id", userID.String()).
		Int64("amount", amount).
		Str("source_ref", sourceRef).
		Msg("manual coin award applied")

	newBadges, err := s.engine.Evaluate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(newBadges) > 0 {
		if snap, err = s.ledger.GetBalance(ctx, userID); err != nil {
			return nil, err
		}
	}

	return &ActivityResult{CoinsAwarded: amount, Balance: snap, NewBadges: newBadges}, nil
}

// Spend deducts coins. The whole call fails with ErrInsufficientBalance if
// the balance cannot cover it; no log entry is written in that case.
func (s *Service) Spend(ctx context.Context, userID uuid.UUID, amount int64, reason, sourceRef string) (*BalanceSnapshot, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if reason == "" {
		reason = "Coins spent"
	}

	snap, _, err := s.ledger.Apply(ctx, userID, DirectionSpent, amount, reason, SourceCoinSpend, sourceRef)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Int64("amount", amount).
		Str("source_ref", sourceRef).
		Msg("coins spent")

	return snap, nil
}

// UserCoins returns the balance snapshot and the most recent transactions.
func (s *Service) UserCoins(ctx context.Context, userID uuid.UUID) (*BalanceSnapshot, []CoinTransaction, error) {
	snap, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	transactions, err := s.ledger.ListTransactions(ctx, userID, recentTransactionCount)
	if err != nil {
		return nil, nil, err
	}

	return snap, transactions, nil
}

// UserBadges returns the badge catalog joined with the user's progress.
func (s *Service) UserBadges(ctx context.Context, userID uuid.UUID) ([]UserBadge, error) {
	return s.badges.UserBadges(ctx, userID)
}

// GetBadge returns a single badge definition.
func (s *Service) GetBadge(ctx context.Context, badgeID uuid.UUID) (*Badge, error) {
	return s.badges.GetByID(ctx, badgeID)
}

// EvaluateAchievements re-runs the achievement pass for a user.
func (s *Service) EvaluateAchievements(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.engine.Evaluate(ctx, userID)
}
