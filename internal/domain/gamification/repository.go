package gamification

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const maxConflictRetries = 3

// LedgerRepository persists the append-only transaction log and the derived
// per-user balance. Both are written inside a single DB transaction with the
// balance row locked, so concurrent calls for one user serialize while calls
// for different users proceed in parallel.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Apply appends one transaction and updates the balance atomically.
// The returned bool is false when the (user, kind, ref) pair was already
// recorded and the call was an idempotent replay.
func (r *LedgerRepository) Apply(ctx context.Context, userID uuid.UUID, direction Direction, amount int64, reason string, kind SourceKind, sourceRef string) (*BalanceSnapshot, bool, error) {
	for attempt := 0; ; attempt++ {
		snap, applied, err := r.applyOnce(ctx, userID, direction, amount, reason, kind, sourceRef)
		if err != nil && retryableConflict(err) && attempt < maxConflictRetries {
			continue
		}
		if err != nil && retryableConflict(err) {
			return nil, false, ErrStorageConflict
		}
		return snap, applied, err
	}
}

func (r *LedgerRepository) applyOnce(ctx context.Context, userID uuid.UUID, direction Direction, amount int64, reason string, kind SourceKind, sourceRef string) (*BalanceSnapshot, bool, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	snap, applied, err := r.ApplyTx(ctx, tx, userID, direction, amount, reason, kind, sourceRef)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return snap, applied, nil
}

// ApplyTx runs the append + balance update inside an existing transaction.
// The badge store uses it to couple a bonus award with a progress upsert in
// one atomic unit.
func (r *LedgerRepository) ApplyTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, direction Direction, amount int64, reason string, kind SourceKind, sourceRef string) (*BalanceSnapshot, bool, error) {
	if amount <= 0 {
		return nil, false, ErrInvalidAmount
	}

	snap, err := r.lockBalance(ctx, tx, userID)
	if err != nil {
		return nil, false, err
	}

	if sourceRef != "" {
		existing, found, err := r.findBySource(ctx, tx, userID, kind, sourceRef)
		if err != nil {
			return nil, false, err
		}
		if found {
			if existing.Amount != amount || existing.Direction != direction {
				return nil, false, ErrDuplicateSource
			}
			return snap, false, nil
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
	default:
		return nil, false, ErrInvalidAmount
	}
	snap.CurrentBalance = snap.TotalEarned - snap.TotalSpent

	if err := r.updateBalance(ctx, tx, snap); err != nil {
		return nil, false, err
	}

	if err := r.insertTransaction(ctx, tx, userID, direction, amount, reason, kind, sourceRef); err != nil {
		if errors.Is(err, ErrDuplicateSource) {
			// Lost a race on the unique index: verify the winner matches.
			existing, found, checkErr := r.findBySource(ctx, tx, userID, kind, sourceRef)
			if checkErr != nil {
				return nil, false, checkErr
			}
			if !found || existing.Amount != amount || existing.Direction != direction {
				return nil, false, ErrDuplicateSource
			}
			return snap, false, nil
		}
		return nil, false, err
	}

	return snap, true, nil
}

// GetBalance returns the current snapshot, creating the row lazily.
func (r *LedgerRepository) GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceSnapshot, error) {
	if err := r.ensureBalance(ctx, userID); err != nil {
		return nil, err
	}

	var snap BalanceSnapshot
	err := r.db.GetContext(ctx, &snap, `
		SELECT user_id, total_earned, total_spent, current_balance, updated_at
		FROM user_coins WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListTransactions returns the most recent log entries for a user.
func (r *LedgerRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]CoinTransaction, error) {
	if limit <= 0 {
		limit = 10
	}

	txs := []CoinTransaction{}
	err := r.db.SelectContext(ctx, &txs, `
		SELECT id, user_id, direction, amount, reason, source_kind, source_ref, created_at
		FROM coin_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	return txs, err
}

// TransactionTotals sums the log per direction, for reconciliation against
// the derived balance.
func (r *LedgerRepository) TransactionTotals(ctx context.Context, userID uuid.UUID) (earned, spent int64, err error) {
	row := r.db.QueryRowxContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE direction = 'earned'), 0),
			COALESCE(SUM(amount) FILTER (WHERE direction = 'spent'), 0)
		FROM coin_transactions
		WHERE user_id = $1
	`, userID)
	err = row.Scan(&earned, &spent)
	return earned, spent, err
}

func (r *LedgerRepository) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

func (r *LedgerRepository) ensureBalance(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_coins (user_id, total_earned, total_spent, current_balance)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func (r *LedgerRepository) lockBalance(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*BalanceSnapshot, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_coins (user_id, total_earned, total_spent, current_balance)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, err
	}

	var snap BalanceSnapshot
	err := tx.GetContext(ctx, &snap, `
		SELECT user_id, total_earned, total_spent, current_balance, updated_at
		FROM user_coins WHERE user_id = $1 FOR UPDATE
	`, userID)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *LedgerRepository) findBySource(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, kind SourceKind, sourceRef string) (*CoinTransaction, bool, error) {
	if sourceRef == "" {
		return nil, false, nil
	}

	var existing CoinTransaction
	err := tx.GetContext(ctx, &existing, `
		SELECT id, user_id, direction, amount, reason, source_kind, source_ref, created_at
		FROM coin_transactions
		WHERE user_id = $1 AND source_kind = $2 AND source_ref = $3
		LIMIT 1
	`, userID, string(kind), sourceRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &existing, true, nil
}

func (r *LedgerRepository) updateBalance(ctx context.Context, tx *sqlx.Tx, snap *BalanceSnapshot) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE user_coins
		SET total_earned = $1, total_spent = $2, current_balance = $3, updated_at = now()
		WHERE user_id = $4
	`, snap.TotalEarned, snap.TotalSpent, snap.CurrentBalance, snap.UserID)
	return err
}

func (r *LedgerRepository) insertTransaction(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, direction Direction, amount int64, reason string, kind SourceKind, sourceRef string) error {
	var ref interface{}
	if sourceRef != "" {
		ref = sourceRef
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO coin_transactions (id, user_id, direction, amount, reason, source_kind, source_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), userID, string(direction), amount, reason, string(kind), ref)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateSource
		}
		return err
	}
	return nil
}

// retryableConflict reports whether err is a serialization failure or
// deadlock that a fresh transaction may resolve.
func retryableConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}
