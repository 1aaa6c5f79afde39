package gamification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// LeaderboardKind selects the ranking metric.
type LeaderboardKind string

const (
	LeaderboardCoins      LeaderboardKind = "coins"
	LeaderboardTests      LeaderboardKind = "tests"
	LeaderboardAttendance LeaderboardKind = "attendance"
)

var ErrUnknownLeaderboardKind = errors.New("unknown leaderboard kind")

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// LeaderboardEntry is one ranked row. Rank is the 1-based position after
// deterministic tie-break ordering.
type LeaderboardEntry struct {
	UserID     uuid.UUID `db:"id" json:"user_id"`
	FirstName  string    `db:"first_name" json:"first_name"`
	LastName   string    `db:"last_name" json:"last_name"`
	Metric     float64   `db:"metric" json:"metric"`
	TestsTaken int64     `db:"tests_taken" json:"tests_taken,omitempty"`
	Rank       int       `db:"-" json:"rank"`
}

// ReportingRepository computes read-only projections over the ledger and
// collaborator tables. Nothing here mutates state; every call recomputes
// from scratch.
type ReportingRepository struct {
	db *sqlx.DB
}

func NewReportingRepository(db *sqlx.DB) *ReportingRepository {
	return &ReportingRepository{db: db}
}

// Coins ranks students by coins earned, optionally within the trailing
// windowDays. Ties break by ascending user id.
func (r *ReportingRepository) Coins(ctx context.Context, windowDays, limit int) ([]LeaderboardEntry, error) {
	entries := []LeaderboardEntry{}
	if windowDays > 0 {
		err := r.db.SelectContext(ctx, &entries, `
			SELECT u.id, u.first_name, u.last_name, COALESCE(SUM(ct.amount), 0)::float AS metric
			FROM users u
			LEFT JOIN coin_transactions ct ON ct.user_id = u.id
				AND ct.direction = 'earned'
				AND ct.created_at >= now() - make_interval(days => $2)
			WHERE u.role = 'student'
			GROUP BY u.id, u.first_name, u.last_name
			ORDER BY metric DESC, u.id ASC
			LIMIT $1
		`, limit, windowDays)
		return entries, err
	}

	err := r.db.SelectContext(ctx, &entries, `
		SELECT u.id, u.first_name, u.last_name, COALESCE(SUM(ct.amount), 0)::float AS metric
		FROM users u
		LEFT JOIN coin_transactions ct ON ct.user_id = u.id AND ct.direction = 'earned'
		WHERE u.role = 'student'
		GROUP BY u.id, u.first_name, u.last_name
		ORDER BY metric DESC, u.id ASC
		LIMIT $1
	`, limit)
	return entries, err
}

// TestScores ranks students by average completed-test percentage. Ties
// break by higher attempt count, then ascending user id. Students with no
// completed attempts are excluded.
func (r *ReportingRepository) TestScores(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	entries := []LeaderboardEntry{}
	err := r.db.SelectContext(ctx, &entries, `
		SELECT u.id, u.first_name, u.last_name,
		       COALESCE(AVG(ta.percentage), 0)::float AS metric,
		       COUNT(ta.id) AS tests_taken
		FROM users u
		LEFT JOIN test_attempts ta ON ta.student_id = u.id AND ta.status = 'completed'
		WHERE u.role = 'student'
		GROUP BY u.id, u.first_name, u.last_name
		HAVING COUNT(ta.id) > 0
		ORDER BY metric DESC, tests_taken DESC, u.id ASC
		LIMIT $1
	`, limit)
	return entries, err
}

// Attendance ranks students by present-class count, ties by ascending user id.
func (r *ReportingRepository) Attendance(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	entries := []LeaderboardEntry{}
	err := r.db.SelectContext(ctx, &entries, `
		SELECT u.id, u.first_name, u.last_name, COUNT(a.id)::float AS metric
		FROM users u
		LEFT JOIN attendance a ON a.student_id = u.id AND a.attendance_status = 'present'
		WHERE u.role = 'student'
		GROUP BY u.id, u.first_name, u.last_name
		ORDER BY metric DESC, u.id ASC
		LIMIT $1
	`, limit)
	return entries, err
}

// leaderboardSource is what the service needs from the repository.
type leaderboardSource interface {
	Coins(ctx context.Context, windowDays, limit int) ([]LeaderboardEntry, error)
	TestScores(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	Attendance(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// LeaderboardService serves ranked views, fronted by a short-lived Redis
// cache. With no Redis client every call hits Postgres.
type LeaderboardService struct {
	source   leaderboardSource
	cache    *redis.Client
	cacheTTL time.Duration
}

func NewLeaderboardService(source leaderboardSource, cache *redis.Client, cacheTTL time.Duration) *LeaderboardService {
	return &LeaderboardService{source: source, cache: cache, cacheTTL: cacheTTL}
}

// Rank returns the ordered leaderboard for a kind. windowDays only applies
// to the coins leaderboard; zero means all time.
func (s *LeaderboardService) Rank(ctx context.Context, kind LeaderboardKind, windowDays, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	cacheKey := fmt.Sprintf("leaderboard:%s:%d:%d", kind, windowDays, limit)
	if cached, ok := s.fromCache(ctx, cacheKey); ok {
		return cached, nil
	}

	var entries []LeaderboardEntry
	var err error
	switch kind {
	case LeaderboardCoins:
		entries, err = s.source.Coins(ctx, windowDays, limit)
	case LeaderboardTests:
		entries, err = s.source.TestScores(ctx, limit)
	case LeaderboardAttendance:
		entries, err = s.source.Attendance(ctx, limit)
	default:
		return nil, ErrUnknownLeaderboardKind
	}
	if err != nil {
		return nil, err
	}

	for i := range entries {
		entries[i].Rank = i + 1
	}

	s.toCache(ctx, cacheKey, entries)
	return entries, nil
}

func (s *LeaderboardService) fromCache(ctx context.Context, key string) ([]LeaderboardEntry, bool) {
	if s.cache == nil {
		return nil, false
	}

	raw, err := s.cache.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("leaderboard cache read failed")
		return nil, false
	}

	var entries []LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("leaderboard cache entry corrupt")
		return nil, false
	}
	return entries, true
}

func (s *LeaderboardService) toCache(ctx context.Context, key string, entries []LeaderboardEntry) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("leaderboard cache write failed")
	}
}
