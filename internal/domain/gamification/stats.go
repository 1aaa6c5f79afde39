package gamification

import "context"

// PlatformStats is the admin-facing gamification summary.
type PlatformStats struct {
	ActiveHolders      int64 `db:"active_holders" json:"active_holders"`
	CoinsInCirculation int64 `db:"coins_in_circulation" json:"coins_in_circulation"`
	BadgesEarned       int64 `db:"badges_earned" json:"badges_earned"`
	WeeklyActiveUsers  int64 `db:"weekly_active_users" json:"weekly_active_users"`
}

// Stats computes platform-wide gamification counters in one round trip.
func (r *ReportingRepository) Stats(ctx context.Context) (*PlatformStats, error) {
	var stats PlatformStats
	err := r.db.GetContext(ctx, &stats, `
		SELECT
			(SELECT COUNT(*) FROM user_coins WHERE current_balance > 0) AS active_holders,
			(SELECT COALESCE(SUM(current_balance), 0) FROM user_coins) AS coins_in_circulation,
			(SELECT COUNT(*) FROM user_badges WHERE completed = TRUE) AS badges_earned,
			(SELECT COUNT(DISTINCT user_id) FROM coin_transactions
			 WHERE created_at >= now() - interval '7 days') AS weekly_active_users
	`)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
