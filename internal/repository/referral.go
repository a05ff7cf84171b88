package repository

import (
	"context"
	"fmt"
	"time"

	"promo-rewards/internal/model"
)

// AddReferral links referred to referrer. It returns false if referred already has a referrer.
func (s *Store) AddReferral(ctx context.Context, referrerID, referredID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO referrals (referrer_id, referred_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (referred_id) DO NOTHING
	`, referrerID, referredID)
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return false, fmt.Errorf("%w: referral %d -> %d", model.ErrUserNotFound, referrerID, referredID)
		}
		return false, storeErr("add referral", err)
	}
	return tag.RowsAffected() == 1, nil
}

func countQualifiedReferrals(ctx context.Context, q querier, referrerID int64, minLevel int) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM referrals r
		JOIN accounts a ON a.user_id = r.referred_id
		WHERE r.referrer_id = $1 AND a.status = $2 AND a.level >= $3
	`, referrerID, model.StatusActive, minLevel).Scan(&n)
	if err != nil {
		return 0, storeErr("count referrals", err)
	}
	return n, nil
}

func paidReferralTiers(ctx context.Context, q querier, referrerID int64) (map[int]bool, error) {
	rows, err := q.Query(ctx, `SELECT threshold FROM referral_tiers_paid WHERE referrer_id = $1`, referrerID)
	if err != nil {
		return nil, storeErr("get paid tiers", err)
	}
	defer rows.Close()

	paid := make(map[int]bool)
	for rows.Next() {
		var threshold int
		if err := rows.Scan(&threshold); err != nil {
			return nil, storeErr("scan paid tier", err)
		}
		paid[threshold] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate paid tiers", err)
	}
	return paid, nil
}

func markReferralTierPaid(ctx context.Context, q querier, referrerID int64, threshold int, at time.Time) error {
	_, err := q.Exec(ctx, `
		INSERT INTO referral_tiers_paid (referrer_id, threshold, paid_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (referrer_id, threshold) DO NOTHING
	`, referrerID, threshold, at)
	if err != nil {
		return storeErr("mark tier paid", err)
	}
	return nil
}
