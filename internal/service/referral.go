package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"promo-rewards/internal/ledger"
	"promo-rewards/internal/model"
	"promo-rewards/internal/referral"
)

// ErrSelfReferral is returned when a user tries to refer themselves.
var ErrSelfReferral = errors.New("cannot refer self")

// ReferralAward lists the tiers paid by one CheckAndAward call.
type ReferralAward struct {
	Qualified int
	Awarded   []referral.Tier
	Wallet    *model.Wallet
}

// ReferralService records referrals and pays tier bonuses.
type ReferralService struct {
	accounts AccountStore
	ledger   *ledger.Ledger
	tiers    *referral.Table
}

// NewReferralService creates a new ReferralService instance.
func NewReferralService(accounts AccountStore, l *ledger.Ledger, tiers *referral.Table) *ReferralService {
	return &ReferralService{accounts: accounts, ledger: l, tiers: tiers}
}

// RecordReferral links referred to referrer. A user keeps their first
// referrer; later calls return false.
func (s *ReferralService) RecordReferral(ctx context.Context, referrerID, referredID int64) (bool, error) {
	if referrerID == referredID {
		return false, ErrSelfReferral
	}
	added, err := s.accounts.AddReferral(ctx, referrerID, referredID)
	if err != nil {
		return false, fmt.Errorf("failed to record referral: %w", err)
	}
	return added, nil
}

// CheckAndAward pays every tier the referrer has reached and not been paid for.
// A referral qualifies while the referred user is active and at least at the
// referrer's current level.
func (s *ReferralService) CheckAndAward(ctx context.Context, referrerID int64) (*ReferralAward, error) {
	var out *ReferralAward

	err := s.ledger.Atomically(ctx, referrerID, func(ctx context.Context, u *ledger.Unit) error {
		acc := u.Account()
		if !acc.IsActive() {
			return fmt.Errorf("%w: user %d", model.ErrAccountInactive, referrerID)
		}

		count, err := u.Tx().CountQualifiedReferrals(ctx, acc.Level)
		if err != nil {
			return err
		}
		paid, err := u.Tx().PaidReferralTiers(ctx)
		if err != nil {
			return err
		}

		out = &ReferralAward{Qualified: count}
		for _, tier := range s.tiers.Due(count, paid) {
			if err := u.Tx().MarkReferralTierPaid(ctx, tier.Threshold, s.ledger.Now()); err != nil {
				return err
			}
			res, err := u.Apply(ctx, ledger.Entry{
				UserID:         referrerID,
				Amount:         tier.Bonus,
				Type:           model.TxTypeReferralBonus,
				Description:    fmt.Sprintf("Referral tier %d reached", tier.Threshold),
				IdempotencyKey: referral.IdempotencyKey(referrerID, tier.Threshold),
			})
			if err != nil {
				return err
			}
			if !res.Duplicate {
				out.Awarded = append(out.Awarded, tier)
			}
		}

		w, err := u.Tx().Wallet(ctx)
		if err != nil {
			return err
		}
		out.Wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, tier := range out.Awarded {
		log.Info().
			Int64("user_id", referrerID).
			Int("threshold", tier.Threshold).
			Str("bonus", tier.Bonus.String()).
			Msg("Referral bonus awarded")
	}
	return out, nil
}
