package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"promo-rewards/internal/earnings"
	"promo-rewards/internal/ledger"
	"promo-rewards/internal/model"
	"promo-rewards/internal/pkg/ratelimit"
)

// ErrRateLimited is returned when a user sends ad callbacks faster than allowed.
var ErrRateLimited = errors.New("too many ad events")

// AdResult is the outcome of an ad event.
// Result.Transaction is nil when the entitlement rounded to zero.
type AdResult struct {
	Entitlement decimal.Decimal
	Result      *ledger.Result
}

// AdService credits users for ad views, clicks and completed offers.
type AdService struct {
	ledger  *ledger.Ledger
	limiter ratelimit.Limiter
}

// NewAdService creates a new AdService. limiter may be nil.
func NewAdService(l *ledger.Ledger, limiter ratelimit.Limiter) *AdService {
	if limiter == nil {
		limiter = ratelimit.Nop{}
	}
	return &AdService{ledger: l, limiter: limiter}
}

// ApplyAdEvent credits the user's revenue share of the event's base revenue.
// A replayed event is reported as a duplicate, changes nothing and does not
// count against the user's rate limit.
func (s *AdService) ApplyAdEvent(ctx context.Context, ev earnings.AdEvent) (*AdResult, error) {
	if err := earnings.ValidateAdEvent(ev); err != nil {
		return nil, err
	}

	var out *AdResult
	err := s.ledger.Atomically(ctx, ev.User(), func(ctx context.Context, u *ledger.Unit) error {
		acc := u.Account()
		prior, err := u.Tx().FindTransactionByKey(ctx, ev.IdempotencyKey())
		if err != nil {
			return err
		}

		var amount decimal.Decimal
		if prior != nil {
			// Replays report the original credit whatever the level is now.
			amount = prior.Amount
		} else {
			if !acc.IsActive() {
				return fmt.Errorf("%w: user %d", model.ErrAccountInactive, acc.UserID)
			}
			if err := s.allow(ctx, ev.User()); err != nil {
				return err
			}
			amount, err = s.ledger.Engine().EntitlementForAdEvent(ev.Revenue(), acc.Level)
			if err != nil {
				return err
			}
			if amount.IsZero() {
				w, err := u.Tx().Wallet(ctx)
				if err != nil {
					return err
				}
				out = &AdResult{Entitlement: amount, Result: &ledger.Result{Wallet: w}}
				return nil
			}
		}

		res, err := u.Apply(ctx, ledger.Entry{
			UserID:         acc.UserID,
			Amount:         amount,
			Type:           ev.TxType(),
			Description:    ev.Description(),
			IdempotencyKey: ev.IdempotencyKey(),
		})
		if err != nil {
			return err
		}
		out = &AdResult{Entitlement: amount, Result: res}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int64("user_id", ev.User()).
		Str("kind", ev.Kind()).
		Str("entitlement", out.Entitlement.String()).
		Bool("duplicate", out.Result.Duplicate).
		Msg("Ad event applied")
	return out, nil
}

func (s *AdService) allow(ctx context.Context, userID int64) error {
	err := s.limiter.Allow(ctx, fmt.Sprintf("ad:%d", userID))
	if err == nil {
		return nil
	}
	if errors.Is(err, ratelimit.ErrLimited) {
		return fmt.Errorf("%w: user %d", ErrRateLimited, userID)
	}
	// The limiter fails open.
	log.Warn().Err(err).Int64("user_id", userID).Msg("Rate limiter unavailable")
	return nil
}
