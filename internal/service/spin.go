package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"promo-rewards/internal/ledger"
	"promo-rewards/internal/model"
	"promo-rewards/internal/spin"
)

// SpinResult is the outcome of a daily spin.
type SpinResult struct {
	Prize  decimal.Decimal
	Date   string
	Wallet *model.Wallet
}

// SpinReader serves the unlocked reads behind CanSpin.
type SpinReader interface {
	Account(ctx context.Context, userID int64) (*model.Account, error)
	SpinRecord(ctx context.Context, userID int64, date string) (*model.SpinRecord, error)
}

// SpinService runs the once-per-day prize wheel.
type SpinService struct {
	ledger *ledger.Ledger
	wheel  *spin.Wheel
	reader SpinReader
}

// NewSpinService creates a new SpinService instance.
func NewSpinService(l *ledger.Ledger, wheel *spin.Wheel, reader SpinReader) *SpinService {
	return &SpinService{ledger: l, wheel: wheel, reader: reader}
}

// spinDate is the user's local calendar day at now.
func spinDate(acc *model.Account, now time.Time) string {
	return now.In(acc.Location()).Format(model.SpinDateLayout)
}

// SpinKey is the idempotency key of the prize credited for date.
func SpinKey(userID int64, date string) string {
	return fmt.Sprintf("spin:%d:%s", userID, date)
}

// CanSpin reports whether the user is active and has not spun on their local date.
// It reads committed state without locking, so a concurrent Draw may still win.
func (s *SpinService) CanSpin(ctx context.Context, userID int64, now time.Time) (bool, error) {
	acc, err := s.reader.Account(ctx, userID)
	if err != nil {
		return false, err
	}
	if !acc.IsActive() {
		return false, nil
	}
	rec, err := s.reader.SpinRecord(ctx, userID, spinDate(acc, now))
	if err != nil {
		return false, err
	}
	return rec == nil, nil
}

// Draw spins the wheel once for the user's local date. The spin record and
// the prize credit commit together or not at all.
func (s *SpinService) Draw(ctx context.Context, userID int64, now time.Time) (*SpinResult, error) {
	var out *SpinResult

	err := s.ledger.Atomically(ctx, userID, func(ctx context.Context, u *ledger.Unit) error {
		acc := u.Account()
		if !acc.IsActive() {
			return fmt.Errorf("%w: user %d", model.ErrAccountInactive, userID)
		}

		date := spinDate(acc, now)
		rec, err := u.Tx().SpinRecord(ctx, date)
		if err != nil {
			return err
		}
		if rec != nil {
			return fmt.Errorf("%w: %s", model.ErrAlreadySpunToday, date)
		}

		prize, err := s.wheel.Draw()
		if err != nil {
			return fmt.Errorf("failed to draw prize: %w", err)
		}
		// One spin per day, so the whole cap is still available.
		if prize.GreaterThan(s.wheel.DailyCap()) {
			return fmt.Errorf("%w: prize %s above cap %s", model.ErrDailyLimitReached, prize, s.wheel.DailyCap())
		}

		if err := u.Tx().InsertSpinRecord(ctx, &model.SpinRecord{
			UserID:      userID,
			Date:        date,
			PrizeAmount: prize,
			CreatedAt:   s.ledger.Now(),
		}); err != nil {
			return err
		}

		res, err := u.Apply(ctx, ledger.Entry{
			UserID:         userID,
			Amount:         prize,
			Type:           model.TxTypeSpinPrize,
			Description:    "Daily spin " + date,
			IdempotencyKey: SpinKey(userID, date),
		})
		if err != nil {
			return err
		}
		if res.Duplicate {
			return fmt.Errorf("%w: %s", model.ErrAlreadySpunToday, date)
		}

		out = &SpinResult{Prize: prize, Date: date, Wallet: res.Wallet}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("user_id", userID).
		Str("date", out.Date).
		Str("prize", out.Prize.String()).
		Msg("Daily spin")
	return out, nil
}
