// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"promo-rewards/internal/earnings"
	"promo-rewards/internal/ledger"
	"promo-rewards/internal/model"
)

// Common errors for account operations.
var (
	ErrInvalidAccount       = errors.New("invalid account")
	ErrWithdrawalNotAllowed = errors.New("withdrawal exceeds withdrawable balance")
	ErrInvalidPayoutRef     = errors.New("payout reference is missing or too long")
)

// maxPayoutRefLength keeps "withdrawal:<ref>" within model.MaxKeyLength.
const maxPayoutRefLength = 128

// AccountStore is the account side of the store, used outside ledger units.
type AccountStore interface {
	Account(ctx context.Context, userID int64) (*model.Account, error)
	UpsertAccount(ctx context.Context, acc *model.Account) (*model.Account, error)
	AddReferral(ctx context.Context, referrerID, referredID int64) (bool, error)
	AdminActions(ctx context.Context, targetUserID int64, limit int) ([]*model.AdminAction, error)
}

// AccountService handles account sync, wallet reads, level upgrades and withdrawals.
type AccountService struct {
	accounts AccountStore
	ledger   *ledger.Ledger
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(accounts AccountStore, l *ledger.Ledger) *AccountService {
	return &AccountService{
		accounts: accounts,
		ledger:   l,
	}
}

// EnsureAccount creates the account or refreshes its status and timezone
// from the identity provider.
func (s *AccountService) EnsureAccount(ctx context.Context, acc *model.Account) (*model.Account, error) {
	if acc.UserID <= 0 {
		return nil, fmt.Errorf("%w: user id %d", ErrInvalidAccount, acc.UserID)
	}
	if acc.Status == "" {
		acc.Status = model.StatusActive
	}
	if acc.Status != model.StatusActive && acc.Status != model.StatusSuspended {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidAccount, acc.Status)
	}
	if acc.Timezone == "" {
		acc.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(acc.Timezone); err != nil {
		return nil, fmt.Errorf("%w: timezone %q", ErrInvalidAccount, acc.Timezone)
	}
	if _, ok := s.ledger.Engine().Plan(acc.Level); !ok {
		return nil, fmt.Errorf("%w: level %d", ErrInvalidAccount, acc.Level)
	}

	out, err := s.accounts.UpsertAccount(ctx, acc)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure account: %w", err)
	}
	return out, nil
}

// GetAccount retrieves an account by user ID.
func (s *AccountService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accounts.Account(ctx, userID)
}

// Wallet returns the user's wallet summary.
func (s *AccountService) Wallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	return s.ledger.Wallet(ctx, userID)
}

// History returns the user's newest transactions.
func (s *AccountService) History(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	if _, err := s.accounts.Account(ctx, userID); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, userID, limit)
}

// UpgradeResult is the outcome of a level upgrade.
type UpgradeResult struct {
	Account *model.Account
	Wallet  *model.Wallet
	Fee     decimal.Decimal
}

// UpgradeLevel moves the user up one level, paying the plan's fee from the
// available balance in the same unit.
func (s *AccountService) UpgradeLevel(ctx context.Context, userID int64) (*UpgradeResult, error) {
	var out *UpgradeResult

	err := s.ledger.Atomically(ctx, userID, func(ctx context.Context, u *ledger.Unit) error {
		acc := u.Account()
		if !acc.IsActive() {
			return fmt.Errorf("%w: user %d", model.ErrAccountInactive, userID)
		}

		engine := s.ledger.Engine()
		if acc.Level >= engine.MaxLevel() {
			return fmt.Errorf("%w: already at level %d", earnings.ErrInvalidLevelChange, acc.Level)
		}
		to := acc.Level + 1
		fee, err := engine.LevelUpgradeCost(acc.Level, to)
		if err != nil {
			return err
		}

		if fee.IsPositive() {
			if _, err := u.Apply(ctx, ledger.Entry{
				UserID:      userID,
				Amount:      fee.Neg(),
				Type:        model.TxTypeLevelUpgrade,
				Description: fmt.Sprintf("Upgrade to level %d", to),
			}); err != nil {
				return err
			}
		}

		updated, err := u.SetLevel(ctx, to)
		if err != nil {
			return err
		}
		w, err := u.Tx().Wallet(ctx)
		if err != nil {
			return err
		}
		out = &UpgradeResult{Account: updated, Wallet: w, Fee: fee}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("user_id", userID).
		Int("level", out.Account.Level).
		Str("fee", out.Fee.String()).
		Msg("Level upgraded")
	return out, nil
}

// Withdraw records an externally settled payout as a withdrawal debit.
// The payout reference makes retries safe. Amounts above the withdrawable
// balance need the account's withdrawal override.
func (s *AccountService) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal, payoutRef string) (*ledger.Result, error) {
	payoutRef = strings.TrimSpace(payoutRef)
	if payoutRef == "" || len(payoutRef) > maxPayoutRefLength {
		return nil, ErrInvalidPayoutRef
	}
	if !amount.IsPositive() || !model.HasMoneyPrecision(amount) || !model.InMoneyRange(amount) {
		return nil, fmt.Errorf("%w: withdrawal %s", model.ErrInvalidAmount, amount)
	}

	key := "withdrawal:" + payoutRef
	entry := ledger.Entry{
		UserID:         userID,
		Amount:         amount.Neg(),
		Type:           model.TxTypeWithdrawal,
		Description:    "Payout " + payoutRef,
		IdempotencyKey: key,
	}

	var res *ledger.Result
	err := s.ledger.Atomically(ctx, userID, func(ctx context.Context, u *ledger.Unit) error {
		prior, err := u.Tx().FindTransactionByKey(ctx, key)
		if err != nil {
			return err
		}
		if prior == nil {
			acc := u.Account()
			if !acc.IsActive() {
				return fmt.Errorf("%w: user %d", model.ErrAccountInactive, userID)
			}
			w, err := u.Tx().Wallet(ctx)
			if err != nil {
				return err
			}
			if amount.GreaterThan(w.Withdrawable()) && !acc.WithdrawalOverride {
				return fmt.Errorf("%w: requested %s, withdrawable %s", ErrWithdrawalNotAllowed, amount, w.Withdrawable())
			}
		}

		res, err = u.Apply(ctx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !res.Duplicate {
		log.Info().
			Int64("user_id", userID).
			Str("amount", amount.String()).
			Str("payout_ref", payoutRef).
			Msg("Withdrawal recorded")
	}
	return res, nil
}
