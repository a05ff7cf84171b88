// Package model defines the data models for the rewards wallet ledger.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits every stored amount carries.
const MoneyPlaces = 4

// AccountStatus is the identity provider's view of a user.
type AccountStatus string

// Account statuses.
const (
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
)

// Account mirrors the fields the core needs from the identity collaborator.
type Account struct {
	UserID             int64         `db:"user_id" json:"user_id"`
	Level              int           `db:"level" json:"level"`
	Status             AccountStatus `db:"status" json:"status"`
	Timezone           string        `db:"timezone" json:"timezone"`
	WithdrawalOverride bool          `db:"withdrawal_override" json:"withdrawal_override"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the account may earn.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// Location returns the account's local timezone, falling back to UTC.
func (a *Account) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Wallet is a user's balance summary. Only the ledger mutates it.
type Wallet struct {
	UserID                int64           `db:"user_id" json:"user_id"`
	AvailableBalance      decimal.Decimal `db:"available_balance" json:"available_balance"`
	PendingBalance        decimal.Decimal `db:"pending_balance" json:"pending_balance"`
	TotalEarned           decimal.Decimal `db:"total_earned" json:"total_earned"`
	TotalWithdrawn        decimal.Decimal `db:"total_withdrawn" json:"total_withdrawn"`
	EarningsFromTasks     decimal.Decimal `db:"earnings_from_tasks" json:"earnings_from_tasks"`
	EarningsFromReferrals decimal.Decimal `db:"earnings_from_referrals" json:"earnings_from_referrals"`
	EarningsFromBonuses   decimal.Decimal `db:"earnings_from_bonuses" json:"earnings_from_bonuses"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}

// NewWallet returns a zeroed wallet for userID.
func NewWallet(userID int64, now time.Time) *Wallet {
	return &Wallet{
		UserID:                userID,
		AvailableBalance:      decimal.Zero,
		PendingBalance:        decimal.Zero,
		TotalEarned:           decimal.Zero,
		TotalWithdrawn:        decimal.Zero,
		EarningsFromTasks:     decimal.Zero,
		EarningsFromReferrals: decimal.Zero,
		EarningsFromBonuses:   decimal.Zero,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// Clone returns a copy that can be mutated without touching w.
func (w *Wallet) Clone() *Wallet {
	c := *w
	return &c
}

// Withdrawable is the part of the available balance not held as pending.
func (w *Wallet) Withdrawable() decimal.Decimal {
	return w.AvailableBalance.Sub(w.PendingBalance)
}

// TxType categorizes balance changes.
type TxType string

// Transaction types.
const (
	TxTypeTaskReward      TxType = "task_reward"
	TxTypeAdRevenue       TxType = "ad_revenue"
	TxTypeReferralBonus   TxType = "referral_bonus"
	TxTypeSpinPrize       TxType = "spin_prize"
	TxTypeLevelUpgrade    TxType = "level_upgrade"
	TxTypeAdminAdjustment TxType = "admin_adjustment"
	TxTypeAdminSetBalance TxType = "admin_set_balance"
	TxTypeWithdrawal      TxType = "withdrawal"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxTypeTaskReward, TxTypeAdRevenue, TxTypeReferralBonus, TxTypeSpinPrize,
		TxTypeLevelUpgrade, TxTypeAdminAdjustment, TxTypeAdminSetBalance, TxTypeWithdrawal:
		return true
	}
	return false
}

// Transaction is one immutable ledger entry.
type Transaction struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	Type           TxType          `db:"type" json:"type"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Description    string          `db:"description" json:"description"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// SpinRecord marks the single daily spin of a user.
// Date is the calendar day in the user's timezone, formatted as 2006-01-02.
type SpinRecord struct {
	UserID      int64           `db:"user_id" json:"user_id"`
	Date        string          `db:"spin_date" json:"date"`
	PrizeAmount decimal.Decimal `db:"prize_amount" json:"prize_amount"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// SpinDateLayout formats SpinRecord.Date.
const SpinDateLayout = "2006-01-02"

// Referral links a referrer to a referred user.
type Referral struct {
	ReferrerID int64     `db:"referrer_id" json:"referrer_id"`
	ReferredID int64     `db:"referred_id" json:"referred_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AdminAction is an audit note written for every privileged command.
type AdminAction struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	ActorID      int64          `db:"actor_id" json:"actor_id"`
	TargetUserID int64          `db:"target_user_id" json:"target_user_id"`
	Kind         string         `db:"kind" json:"kind"`
	Details      map[string]any `db:"details" json:"details"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// WalletMismatch is reported by reconciliation when a wallet disagrees with its history.
type WalletMismatch struct {
	UserID           int64           `db:"user_id" json:"user_id"`
	AvailableBalance decimal.Decimal `db:"available_balance" json:"available_balance"`
	LedgerSum        decimal.Decimal `db:"ledger_sum" json:"ledger_sum"`
}
