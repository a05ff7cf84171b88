// Package ledger is the only mutation surface for wallet balances.
package ledger

import (
	"context"
	"errors"
	"time"

	"promo-rewards/internal/model"
)

// ErrKeyConflict is returned by a store when an idempotency key was appended twice.
var ErrKeyConflict = errors.New("idempotency key already used")

// Store opens per-user atomic units and serves reads outside them.
type Store interface {
	// InTx runs fn inside one atomic unit holding the user's exclusive lock.
	// If fn returns an error nothing it wrote is kept.
	// Returns model.ErrUserNotFound if the user has no account.
	InTx(ctx context.Context, userID int64, fn func(ctx context.Context, tx Tx) error) error

	// Wallet returns the user's wallet, or a zero wallet if none was created yet.
	Wallet(ctx context.Context, userID int64) (*model.Wallet, error)
	// Transactions returns the newest limit transactions of the user.
	Transactions(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error)
}

// Tx is a store transaction scoped to the user its unit was opened for.
type Tx interface {
	// Account is the locked account row.
	Account() *model.Account
	UpdateAccount(ctx context.Context, acc *model.Account) error

	// Wallet returns the user's wallet, creating a zero one on first use.
	Wallet(ctx context.Context) (*model.Wallet, error)
	SaveWallet(ctx context.Context, w *model.Wallet) error

	// FindTransactionByKey returns nil, nil when the key is unused.
	FindTransactionByKey(ctx context.Context, key string) (*model.Transaction, error)
	AppendTransaction(ctx context.Context, t *model.Transaction) error

	// SpinRecord returns nil, nil when the user has not spun on date.
	SpinRecord(ctx context.Context, date string) (*model.SpinRecord, error)
	// InsertSpinRecord returns model.ErrAlreadySpunToday when (user, date) exists.
	InsertSpinRecord(ctx context.Context, rec *model.SpinRecord) error

	// CountQualifiedReferrals counts referred users that are active and at least minLevel.
	CountQualifiedReferrals(ctx context.Context, minLevel int) (int, error)
	PaidReferralTiers(ctx context.Context) (map[int]bool, error)
	MarkReferralTierPaid(ctx context.Context, threshold int, at time.Time) error

	RecordAdminAction(ctx context.Context, a *model.AdminAction) error
}
