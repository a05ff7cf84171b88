package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"promo-rewards/internal/ledger"
	"promo-rewards/internal/model"
)

// pgTx is one open database transaction holding the user's account row lock.
type pgTx struct {
	tx      pgx.Tx
	userID  int64
	account *model.Account
	wallet  *model.Wallet // locked row, loaded on first use
}

var _ ledger.Tx = (*pgTx)(nil)

func (t *pgTx) Account() *model.Account {
	return t.account
}

func (t *pgTx) UpdateAccount(ctx context.Context, acc *model.Account) error {
	if acc.UserID != t.userID {
		return fmt.Errorf("%w: account %d in unit of %d", ledger.ErrWrongUnit, acc.UserID, t.userID)
	}
	updated, err := updateAccount(ctx, t.tx, acc)
	if err != nil {
		return err
	}
	t.account = updated
	return nil
}

func (t *pgTx) Wallet(ctx context.Context) (*model.Wallet, error) {
	if t.wallet == nil {
		w, err := lockWallet(ctx, t.tx, t.userID)
		if err != nil {
			return nil, err
		}
		t.wallet = w
	}
	return t.wallet.Clone(), nil
}

func (t *pgTx) SaveWallet(ctx context.Context, w *model.Wallet) error {
	if w.UserID != t.userID {
		return fmt.Errorf("%w: wallet %d in unit of %d", ledger.ErrWrongUnit, w.UserID, t.userID)
	}
	if t.wallet == nil {
		// Make sure the row exists and is locked before overwriting it.
		if _, err := t.Wallet(ctx); err != nil {
			return err
		}
	}
	if err := saveWallet(ctx, t.tx, w); err != nil {
		return err
	}
	t.wallet = w.Clone()
	return nil
}

func (t *pgTx) FindTransactionByKey(ctx context.Context, key string) (*model.Transaction, error) {
	return findTransactionByKey(ctx, t.tx, t.userID, key)
}

func (t *pgTx) AppendTransaction(ctx context.Context, txn *model.Transaction) error {
	if txn.UserID != t.userID {
		return fmt.Errorf("%w: transaction for %d in unit of %d", ledger.ErrWrongUnit, txn.UserID, t.userID)
	}
	return appendTransaction(ctx, t.tx, txn)
}

func (t *pgTx) SpinRecord(ctx context.Context, date string) (*model.SpinRecord, error) {
	return getSpinRecord(ctx, t.tx, t.userID, date)
}

func (t *pgTx) InsertSpinRecord(ctx context.Context, rec *model.SpinRecord) error {
	r := *rec
	r.UserID = t.userID
	return insertSpinRecord(ctx, t.tx, &r)
}

func (t *pgTx) CountQualifiedReferrals(ctx context.Context, minLevel int) (int, error) {
	return countQualifiedReferrals(ctx, t.tx, t.userID, minLevel)
}

func (t *pgTx) PaidReferralTiers(ctx context.Context) (map[int]bool, error) {
	return paidReferralTiers(ctx, t.tx, t.userID)
}

func (t *pgTx) MarkReferralTierPaid(ctx context.Context, threshold int, at time.Time) error {
	return markReferralTierPaid(ctx, t.tx, t.userID, threshold, at)
}

func (t *pgTx) RecordAdminAction(ctx context.Context, a *model.AdminAction) error {
	return recordAdminAction(ctx, t.tx, a)
}
