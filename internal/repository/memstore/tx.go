package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"promo-rewards/internal/ledger"
	"promo-rewards/internal/model"
)

// memTx stages one unit's writes on top of the committed state.
type memTx struct {
	s      *Store
	userID int64

	account      *model.Account
	accountDirty bool
	wallet       *model.Wallet
	txs          []*model.Transaction
	spins        []*model.SpinRecord
	tiers        map[int]time.Time
	actions      []*model.AdminAction
}

var _ ledger.Tx = (*memTx)(nil)

func (t *memTx) Account() *model.Account {
	return t.account
}

func (t *memTx) UpdateAccount(_ context.Context, acc *model.Account) error {
	if acc.UserID != t.userID {
		return fmt.Errorf("%w: account %d in unit of %d", ledger.ErrWrongUnit, acc.UserID, t.userID)
	}
	c := *acc
	t.account = &c
	t.accountDirty = true
	return nil
}

func (t *memTx) Wallet(_ context.Context) (*model.Wallet, error) {
	if t.wallet != nil {
		return t.wallet.Clone(), nil
	}

	t.s.mu.RLock()
	w, ok := t.s.wallets[t.userID]
	t.s.mu.RUnlock()

	if ok {
		t.wallet = w.Clone()
	} else {
		t.wallet = model.NewWallet(t.userID, time.Now())
	}
	return t.wallet.Clone(), nil
}

func (t *memTx) SaveWallet(_ context.Context, w *model.Wallet) error {
	if w.UserID != t.userID {
		return fmt.Errorf("%w: wallet %d in unit of %d", ledger.ErrWrongUnit, w.UserID, t.userID)
	}
	t.wallet = w.Clone()
	return nil
}

func (t *memTx) FindTransactionByKey(_ context.Context, key string) (*model.Transaction, error) {
	for _, staged := range t.txs {
		if staged.IdempotencyKey != nil && *staged.IdempotencyKey == key {
			c := *staged
			return &c, nil
		}
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if prior, ok := t.s.keys[t.userID][key]; ok {
		c := *prior
		return &c, nil
	}
	return nil, nil
}

func (t *memTx) AppendTransaction(ctx context.Context, txn *model.Transaction) error {
	if txn.UserID != t.userID {
		return fmt.Errorf("%w: transaction for %d in unit of %d", ledger.ErrWrongUnit, txn.UserID, t.userID)
	}
	if txn.IdempotencyKey != nil {
		prior, _ := t.FindTransactionByKey(ctx, *txn.IdempotencyKey)
		if prior != nil {
			return fmt.Errorf("%w: %s", ledger.ErrKeyConflict, *txn.IdempotencyKey)
		}
	}
	c := *txn
	t.txs = append(t.txs, &c)
	return nil
}

func (t *memTx) SpinRecord(_ context.Context, date string) (*model.SpinRecord, error) {
	for _, r := range t.spins {
		if r.Date == date {
			c := *r
			return &c, nil
		}
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if r, ok := t.s.spins[t.userID][date]; ok {
		c := *r
		return &c, nil
	}
	return nil, nil
}

func (t *memTx) InsertSpinRecord(ctx context.Context, rec *model.SpinRecord) error {
	existing, _ := t.SpinRecord(ctx, rec.Date)
	if existing != nil {
		return fmt.Errorf("%w: %s", model.ErrAlreadySpunToday, rec.Date)
	}
	c := *rec
	c.UserID = t.userID
	t.spins = append(t.spins, &c)
	return nil
}

func (t *memTx) CountQualifiedReferrals(_ context.Context, minLevel int) (int, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	n := 0
	for referred, r := range t.s.referrals {
		if r.ReferrerID != t.userID {
			continue
		}
		acc, ok := t.s.accounts[referred]
		if ok && acc.IsActive() && acc.Level >= minLevel {
			n++
		}
	}
	return n, nil
}

func (t *memTx) PaidReferralTiers(_ context.Context) (map[int]bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	paid := make(map[int]bool)
	for threshold := range t.s.paidTiers[t.userID] {
		paid[threshold] = true
	}
	for threshold := range t.tiers {
		paid[threshold] = true
	}
	return paid, nil
}

func (t *memTx) MarkReferralTierPaid(_ context.Context, threshold int, at time.Time) error {
	t.tiers[threshold] = at
	return nil
}

// RecordAdminAction stores a JSON round-tripped copy of the details, as the
// database would.
func (t *memTx) RecordAdminAction(_ context.Context, a *model.AdminAction) error {
	c := *a
	if a.Details != nil {
		raw, err := json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("encode admin action details: %w", err)
		}
		c.Details = nil
		if err := json.Unmarshal(raw, &c.Details); err != nil {
			return fmt.Errorf("decode admin action details: %w", err)
		}
	}
	t.actions = append(t.actions, &c)
	return nil
}
