// Package memstore is an in-process ledger.Store for local runs and tests.
// Units for the same user are serialized with a per-user lock; writes are
// staged and become visible only when the unit commits.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"promo-rewards/internal/ledger"
	"promo-rewards/internal/model"
	"promo-rewards/internal/pkg/lock"
)

// Store keeps all state in maps guarded by mu.
type Store struct {
	locks *lock.UserLock

	mu           sync.RWMutex
	accounts     map[int64]*model.Account
	wallets      map[int64]*model.Wallet
	txs          map[int64][]*model.Transaction
	keys         map[int64]map[string]*model.Transaction
	spins        map[int64]map[string]*model.SpinRecord
	referrals    map[int64]*model.Referral // keyed by referred user
	paidTiers    map[int64]map[int]time.Time
	adminActions []*model.AdminAction
	commitErr    error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		locks:     lock.NewUserLock(),
		accounts:  make(map[int64]*model.Account),
		wallets:   make(map[int64]*model.Wallet),
		txs:       make(map[int64][]*model.Transaction),
		keys:      make(map[int64]map[string]*model.Transaction),
		spins:     make(map[int64]map[string]*model.SpinRecord),
		referrals: make(map[int64]*model.Referral),
		paidTiers: make(map[int64]map[int]time.Time),
	}
}

// FailNextCommit makes the next commit fail with ErrStoreUnavailable.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// InTx implements ledger.Store.
func (s *Store) InTx(ctx context.Context, userID int64, fn func(ctx context.Context, tx ledger.Tx) error) error {
	release, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	defer release()

	s.mu.RLock()
	acc, ok := s.accounts[userID]
	var snapshot model.Account
	if ok {
		snapshot = *acc
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", model.ErrUserNotFound, userID)
	}

	tx := &memTx{s: s, userID: userID, account: &snapshot, tiers: make(map[int]time.Time)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commitErr != nil {
		err := s.commitErr
		s.commitErr = nil
		return fmt.Errorf("%w: commit: %w", model.ErrStoreUnavailable, err)
	}

	uid := tx.userID
	if tx.accountDirty {
		acc := *tx.account
		s.accounts[uid] = &acc
	}
	if tx.wallet != nil {
		s.wallets[uid] = tx.wallet.Clone()
	}
	for _, t := range tx.txs {
		s.txs[uid] = append(s.txs[uid], t)
		if t.IdempotencyKey != nil {
			if s.keys[uid] == nil {
				s.keys[uid] = make(map[string]*model.Transaction)
			}
			s.keys[uid][*t.IdempotencyKey] = t
		}
	}
	for _, r := range tx.spins {
		if s.spins[uid] == nil {
			s.spins[uid] = make(map[string]*model.SpinRecord)
		}
		s.spins[uid][r.Date] = r
	}
	for threshold, at := range tx.tiers {
		if s.paidTiers[uid] == nil {
			s.paidTiers[uid] = make(map[int]time.Time)
		}
		s.paidTiers[uid][threshold] = at
	}
	s.adminActions = append(s.adminActions, tx.actions...)
	return nil
}

// Wallet implements ledger.Store.
func (s *Store) Wallet(_ context.Context, userID int64) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if w, ok := s.wallets[userID]; ok {
		return w.Clone(), nil
	}
	if _, ok := s.accounts[userID]; !ok {
		return nil, fmt.Errorf("%w: %d", model.ErrUserNotFound, userID)
	}
	return model.NewWallet(userID, time.Time{}), nil
}

// Transactions implements ledger.Store. Newest first.
func (s *Store) Transactions(_ context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.txs[userID]
	out := make([]*model.Transaction, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		t := *all[i]
		out = append(out, &t)
	}
	return out, nil
}

// Account returns the user's account.
func (s *Store) Account(_ context.Context, userID int64) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", model.ErrUserNotFound, userID)
	}
	c := *acc
	return &c, nil
}

// UpsertAccount creates the account or refreshes its status and timezone.
// Level and the withdrawal override of an existing account are left alone.
func (s *Store) UpsertAccount(ctx context.Context, acc *model.Account) (*model.Account, error) {
	release, err := s.locks.Lock(ctx, acc.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cur, ok := s.accounts[acc.UserID]
	if !ok {
		c := *acc
		c.CreatedAt, c.UpdatedAt = now, now
		s.accounts[acc.UserID] = &c
		out := c
		return &out, nil
	}
	cur.Status = acc.Status
	cur.Timezone = acc.Timezone
	cur.UpdatedAt = now
	out := *cur
	return &out, nil
}

// AddReferral links referred to referrer. It returns false if referred already has a referrer.
func (s *Store) AddReferral(_ context.Context, referrerID, referredID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[referrerID]; !ok {
		return false, fmt.Errorf("%w: %d", model.ErrUserNotFound, referrerID)
	}
	if _, ok := s.accounts[referredID]; !ok {
		return false, fmt.Errorf("%w: %d", model.ErrUserNotFound, referredID)
	}
	if _, ok := s.referrals[referredID]; ok {
		return false, nil
	}
	s.referrals[referredID] = &model.Referral{ReferrerID: referrerID, ReferredID: referredID, CreatedAt: time.Now()}
	return true, nil
}

// Reconcile lists wallets whose available balance differs from their transaction sum.
func (s *Store) Reconcile(_ context.Context) ([]model.WalletMismatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.WalletMismatch
	for uid, w := range s.wallets {
		sum := decimal.Zero
		for _, t := range s.txs[uid] {
			sum = sum.Add(t.Amount)
		}
		if !sum.Equal(w.AvailableBalance) {
			out = append(out, model.WalletMismatch{UserID: uid, AvailableBalance: w.AvailableBalance, LedgerSum: sum})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// AdminActions returns the audit notes for a target user, newest first.
func (s *Store) AdminActions(_ context.Context, targetUserID int64, limit int) ([]*model.AdminAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.AdminAction
	for i := len(s.adminActions) - 1; i >= 0 && len(out) < limit; i-- {
		if a := s.adminActions[i]; a.TargetUserID == targetUserID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

// CorruptBalance overwrites a wallet's balance without a transaction.
// Only reconciliation tests use it.
func (s *Store) CorruptBalance(userID int64, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[userID]; ok {
		w.AvailableBalance = balance
	}
}

// SpinRecord returns the committed spin of the user on date, or nil, nil.
func (s *Store) SpinRecord(_ context.Context, userID int64, date string) (*model.SpinRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.spins[userID][date]; ok {
		c := *r
		return &c, nil
	}
	return nil, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
