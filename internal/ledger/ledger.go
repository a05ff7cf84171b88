package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"promo-rewards/internal/earnings"
	"promo-rewards/internal/model"
)

// ErrWrongUnit is returned when an entry targets a user other than the unit's owner.
var ErrWrongUnit = errors.New("entry does not belong to this unit")

// Entry is one requested balance change.
type Entry struct {
	UserID         int64
	Amount         decimal.Decimal // signed
	Type           model.TxType
	Description    string
	IdempotencyKey string // empty means no duplicate suppression
}

// Result is the outcome of applying an Entry.
// Duplicate is set when the key was already consumed; Transaction is then the earlier one.
type Result struct {
	Wallet      *model.Wallet
	Transaction *model.Transaction
	Duplicate   bool
}

// Ledger applies entries to wallets and appends the matching transactions.
type Ledger struct {
	store   Store
	engine  *earnings.Engine
	metrics *Metrics
	now     func() time.Time
}

// New creates a Ledger. metrics may be nil.
func New(store Store, engine *earnings.Engine, metrics *Metrics) *Ledger {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Ledger{
		store:   store,
		engine:  engine,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Engine returns the rule engine used for pending balance bookkeeping.
func (l *Ledger) Engine() *earnings.Engine {
	return l.engine
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// Apply applies e in its own atomic unit.
func (l *Ledger) Apply(ctx context.Context, e Entry) (*Result, error) {
	var res *Result
	err := l.Atomically(ctx, e.UserID, func(ctx context.Context, u *Unit) error {
		var err error
		res, err = u.Apply(ctx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Atomically runs fn in one atomic unit for userID.
// Everything fn writes through the unit commits together or not at all.
func (l *Ledger) Atomically(ctx context.Context, userID int64, fn func(ctx context.Context, u *Unit) error) error {
	start := time.Now()
	var u *Unit

	err := l.store.InTx(ctx, userID, func(ctx context.Context, tx Tx) error {
		u = &Unit{l: l, tx: tx, userID: userID}
		return fn(ctx, u)
	})
	l.metrics.Latency.Observe(time.Since(start).Seconds())

	if err != nil {
		l.metrics.Rejected.WithLabelValues(reason(err)).Inc()
		return err
	}

	if u != nil {
		for _, t := range u.applied {
			l.metrics.Applied.WithLabelValues(string(t)).Inc()
		}
		if u.duplicates > 0 {
			l.metrics.Duplicates.Add(float64(u.duplicates))
		}
	}
	return nil
}

// SetExactBalance moves the user's available balance to target with one
// admin_set_balance transaction. A zero difference writes nothing.
func (l *Ledger) SetExactBalance(ctx context.Context, userID int64, target decimal.Decimal, adminID int64) (*Result, error) {
	var res *Result
	err := l.Atomically(ctx, userID, func(ctx context.Context, u *Unit) error {
		var err error
		res, err = u.SetExactBalance(ctx, target, adminID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Wallet returns the user's current wallet.
func (l *Ledger) Wallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	return l.store.Wallet(ctx, userID)
}

// History returns the user's newest transactions.
func (l *Ledger) History(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return l.store.Transactions(ctx, userID, limit)
}

// Unit is an open atomic unit for one user.
type Unit struct {
	l          *Ledger
	tx         Tx
	userID     int64
	applied    []model.TxType
	duplicates int
}

// Tx exposes the store transaction so collaborators can write alongside the ledger.
func (u *Unit) Tx() Tx {
	return u.tx
}

// Account returns the locked account of the unit's user.
func (u *Unit) Account() *model.Account {
	return u.tx.Account()
}

// Apply applies e inside the unit.
func (u *Unit) Apply(ctx context.Context, e Entry) (*Result, error) {
	if e.UserID != u.userID {
		return nil, fmt.Errorf("%w: user %d in unit of %d", ErrWrongUnit, e.UserID, u.userID)
	}
	if err := validateEntry(e); err != nil {
		return nil, err
	}

	if e.IdempotencyKey != "" {
		prior, err := u.tx.FindTransactionByKey(ctx, e.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			if !prior.Amount.Equal(e.Amount) || prior.Type != e.Type {
				log.Warn().
					Int64("user_id", e.UserID).
					Str("key", e.IdempotencyKey).
					Str("prior_amount", prior.Amount.String()).
					Str("amount", e.Amount.String()).
					Msg("Idempotency key reused with different inputs")
			}
			w, err := u.tx.Wallet(ctx)
			if err != nil {
				return nil, err
			}
			u.duplicates++
			return &Result{Wallet: w.Clone(), Transaction: prior, Duplicate: true}, nil
		}
	}

	w, err := u.tx.Wallet(ctx)
	if err != nil {
		return nil, err
	}

	now := u.l.now()
	next, err := u.l.post(w, u.tx.Account().Level, e, now)
	if err != nil {
		return nil, err
	}

	t := &model.Transaction{
		ID:          uuid.New(),
		UserID:      e.UserID,
		Type:        e.Type,
		Amount:      e.Amount,
		Description: e.Description,
		CreatedAt:   now,
	}
	if e.IdempotencyKey != "" {
		key := e.IdempotencyKey
		t.IdempotencyKey = &key
	}

	if err := u.tx.SaveWallet(ctx, next); err != nil {
		return nil, err
	}
	if err := u.tx.AppendTransaction(ctx, t); err != nil {
		return nil, err
	}
	u.applied = append(u.applied, e.Type)

	log.Debug().
		Int64("user_id", e.UserID).
		Str("type", string(e.Type)).
		Str("amount", e.Amount.String()).
		Str("balance", next.AvailableBalance.String()).
		Msg("Ledger entry applied")

	return &Result{Wallet: next.Clone(), Transaction: t}, nil
}

// SetExactBalance is Ledger.SetExactBalance inside an open unit.
func (u *Unit) SetExactBalance(ctx context.Context, target decimal.Decimal, adminID int64) (*Result, error) {
	if target.IsNegative() || !model.HasMoneyPrecision(target) || !model.InMoneyRange(target) {
		return nil, fmt.Errorf("%w: target balance %s", model.ErrInvalidAmount, target)
	}

	w, err := u.tx.Wallet(ctx)
	if err != nil {
		return nil, err
	}
	diff := target.Sub(w.AvailableBalance)
	if diff.IsZero() {
		return &Result{Wallet: w.Clone()}, nil
	}

	return u.Apply(ctx, Entry{
		UserID:      u.userID,
		Amount:      diff,
		Type:        model.TxTypeAdminSetBalance,
		Description: fmt.Sprintf("Balance set to %s by admin %d", target.StringFixed(model.MoneyPlaces), adminID),
	})
}

// SetLevel changes the account level and re-splits the wallet into available and pending.
func (u *Unit) SetLevel(ctx context.Context, level int) (*model.Account, error) {
	if _, ok := u.l.engine.Plan(level); !ok {
		return nil, fmt.Errorf("%w: no plan for level %d", model.ErrConfiguration, level)
	}

	acc := *u.tx.Account()
	acc.Level = level
	acc.UpdatedAt = u.l.now()
	if err := u.tx.UpdateAccount(ctx, &acc); err != nil {
		return nil, err
	}

	w, err := u.tx.Wallet(ctx)
	if err != nil {
		return nil, err
	}
	next := w.Clone()
	next.PendingBalance = u.l.engine.PendingPortion(level, next.AvailableBalance)
	if !next.PendingBalance.Equal(w.PendingBalance) {
		next.UpdatedAt = acc.UpdatedAt
		if err := u.tx.SaveWallet(ctx, next); err != nil {
			return nil, err
		}
	}
	return &acc, nil
}

func (l *Ledger) post(w *model.Wallet, level int, e Entry, now time.Time) (*model.Wallet, error) {
	next := w.Clone()
	next.AvailableBalance = w.AvailableBalance.Add(e.Amount)
	if next.AvailableBalance.IsNegative() {
		return nil, fmt.Errorf("%w: balance %s, change %s", model.ErrInsufficientBalance, w.AvailableBalance, e.Amount)
	}

	if e.Amount.IsPositive() {
		next.TotalEarned = next.TotalEarned.Add(e.Amount)
		switch e.Type {
		case model.TxTypeAdRevenue, model.TxTypeTaskReward:
			next.EarningsFromTasks = next.EarningsFromTasks.Add(e.Amount)
		case model.TxTypeReferralBonus:
			next.EarningsFromReferrals = next.EarningsFromReferrals.Add(e.Amount)
		default:
			next.EarningsFromBonuses = next.EarningsFromBonuses.Add(e.Amount)
		}
	}
	if e.Type == model.TxTypeWithdrawal {
		next.TotalWithdrawn = next.TotalWithdrawn.Sub(e.Amount)
	}
	for _, total := range []decimal.Decimal{next.AvailableBalance, next.TotalEarned, next.TotalWithdrawn} {
		if !model.InMoneyRange(total) {
			return nil, fmt.Errorf("%w: balance would reach %s", model.ErrInvalidAmount, total)
		}
	}

	next.PendingBalance = l.engine.PendingPortion(level, next.AvailableBalance)
	next.UpdatedAt = now
	return next, nil
}

func validateEntry(e Entry) error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", model.ErrInvalidAmount, e.Type)
	}
	if e.Amount.IsZero() {
		return fmt.Errorf("%w: amount must not be zero", model.ErrInvalidAmount)
	}
	if !model.HasMoneyPrecision(e.Amount) {
		return fmt.Errorf("%w: %s has more than %d decimal places", model.ErrInvalidAmount, e.Amount, model.MoneyPlaces)
	}
	if !model.InMoneyRange(e.Amount) {
		return fmt.Errorf("%w: %s is out of range", model.ErrInvalidAmount, e.Amount)
	}
	if len(e.IdempotencyKey) > model.MaxKeyLength {
		return fmt.Errorf("%w: idempotency key longer than %d bytes", model.ErrInvalidAmount, model.MaxKeyLength)
	}

	switch e.Type {
	case model.TxTypeTaskReward, model.TxTypeAdRevenue, model.TxTypeReferralBonus, model.TxTypeSpinPrize:
		if e.Amount.IsNegative() {
			return fmt.Errorf("%w: %s must be a credit", model.ErrInvalidAmount, e.Type)
		}
	case model.TxTypeLevelUpgrade, model.TxTypeWithdrawal:
		if e.Amount.IsPositive() {
			return fmt.Errorf("%w: %s must be a debit", model.ErrInvalidAmount, e.Type)
		}
	}
	return nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, model.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, model.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, model.ErrAlreadySpunToday):
		return "already_spun"
	case errors.Is(err, model.ErrAccountInactive):
		return "account_inactive"
	case errors.Is(err, model.ErrDailyLimitReached):
		return "daily_limit"
	case errors.Is(err, model.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, model.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, model.ErrConfiguration):
		return "configuration"
	default:
		return "other"
	}
}
