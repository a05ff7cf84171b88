package service_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"promo-rewards/internal/earnings"
	"promo-rewards/internal/ledger"
	"promo-rewards/internal/model"
	"promo-rewards/internal/referral"
	"promo-rewards/internal/repository/memstore"
	"promo-rewards/internal/service"
	"promo-rewards/internal/spin"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fixedSource always returns v, clamped to the requested range.
type fixedSource struct{ v int64 }

func (s fixedSource) Int63n(n int64) (int64, error) {
	if s.v >= n {
		return n - 1, nil
	}
	return s.v, nil
}

type testEnv struct {
	store    *memstore.Store
	ledger   *ledger.Ledger
	accounts *service.AccountService
	ads      *service.AdService
	spins    *service.SpinService
	refs     *service.ReferralService
	admin    *service.AdminService
}

func newEnv(t testing.TB) *testEnv {
	t.Helper()
	return newEnvWithWheel(t, fixedSource{0})
}

func newEnvWithWheel(t testing.TB, src spin.Source) *testEnv {
	t.Helper()
	store := memstore.New()
	l := ledger.New(store, earnings.MustDefaultEngine(), nil)
	wheel, err := spin.NewWheel(spin.DefaultConfig(), src)
	require.NoError(t, err)

	return &testEnv{
		store:    store,
		ledger:   l,
		accounts: service.NewAccountService(store, l),
		ads:      service.NewAdService(l, nil),
		spins:    service.NewSpinService(l, wheel, store),
		refs:     service.NewReferralService(store, l, referral.MustDefaultTable()),
		admin:    service.NewAdminService(store, l),
	}
}

// addUser creates an active account at level.
func (e *testEnv) addUser(t testing.TB, userID int64, level int) {
	t.Helper()
	_, err := e.store.UpsertAccount(context.Background(), &model.Account{
		UserID: userID,
		Level:  level,
		Status: model.StatusActive,
	})
	require.NoError(t, err)
}

func (e *testEnv) credit(t testing.TB, userID int64, amount string) {
	t.Helper()
	_, err := e.ledger.Apply(context.Background(), ledger.Entry{
		UserID: userID,
		Amount: dec(amount),
		Type:   model.TxTypeTaskReward,
	})
	require.NoError(t, err)
}

func (e *testEnv) suspend(t testing.TB, userID int64) {
	t.Helper()
	acc, err := e.store.Account(context.Background(), userID)
	require.NoError(t, err)
	acc.Status = model.StatusSuspended
	_, err = e.store.UpsertAccount(context.Background(), acc)
	require.NoError(t, err)
}

func (e *testEnv) balance(t testing.TB, userID int64) decimal.Decimal {
	t.Helper()
	w, err := e.store.Wallet(context.Background(), userID)
	require.NoError(t, err)
	return w.AvailableBalance
}
