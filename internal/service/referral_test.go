package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"promo-rewards/internal/model"
	"promo-rewards/internal/referral"
	"promo-rewards/internal/service"
)

// refer creates n referred users at level for referrer, numbered from first.
func refer(t *testing.T, env *testEnv, referrerID int64, first int64, n int, level int) {
	t.Helper()
	for i := int64(0); i < int64(n); i++ {
		env.addUser(t, first+i, level)
		added, err := env.refs.RecordReferral(context.Background(), referrerID, first+i)
		require.NoError(t, err)
		require.True(t, added)
	}
}

func TestRecordReferral(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.addUser(t, 1, 0)
	env.addUser(t, 2, 0)
	env.addUser(t, 3, 0)

	_, err := env.refs.RecordReferral(ctx, 1, 1)
	assert.ErrorIs(t, err, service.ErrSelfReferral)

	added, err := env.refs.RecordReferral(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, added)

	// A user keeps their first referrer.
	added, err = env.refs.RecordReferral(ctx, 3, 2)
	require.NoError(t, err)
	assert.False(t, added)

	_, err = env.refs.RecordReferral(ctx, 1, 99)
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

// Moving from 14 to 15 qualifying referrals pays the $25 tier once.
func TestCheckAndAward_FifteenthReferral(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.addUser(t, 1, 1)
	refer(t, env, 1, 100, 14, 1)

	award, err := env.refs.CheckAndAward(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 14, award.Qualified)
	require.Len(t, award.Awarded, 1)
	assert.Equal(t, 5, award.Awarded[0].Threshold)

	refer(t, env, 1, 200, 1, 1)
	award, err = env.refs.CheckAndAward(ctx, 1)
	require.NoError(t, err)
	require.Len(t, award.Awarded, 1)
	assert.Equal(t, 15, award.Awarded[0].Threshold)
	assert.True(t, award.Awarded[0].Bonus.Equal(dec("25")))
	assert.True(t, award.Wallet.EarningsFromReferrals.Equal(dec("35")))

	award, err = env.refs.CheckAndAward(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, award.Awarded)

	txs, err := env.accounts.History(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.NotNil(t, txs[0].IdempotencyKey)
	assert.Equal(t, referral.IdempotencyKey(1, 15), *txs[0].IdempotencyKey)
}

func TestCheckAndAward_Qualification(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.addUser(t, 1, 2)

	// Below the referrer's level: not qualifying.
	refer(t, env, 1, 100, 5, 1)
	award, err := env.refs.CheckAndAward(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, award.Qualified)
	assert.Empty(t, award.Awarded)

	refer(t, env, 1, 200, 5, 2)
	award, err = env.refs.CheckAndAward(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, award.Qualified)
	require.Len(t, award.Awarded, 1)

	// Suspending a referred user does not claw back the paid tier.
	env.suspend(t, 200)
	award, err = env.refs.CheckAndAward(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, award.Qualified)
	assert.Empty(t, award.Awarded)
	assert.True(t, env.balance(t, 1).Equal(dec("10")))
}

func TestCheckAndAward_InactiveReferrer(t *testing.T) {
	env := newEnv(t)
	env.addUser(t, 1, 0)
	refer(t, env, 1, 100, 5, 0)
	env.suspend(t, 1)

	_, err := env.refs.CheckAndAward(context.Background(), 1)
	assert.ErrorIs(t, err, model.ErrAccountInactive)
}

// Each tier is paid at most once whatever order referrals and checks come in.
func TestCheckAndAward_ExactlyOnceProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		env := newEnv(t)
		ctx := context.Background()
		env.addUser(t, 1, 0)

		next := int64(100)
		steps := rapid.SliceOfN(rapid.IntRange(0, 12), 1, 20).Draw(rt, "steps")
		total := 0
		for _, n := range steps {
			for i := 0; i < n; i++ {
				env.addUser(t, next, 0)
				if _, err := env.refs.RecordReferral(ctx, 1, next); err != nil {
					rt.Fatal(err)
				}
				next++
			}
			total += n
			if _, err := env.refs.CheckAndAward(ctx, 1); err != nil {
				rt.Fatal(err)
			}
		}

		txs, err := env.accounts.History(ctx, 1, 500)
		if err != nil {
			rt.Fatal(err)
		}
		seen := make(map[string]bool)
		for _, tx := range txs {
			if seen[*tx.IdempotencyKey] {
				rt.Fatalf("tier paid twice: %s", *tx.IdempotencyKey)
			}
			seen[*tx.IdempotencyKey] = true
		}

		want := 0
		for _, tier := range referral.DefaultTiers() {
			if tier.Threshold <= total {
				want++
			}
		}
		if len(txs) != want {
			rt.Fatalf("%d referrals: got %d bonuses, want %d", total, len(txs), want)
		}
	})
}

// Concurrent qualification checks pay the reached tier once.
func TestCheckAndAward_Concurrent(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.addUser(t, 1, 0)
	refer(t, env, 1, 100, 5, 0)

	const n = 30
	var (
		wg      sync.WaitGroup
		awarded atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			award, err := env.refs.CheckAndAward(ctx, 1)
			if assert.NoError(t, err) {
				awarded.Add(int32(len(award.Awarded)))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), awarded.Load())
	assert.True(t, env.balance(t, 1).Equal(dec("10")))
}
