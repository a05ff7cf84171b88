package repository

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"promo-rewards/internal/earnings"
	"promo-rewards/internal/ledger"
	"promo-rewards/internal/model"
	"promo-rewards/internal/pkg/db"
	"promo-rewards/internal/referral"
	"promo-rewards/internal/service"
	"promo-rewards/internal/spin"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container, applies the schema and returns a pool.
// Skips the test if Docker is not available.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

func createAccount(t *testing.T, s *Store, userID int64, level int) {
	t.Helper()
	_, err := s.UpsertAccount(context.Background(), &model.Account{
		UserID:   userID,
		Level:    level,
		Status:   model.StatusActive,
		Timezone: "UTC",
	})
	require.NoError(t, err)
}

func TestStore_UpsertAccount(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewStore(pool)
	ctx := context.Background()

	acc, err := s.UpsertAccount(ctx, &model.Account{UserID: 1, Level: 2, Status: model.StatusActive, Timezone: "Europe/Berlin"})
	require.NoError(t, err)
	assert.Equal(t, 2, acc.Level)
	assert.Equal(t, "Europe/Berlin", acc.Timezone)

	// A second sync refreshes status but keeps the level.
	acc, err = s.UpsertAccount(ctx, &model.Account{UserID: 1, Level: 0, Status: model.StatusSuspended, Timezone: "UTC"})
	require.NoError(t, err)
	assert.Equal(t, 2, acc.Level)
	assert.Equal(t, model.StatusSuspended, acc.Status)

	_, err = s.Account(ctx, 99999)
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestStore_LedgerApply(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewStore(pool)
	l := ledger.New(s, earnings.MustDefaultEngine(), nil)
	ctx := context.Background()
	createAccount(t, s, 1, 1)

	w, err := s.Wallet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.AvailableBalance.IsZero())

	res, err := l.Apply(ctx, ledger.Entry{
		UserID:         1,
		Amount:         decimal.RequireFromString("0.014"),
		Type:           model.TxTypeAdRevenue,
		Description:    "ad view",
		IdempotencyKey: "ad:unity:view:evt-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.Wallet.AvailableBalance.Equal(decimal.RequireFromString("0.014")))

	res, err = l.Apply(ctx, ledger.Entry{
		UserID:         1,
		Amount:         decimal.RequireFromString("0.014"),
		Type:           model.TxTypeAdRevenue,
		IdempotencyKey: "ad:unity:view:evt-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	w, err = s.Wallet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.AvailableBalance.Equal(decimal.RequireFromString("0.014")))
	assert.True(t, w.EarningsFromTasks.Equal(decimal.RequireFromString("0.014")))

	txs, err := s.Transactions(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.NotNil(t, txs[0].IdempotencyKey)
	assert.Equal(t, "ad:unity:view:evt-1", *txs[0].IdempotencyKey)

	_, err = l.Apply(ctx, ledger.Entry{UserID: 1, Amount: decimal.NewFromInt(-1), Type: model.TxTypeWithdrawal})
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)

	_, err = l.Apply(ctx, ledger.Entry{UserID: 42, Amount: decimal.NewFromInt(1), Type: model.TxTypeTaskReward})
	assert.ErrorIs(t, err, model.ErrUserNotFound)

	mismatches, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestStore_RollbackOnError(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewStore(pool)
	l := ledger.New(s, earnings.MustDefaultEngine(), nil)
	ctx := context.Background()
	createAccount(t, s, 1, 0)

	err := l.Atomically(ctx, 1, func(ctx context.Context, u *ledger.Unit) error {
		if _, err := u.Apply(ctx, ledger.Entry{UserID: 1, Amount: decimal.NewFromInt(3), Type: model.TxTypeSpinPrize}); err != nil {
			return err
		}
		return u.Tx().InsertSpinRecord(ctx, &model.SpinRecord{Date: "2026-01-02", PrizeAmount: decimal.NewFromInt(3), CreatedAt: time.Now()})
	})
	require.NoError(t, err)

	// The second spin on the same date fails and takes its credit with it.
	err = l.Atomically(ctx, 1, func(ctx context.Context, u *ledger.Unit) error {
		if _, err := u.Apply(ctx, ledger.Entry{UserID: 1, Amount: decimal.NewFromInt(3), Type: model.TxTypeSpinPrize}); err != nil {
			return err
		}
		return u.Tx().InsertSpinRecord(ctx, &model.SpinRecord{Date: "2026-01-02", PrizeAmount: decimal.NewFromInt(3), CreatedAt: time.Now()})
	})
	assert.ErrorIs(t, err, model.ErrAlreadySpunToday)

	w, err := s.Wallet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.AvailableBalance.Equal(decimal.NewFromInt(3)))

	err = l.Atomically(ctx, 1, func(ctx context.Context, u *ledger.Unit) error {
		rec, err := u.Tx().SpinRecord(ctx, "2026-01-02")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "2026-01-02", rec.Date)

		rec, err = u.Tx().SpinRecord(ctx, "2026-01-03")
		require.NoError(t, err)
		assert.Nil(t, rec)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_ConcurrentApply(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewStore(pool)
	l := ledger.New(s, earnings.MustDefaultEngine(), nil)
	ctx := context.Background()
	createAccount(t, s, 1, 3)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Apply(ctx, ledger.Entry{UserID: 1, Amount: decimal.RequireFromString("0.25"), Type: model.TxTypeTaskReward})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	w, err := s.Wallet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.AvailableBalance.Equal(decimal.NewFromInt(5)), "got %s", w.AvailableBalance)

	txs, err := s.Transactions(ctx, 1, 100)
	require.NoError(t, err)
	assert.Len(t, txs, n)
}

func TestStore_Referrals(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewStore(pool)
	l := ledger.New(s, earnings.MustDefaultEngine(), nil)
	ctx := context.Background()
	createAccount(t, s, 1, 1)
	createAccount(t, s, 2, 1)
	createAccount(t, s, 3, 0)

	added, err := s.AddReferral(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddReferral(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, added)

	added, err = s.AddReferral(ctx, 1, 3)
	require.NoError(t, err)
	assert.True(t, added)

	_, err = s.AddReferral(ctx, 1, 777)
	assert.ErrorIs(t, err, model.ErrUserNotFound)

	err = l.Atomically(ctx, 1, func(ctx context.Context, u *ledger.Unit) error {
		n, err := u.Tx().CountQualifiedReferrals(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, u.Tx().MarkReferralTierPaid(ctx, 5, time.Now()))
		require.NoError(t, u.Tx().MarkReferralTierPaid(ctx, 5, time.Now()))

		paid, err := u.Tx().PaidReferralTiers(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[int]bool{5: true}, paid)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_AdminActions(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewStore(pool)
	l := ledger.New(s, earnings.MustDefaultEngine(), nil)
	ctx := context.Background()
	createAccount(t, s, 1, 0)

	err := l.Atomically(ctx, 1, func(ctx context.Context, u *ledger.Unit) error {
		if _, err := u.SetExactBalance(ctx, decimal.RequireFromString("50.00"), 900); err != nil {
			return err
		}
		return u.Tx().RecordAdminAction(ctx, &model.AdminAction{
			ID:           uuid.New(),
			ActorID:      900,
			TargetUserID: 1,
			Kind:         "set_balance",
			Details:      map[string]any{"target": "50.00"},
			CreatedAt:    time.Now(),
		})
	})
	require.NoError(t, err)

	actions, err := s.AdminActions(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, int64(900), actions[0].ActorID)
	assert.Equal(t, "50.00", actions[0].Details["target"])

	w, err := s.Wallet(ctx, 1)
	require.NoError(t, err)
	// Level 0 caps withdrawable funds at 10.00.
	assert.True(t, w.PendingBalance.Equal(decimal.NewFromInt(40)), "got %s", w.PendingBalance)
}

type firstSegment struct{}

func (firstSegment) Int63n(int64) (int64, error) { return 0, nil }

func TestStore_ConcurrentDraw(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewStore(pool)
	l := ledger.New(s, earnings.MustDefaultEngine(), nil)
	wheel, err := spin.NewWheel(spin.DefaultConfig(), firstSegment{})
	require.NoError(t, err)
	spins := service.NewSpinService(l, wheel, s)
	ctx := context.Background()
	createAccount(t, s, 1, 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	const n = 20
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := spins.Draw(ctx, 1, now)
			if err == nil {
				mu.Lock()
				won++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, model.ErrAlreadySpunToday)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	w, err := s.Wallet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.AvailableBalance.Equal(decimal.RequireFromString("0.05")), "got %s", w.AvailableBalance)

	txs, err := s.Transactions(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestStore_ConcurrentCheckAndAward(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewStore(pool)
	l := ledger.New(s, earnings.MustDefaultEngine(), nil)
	refs := service.NewReferralService(s, l, referral.MustDefaultTable())
	ctx := context.Background()
	createAccount(t, s, 1, 0)
	for id := int64(100); id < 105; id++ {
		createAccount(t, s, id, 0)
		_, err := refs.RecordReferral(ctx, 1, id)
		require.NoError(t, err)
	}

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		awarded int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			award, err := refs.CheckAndAward(ctx, 1)
			if assert.NoError(t, err) {
				mu.Lock()
				awarded += len(award.Awarded)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, awarded)
	w, err := s.Wallet(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.AvailableBalance.Equal(decimal.NewFromInt(10)), "got %s", w.AvailableBalance)
	assert.True(t, w.EarningsFromReferrals.Equal(decimal.NewFromInt(10)))
}

// Values the schema cannot hold are reported as bad input, not as an outage.
func TestStore_DataExceptionIsInvalidAmount(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewStore(pool)
	ctx := context.Background()
	createAccount(t, s, 1, 0)

	err := s.InTx(ctx, 1, func(ctx context.Context, tx ledger.Tx) error {
		key := strings.Repeat("k", 300)
		return tx.AppendTransaction(ctx, &model.Transaction{
			ID:             uuid.New(),
			UserID:         1,
			Type:           model.TxTypeTaskReward,
			Amount:         decimal.NewFromInt(1),
			IdempotencyKey: &key,
			CreatedAt:      time.Now(),
		})
	})
	assert.ErrorIs(t, err, model.ErrInvalidAmount)
	assert.NotErrorIs(t, err, model.ErrStoreUnavailable)

	txs, err := s.Transactions(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

// Notes whose details do not decode are reported, not returned half empty.
func TestStore_AdminActionsUndecodableDetails(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewStore(pool)
	ctx := context.Background()
	createAccount(t, s, 1, 0)

	_, err := pool.Exec(ctx, `
		INSERT INTO admin_actions (id, actor_id, target_user_id, kind, details, created_at)
		VALUES ($1, 900, 1, 'credit', '[1, 2]'::jsonb, NOW())
	`, uuid.New())
	require.NoError(t, err)

	_, err = s.AdminActions(ctx, 1, 10)
	assert.Error(t, err)
}
