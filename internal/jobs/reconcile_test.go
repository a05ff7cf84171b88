package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promo-rewards/internal/earnings"
	"promo-rewards/internal/ledger"
	"promo-rewards/internal/model"
	"promo-rewards/internal/repository/memstore"
)

type failingReconciler struct{}

func (failingReconciler) Reconcile(context.Context) ([]model.WalletMismatch, error) {
	return nil, model.ErrStoreUnavailable
}

func seed(t *testing.T, store *memstore.Store, userID int64, amounts ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := store.UpsertAccount(ctx, &model.Account{UserID: userID, Level: 1, Status: model.StatusActive})
	require.NoError(t, err)

	l := ledger.New(store, earnings.MustDefaultEngine(), nil)
	for _, a := range amounts {
		_, err := l.Apply(ctx, ledger.Entry{
			UserID: userID,
			Amount: decimal.RequireFromString(a),
			Type:   model.TxTypeTaskReward,
		})
		require.NoError(t, err)
	}
}

func TestRunOnceDetectsDrift(t *testing.T) {
	store := memstore.New()
	seed(t, store, 1, "1.25", "0.75")
	seed(t, store, 2, "3")

	s := NewScheduler(store, "@every 1h", "UTC", prometheus.NewRegistry())

	found, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Equal(t, float64(0), testutil.ToFloat64(s.mismatches))

	store.CorruptBalance(2, decimal.RequireFromString("9"))

	found, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(2), found[0].UserID)
	assert.True(t, found[0].LedgerSum.Equal(decimal.RequireFromString("3")))
	assert.True(t, found[0].AvailableBalance.Equal(decimal.RequireFromString("9")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.mismatches))
	assert.Equal(t, found, s.Last())

	// Reconciliation reports, it never repairs.
	w, err := store.Wallet(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, w.AvailableBalance.Equal(decimal.RequireFromString("9")))
	assert.Equal(t, float64(2), testutil.ToFloat64(s.runs.WithLabelValues("ok")))
}

func TestRunOnceError(t *testing.T) {
	s := NewScheduler(failingReconciler{}, "", "UTC", nil)

	_, err := s.RunOnce(context.Background())
	assert.True(t, errors.Is(err, model.ErrStoreUnavailable))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.runs.WithLabelValues("error")))
	assert.Empty(t, s.Last())
}

func TestStart(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"disabled", "", false},
		{"valid", "0 3 * * *", false},
		{"descriptor", "@every 10m", false},
		{"invalid", "every day", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(memstore.New(), tt.schedule, "Europe/Berlin", nil)
			err := s.Start(context.Background())
			if tt.wantErr {
				assert.True(t, errors.Is(err, model.ErrConfiguration))
				return
			}
			require.NoError(t, err)
			s.Stop()
		})
	}
}

func TestUnknownTimezoneFallsBack(t *testing.T) {
	s := NewScheduler(memstore.New(), "", "Mars/Olympus", nil)
	assert.Equal(t, 0, len(s.cron.Entries()))
	require.NoError(t, s.Start(context.Background()))
}
