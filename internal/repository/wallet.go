package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"promo-rewards/internal/model"
)

const walletColumns = `user_id, available_balance, pending_balance, total_earned, total_withdrawn,
	earnings_from_tasks, earnings_from_referrals, earnings_from_bonuses, created_at, updated_at`

func scanWallet(row pgx.Row) (*model.Wallet, error) {
	var w model.Wallet
	err := row.Scan(
		&w.UserID,
		&w.AvailableBalance,
		&w.PendingBalance,
		&w.TotalEarned,
		&w.TotalWithdrawn,
		&w.EarningsFromTasks,
		&w.EarningsFromReferrals,
		&w.EarningsFromBonuses,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// lockWallet creates the wallet on first use and locks its row.
func lockWallet(ctx context.Context, q querier, userID int64) (*model.Wallet, error) {
	if _, err := q.Exec(ctx, `
		INSERT INTO wallets (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, storeErr("create wallet", err)
	}

	w, err := scanWallet(q.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, storeErr("lock wallet", err)
	}
	return w, nil
}

func saveWallet(ctx context.Context, q querier, w *model.Wallet) error {
	tag, err := q.Exec(ctx, `
		UPDATE wallets
		SET available_balance = $2, pending_balance = $3, total_earned = $4, total_withdrawn = $5,
			earnings_from_tasks = $6, earnings_from_referrals = $7, earnings_from_bonuses = $8,
			updated_at = $9
		WHERE user_id = $1
	`, w.UserID, w.AvailableBalance, w.PendingBalance, w.TotalEarned, w.TotalWithdrawn,
		w.EarningsFromTasks, w.EarningsFromReferrals, w.EarningsFromBonuses, w.UpdatedAt)
	if err != nil {
		return storeErr("save wallet", err)
	}
	if tag.RowsAffected() != 1 {
		return storeErr("save wallet", fmt.Errorf("wallet %d not found", w.UserID))
	}
	return nil
}

// Wallet returns the user's wallet, or a zero wallet if the user has not earned yet.
func (s *Store) Wallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	w, err := scanWallet(s.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, storeErr("get wallet", err)
	}

	acc, err := s.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	return model.NewWallet(userID, acc.CreatedAt), nil
}

// Reconcile lists wallets whose available balance differs from their transaction sum.
func (s *Store) Reconcile(ctx context.Context) ([]model.WalletMismatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.user_id, w.available_balance, COALESCE(SUM(t.amount), 0) AS ledger_sum
		FROM wallets w
		LEFT JOIN transactions t ON t.user_id = w.user_id
		GROUP BY w.user_id, w.available_balance
		HAVING w.available_balance <> COALESCE(SUM(t.amount), 0)
		ORDER BY w.user_id
	`)
	if err != nil {
		return nil, storeErr("reconcile", err)
	}
	defer rows.Close()

	var out []model.WalletMismatch
	for rows.Next() {
		var m model.WalletMismatch
		var sum decimal.Decimal
		if err := rows.Scan(&m.UserID, &m.AvailableBalance, &sum); err != nil {
			return nil, storeErr("scan mismatch", err)
		}
		m.LedgerSum = sum
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate mismatches", err)
	}
	return out, nil
}
