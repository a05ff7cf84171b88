package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"promo-rewards/internal/model"
)

const accountColumns = `user_id, level, status, timezone, withdrawal_override, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var acc model.Account
	err := row.Scan(
		&acc.UserID,
		&acc.Level,
		&acc.Status,
		&acc.Timezone,
		&acc.WithdrawalOverride,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// getAccount reads an account, locking the row when forUpdate is set.
// Returns model.ErrUserNotFound if the account does not exist.
func getAccount(ctx context.Context, q querier, userID int64, forUpdate bool) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	acc, err := scanAccount(q.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", model.ErrUserNotFound, userID)
		}
		return nil, storeErr("get account", err)
	}
	return acc, nil
}

func updateAccount(ctx context.Context, q querier, acc *model.Account) (*model.Account, error) {
	const query = `
		UPDATE accounts
		SET level = $2, status = $3, timezone = $4, withdrawal_override = $5, updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + accountColumns

	updated, err := scanAccount(q.QueryRow(ctx, query,
		acc.UserID, acc.Level, acc.Status, acc.Timezone, acc.WithdrawalOverride))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", model.ErrUserNotFound, acc.UserID)
		}
		return nil, storeErr("update account", err)
	}
	return updated, nil
}

// Account retrieves an account by user ID.
func (s *Store) Account(ctx context.Context, userID int64) (*model.Account, error) {
	return getAccount(ctx, s.pool, userID, false)
}

// UpsertAccount creates the account or refreshes its status and timezone.
// Level and the withdrawal override of an existing account are owned by the
// ledger and are left alone.
func (s *Store) UpsertAccount(ctx context.Context, acc *model.Account) (*model.Account, error) {
	const query = `
		INSERT INTO accounts (user_id, level, status, timezone, withdrawal_override, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET status = EXCLUDED.status, timezone = EXCLUDED.timezone, updated_at = NOW()
		RETURNING ` + accountColumns

	out, err := scanAccount(s.pool.QueryRow(ctx, query,
		acc.UserID, acc.Level, acc.Status, acc.Timezone, acc.WithdrawalOverride))
	if err != nil {
		return nil, storeErr("upsert account", err)
	}
	return out, nil
}
