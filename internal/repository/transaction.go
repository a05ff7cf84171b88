package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"promo-rewards/internal/ledger"
	"promo-rewards/internal/model"
)

const transactionColumns = `id, user_id, type, amount, description, idempotency_key, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Type,
		&t.Amount,
		&t.Description,
		&t.IdempotencyKey,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// appendTransaction inserts t. A reused idempotency key yields ledger.ErrKeyConflict.
func appendTransaction(ctx context.Context, q querier, t *model.Transaction) error {
	tag, err := q.Exec(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, description, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
	`, t.ID, t.UserID, t.Type, t.Amount, t.Description, t.IdempotencyKey, t.CreatedAt)
	if err != nil {
		return storeErr("append transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrKeyConflict, *t.IdempotencyKey)
	}
	return nil
}

func findTransactionByKey(ctx context.Context, q querier, userID int64, key string) (*model.Transaction, error) {
	t, err := scanTransaction(q.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1 AND idempotency_key = $2
	`, userID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("find transaction", err)
	}
	return t, nil
}

// Transactions retrieves the user's transactions, newest first.
func (s *Store) Transactions(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, storeErr("get transactions", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, storeErr("scan transaction", err)
		}
		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate transactions", err)
	}

	return transactions, nil
}
