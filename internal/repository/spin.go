package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"promo-rewards/internal/model"
)

func getSpinRecord(ctx context.Context, q querier, userID int64, date string) (*model.SpinRecord, error) {
	var r model.SpinRecord
	err := q.QueryRow(ctx, `
		SELECT user_id, to_char(spin_date, 'YYYY-MM-DD'), prize_amount, created_at
		FROM spin_records
		WHERE user_id = $1 AND spin_date = $2::date
	`, userID, date).Scan(&r.UserID, &r.Date, &r.PrizeAmount, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("get spin record", err)
	}
	return &r, nil
}

// SpinRecord returns the user's spin on date without taking any lock,
// or nil, nil when there is none.
func (s *Store) SpinRecord(ctx context.Context, userID int64, date string) (*model.SpinRecord, error) {
	return getSpinRecord(ctx, s.pool, userID, date)
}

// insertSpinRecord relies on the (user_id, spin_date) primary key: a second
// spin on the same day inserts nothing and reports model.ErrAlreadySpunToday.
func insertSpinRecord(ctx context.Context, q querier, r *model.SpinRecord) error {
	tag, err := q.Exec(ctx, `
		INSERT INTO spin_records (user_id, spin_date, prize_amount, created_at)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (user_id, spin_date) DO NOTHING
	`, r.UserID, r.Date, r.PrizeAmount, r.CreatedAt)
	if err != nil {
		return storeErr("insert spin record", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrAlreadySpunToday, r.Date)
	}
	return nil
}
