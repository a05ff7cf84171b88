// Package repository provides the PostgreSQL implementation of ledger.Store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"promo-rewards/internal/ledger"
	"promo-rewards/internal/model"
)

// PostgreSQL error codes the store translates.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgDataExceptionClass  = "22"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists accounts, wallets and their history.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Store = (*Store)(nil)

// NewStore creates a new Store instance.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx opens a database transaction, locks the user's account row with
// SELECT ... FOR UPDATE and runs fn. The lock is held until commit or rollback.
func (s *Store) InTx(ctx context.Context, userID int64, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin", err)
	}
	defer tx.Rollback(ctx)

	acc, err := getAccount(ctx, tx, userID, true)
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgTx{tx: tx, userID: userID, account: acc}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// storeErr marks a database failure as retryable. Data exceptions
// (SQLSTATE class 22, e.g. numeric overflow or an over-long key) come from
// the input, not the database, and are reported as invalid amounts.
func storeErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, pgDataExceptionClass) {
		return fmt.Errorf("%w: %s: %w", model.ErrInvalidAmount, op, err)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrStoreUnavailable, op, err)
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
