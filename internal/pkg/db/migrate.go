package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// migrations are applied in order. Every statement is idempotent.
var migrations = []struct {
	name string
	sql  string
}{
	{"accounts table", `
		CREATE TABLE IF NOT EXISTS accounts (
			user_id BIGINT PRIMARY KEY,
			level INT NOT NULL DEFAULT 0 CHECK (level >= 0),
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			timezone VARCHAR(64) NOT NULL DEFAULT 'UTC',
			withdrawal_override BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	{"wallets table", `
		CREATE TABLE IF NOT EXISTS wallets (
			user_id BIGINT PRIMARY KEY REFERENCES accounts(user_id),
			available_balance NUMERIC(20,4) NOT NULL DEFAULT 0 CHECK (available_balance >= 0),
			pending_balance NUMERIC(20,4) NOT NULL DEFAULT 0 CHECK (pending_balance >= 0),
			total_earned NUMERIC(20,4) NOT NULL DEFAULT 0,
			total_withdrawn NUMERIC(20,4) NOT NULL DEFAULT 0,
			earnings_from_tasks NUMERIC(20,4) NOT NULL DEFAULT 0,
			earnings_from_referrals NUMERIC(20,4) NOT NULL DEFAULT 0,
			earnings_from_bonuses NUMERIC(20,4) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	{"transactions table", `
		CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES accounts(user_id),
			type VARCHAR(32) NOT NULL,
			amount NUMERIC(20,4) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			idempotency_key VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_user_key
			ON transactions(user_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, created_at DESC);
	`},
	{"spin_records table", `
		CREATE TABLE IF NOT EXISTS spin_records (
			user_id BIGINT NOT NULL REFERENCES accounts(user_id),
			spin_date DATE NOT NULL,
			prize_amount NUMERIC(20,4) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, spin_date)
		);
	`},
	{"referrals tables", `
		CREATE TABLE IF NOT EXISTS referrals (
			referred_id BIGINT PRIMARY KEY REFERENCES accounts(user_id),
			referrer_id BIGINT NOT NULL REFERENCES accounts(user_id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (referrer_id <> referred_id)
		);
		CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals(referrer_id);

		CREATE TABLE IF NOT EXISTS referral_tiers_paid (
			referrer_id BIGINT NOT NULL REFERENCES accounts(user_id),
			threshold INT NOT NULL,
			paid_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (referrer_id, threshold)
		);
	`},
	{"admin_actions table", `
		CREATE TABLE IF NOT EXISTS admin_actions (
			id UUID PRIMARY KEY,
			actor_id BIGINT NOT NULL,
			target_user_id BIGINT NOT NULL,
			kind VARCHAR(32) NOT NULL,
			details JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_admin_actions_target ON admin_actions(target_user_id, created_at DESC);
	`},
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db Execer) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}
	return nil
}
