package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS wallets (
	user_id       TEXT PRIMARY KEY,
	balance_minor BIGINT NOT NULL CHECK (balance_minor >= 0),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS wallet_ledger (
	id              BIGSERIAL PRIMARY KEY,
	user_id         TEXT NOT NULL REFERENCES wallets(user_id),
	operation       TEXT NOT NULL,
	amount_minor    BIGINT NOT NULL,
	idempotency_key TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (operation, idempotency_key)
);`

// Postgres stores balances and an append-only ledger in PostgreSQL.
type Postgres struct {
	db      *sql.DB
	opening int64
}

// OpenPostgres connects with lib/pq and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgres returns a ledger over db. New accounts open with opening
// minor units.
func NewPostgres(db *sql.DB, opening int64) *Postgres {
	return &Postgres{db: db, opening: opening}
}

// EnsureSchema creates the wallet tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return unavailable(err)
	}
	return nil
}

func (p *Postgres) Debit(ctx context.Context, userID string, amount int64, key string) error {
	return p.apply(ctx, opDebit, userID, amount, key)
}

func (p *Postgres) Credit(ctx context.Context, userID string, amount int64, key string) error {
	if amount == 0 {
		return nil
	}
	return p.apply(ctx, opCredit, userID, amount, key)
}

func (p *Postgres) apply(ctx context.Context, op operation, userID string, amount int64, key string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := p.ensureWallet(ctx, tx, userID); err != nil {
		return err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance_minor FROM wallets WHERE user_id=$1 FOR UPDATE`, userID).Scan(&balance); err != nil {
		return unavailable(err)
	}

	// The wallet row lock serialises operations per user, so this check
	// cannot race with a concurrent replay of the same key.
	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM wallet_ledger WHERE operation=$1 AND idempotency_key=$2`, string(op), key).Scan(&exists)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return unavailable(err)
	}

	delta := amount
	if op == opDebit {
		if balance < amount {
			return ErrInsufficientBalance
		}
		delta = -amount
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance_minor = balance_minor + $1, updated_at = now() WHERE user_id=$2`,
		delta, userID); err != nil {
		return unavailable(err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_ledger(user_id, operation, amount_minor, idempotency_key) VALUES($1,$2,$3,$4)`,
		userID, string(op), amount, key); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// Replayed by a concurrent transaction on another wallet row.
			return nil
		}
		return unavailable(err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (p *Postgres) Reverse(ctx context.Context, userID string, key string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := p.ensureWallet(ctx, tx, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`SELECT 1 FROM wallets WHERE user_id=$1 FOR UPDATE`, userID); err != nil {
		return unavailable(err)
	}

	var amount int64
	err = tx.QueryRowContext(ctx,
		`SELECT amount_minor FROM wallet_ledger WHERE operation=$1 AND idempotency_key=$2`,
		string(opDebit), key).Scan(&amount)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return unavailable(err)
	}

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM wallet_ledger WHERE operation=$1 AND idempotency_key=$2`,
		string(opReversal), key).Scan(&exists)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return unavailable(err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance_minor = balance_minor + $1, updated_at = now() WHERE user_id=$2`,
		amount, userID); err != nil {
		return unavailable(err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_ledger(user_id, operation, amount_minor, idempotency_key) VALUES($1,$2,$3,$4)`,
		userID, string(opReversal), amount, key); err != nil {
		return unavailable(err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (p *Postgres) ensureWallet(ctx context.Context, tx *sql.Tx, userID string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO wallets(user_id, balance_minor) VALUES($1,$2) ON CONFLICT (user_id) DO NOTHING`,
		userID, p.opening); err != nil {
		return unavailable(err)
	}
	return nil
}

func (p *Postgres) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := p.db.QueryRowContext(ctx,
		`SELECT balance_minor FROM wallets WHERE user_id=$1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return p.opening, nil
	}
	if err != nil {
		return 0, unavailable(err)
	}
	return balance, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
}
