package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lox/wingo/internal/round"
)

const schema = `
CREATE TABLE IF NOT EXISTS rounds (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	start_time   TIMESTAMPTZ NOT NULL,
	end_time     TIMESTAMPTZ NOT NULL,
	result_value SMALLINT NOT NULL,
	seed_hash    TEXT NOT NULL DEFAULT '',
	seed         TEXT NOT NULL DEFAULT '',
	bets         INTEGER NOT NULL,
	staked       BIGINT NOT NULL,
	paid         BIGINT NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS rounds_mode_completed_idx ON rounds (mode, completed_at DESC);
CREATE TABLE IF NOT EXISTS settlements (
	bet_id     TEXT PRIMARY KEY,
	round_id   TEXT NOT NULL REFERENCES rounds(id),
	user_id    TEXT NOT NULL,
	won        BOOLEAN NOT NULL,
	payout     BIGINT NOT NULL,
	settled_at TIMESTAMPTZ NOT NULL
);`

// Postgres stores rounds and their settlements with pgx.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool and creates the tables if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect archive: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// SaveRound writes the round and its settlements in one transaction.
// Saving the same round again is a no-op.
func (p *Postgres) SaveRound(ctx context.Context, s Summary) error {
	if s.Round.Result == nil {
		return errors.New("archive: round has no result")
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO rounds (id, mode, start_time, end_time, result_value, seed_hash, seed, bets, staked, paid, completed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (id) DO NOTHING`,
			s.Round.ID, string(s.Round.Mode), s.Round.StartTime, s.Round.EndTime, *s.Round.Result,
			s.Round.SeedHash, s.Round.Seed, s.Bets, s.Staked, s.Paid, s.CompletedAt)
		if err != nil {
			return fmt.Errorf("insert round: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, st := range s.Settlements {
			batch.Queue(`
				INSERT INTO settlements (bet_id, round_id, user_id, won, payout, settled_at)
				VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT (bet_id) DO NOTHING`,
				st.BetID, s.Round.ID, st.UserID, st.Won, st.Payout, st.SettledAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert settlements: %w", err)
		}
		return nil
	})
}

// Recent returns round summaries without their settlement records.
func (p *Postgres) Recent(ctx context.Context, mode round.Mode, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, mode, start_time, end_time, result_value, seed_hash, seed, bets, staked, paid, completed_at
		FROM rounds WHERE mode = $1
		ORDER BY completed_at DESC
		LIMIT $2`, string(mode), limit)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s      Summary
			m      string
			result int16
		)
		if err := rows.Scan(&s.Round.ID, &m, &s.Round.StartTime, &s.Round.EndTime, &result,
			&s.Round.SeedHash, &s.Round.Seed, &s.Bets, &s.Staked, &s.Paid, &s.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		v := int(result)
		s.Round.Mode = round.Mode(m)
		s.Round.Status = round.StatusCompleted
		s.Round.Result = &v
		out = append(out, s)
	}
	return out, rows.Err()
}
