package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/voxbridge/voxbridge/pkg/core/session"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresSink persists session records in Postgres. Schema is managed
// with embedded goose migrations applied at construction.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects, migrates, and returns the sink.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	if err := migrate(dsn); err != nil {
		return nil, fmt.Errorf("audit migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit ping: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (p *PostgresSink) Record(ctx context.Context, s session.Summary) error {
	turns, err := json.Marshal(s.Turns)
	if err != nil {
		return fmt.Errorf("encoding turns: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO call_sessions (session_id, caller_id, started_at, ended_at, reason, final_node, turns)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO NOTHING`,
		s.SessionID, s.CallerID, s.StartedAt, s.EndedAt, s.Reason, s.FinalNode, turns)
	if err != nil {
		return fmt.Errorf("recording session %s: %w", s.SessionID, err)
	}
	return nil
}

func (p *PostgresSink) Recent(ctx context.Context, limit int) ([]session.Summary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT session_id, caller_id, started_at, ended_at, reason, final_node, turns
		FROM call_sessions
		ORDER BY ended_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []session.Summary
	for rows.Next() {
		var s session.Summary
		var turns []byte
		if err := rows.Scan(&s.SessionID, &s.CallerID, &s.StartedAt, &s.EndedAt,
			&s.Reason, &s.FinalNode, &turns); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		if err := json.Unmarshal(turns, &s.Turns); err != nil {
			return nil, fmt.Errorf("decoding turns for %s: %w", s.SessionID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresSink) Close() error {
	p.pool.Close()
	return nil
}
