package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const clientStateSchema = `CREATE TABLE IF NOT EXISTS client_state (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (namespace, key)
)`

// SQLiteKV stores client state in a local SQLite file.
type SQLiteKV struct {
	db        *sql.DB
	namespace string
}

// NewSQLiteKV ensures the schema exists and returns a store bound to namespace.
func NewSQLiteKV(ctx context.Context, db *sql.DB, namespace string) (*SQLiteKV, error) {
	if namespace == "" {
		namespace = "default"
	}
	if _, err := db.ExecContext(ctx, clientStateSchema); err != nil {
		return nil, fmt.Errorf("create client_state table: %w", err)
	}
	return &SQLiteKV{db: db, namespace: namespace}, nil
}

func (s *SQLiteKV) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		var v string
		err := s.db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE namespace = ? AND key = ?`, s.namespace, k).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sqlite get %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func (s *SQLiteKV) Update(ctx context.Context, set map[string]string, remove []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range remove {
		if _, err := tx.ExecContext(ctx, `DELETE FROM client_state WHERE namespace = ? AND key = ?`, s.namespace, k); err != nil {
			return fmt.Errorf("sqlite delete %s: %w", k, err)
		}
	}
	for k, v := range set {
		if _, err := tx.ExecContext(ctx, `INSERT INTO client_state (namespace, key, value) VALUES (?, ?, ?)
			ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`, s.namespace, k, v); err != nil {
			return fmt.Errorf("sqlite upsert %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

func (s *SQLiteKV) Close() error { return s.db.Close() }

// PostgresKV stores client state in a shared Postgres database, used by
// kiosk fleets that roam between terminals.
type PostgresKV struct {
	db        *pgxpool.Pool
	namespace string
}

// NewPostgresKV ensures the schema exists and returns a store bound to namespace.
func NewPostgresKV(ctx context.Context, db *pgxpool.Pool, namespace string) (*PostgresKV, error) {
	if namespace == "" {
		namespace = "default"
	}
	if _, err := db.Exec(ctx, clientStateSchema); err != nil {
		return nil, fmt.Errorf("create client_state table: %w", err)
	}
	return &PostgresKV{db: db, namespace: namespace}, nil
}

func (p *PostgresKV) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	rows, err := p.db.Query(ctx, `SELECT key, value FROM client_state WHERE namespace = $1 AND key = ANY($2)`, p.namespace, keys)
	if err != nil {
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("postgres scan: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres rows: %w", err)
	}
	return out, nil
}

func (p *PostgresKV) Update(ctx context.Context, set map[string]string, remove []string) error {
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		if len(remove) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM client_state WHERE namespace = $1 AND key = ANY($2)`, p.namespace, remove); err != nil {
				return fmt.Errorf("postgres delete: %w", err)
			}
		}
		for k, v := range set {
			if _, err := tx.Exec(ctx, `INSERT INTO client_state (namespace, key, value) VALUES ($1, $2, $3)
				ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value`, p.namespace, k, v); err != nil {
				return fmt.Errorf("postgres upsert %s: %w", k, err)
			}
		}
		return nil
	})
}

func (p *PostgresKV) Close() error {
	p.db.Close()
	return nil
}
