package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/respawn-arena/arena_auth/internal/identity"
)

// Repository persists accounts.
type Repository interface {
	Create(ctx context.Context, account Account) error
	FindByID(ctx context.Context, id string) (Account, error)
	// FindByLogin matches an email, a phone number or a username.
	FindByLogin(ctx context.Context, login string) (Account, error)
	FindByGoogleSubject(ctx context.Context, subject string) (Account, error)
	LinkGoogle(ctx context.Context, id, subject string) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

const accountsSchema = `CREATE TABLE IF NOT EXISTS accounts (
	id             UUID PRIMARY KEY,
	name           TEXT NOT NULL,
	email          TEXT UNIQUE,
	phone          TEXT UNIQUE,
	username       TEXT UNIQUE,
	role           TEXT NOT NULL,
	password_hash  BYTEA,
	google_subject TEXT UNIQUE,
	created_at     TIMESTAMPTZ NOT NULL,
	last_login     TIMESTAMPTZ
)`

const accountColumns = `id, name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(username, ''), role, password_hash, COALESCE(google_subject, ''), created_at, last_login`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed account repository and
// creates its table when missing.
func NewPostgresRepository(ctx context.Context, db *pgxpool.Pool) (*PostgresRepository, error) {
	if _, err := db.Exec(ctx, accountsSchema); err != nil {
		return nil, fmt.Errorf("create accounts table: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Create inserts a new account.
func (r *PostgresRepository) Create(ctx context.Context, a Account) error {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO accounts (id, name, email, phone, username, role, password_hash, google_subject, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, a.Name, nullable(a.Email), nullable(a.Phone), nullable(a.Username), string(a.Role), a.PasswordHash, nullable(a.GoogleSubject), a.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrExists
	}
	return err
}

func (r *PostgresRepository) scan(row pgx.Row) (Account, error) {
	var (
		a         Account
		id        uuid.UUID
		role      string
		lastLogin *time.Time
	)
	err := row.Scan(&id, &a.Name, &a.Email, &a.Phone, &a.Username, &role, &a.PasswordHash, &a.GoogleSubject, &a.CreatedAt, &lastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	a.ID = id.String()
	a.Role = identity.ParseRole(role)
	a.CreatedAt = a.CreatedAt.UTC()
	if lastLogin != nil {
		a.LastLogin = lastLogin.UTC()
	}
	return a, nil
}

// FindByID fetches an account by id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Account, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrNotFound
	}
	return r.scan(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, uid))
}

// FindByLogin fetches an account by email, phone or username.
func (r *PostgresRepository) FindByLogin(ctx context.Context, login string) (Account, error) {
	return r.scan(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE lower(email) = lower($1) OR phone = $1 OR username = $1 LIMIT 1`, login))
}

func (r *PostgresRepository) FindByGoogleSubject(ctx context.Context, subject string) (Account, error) {
	return r.scan(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE google_subject = $1`, subject))
}

func (r *PostgresRepository) LinkGoogle(ctx context.Context, id, subject string) error {
	return r.update(ctx, `UPDATE accounts SET google_subject = $1 WHERE id = $2`, subject, id)
}

// TouchLogin records the last successful sign-in.
func (r *PostgresRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, `UPDATE accounts SET last_login = $1 WHERE id = $2`, at.UTC(), id)
}

func (r *PostgresRepository) update(ctx context.Context, sql string, value any, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, sql, value, uid)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
