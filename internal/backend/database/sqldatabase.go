package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// schema is shared by sqlite and postgres; timestamps are unix milliseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		plan TEXT NOT NULL,
		subscription_status TEXT NOT NULL,
		stripe_customer_id TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_organizations_customer ON organizations (stripe_customer_id)`,
	`CREATE TABLE IF NOT EXISTS members (
		org_id TEXT NOT NULL REFERENCES organizations (id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (org_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_members_user ON members (user_id)`,
	`CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		price_cents BIGINT NOT NULL,
		monthly_credits BIGINT NOT NULL,
		max_members BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS generation_jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		org_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		prompt TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		output_key TEXT NOT NULL DEFAULT '',
		thumbnail_key TEXT NOT NULL DEFAULT '',
		output_url TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		submitted_at BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_generation_jobs_user ON generation_jobs (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_generation_jobs_status ON generation_jobs (status, submitted_at)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL REFERENCES organizations (id) ON DELETE CASCADE,
		author_id TEXT NOT NULL,
		account_id TEXT NOT NULL DEFAULT '',
		caption TEXT NOT NULL DEFAULT '',
		media_key TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		scheduled_for BIGINT NOT NULL DEFAULT 0,
		published_at BIGINT NOT NULL DEFAULT 0,
		external_id TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_due ON posts (status, scheduled_for)`,
	`CREATE TABLE IF NOT EXISTS caption_queue (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL REFERENCES organizations (id) ON DELETE CASCADE,
		author_id TEXT NOT NULL,
		caption TEXT NOT NULL,
		rank TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_caption_queue_rank ON caption_queue (org_id, rank)`,
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLDatabase implements DatabaseService on database/sql for every supported dialect.
type SQLDatabase struct {
	db      *sql.DB
	dialect string
}

func (s *SQLDatabase) CreateDatabase() (*sql.DB, error) {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return s.db, nil
}

func (s *SQLDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLDatabase) DoesDatabaseExist() bool {
	return s.db.Ping() == nil
}

// rebind rewrites '?' placeholders to the dialect's positional form.
func (s *SQLDatabase) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLDatabase) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLDatabase) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLDatabase) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// inTx runs fn in a transaction and commits when fn returns nil.
func (s *SQLDatabase) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// affectedOrNotFound turns a zero-row update or delete into ErrNotFound.
func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
