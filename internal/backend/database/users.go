package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *SQLDatabase) UpsertUser(ctx context.Context, id, email, defaultRole string) (*User, error) {
	now := toMillis(time.Now())
	_, err := s.exec(ctx, s.db, `INSERT INTO users (id, email, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE users.email END,
			updated_at = excluded.updated_at`,
		id, email, defaultRole, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user %s: %w", id, err)
	}
	return s.GetUser(ctx, id)
}

func (s *SQLDatabase) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.queryRow(ctx, s.db, "SELECT id, email, role, created_at, updated_at FROM users WHERE id = ?", id)
	var u User
	var created, updated int64
	if err := row.Scan(&u.ID, &u.Email, &u.Role, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

func (s *SQLDatabase) SetUserRole(ctx context.Context, id, role string) error {
	res, err := s.exec(ctx, s.db, "UPDATE users SET role = ?, updated_at = ? WHERE id = ?",
		role, toMillis(time.Now()), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
