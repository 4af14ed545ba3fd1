package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const postColumns = `id, org_id, author_id, account_id, caption, media_key, status, scheduled_for,
	published_at, external_id, error, created_at, updated_at`

func scanPost(row rowScanner) (*Post, error) {
	var p Post
	var scheduled, published, created, updated int64
	err := row.Scan(&p.ID, &p.OrgID, &p.AuthorID, &p.AccountID, &p.Caption, &p.MediaKey, &p.Status,
		&scheduled, &published, &p.ExternalID, &p.Error, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.ScheduledFor = fromMillis(scheduled)
	p.PublishedAt = fromMillis(published)
	p.CreatedAt = fromMillis(created)
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

func (s *SQLDatabase) CreatePost(ctx context.Context, post *Post) (*Post, error) {
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	now := toMillis(time.Now())
	created := *post
	created.ID = id
	if created.Status == "" {
		created.Status = PostStatusDraft
	}
	created.CreatedAt = fromMillis(now)
	created.UpdatedAt = fromMillis(now)

	_, err = s.exec(ctx, s.db, `INSERT INTO posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, '', '', ?, ?)`,
		created.ID, created.OrgID, created.AuthorID, created.AccountID, created.Caption, created.MediaKey,
		created.Status, toMillis(created.ScheduledFor), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	return &created, nil
}

func (s *SQLDatabase) GetPost(ctx context.Context, id string) (*Post, error) {
	return scanPost(s.queryRow(ctx, s.db, "SELECT "+postColumns+" FROM posts WHERE id = ?", id))
}

func (s *SQLDatabase) ListPosts(ctx context.Context, orgID string) ([]*Post, error) {
	return s.listPosts(ctx, "SELECT "+postColumns+" FROM posts WHERE org_id = ? ORDER BY created_at DESC, id", orgID)
}

func (s *SQLDatabase) ListDuePosts(ctx context.Context, now time.Time, limit int) ([]*Post, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listPosts(ctx, "SELECT "+postColumns+` FROM posts
		WHERE status = ? AND scheduled_for > 0 AND scheduled_for <= ?
		ORDER BY scheduled_for LIMIT ?`,
		PostStatusScheduled, toMillis(now), limit)
}

func (s *SQLDatabase) listPosts(ctx context.Context, query string, args ...any) ([]*Post, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	posts := []*Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (s *SQLDatabase) UpdatePost(ctx context.Context, id string, update PostUpdate) (*Post, error) {
	sets := []string{}
	args := []any{}
	if update.Caption != nil {
		sets = append(sets, "caption = ?")
		args = append(args, *update.Caption)
	}
	if update.MediaKey != nil {
		sets = append(sets, "media_key = ?")
		args = append(args, *update.MediaKey)
	}
	if update.AccountID != nil {
		sets = append(sets, "account_id = ?")
		args = append(args, *update.AccountID)
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.ScheduledFor != nil {
		sets = append(sets, "scheduled_for = ?")
		args = append(args, toMillis(*update.ScheduledFor))
	}
	if len(sets) == 0 {
		return s.GetPost(ctx, id)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, toMillis(time.Now()), id)

	args = append(args, PostStatusPublishing, PostStatusPublished)

	// Posts claimed or finished by the scheduler are no longer editable.
	res, err := s.exec(ctx, s.db, "UPDATE posts SET "+strings.Join(sets, ", ")+
		" WHERE id = ? AND status NOT IN (?, ?)", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update post %s: %w", id, err)
	}
	if err := affectedOrNotFound(res); err != nil {
		return nil, s.lockedPostError(ctx, id, err)
	}
	return s.GetPost(ctx, id)
}

// lockedPostError tells a missing post apart from one the scheduler owns.
func (s *SQLDatabase) lockedPostError(ctx context.Context, id string, err error) error {
	post, getErr := s.GetPost(ctx, id)
	if getErr != nil {
		return err
	}
	return fmt.Errorf("post %s is %s: %w", id, post.Status, ErrInvalidArgument)
}

// ClaimPost moves a SCHEDULED post to PUBLISHING. It reports false when the post
// is gone or no longer scheduled, for example because another sweep claimed it.
func (s *SQLDatabase) ClaimPost(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx, s.db, "UPDATE posts SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		PostStatusPublishing, toMillis(time.Now()), id, PostStatusScheduled)
	if err != nil {
		return false, fmt.Errorf("failed to claim post %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLDatabase) DeletePost(ctx context.Context, id string) error {
	res, err := s.exec(ctx, s.db, "DELETE FROM posts WHERE id = ?", id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// SetPostStatus records the outcome of publishing a post claimed with ClaimPost.
func (s *SQLDatabase) SetPostStatus(ctx context.Context, id, status, externalID, errMsg string, publishedAt time.Time) error {
	res, err := s.exec(ctx, s.db, `UPDATE posts
		SET status = ?, external_id = ?, error = ?, published_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		status, externalID, errMsg, toMillis(publishedAt), toMillis(time.Now()), id, PostStatusPublishing)
	if err != nil {
		return fmt.Errorf("failed to set status of post %s: %w", id, err)
	}
	return affectedOrNotFound(res)
}
