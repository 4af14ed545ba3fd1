package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = `id, user_id, org_id, type, status, prompt, params, external_id, output_key,
	thumbnail_key, output_url, error, submitted_at, created_at, updated_at`

func scanJob(row rowScanner) (*GenerationJob, error) {
	var j GenerationJob
	var params string
	var submitted, created, updated int64
	err := row.Scan(&j.ID, &j.UserID, &j.OrgID, &j.Type, &j.Status, &j.Prompt, &params, &j.ExternalID,
		&j.OutputKey, &j.ThumbnailKey, &j.OutputURL, &j.Error, &submitted, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if params != "" {
		j.Params = []byte(params)
	}
	j.SubmittedAt = fromMillis(submitted)
	j.CreatedAt = fromMillis(created)
	j.UpdatedAt = fromMillis(updated)
	return &j, nil
}

func (s *SQLDatabase) CreateJob(ctx context.Context, job *GenerationJob) (*GenerationJob, error) {
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	now := toMillis(time.Now())
	created := *job
	created.ID = id
	created.Status = JobStatusPending
	created.CreatedAt = fromMillis(now)
	created.UpdatedAt = fromMillis(now)

	_, err = s.exec(ctx, s.db, `INSERT INTO generation_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', '', '', '', '', 0, ?, ?)`,
		created.ID, created.UserID, created.OrgID, created.Type, created.Status, created.Prompt,
		string(created.Params), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation job: %w", err)
	}
	return &created, nil
}

func (s *SQLDatabase) GetJob(ctx context.Context, id string) (*GenerationJob, error) {
	return scanJob(s.queryRow(ctx, s.db, "SELECT "+jobColumns+" FROM generation_jobs WHERE id = ?", id))
}

func (s *SQLDatabase) ListJobsForUser(ctx context.Context, userID string, limit int) ([]*GenerationJob, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listJobs(ctx, "SELECT "+jobColumns+` FROM generation_jobs
		WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`, userID, limit)
}

func (s *SQLDatabase) ListStaleJobs(ctx context.Context, submittedBefore time.Time, limit int) ([]*GenerationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listJobs(ctx, "SELECT "+jobColumns+` FROM generation_jobs
		WHERE status = ? AND submitted_at < ? ORDER BY submitted_at LIMIT ?`,
		JobStatusSubmitted, toMillis(submittedBefore), limit)
}

func (s *SQLDatabase) listJobs(ctx context.Context, query string, args ...any) ([]*GenerationJob, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	jobs := []*GenerationJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLDatabase) SetJobSubmitted(ctx context.Context, id, externalID string) error {
	now := toMillis(time.Now())
	res, err := s.exec(ctx, s.db, `UPDATE generation_jobs
		SET status = ?, external_id = ?, submitted_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		JobStatusSubmitted, externalID, now, now, id, JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark job %s submitted: %w", id, err)
	}
	return affectedOrNotFound(res)
}

func (s *SQLDatabase) CompleteJob(ctx context.Context, id string, result JobResult) (bool, error) {
	if result.Status != JobStatusCompleted && result.Status != JobStatusFailed {
		return false, fmt.Errorf("job result status must be terminal, got %q", result.Status)
	}
	res, err := s.exec(ctx, s.db, `UPDATE generation_jobs
		SET status = ?, output_key = ?, thumbnail_key = ?, output_url = ?, error = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		result.Status, result.OutputKey, result.ThumbnailKey, result.OutputURL, result.Error,
		toMillis(time.Now()), id, JobStatusCompleted, JobStatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish a missing job from one that is already terminal.
		if _, err := s.GetJob(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
