package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/jo-hoe/contentdesk/internal/backend/rbac"
	"github.com/jo-hoe/contentdesk/internal/backend/realtime"
	"github.com/jo-hoe/contentdesk/internal/backend/runpod"
	"github.com/jo-hoe/contentdesk/internal/backend/storage"
)

const (
	JobTypeImage = "image"
	JobTypeVideo = "video"
	JobTypeVoice = "voice"

	EventJobCreated = "job-created"
	EventJobFailed  = "job-failed"
	EventJobUpdated = "job-updated"

	staleJobBatch = 50
	jobListLimit  = 50
)

var jobTypes = []string{JobTypeImage, JobTypeVideo, JobTypeVoice}

func validJobType(jobType string) bool {
	return slices.Contains(jobTypes, jobType)
}

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	OrgID  string          `json:"orgId"`
	Type   string          `json:"type" validate:"required"`
	Prompt string          `json:"prompt" validate:"required,max=4000"`
	Params json.RawMessage `json:"params"`
}

type jobInput struct {
	Prompt string          `json:"prompt"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// CreateGenerationJob stores a job and submits it to the GPU service. A failed
// submission marks the job FAILED and returns ErrUpstream.
func (service *CoreService) CreateGenerationJob(ctx context.Context, session *auth.Session, req CreateJobRequest) (*database.GenerationJob, error) {
	jobType := strings.ToLower(strings.TrimSpace(req.Type))
	if !validJobType(jobType) {
		return nil, fmt.Errorf("%w: unknown generation type %q", ErrInvalid, req.Type)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalid)
	}
	if len(req.Params) > 0 && !json.Valid(req.Params) {
		return nil, fmt.Errorf("%w: params must be valid JSON", ErrInvalid)
	}
	if req.OrgID != "" {
		if err := service.authorize(ctx, session, req.OrgID, rbac.CanViewOrg); err != nil {
			return nil, err
		}
	}
	endpointID, ok := service.config.RunPod.Endpoints[jobType]
	if !ok || service.signer == nil {
		return nil, fmt.Errorf("%w: generation type %s is not configured", ErrInvalid, jobType)
	}

	job, err := service.databaseService.CreateJob(ctx, &database.GenerationJob{
		UserID: session.UserID,
		OrgID:  req.OrgID,
		Type:   jobType,
		Prompt: req.Prompt,
		Params: req.Params,
	})
	if err != nil {
		return nil, err
	}

	channel := realtime.GenerationChannel(session.UserID)
	input := jobInput{Prompt: req.Prompt, Type: jobType, Params: req.Params}
	externalID, err := service.runpod.Submit(ctx, endpointID, input, service.signer.URL(job.ID))
	if err != nil {
		slog.Error("failed to submit generation job", "job", job.ID, "type", jobType, "error", err)
		if _, completeErr := service.databaseService.CompleteJob(ctx, job.ID, database.JobResult{
			Status: database.JobStatusFailed,
			Error:  "failed to submit job",
		}); completeErr != nil {
			slog.Error("failed to mark job failed", "job", job.ID, "error", completeErr)
		}
		job.Status = database.JobStatusFailed
		job.Error = "failed to submit job"
		service.notifier.Notify(ctx, channel, EventJobFailed, job)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	// A webhook may already have completed the job; SetJobSubmitted then finds no PENDING row.
	if err := service.databaseService.SetJobSubmitted(ctx, job.ID, externalID); err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	job, err = service.databaseService.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	service.notifier.Notify(ctx, channel, EventJobCreated, job)
	return job, nil
}

func (service *CoreService) ListJobs(ctx context.Context, session *auth.Session) ([]*database.GenerationJob, error) {
	return service.databaseService.ListJobsForUser(ctx, session.UserID, jobListLimit)
}

// GetJob returns a job of the session user.
func (service *CoreService) GetJob(ctx context.Context, session *auth.Session, id string) (*database.GenerationJob, error) {
	job, err := service.databaseService.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != session.UserID {
		return nil, fmt.Errorf("%w: job %s belongs to another user", ErrForbidden, id)
	}
	return job, nil
}

// VerifyJobWebhook reports whether signature authenticates a webhook for jobID.
func (service *CoreService) VerifyJobWebhook(jobID, signature string) bool {
	return service.signer != nil && service.signer.Verify(jobID, signature)
}

// HandleJobWebhook applies a reported status to jobID. Terminal jobs are left
// untouched so redelivered webhooks are harmless.
func (service *CoreService) HandleJobWebhook(ctx context.Context, jobID string, status *runpod.JobStatus) (*database.GenerationJob, error) {
	job, err := service.databaseService.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if status.ID != "" && job.ExternalID != "" && status.ID != job.ExternalID {
		return nil, fmt.Errorf("%w: webhook for %s does not match job %s", ErrInvalid, status.ID, jobID)
	}
	return service.applyJobStatus(ctx, job, status)
}

func (service *CoreService) applyJobStatus(ctx context.Context, job *database.GenerationJob, status *runpod.JobStatus) (*database.GenerationJob, error) {
	if job.IsTerminal() {
		slog.Info("ignoring update for finished job", "job", job.ID, "status", job.Status, "reported", status.Status)
		return job, nil
	}
	if !status.IsTerminal() {
		return job, nil
	}

	result := service.jobResult(ctx, job, status)
	changed, err := service.databaseService.CompleteJob(ctx, job.ID, result)
	if err != nil {
		return nil, err
	}
	updated, err := service.databaseService.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if changed {
		slog.Info("generation job finished", "job", job.ID, "status", updated.Status)
		service.notifier.Notify(ctx, realtime.GenerationChannel(updated.UserID), EventJobUpdated, updated)
	}
	return updated, nil
}

func (service *CoreService) jobResult(ctx context.Context, job *database.GenerationJob, status *runpod.JobStatus) database.JobResult {
	if status.Status != runpod.StatusCompleted {
		message := status.Error
		if message == "" {
			message = "job " + strings.ToLower(status.Status)
		}
		return database.JobResult{Status: database.JobStatusFailed, Error: message}
	}

	output, err := runpod.ParseOutput(status.Output)
	if err != nil {
		slog.Error("failed to parse job output", "job", job.ID, "error", err)
		return database.JobResult{Status: database.JobStatusFailed, Error: "unreadable job output"}
	}
	if output.ImageBase64 != "" {
		return service.storeImageOutput(ctx, job, output)
	}
	if url := output.URL(); url != "" {
		return database.JobResult{Status: database.JobStatusCompleted, OutputURL: url}
	}
	return database.JobResult{Status: database.JobStatusFailed, Error: "job returned no output"}
}

func (service *CoreService) storeImageOutput(ctx context.Context, job *database.GenerationJob, output *runpod.Output) database.JobResult {
	raw, err := output.Image()
	if err != nil {
		slog.Error("failed to decode job image", "job", job.ID, "error", err)
		return database.JobResult{Status: database.JobStatusFailed, Error: "invalid image output"}
	}
	png, thumbnail, err := service.pipeline.Process(raw)
	if err != nil {
		slog.Error("failed to process job image", "job", job.ID, "error", err)
		return database.JobResult{Status: database.JobStatusFailed, Error: "failed to process image output"}
	}

	outputKey := storage.GenerationOutputKey(job.ID)
	thumbnailKey := storage.GenerationThumbnailKey(job.ID)
	if err := service.objects.Put(ctx, outputKey, "image/png", png); err != nil {
		slog.Error("failed to store job output", "job", job.ID, "key", outputKey, "error", err)
		return database.JobResult{Status: database.JobStatusFailed, Error: "failed to store output"}
	}
	if err := service.objects.Put(ctx, thumbnailKey, "image/png", thumbnail); err != nil {
		slog.Error("failed to store job thumbnail", "job", job.ID, "key", thumbnailKey, "error", err)
		return database.JobResult{Status: database.JobStatusFailed, Error: "failed to store output"}
	}
	return database.JobResult{Status: database.JobStatusCompleted, OutputKey: outputKey, ThumbnailKey: thumbnailKey}
}

// ReconcileStaleJobs polls jobs that were submitted longer than the configured
// timeout ago and applies their final status. It returns how many jobs finished.
func (service *CoreService) ReconcileStaleJobs(ctx context.Context) (int, error) {
	cutoff := service.now().Add(-service.config.RunPod.StaleAfter)
	jobs, err := service.databaseService.ListStaleJobs(ctx, cutoff, staleJobBatch)
	if err != nil {
		return 0, err
	}

	finished := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return finished, err
		}
		endpointID, ok := service.config.RunPod.Endpoints[job.Type]
		if !ok {
			slog.Warn("no endpoint for stale job", "job", job.ID, "type", job.Type)
			continue
		}
		status, err := service.runpod.Status(ctx, endpointID, job.ExternalID)
		if err != nil {
			slog.Error("failed to poll stale job", "job", job.ID, "external", job.ExternalID, "error", err)
			continue
		}
		updated, err := service.applyJobStatus(ctx, job, status)
		if err != nil {
			slog.Error("failed to reconcile job", "job", job.ID, "error", err)
			continue
		}
		if updated.IsTerminal() {
			finished++
		}
	}
	return finished, nil
}

// ReconcileTask adapts ReconcileStaleJobs to the cron runner.
func (service *CoreService) ReconcileTask(ctx context.Context) error {
	n, err := service.ReconcileStaleJobs(ctx)
	if n > 0 {
		slog.Info("reconciled stale generation jobs", "finished", n)
	}
	return err
}
