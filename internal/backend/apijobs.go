package backend

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/jo-hoe/contentdesk/internal/common"
	"github.com/jo-hoe/contentdesk/internal/core"
	"github.com/labstack/echo/v4"
)

// jobResponse adds download URLs for outputs kept in the object store.
type jobResponse struct {
	*database.GenerationJob
	MediaURL     string `json:"mediaUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

func (service *APIService) toJobResponse(ctx context.Context, job *database.GenerationJob) jobResponse {
	response := jobResponse{GenerationJob: job, MediaURL: job.OutputURL}
	if job.OutputKey != "" {
		if url, _, err := service.coreService.MediaURL(ctx, job.OutputKey); err == nil {
			response.MediaURL = url
		} else {
			slog.Warn("toJobResponse: failed to presign output", "job", job.ID, "error", err)
		}
	}
	if job.ThumbnailKey != "" {
		if url, _, err := service.coreService.MediaURL(ctx, job.ThumbnailKey); err == nil {
			response.ThumbnailURL = url
		}
	}
	return response
}

func (service *APIService) createJobHandler(ctx echo.Context) error {
	var req core.CreateJobRequest
	if err := common.BindAndValidate(ctx, &req); err != nil {
		return err
	}
	job, err := service.coreService.CreateGenerationJob(ctx.Request().Context(), auth.SessionFrom(ctx), req)
	if err != nil {
		return service.fail(ctx, "createJobHandler", err)
	}
	return ctx.JSON(http.StatusCreated, service.toJobResponse(ctx.Request().Context(), job))
}

func (service *APIService) listJobsHandler(ctx echo.Context) error {
	jobs, err := service.coreService.ListJobs(ctx.Request().Context(), auth.SessionFrom(ctx))
	if err != nil {
		return service.fail(ctx, "listJobsHandler", err)
	}
	response := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		response = append(response, service.toJobResponse(ctx.Request().Context(), job))
	}
	return ctx.JSON(http.StatusOK, response)
}

func (service *APIService) getJobHandler(ctx echo.Context) error {
	job, err := service.coreService.GetJob(ctx.Request().Context(), auth.SessionFrom(ctx), ctx.Param("id"))
	if err != nil {
		return service.fail(ctx, "getJobHandler", err)
	}
	return ctx.JSON(http.StatusOK, service.toJobResponse(ctx.Request().Context(), job))
}
