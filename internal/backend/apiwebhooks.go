package backend

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/contentdesk/internal/backend/billing"
	"github.com/jo-hoe/contentdesk/internal/backend/runpod"
	"github.com/labstack/echo/v4"
)

const maxWebhookBody = 1 << 20

// runpodWebhookHandler receives job results. The callback URL carries the job id
// and its signature.
func (service *APIService) runpodWebhookHandler(ctx echo.Context) error {
	jobID := ctx.QueryParam("jobId")
	if !service.coreService.VerifyJobWebhook(jobID, ctx.QueryParam("sig")) {
		slog.Warn("runpodWebhookHandler: invalid webhook signature",
			"status", http.StatusUnauthorized, "job", jobID)
		return ctx.JSON(http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
	}

	var status runpod.JobStatus
	if err := ctx.Bind(&status); err != nil {
		slog.Warn("runpodWebhookHandler: malformed payload",
			"status", http.StatusBadRequest, "job", jobID, "error", err)
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Malformed payload"})
	}

	job, err := service.coreService.HandleJobWebhook(ctx.Request().Context(), jobID, &status)
	if err != nil {
		return service.fail(ctx, "runpodWebhookHandler", err)
	}
	return ctx.JSON(http.StatusOK, map[string]string{"id": job.ID, "status": job.Status})
}

func (service *APIService) stripeWebhookHandler(ctx echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxWebhookBody))
	if err != nil {
		slog.Error("stripeWebhookHandler: failed to read body",
			"status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Failed to read body"})
	}

	signature := ctx.Request().Header.Get(billing.SignatureHeader)
	if err := service.coreService.HandleBillingWebhook(ctx.Request().Context(), payload, signature); err != nil {
		return service.fail(ctx, "stripeWebhookHandler", err)
	}
	return ctx.JSON(http.StatusOK, map[string]bool{"received": true})
}
