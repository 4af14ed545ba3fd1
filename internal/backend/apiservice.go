package backend

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/billing"
	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/jo-hoe/contentdesk/internal/backend/realtime"
	"github.com/jo-hoe/contentdesk/internal/backend/runpod"
	"github.com/jo-hoe/contentdesk/internal/common"
	"github.com/jo-hoe/contentdesk/internal/core"
	"github.com/labstack/echo/v4"
)

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		config:      config,
		coreService: coreService,
	}
}

func (service *APIService) SetRoutes(e *echo.Echo) {
	e.HTTPErrorHandler = ErrorHandler

	// Probe and public routes
	e.GET("/probe", service.probeHandler)
	e.GET("/api/plans", service.listPlansHandler)
	e.POST(runpod.WebhookPath, service.runpodWebhookHandler)
	e.POST("/api/webhooks/stripe", service.stripeWebhookHandler)
	// Authenticated by a realtime token instead of a session.
	e.GET("/api/realtime/stream", service.realtimeStreamHandler)

	api := e.Group("/api", auth.RequireSession(service.coreService.Verifier(), service.coreService.SessionHook()))
	api.GET("/me", service.meHandler)

	api.POST("/orgs", service.createOrganizationHandler)
	api.GET("/orgs/:orgId/members", service.listMembersHandler)
	api.POST("/orgs/:orgId/members", service.addMemberHandler)
	api.DELETE("/orgs/:orgId/members/:userId", service.removeMemberHandler)
	api.POST("/admin/plans/create", service.createPlanHandler)

	api.POST("/jobs", service.createJobHandler)
	api.GET("/jobs", service.listJobsHandler)
	api.GET("/jobs/:id", service.getJobHandler)

	api.GET("/orgs/:orgId/posts", service.listPostsHandler)
	api.POST("/orgs/:orgId/posts", service.createPostHandler)
	api.PATCH("/posts/:id", service.updatePostHandler)
	api.DELETE("/posts/:id", service.deletePostHandler)
	api.GET("/posts/changes", service.postChangesHandler)
	api.DELETE("/posts/changes", service.clearPostChangesHandler)
	api.GET("/posts/changes/stream", service.postChangesStreamHandler)

	api.GET("/orgs/:orgId/caption-queue", service.listCaptionsHandler)
	api.POST("/orgs/:orgId/caption-queue", service.addCaptionHandler)
	api.POST("/orgs/:orgId/caption-queue/:itemId/move", service.moveCaptionHandler)
	api.DELETE("/orgs/:orgId/caption-queue/:itemId", service.deleteCaptionHandler)

	api.GET("/realtime/token", service.realtimeTokenHandler)
	api.POST("/uploads/presign", service.presignUploadHandler)
}

// ErrorHandler renders every error as {"error": "..."} with the mapped status.
func ErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}
	status, message := statusOf(err)
	if ctx.Request().Method == http.MethodHead {
		err = ctx.NoContent(status)
	} else {
		err = ctx.JSON(status, errorResponse{Error: message})
	}
	if err != nil {
		slog.Error("ErrorHandler: failed to write error response", "status", status, "error", err)
	}
}

// statusOf maps domain errors to a status code and a client-safe message.
func statusOf(err error) (int, string) {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		if message, ok := httpErr.Message.(string); ok {
			return httpErr.Code, message
		}
		return httpErr.Code, http.StatusText(httpErr.Code)
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, realtime.ErrInvalidToken):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, core.ErrInvalid), errors.Is(err, database.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, billing.ErrInvalidSignature):
		return http.StatusBadRequest, "Invalid signature"
	case errors.Is(err, core.ErrUpstream):
		return http.StatusBadGateway, "Upstream service failed"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// fail logs err under the handler name and writes the mapped error response.
func (service *APIService) fail(ctx echo.Context, handler string, err error) error {
	status, message := statusOf(err)
	if status >= http.StatusInternalServerError {
		slog.Error(handler+": request failed", "status", status, "path", ctx.Path(), "error", err)
	} else {
		slog.Warn(handler+": request rejected", "status", status, "path", ctx.Path(), "error", err)
	}
	return ctx.JSON(status, errorResponse{Error: message})
}

func (service *APIService) probeHandler(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "API Service is running")
}

func (service *APIService) meHandler(ctx echo.Context) error {
	profile, err := service.coreService.Me(ctx.Request().Context(), auth.SessionFrom(ctx))
	if err != nil {
		return service.fail(ctx, "meHandler", err)
	}
	return ctx.JSON(http.StatusOK, profile)
}

type createOrganizationRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (service *APIService) createOrganizationHandler(ctx echo.Context) error {
	var req createOrganizationRequest
	if err := common.BindAndValidate(ctx, &req); err != nil {
		return err
	}
	org, err := service.coreService.CreateOrganization(ctx.Request().Context(), auth.SessionFrom(ctx), req.Name)
	if err != nil {
		return service.fail(ctx, "createOrganizationHandler", err)
	}
	return ctx.JSON(http.StatusCreated, org)
}

func (service *APIService) listMembersHandler(ctx echo.Context) error {
	members, err := service.coreService.ListMembers(ctx.Request().Context(), auth.SessionFrom(ctx), ctx.Param("orgId"))
	if err != nil {
		return service.fail(ctx, "listMembersHandler", err)
	}
	return ctx.JSON(http.StatusOK, members)
}

type addMemberRequest struct {
	UserID string `json:"userId" validate:"required"`
	Role   string `json:"role" validate:"required"`
}

func (service *APIService) addMemberHandler(ctx echo.Context) error {
	var req addMemberRequest
	if err := common.BindAndValidate(ctx, &req); err != nil {
		return err
	}
	orgID := ctx.Param("orgId")
	if err := service.coreService.AddMember(ctx.Request().Context(), auth.SessionFrom(ctx), orgID, req.UserID, req.Role); err != nil {
		return service.fail(ctx, "addMemberHandler", err)
	}
	return ctx.JSON(http.StatusOK, map[string]string{"orgId": orgID, "userId": req.UserID, "role": req.Role})
}

func (service *APIService) removeMemberHandler(ctx echo.Context) error {
	err := service.coreService.RemoveMember(ctx.Request().Context(), auth.SessionFrom(ctx), ctx.Param("orgId"), ctx.Param("userId"))
	if err != nil {
		return service.fail(ctx, "removeMemberHandler", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (service *APIService) listPlansHandler(ctx echo.Context) error {
	plans, err := service.coreService.ListPlans(ctx.Request().Context())
	if err != nil {
		return service.fail(ctx, "listPlansHandler", err)
	}
	return ctx.JSON(http.StatusOK, plans)
}

type createPlanRequest struct {
	Name           string `json:"name" validate:"required,max=50"`
	PriceCents     int64  `json:"priceCents" validate:"min=0"`
	MonthlyCredits int64  `json:"monthlyCredits" validate:"min=0"`
	MaxMembers     int64  `json:"maxMembers" validate:"min=0"`
}

func (service *APIService) createPlanHandler(ctx echo.Context) error {
	var req createPlanRequest
	if err := common.BindAndValidate(ctx, &req); err != nil {
		return err
	}
	plan, err := service.coreService.CreatePlan(ctx.Request().Context(), auth.SessionFrom(ctx), &database.Plan{
		Name:           req.Name,
		PriceCents:     req.PriceCents,
		MonthlyCredits: req.MonthlyCredits,
		MaxMembers:     req.MaxMembers,
	})
	if err != nil {
		return service.fail(ctx, "createPlanHandler", err)
	}
	return ctx.JSON(http.StatusCreated, plan)
}

func (service *APIService) presignUploadHandler(ctx echo.Context) error {
	var req core.PresignUploadRequest
	if err := common.BindAndValidate(ctx, &req); err != nil {
		return err
	}
	upload, err := service.coreService.PresignUpload(ctx.Request().Context(), auth.SessionFrom(ctx), req)
	if err != nil {
		return service.fail(ctx, "presignUploadHandler", err)
	}
	return ctx.JSON(http.StatusOK, upload)
}
