package backend

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/common"
	"github.com/jo-hoe/contentdesk/internal/core"
	"github.com/labstack/echo/v4"
)

func (service *APIService) listPostsHandler(ctx echo.Context) error {
	posts, err := service.coreService.ListPosts(ctx.Request().Context(), auth.SessionFrom(ctx), ctx.Param("orgId"))
	if err != nil {
		return service.fail(ctx, "listPostsHandler", err)
	}
	return ctx.JSON(http.StatusOK, posts)
}

func (service *APIService) createPostHandler(ctx echo.Context) error {
	var req core.CreatePostRequest
	if err := common.BindAndValidate(ctx, &req); err != nil {
		return err
	}
	post, err := service.coreService.CreatePost(ctx.Request().Context(), auth.SessionFrom(ctx), ctx.Param("orgId"), req)
	if err != nil {
		return service.fail(ctx, "createPostHandler", err)
	}
	return ctx.JSON(http.StatusCreated, post)
}

func (service *APIService) updatePostHandler(ctx echo.Context) error {
	var req core.UpdatePostRequest
	if err := common.BindAndValidate(ctx, &req); err != nil {
		return err
	}
	post, err := service.coreService.UpdatePost(ctx.Request().Context(), auth.SessionFrom(ctx), ctx.Param("id"), req)
	if err != nil {
		return service.fail(ctx, "updatePostHandler", err)
	}
	return ctx.JSON(http.StatusOK, post)
}

func (service *APIService) deletePostHandler(ctx echo.Context) error {
	if err := service.coreService.DeletePost(ctx.Request().Context(), auth.SessionFrom(ctx), ctx.Param("id")); err != nil {
		return service.fail(ctx, "deletePostHandler", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// postChangesHandler answers polls; since is a unix millisecond timestamp.
func (service *APIService) postChangesHandler(ctx echo.Context) error {
	var since time.Time
	if raw := ctx.QueryParam("since"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "since must be a unix millisecond timestamp"})
		}
		since = time.UnixMilli(ms)
	}
	service.setNoCache(ctx)
	return ctx.JSON(http.StatusOK, service.coreService.PostChanges(auth.SessionFrom(ctx), since))
}

func (service *APIService) clearPostChangesHandler(ctx echo.Context) error {
	service.coreService.ClearPostChanges(auth.SessionFrom(ctx))
	return ctx.NoContent(http.StatusNoContent)
}

func (service *APIService) listCaptionsHandler(ctx echo.Context) error {
	items, err := service.coreService.ListCaptions(ctx.Request().Context(), auth.SessionFrom(ctx), ctx.Param("orgId"))
	if err != nil {
		return service.fail(ctx, "listCaptionsHandler", err)
	}
	return ctx.JSON(http.StatusOK, items)
}

func (service *APIService) addCaptionHandler(ctx echo.Context) error {
	var req core.AddCaptionRequest
	if err := common.BindAndValidate(ctx, &req); err != nil {
		return err
	}
	item, err := service.coreService.AddCaption(ctx.Request().Context(), auth.SessionFrom(ctx), ctx.Param("orgId"), req.Caption)
	if err != nil {
		return service.fail(ctx, "addCaptionHandler", err)
	}
	return ctx.JSON(http.StatusCreated, item)
}

func (service *APIService) moveCaptionHandler(ctx echo.Context) error {
	var req core.MoveCaptionRequest
	if err := common.BindAndValidate(ctx, &req); err != nil {
		return err
	}
	item, err := service.coreService.MoveCaption(ctx.Request().Context(), auth.SessionFrom(ctx),
		ctx.Param("orgId"), ctx.Param("itemId"), req.BeforeID)
	if err != nil {
		return service.fail(ctx, "moveCaptionHandler", err)
	}
	return ctx.JSON(http.StatusOK, item)
}

func (service *APIService) deleteCaptionHandler(ctx echo.Context) error {
	err := service.coreService.DeleteCaption(ctx.Request().Context(), auth.SessionFrom(ctx), ctx.Param("orgId"), ctx.Param("itemId"))
	if err != nil {
		return service.fail(ctx, "deleteCaptionHandler", err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (service *APIService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	ctx.Response().Header().Set("Pragma", "no-cache")
}
