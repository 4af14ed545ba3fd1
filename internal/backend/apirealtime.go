package backend

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/changetracker"
	"github.com/labstack/echo/v4"
)

const defaultHeartbeat = 25 * time.Second

func (service *APIService) realtimeTokenHandler(ctx echo.Context) error {
	token, err := service.coreService.IssueRealtimeToken(ctx.Request().Context(), auth.SessionFrom(ctx))
	if err != nil {
		return service.fail(ctx, "realtimeTokenHandler", err)
	}
	service.setNoCache(ctx)
	return ctx.JSON(http.StatusOK, token)
}

// realtimeStreamHandler relays one channel to the browser as server-sent events.
func (service *APIService) realtimeStreamHandler(ctx echo.Context) error {
	request := ctx.Request().Context()
	channel := ctx.QueryParam("channel")
	sub, err := service.coreService.SubscribeRealtime(request, ctx.QueryParam("token"), channel)
	if err != nil {
		return service.fail(ctx, "realtimeStreamHandler", err)
	}
	defer sub.Close()

	stream := openEventStream(ctx)
	heartbeat := time.NewTicker(service.heartbeatInterval())
	defer heartbeat.Stop()
	slog.Debug("realtimeStreamHandler: stream opened", "channel", channel)

	for {
		select {
		case <-request.Done():
			return nil
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := stream.send(event.Name, event); err != nil {
				slog.Debug("realtimeStreamHandler: client went away", "channel", channel, "error", err)
				return nil
			}
		case <-heartbeat.C:
			if err := stream.comment("ping"); err != nil {
				return nil
			}
		}
	}
}

// postChangesStreamHandler pushes post changes of the session user until the
// client disconnects.
func (service *APIService) postChangesStreamHandler(ctx echo.Context) error {
	session := auth.SessionFrom(ctx)
	tracker := service.coreService.Tracker()
	client := tracker.Connect(session.UserID)
	defer tracker.Disconnect(client)

	request := ctx.Request().Context()
	stream := openEventStream(ctx)
	heartbeat := time.NewTicker(service.heartbeatInterval())
	defer heartbeat.Stop()
	if err := stream.comment("connected"); err != nil {
		return nil
	}

	for {
		select {
		case <-request.Done():
			return nil
		case change, ok := <-client.Changes():
			if !ok {
				return nil
			}
			if err := stream.send(changetracker.EventName, change); err != nil {
				return nil
			}
		case <-heartbeat.C:
			if err := stream.comment("ping"); err != nil {
				return nil
			}
		}
	}
}

func (service *APIService) heartbeatInterval() time.Duration {
	if service.config.Realtime.HeartbeatInterval > 0 {
		return service.config.Realtime.HeartbeatInterval
	}
	return defaultHeartbeat
}

// eventStream writes text/event-stream frames and flushes after each one.
type eventStream struct {
	response *echo.Response
}

func openEventStream(ctx echo.Context) *eventStream {
	header := ctx.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	ctx.Response().WriteHeader(http.StatusOK)
	ctx.Response().Flush()
	return &eventStream{response: ctx.Response()}
}

func (s *eventStream) send(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.response, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.response.Flush()
	return nil
}

func (s *eventStream) comment(text string) error {
	if _, err := fmt.Fprintf(s.response, ": %s\n\n", text); err != nil {
		return err
	}
	s.response.Flush()
	return nil
}
