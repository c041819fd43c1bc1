// Package api exposes the forwarder over HTTP: message intake for
// interception sources, the stored history with unified statuses, and a
// per-channel test hook.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kart-io/codeforward/pkg/channel"
	"github.com/kart-io/codeforward/pkg/hub"
	"github.com/kart-io/codeforward/pkg/logger"
	"github.com/kart-io/codeforward/pkg/message"
)

// Server is the HTTP front of the hub.
type Server struct {
	hub    *hub.Hub
	logger logger.Logger
	echo   *echo.Echo
}

// New builds the server and registers the routes.
func New(h *hub.Hub, log logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{hub: h, logger: log, echo: e}

	e.GET("/healthz", s.health)
	e.POST("/v1/messages", s.receiveMessage)
	e.GET("/v1/messages", s.listMessages)
	e.DELETE("/v1/messages", s.clearMessages)
	e.POST("/v1/channels/:kind/test", s.testChannel)

	return s
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

type inboundRequest struct {
	Content   string `json:"content"`
	Sender    string `json:"sender"`
	SourceTag string `json:"source_tag"`
	Timestamp int64  `json:"timestamp"`
}

type channelView struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type messageView struct {
	Content     string                 `json:"content"`
	Sender      string                 `json:"sender"`
	SourceTag   string                 `json:"source_tag,omitempty"`
	Timestamp   int64                  `json:"timestamp"`
	Codes       []string               `json:"codes,omitempty"`
	PrimaryCode string                 `json:"primary_code,omitempty"`
	Status      string                 `json:"status"`
	Error       string                 `json:"error,omitempty"`
	Channels    map[string]channelView `json:"channels"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// receiveMessage accepts one intercepted message. Intake always returns 202;
// classification and delivery happen asynchronously and are observable via
// the message list.
func (s *Server) receiveMessage(c echo.Context) error {
	var req inboundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	s.hub.Handle(c.Request().Context(), hub.Inbound{
		Content:   req.Content,
		Sender:    req.Sender,
		SourceTag: req.SourceTag,
		Timestamp: req.Timestamp,
	})
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) listMessages(c echo.Context) error {
	records := s.hub.Messages()
	views := make([]messageView, 0, len(records))
	for _, rec := range records {
		views = append(views, toView(rec))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) clearMessages(c echo.Context) error {
	s.hub.ClearMessages(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) testChannel(c echo.Context) error {
	kind := channel.Kind(c.Param("kind"))
	known := false
	for _, k := range channel.Kinds() {
		if k == kind {
			known = true
			break
		}
	}
	if !known {
		return echo.NewHTTPError(http.StatusNotFound, "unknown channel")
	}

	if err := s.hub.TestChannel(c.Request().Context(), kind); err != nil {
		s.logger.Warn("channel test failed", "channel", kind, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func toView(rec message.Record) messageView {
	snapshot := rec.State.Snapshot()
	unified, errText := rec.State.Unified()

	channels := make(map[string]channelView, len(snapshot.Channels))
	for kind, state := range snapshot.Channels {
		channels[string(kind)] = channelView{
			Status: string(state.Status),
			Error:  state.Error,
		}
	}

	return messageView{
		Content:     rec.Message.Content,
		Sender:      rec.Message.Sender,
		SourceTag:   rec.Message.SourceTag,
		Timestamp:   rec.Message.Timestamp,
		Codes:       rec.Message.Codes,
		PrimaryCode: rec.Message.PrimaryCode,
		Status:      string(unified),
		Error:       errText,
		Channels:    channels,
	}
}
