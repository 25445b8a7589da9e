// Package httpapi serves the session endpoints to browser and script clients.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/route"

	"github.com/AltairaLabs/compute-sessions/internal/broadcast"
	"github.com/AltairaLabs/compute-sessions/internal/coordinator"
	"github.com/AltairaLabs/compute-sessions/internal/coordinator/config"
	"github.com/AltairaLabs/compute-sessions/internal/types"
)

const (
	paramID        = "id"
	formCode       = "code"
	formSubscriber = "subscriber"
	formKind       = "kind"
	formSelector   = "selector"
	formPayload    = "payload"
)

// Sessions is the orchestrator surface the handlers use
type Sessions interface {
	NewSession(ctx context.Context) (int, error)
	Submit(ctx context.Context, id int, code string) (coordinator.SubmitResult, error)
	OnProcessReady(ctx context.Context, id int) ([]types.CellRequest, error)
	ListSessions(ctx context.Context) ([]*coordinator.Session, error)
	Cells(ctx context.Context, id int) ([]*coordinator.Cell, error)
	Interrupt(ctx context.Context, id int) error
	Kill(ctx context.Context, id int) error
	Teardown(ctx context.Context, id int) error
	Subscribe(ctx context.Context, id int) (*broadcast.Subscription, error)
	Unsubscribe(id int, subscriberID string)
	Relay(ctx context.Context, id int, from string, msg broadcast.Message) error
}

// Handler serves the session endpoints
type Handler struct {
	sessions Sessions
	logger   *slog.Logger
}

// NewHandler creates the endpoint handlers
func NewHandler(sessions Sessions, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, logger: logger}
}

// Register adds every route to r
func (h *Handler) Register(r route.IRoutes) {
	r.GET("/new_session", h.newSession)
	r.POST("/execute/:id", h.execute)
	r.GET("/ready/:id", h.ready)
	r.GET("/sessions", h.listSessions)
	r.GET("/cells/:id", h.cells)
	r.GET("/sigint/:id", h.interrupt)
	r.GET("/sigkill/:id", h.kill)
	r.DELETE("/sessions/:id", h.teardown)
	r.GET("/subscribe/:id", h.subscribe)
	r.POST("/relay/:id", h.relay)
}

func (h *Handler) newSession(ctx context.Context, c *app.RequestContext) {
	id, err := h.sessions.NewSession(ctx)
	if err != nil {
		// clients only understand the literal "fail"
		h.logger.Error("Failed to create session", "error", err)
		c.String(http.StatusOK, config.StatusFail)
		return
	}
	c.String(http.StatusOK, strconv.Itoa(id))
}

func (h *Handler) execute(ctx context.Context, c *app.RequestContext) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	res, err := h.sessions.Submit(ctx, id, c.PostForm(formCode))
	var dispatchErr *coordinator.DispatchError
	if err != nil && !errors.As(err, &dispatchErr) {
		h.writeError(c, id, err)
		return
	}
	c.String(http.StatusOK, res.Status)
}

func (h *Handler) ready(ctx context.Context, c *app.RequestContext) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	batch, err := h.sessions.OnProcessReady(ctx, id)
	if err != nil {
		h.writeError(c, id, err)
		return
	}
	if batch == nil {
		batch = []types.CellRequest{}
	}
	c.JSON(http.StatusOK, batch)
}

func (h *Handler) listSessions(ctx context.Context, c *app.RequestContext) {
	sessions, err := h.sessions.ListSessions(ctx)
	if err != nil {
		h.writeError(c, coordinator.NoExecID, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) cells(ctx context.Context, c *app.RequestContext) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	cells, err := h.sessions.Cells(ctx, id)
	if err != nil {
		h.writeError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, cells)
}

func (h *Handler) interrupt(ctx context.Context, c *app.RequestContext) {
	h.control(ctx, c, h.sessions.Interrupt)
}

func (h *Handler) kill(ctx context.Context, c *app.RequestContext) {
	h.control(ctx, c, h.sessions.Kill)
}

func (h *Handler) teardown(ctx context.Context, c *app.RequestContext) {
	h.control(ctx, c, h.sessions.Teardown)
}

func (h *Handler) control(ctx context.Context, c *app.RequestContext, op func(context.Context, int) error) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	if err := op(ctx, id); err != nil {
		h.writeError(c, id, err)
		return
	}
	c.String(http.StatusOK, config.StatusOK)
}

func (h *Handler) relay(ctx context.Context, c *app.RequestContext) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	from := c.PostForm(formSubscriber)
	if from == "" {
		c.String(http.StatusBadRequest, "missing %s", formSubscriber)
		return
	}
	kind := broadcast.Kind(c.DefaultPostForm(formKind, string(broadcast.KindMesg)))
	msg := broadcast.Message{
		Kind:     kind,
		Selector: c.PostForm(formSelector),
		Payload:  c.PostForm(formPayload),
	}
	if err := h.sessions.Relay(ctx, id, from, msg); err != nil {
		h.writeError(c, id, err)
		return
	}
	c.String(http.StatusOK, config.StatusOK)
}

// sessionID parses the :id path parameter, answering 400 when it is invalid
func (h *Handler) sessionID(c *app.RequestContext) (int, bool) {
	id, err := strconv.Atoi(c.Param(paramID))
	if err != nil || id < 0 {
		c.String(http.StatusBadRequest, "invalid session id %q", c.Param(paramID))
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(c *app.RequestContext, id int, err error) {
	var dispatchErr *coordinator.DispatchError
	switch {
	case errors.Is(err, coordinator.ErrNotFound):
		c.String(http.StatusNotFound, config.ErrUnknownSession, id)
	case errors.Is(err, coordinator.ErrDead), errors.As(err, &dispatchErr):
		c.String(http.StatusConflict, config.StatusDead)
	case errors.Is(err, coordinator.ErrProtocolViolation):
		c.String(http.StatusConflict, "%v", err)
	default:
		h.logger.Error("Request failed", "session_id", id, "error", err)
		c.String(http.StatusInternalServerError, config.ErrSessionError, err)
	}
}
