// Package api exposes the ops HTTP surface: broadcasting, queue management,
// token refresh, and health.
package api

import (
	"errors"
	"net/http"
	"time"

	"SignalCast/internal/broadcast"
	"SignalCast/internal/domain/models"
	"SignalCast/internal/domain/repository"
	"SignalCast/internal/queue"
	"SignalCast/internal/tokens"
	xhttp "SignalCast/pkg/http"
	xlogger "SignalCast/pkg/logger"

	"github.com/labstack/echo/v4"
)

// BroadcastHandler wires the ops API to the engine.
type BroadcastHandler struct {
	logger   *xlogger.Logger
	executor *broadcast.Executor
	queue    *queue.Queue
	tokens   *tokens.Manager
	signals  repository.SignalStore
}

func NewBroadcastHandler(
	lgr *xlogger.Logger,
	executor *broadcast.Executor,
	q *queue.Queue,
	tm *tokens.Manager,
	signals repository.SignalStore,
) *BroadcastHandler {
	if lgr == nil {
		lgr = xlogger.Nop()
	}
	return &BroadcastHandler{
		logger:   lgr,
		executor: executor,
		queue:    q,
		tokens:   tm,
		signals:  signals,
	}
}

func (h *BroadcastHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/broadcast", h.Broadcast)
	g.GET("/signals/:id", h.GetSignal)
	g.POST("/signals/:id/enqueue", h.Enqueue)
	g.GET("/queue/stats", h.QueueStats)
	g.DELETE("/queue", h.ClearQueue)
	g.POST("/accounts/:id/token/refresh", h.RefreshToken)
	g.GET("/health", h.Health)
}

// Broadcast runs the fast path: one signal fanned out to every valid
// account under the global deadline.
func (h *BroadcastHandler) Broadcast(c echo.Context) error {
	req := &models.BroadcastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.executor.BroadcastSignal(c.Request().Context(), req)
	if err != nil {
		h.logger.Error("broadcast failed", xlogger.Error(err))
		if errors.Is(err, broadcast.ErrPreparation) {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithError(err))
		}
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *BroadcastHandler) GetSignal(c echo.Context) error {
	sig, err := h.signals.GetSignal(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return xhttp.NotFoundResponse(c, "signal not found")
		}
		h.logger.Error("get signal failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, sig)
}

// Enqueue schedules a stored signal onto the durable queue.
func (h *BroadcastHandler) Enqueue(c echo.Context) error {
	req := &models.EnqueueRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	n, err := h.queue.EnqueueSignal(c.Request().Context(), req.SignalID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return xhttp.NotFoundResponse(c, "signal not found")
		case errors.Is(err, queue.ErrNoAccounts):
			return xhttp.AppErrorResponse(c, xhttp.ConflictError("no accounts eligible for execution"))
		case errors.Is(err, queue.ErrNotRunning):
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("queue is not running"))
		}
		h.logger.Error("enqueue failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	return xhttp.CreatedResponse(c, map[string]interface{}{
		"signal_id": req.SignalID,
		"enqueued":  n,
	})
}

func (h *BroadcastHandler) QueueStats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.queue.Stats())
}

func (h *BroadcastHandler) ClearQueue(c echo.Context) error {
	removed := h.queue.Clear()
	return xhttp.SuccessResponse(c, map[string]int{"removed": removed})
}

// RefreshToken forces one account through the ensure-valid path.
func (h *BroadcastHandler) RefreshToken(c echo.Context) error {
	req := &models.TokenRefreshRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	cred, err := h.tokens.EnsureValid(c.Request().Context(), req.AccountID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return xhttp.NotFoundResponse(c, "account not found")
		case errors.Is(err, tokens.ErrAccountInactive):
			return xhttp.AppErrorResponse(c, xhttp.ConflictError("account is inactive"))
		case errors.Is(err, tokens.ErrReauthRequired):
			return xhttp.AppErrorResponse(c, xhttp.ConflictError("re-authentication required"))
		}
		h.logger.Error("token refresh failed",
			xlogger.String("account_id", req.AccountID),
			xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	resp := map[string]interface{}{
		"account_id": cred.AccountID,
		"active":     cred.Active,
	}
	if cred.TokenExpiry != nil {
		resp["token_expiry"] = cred.TokenExpiry.UTC().Format(time.RFC3339)
	}
	return xhttp.SuccessResponse(c, resp)
}

func (h *BroadcastHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
