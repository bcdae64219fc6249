package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/domain"
	"github.com/satriahrh/callrelay/domain/repositories"
	"github.com/satriahrh/callrelay/internal/auth"
	"github.com/satriahrh/callrelay/internal/session"
	"github.com/satriahrh/callrelay/internal/websocket"
)

// Dependencies are the components the HTTP surface drives
type Dependencies struct {
	Manager     *session.Manager
	Hub         *websocket.Hub
	Signer      *auth.Signer
	Sessions    repositories.JournalRepository
	Transcripts repositories.TranscriptRepository
	// PublicWSURL is the externally reachable base of the relay endpoint,
	// e.g. wss://relay.example.com
	PublicWSURL string
	Logger      *zap.Logger
}

// Call statuses that end a call
var terminalCallStatuses = map[string]bool{
	"completed": true,
	"failed":    true,
	"busy":      true,
}

// Session statuses reported by the action callback that end a call
var terminalSessionStatuses = map[string]bool{
	"completed": true,
	"failed":    true,
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies) {
	h := &handlers{deps: deps, logger: deps.Logger}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "callrelay",
		})
	})

	// Call-control webhooks
	e.POST("/calls", h.incomingCall)
	e.POST("/calls/status", h.callStatus)
	e.POST("/calls/actionCallback", h.actionCallback)

	// Relay websocket with JWT validation
	e.GET("/relay", h.relayWithAuth)

	// Admin APIs
	v1 := e.Group("/api/v1")
	v1.GET("/calls", h.listCalls)
	v1.GET("/calls/:callSid", h.getCall)
	v1.POST("/calls/:callSid/outbound", h.sendOutbound)
}

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *handlers) incomingCall(c echo.Context) error {
	var req IncomingCallRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Failed to bind incoming call request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.CallSid == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "CallSid is required",
		})
	}

	logger := h.logger.With(zap.String("callSid", req.CallSid))

	ctx := c.Request().Context()
	if _, err := h.deps.Manager.Start(ctx, req.CallSid, session.StartOptions{From: req.From, To: req.To}); err != nil {
		if errors.Is(err, session.ErrSessionClosed) {
			return c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "call_closed",
				Message: "Call has already ended",
			})
		}
		logger.Error("Failed to start session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "session_start_failed",
			Message: "Failed to start call session",
		})
	}

	token, err := h.deps.Signer.Mint(req.CallSid)
	if err != nil {
		logger.Error("Failed to mint relay token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate relay token",
		})
	}

	logger.Info("Incoming call accepted",
		zap.String("from", req.From),
		zap.String("to", req.To))

	return c.JSON(http.StatusOK, IncomingCallResponse{
		CallSid:   req.CallSid,
		RelayURL:  relayURL(h.deps.PublicWSURL, token),
		ExpiresAt: time.Now().Add(h.deps.Signer.TTL()),
	})
}

func relayURL(base, token string) string {
	return strings.TrimSuffix(base, "/") + "/relay?token=" + url.QueryEscape(token)
}

func (h *handlers) callStatus(c echo.Context) error {
	var req CallStatusRequest
	if err := c.Bind(&req); err != nil || req.CallSid == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "CallSid and CallStatus are required",
		})
	}

	logger := h.logger.With(zap.String("callSid", req.CallSid), zap.String("callStatus", req.CallStatus))
	if !terminalCallStatuses[req.CallStatus] {
		logger.Debug("Ignoring non-terminal call status")
		return c.NoContent(http.StatusNoContent)
	}

	h.signal(logger, req.CallSid, req.CallStatus)
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) actionCallback(c echo.Context) error {
	var req ActionCallbackRequest
	if err := c.Bind(&req); err != nil || req.CallSid == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "CallSid is required",
		})
	}

	logger := h.logger.With(zap.String("callSid", req.CallSid))
	logger.Info("Relay session ended",
		zap.String("sessionStatus", req.SessionStatus),
		zap.String("handoffData", req.HandoffData))

	if terminalSessionStatuses[req.SessionStatus] {
		h.signal(logger, req.CallSid, req.SessionStatus)
	}
	return c.NoContent(http.StatusNoContent)
}

// signal raises the terminal signal. Calls not running here are ignored.
func (h *handlers) signal(logger *zap.Logger, callSid, status string) {
	if err := h.deps.Manager.Signal(callSid, status); err != nil {
		logger.Warn("Terminal signal not delivered", zap.Error(err))
		return
	}
	logger.Info("Terminal signal raised", zap.String("status", status))
}

// relayWithAuth handles relay connections authenticated by a query token
func (h *handlers) relayWithAuth(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		h.logger.Warn("Relay connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in the token query parameter",
		})
	}

	claims, err := h.deps.Signer.Validate(token)
	if err != nil {
		h.logger.Warn("Relay connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	h.logger.Info("Relay connection authenticated", zap.String("callSid", claims.CallSid))
	return h.deps.Hub.HandleRelay(c, claims.CallSid)
}

func (h *handlers) listCalls(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"calls": h.deps.Manager.List(),
	})
}

func (h *handlers) getCall(c echo.Context) error {
	callSid := c.Param("callSid")
	ctx := c.Request().Context()

	stored, err := h.deps.Sessions.GetSession(ctx, callSid)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Call not found",
			})
		}
		h.logger.Error("Failed to load session", zap.String("callSid", callSid), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load call",
		})
	}

	resp := CallResponse{Session: stored}
	if o, running := h.deps.Manager.Get(callSid); running {
		snapshot := o.Snapshot()
		resp.Live = &snapshot
	}

	transcript, err := h.deps.Transcripts.GetTranscript(ctx, callSid)
	switch {
	case err == nil:
		resp.Transcript = transcript
	case !errors.Is(err, repositories.ErrNotFound):
		h.logger.Warn("Failed to load transcript", zap.String("callSid", callSid), zap.Error(err))
	}

	return c.JSON(http.StatusOK, resp)
}

// sendOutbound forwards an operator-written relay message to the call
func (h *handlers) sendOutbound(c echo.Context) error {
	callSid := c.Param("callSid")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to read request body",
		})
	}

	msg, err := domain.DecodeOutbound(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_message",
			Message: err.Error(),
		})
	}

	if err := h.deps.Hub.Send(c.Request().Context(), callSid, msg); err != nil {
		if errors.Is(err, repositories.ErrNotConnected) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_connected",
				Message: "Call has no relay connection",
			})
		}
		h.logger.Error("Failed to send outbound message", zap.String("callSid", callSid), zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "send_failed",
			Message: err.Error(),
		})
	}

	h.logger.Info("Operator message sent",
		zap.String("callSid", callSid),
		zap.String("type", string(msg.OutboundType())))
	return c.NoContent(http.StatusAccepted)
}
