// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package instrumentation

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/AleutianAPM/pkg/extensions"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/classcache"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/registration"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/resolver"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers contains the HTTP handlers for the instrumentation service.
type Handlers struct {
	svc  *Service
	opts extensions.ServiceOptions
}

// NewHandlers creates handlers for the given service. Nil extension points
// in opts fall back to the no-op defaults.
func NewHandlers(svc *Service, opts extensions.ServiceOptions) *Handlers {
	return &Handlers{svc: svc, opts: opts.Normalize()}
}

// HandleConnect handles POST /v1/cmr/agents/connect.
//
// Description:
//
//	Connects an agent and returns its session. The agent fetches its
//	configuration with the returned platform id.
//
// Request Body:
//
//	ConnectRequest
//
// Response:
//
//	200 OK: AgentSession
//	400 Bad Request: Validation error
//	409 Conflict: No mapping, ambiguous mapping or missing environment
//	500 Internal Server Error: Store or registry error
func (h *Handlers) HandleConnect(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleConnect")

	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	sess, err := h.svc.Connect(c.Request.Context(), req)
	if err != nil {
		logger.Warn("Connect failed", "agent", req.AgentName, "error", err)
		h.audit(c, extensions.EventAgentConnect, "", err, map[string]any{"agent": req.AgentName})
		writeError(c, err, "CONNECT_FAILED")
		return
	}
	h.audit(c, extensions.EventAgentConnect, strconv.FormatInt(sess.PlatformID, 10), nil,
		map[string]any{"agent": req.AgentName, "environment_id": sess.EnvironmentID})

	logger.Info("Agent connected", "agent", req.AgentName, "platform_id", sess.PlatformID)
	c.JSON(http.StatusOK, sess)
}

// HandleDisconnect handles DELETE /v1/cmr/agents/:id.
//
// Response:
//
//	204 No Content
//	400 Bad Request: Malformed id
//	404 Not Found: Agent not connected
func (h *Handlers) HandleDisconnect(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDisconnect")

	platformID, ok := platformIDParam(c)
	if !ok {
		return
	}
	err := h.svc.Disconnect(c.Request.Context(), platformID)
	h.audit(c, extensions.EventAgentDisconnect, c.Param("id"), err, nil)
	if err != nil {
		logger.Warn("Disconnect failed", "platform_id", platformID, "error", err)
		writeError(c, err, "DISCONNECT_FAILED")
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleGetConfiguration handles GET /v1/cmr/agents/:id/configuration.
//
// Response:
//
//	200 OK: agentconfig.AgentConfig
//	400 Bad Request: Malformed id
//	404 Not Found: Agent not connected or not configured
func (h *Handlers) HandleGetConfiguration(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetConfiguration")

	platformID, ok := platformIDParam(c)
	if !ok {
		return
	}
	cfg, err := h.svc.AgentConfiguration(platformID)
	if err != nil {
		logger.Debug("No configuration", "platform_id", platformID, "error", err)
		writeError(c, err, "CONFIGURATION_FAILED")
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// HandleReport handles POST /v1/cmr/agents/:id/classes.
//
// Description:
//
//	Adds the reported types to the type graph and returns one
//	instrumentation decision per reported class.
//
// Request Body:
//
//	ReportRequest
//
// Response:
//
//	200 OK: ReportResponse
//	400 Bad Request: Validation error or invalid type report
//	404 Not Found: Agent not connected
//	409 Conflict: A type was reported as a different kind than before
func (h *Handlers) HandleReport(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleReport")

	platformID, ok := platformIDParam(c)
	if !ok {
		return
	}

	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	resp, err := h.svc.Report(c.Request.Context(), platformID, req)
	if err != nil {
		logger.Warn("Report failed", "platform_id", platformID, "error", err)
		writeError(c, err, "REPORT_FAILED")
		return
	}

	logger.Debug("Report processed",
		"platform_id", platformID,
		"classes", len(req.Classes),
		"interfaces", len(req.Interfaces),
		"annotations", len(req.Annotations),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleReconfigure handles POST /v1/cmr/agents/:id/reconfigure.
//
// Response:
//
//	200 OK: AgentSession
//	404 Not Found: Agent not connected
//	409 Conflict: The agent no longer maps to one environment
func (h *Handlers) HandleReconfigure(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleReconfigure")

	platformID, ok := platformIDParam(c)
	if !ok {
		return
	}
	sess, err := h.svc.Reconfigure(c.Request.Context(), platformID)
	h.audit(c, extensions.EventAgentReconfigure, c.Param("id"), err, nil)
	if err != nil {
		logger.Warn("Reconfigure failed", "platform_id", platformID, "error", err)
		writeError(c, err, "RECONFIGURE_FAILED")
		return
	}
	c.JSON(http.StatusOK, sess)
}

// HandleStats handles GET /v1/cmr/classcache/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats())
}

// HandleHealth handles GET /v1/cmr/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.svc.config.Version,
	})
}

// HandleReady handles GET /v1/cmr/ready.
//
// Response:
//
//	200 OK: ReadyResponse
//	503 Service Unavailable: The configuration store cannot be read
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{Ready: true, Agents: h.svc.AgentCount()}
	if err := h.svc.Ready(c.Request.Context()); err != nil {
		slog.Warn("Not ready", "error", err)
		resp.Ready = false
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Helpers
// =============================================================================

// audit writes an audit event for the caller. Audit failures are logged and
// never fail the request.
func (h *Handlers) audit(c *gin.Context, eventType, resourceID string, err error, metadata map[string]any) {
	event := extensions.AuditEvent{
		EventType:  eventType,
		Subject:    subject(c),
		ResourceID: resourceID,
		Outcome:    extensions.OutcomeSuccess,
		Metadata:   metadata,
	}
	if err != nil {
		event.Outcome = extensions.OutcomeFailure
		if event.Metadata == nil {
			event.Metadata = make(map[string]any, 1)
		}
		event.Metadata["error"] = err.Error()
	}
	if auditErr := h.opts.AuditLogger.Log(c.Request.Context(), event); auditErr != nil {
		slog.Warn("Audit logging failed", "event_type", eventType, "error", auditErr)
	}
}

// getOrCreateRequestID extracts or generates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// platformIDParam parses the :id path parameter, writing a 400 response
// when it is not a positive integer.
func platformIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid platform id",
			Code:  "INVALID_ID",
		})
		return 0, false
	}
	return id, true
}

// writeError maps service errors to status codes. fallbackCode is used for
// errors without a more specific code.
func writeError(c *gin.Context, err error, fallbackCode string) {
	status := http.StatusInternalServerError
	code := fallbackCode

	switch {
	case errors.Is(err, ErrAgentNotConnected):
		status, code = http.StatusNotFound, "AGENT_NOT_CONNECTED"
	case errors.Is(err, ErrAgentNotConfigured):
		status, code = http.StatusNotFound, "AGENT_NOT_CONFIGURED"
	case errors.Is(err, ErrInvalidRequest):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, classcache.ErrInvalidReport):
		status, code = http.StatusBadRequest, "INVALID_REPORT"
	case errors.Is(err, classcache.ErrKindMismatch):
		status, code = http.StatusConflict, "KIND_MISMATCH"
	case errors.Is(err, resolver.ErrNoMapping):
		status, code = http.StatusConflict, "NO_MAPPING"
	case errors.Is(err, resolver.ErrAmbiguousMapping):
		status, code = http.StatusConflict, "AMBIGUOUS_MAPPING"
	case errors.Is(err, resolver.ErrBusiness):
		status, code = http.StatusConflict, "BUSINESS_ERROR"
	case errors.Is(err, ci.ErrUnknownAssignmentShape):
		status, code = http.StatusUnprocessableEntity, "INVALID_ASSIGNMENT"
	case errors.Is(err, registration.ErrRegistryClosed):
		status, code = http.StatusServiceUnavailable, "REGISTRY_CLOSED"
	case errors.Is(err, ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, ErrUnsupportedAgentVersion):
		status, code = http.StatusUpgradeRequired, "UNSUPPORTED_AGENT_VERSION"
	}

	c.JSON(status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Details: err.Error(),
	})
}
