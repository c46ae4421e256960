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
	"strings"

	"github.com/AleutianAI/AleutianAPM/pkg/extensions"
	"github.com/gin-gonic/gin"
)

// authInfoKey is the gin context key holding the caller's AuthInfo.
const authInfoKey = "cmr_auth_info"

// AuthMiddleware authenticates requests with a bearer token.
//
// Description:
//
//	Extracts "Authorization: Bearer <token>" and validates it with the
//	provider. On success the AuthInfo is stored for handlers (see
//	authInfo). On failure the request is aborted with 401 and an
//	auth.failed audit event is written.
//
// Inputs:
//
//	opts - Extension options. The provider and audit logger are used.
//
// Thread Safety: The returned middleware is safe for concurrent use.
func AuthMiddleware(opts extensions.ServiceOptions) gin.HandlerFunc {
	opts = opts.Normalize()
	return func(c *gin.Context) {
		info, err := opts.AuthProvider.Validate(c.Request.Context(), extractBearerToken(c))
		if err != nil {
			slog.Warn("Authentication failed",
				"path", c.FullPath(), "client_ip", c.ClientIP(), "error", err)
			_ = opts.AuditLogger.Log(c.Request.Context(), extensions.AuditEvent{
				EventType: extensions.EventAuthFailed,
				Outcome:   extensions.OutcomeFailure,
				Metadata:  map[string]any{"path": c.FullPath(), "client_ip": c.ClientIP()},
			})

			code := "AUTHENTICATION_FAILED"
			if errors.Is(err, extensions.ErrUnauthorized) {
				code = "UNAUTHORIZED"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: http.StatusText(http.StatusUnauthorized),
				Code:  code,
			})
			return
		}
		c.Set(authInfoKey, info)
		c.Next()
	}
}

// authInfo returns the authenticated caller, or nil when the route is not
// behind AuthMiddleware.
func authInfo(c *gin.Context) *extensions.AuthInfo {
	if v, ok := c.Get(authInfoKey); ok {
		if info, ok := v.(*extensions.AuthInfo); ok {
			return info
		}
	}
	return nil
}

// subject returns the caller's subject for audit events.
func subject(c *gin.Context) string {
	if info := authInfo(c); info != nil {
		return info.Subject
	}
	return "anonymous"
}

// extractBearerToken returns the token of a "Bearer <token>" header, or "".
// The scheme is case-insensitive.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
