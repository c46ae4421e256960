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

import "github.com/gin-gonic/gin"

// RegisterRoutes registers all instrumentation routes.
//
// Description:
//
//	Registers the agent, class cache and probe endpoints under /cmr. The
//	agent and class cache endpoints require a bearer token accepted by the
//	handlers' auth provider; the probes are always open.
//
// Inputs:
//
//	rg - The router group to register routes under (e.g., /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST   /v1/cmr/agents/connect            - Connect an agent
//	DELETE /v1/cmr/agents/:id                - Disconnect an agent
//	GET    /v1/cmr/agents/:id/configuration  - Get an agent's configuration
//	POST   /v1/cmr/agents/:id/classes        - Report loaded types
//	POST   /v1/cmr/agents/:id/reconfigure    - Re-resolve an agent
//	GET    /v1/cmr/classcache/stats          - Type graph statistics
//	GET    /v1/cmr/health                    - Health check
//	GET    /v1/cmr/ready                     - Readiness check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cmr := rg.Group("/cmr")
	{
		cmr.GET("/health", handlers.HandleHealth)
		cmr.GET("/ready", handlers.HandleReady)

		protected := cmr.Group("", AuthMiddleware(handlers.opts))
		agents := protected.Group("/agents")
		{
			agents.POST("/connect", handlers.HandleConnect)
			agents.DELETE("/:id", handlers.HandleDisconnect)
			agents.GET("/:id/configuration", handlers.HandleGetConfiguration)
			agents.POST("/:id/classes", handlers.HandleReport)
			agents.POST("/:id/reconfigure", handlers.HandleReconfigure)
		}

		protected.GET("/classcache/stats", handlers.HandleStats)
	}
}
