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

import "errors"

// Sentinel errors for the instrumentation service.
var (
	// ErrAgentNotConnected is returned for platform ids without a session.
	ErrAgentNotConnected = errors.New("agent not connected")

	// ErrAgentNotConfigured is returned when an agent is connected but its
	// configuration has been reset, e.g. after its mapping was removed.
	ErrAgentNotConfigured = errors.New("agent has no configuration")

	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRateLimited is returned when an agent reports faster than the
	// configured rate.
	ErrRateLimited = errors.New("report rate exceeded")

	// ErrUnsupportedAgentVersion is returned when an agent is older than the
	// configured minimum version.
	ErrUnsupportedAgentVersion = errors.New("unsupported agent version")
)
