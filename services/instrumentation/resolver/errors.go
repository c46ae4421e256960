// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import "errors"

// ErrBusiness marks resolution failures caused by the configuration itself.
// They are not retried; the connecting agent is rejected.
var ErrBusiness = errors.New("configuration business error")

var (
	// ErrNoMapping indicates no active agent mapping matches the agent.
	// Always wrapped together with ErrBusiness.
	ErrNoMapping = errors.New("no agent mapping matches")

	// ErrAmbiguousMapping indicates more than one active agent mapping
	// matches the agent. Always wrapped together with ErrBusiness.
	ErrAmbiguousMapping = errors.New("more than one agent mapping matches")

	// ErrNoEnvironment indicates the matching mapping points at an
	// environment that does not exist. Always wrapped together with
	// ErrBusiness.
	ErrNoEnvironment = errors.New("mapped environment does not exist")
)
