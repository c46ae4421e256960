// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ci

import "errors"

// Sentinel errors for the configuration interface.
var (
	// ErrProfileNotFound indicates that no profile with the given id exists.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrEnvironmentNotFound indicates that no environment with the given id exists.
	ErrEnvironmentNotFound = errors.New("environment not found")

	// ErrUnknownAssignmentShape indicates a sensor assignment whose flags do
	// not describe any supported matching mode.
	ErrUnknownAssignmentShape = errors.New("unknown sensor assignment shape")

	// ErrInvalidRecord indicates a record failed validation before storing.
	ErrInvalidRecord = errors.New("invalid record")
)
