// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registration hands out the stable numeric identities agents and
// their sensor types are addressed by.
//
// An identity is keyed by what it describes: registering the same platform,
// or the same sensor class with the same parameters for the same platform,
// always yields the same id. Ids start at 1.
package registration

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// ErrRegistryClosed is returned by every call after Close.
var ErrRegistryClosed = errors.New("registry closed")

// Registry is the identity-registration service.
type Registry interface {
	// RegisterPlatformIdent returns the platform id of an agent, identified
	// by its name and the set of its addresses.
	RegisterPlatformIdent(ctx context.Context, agentName string, ips []string) (int64, error)

	// RegisterPlatformSensorTypeIdent returns the id of a platform sensor
	// type on a platform.
	RegisterPlatformSensorTypeIdent(ctx context.Context, platformID int64, className string) (int64, error)

	// RegisterMethodSensorTypeIdent returns the id of a method sensor type
	// with the given parameters on a platform.
	RegisterMethodSensorTypeIdent(ctx context.Context, platformID int64, className string, parameters map[string]string) (int64, error)

	Close() error
}

func platformKey(agentName string, ips []string) string {
	sorted := slices.Clone(ips)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return "platform|" + agentName + "|" + strings.Join(sorted, ",")
}

func platformSensorKey(platformID int64, className string) string {
	return "psensor|" + strconv.FormatInt(platformID, 10) + "|" + className
}

func methodSensorKey(platformID int64, className string, parameters map[string]string) string {
	var b strings.Builder
	b.WriteString("msensor|")
	b.WriteString(strconv.FormatInt(platformID, 10))
	b.WriteString("|")
	b.WriteString(className)
	for _, k := range slices.Sorted(maps.Keys(parameters)) {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(parameters[k])
	}
	return b.String()
}
