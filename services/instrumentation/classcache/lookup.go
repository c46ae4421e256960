// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classcache

import (
	"sort"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/pattern"
)

// FindClassTypesByPattern returns the classes whose name matches p.
//
// Description:
//
//	A pattern without '*' is an O(1) exact lookup. A wildcard pattern scans
//	every class. With onlyInitialized set, stubs are left out of the result;
//	callers that continue walking the hierarchy from the result pass false,
//	because stubs are legitimate transit points.
//
// Outputs:
//
//	[]*ClassType - Matches sorted by name. Never nil.
func (v *View) FindClassTypesByPattern(p string, onlyInitialized bool) []*ClassType {
	return findByPattern(v.c.classes, p, onlyInitialized)
}

// FindInterfaceTypesByPattern returns the interfaces whose name matches p.
// See FindClassTypesByPattern for the pattern and filter semantics.
func (v *View) FindInterfaceTypesByPattern(p string, onlyInitialized bool) []*InterfaceType {
	return findByPattern(v.c.interfaces, p, onlyInitialized)
}

// FindAnnotationTypesByPattern returns the annotations whose name matches p.
// See FindClassTypesByPattern for the pattern and filter semantics.
func (v *View) FindAnnotationTypesByPattern(p string, onlyInitialized bool) []*AnnotationType {
	return findByPattern(v.c.annotations, p, onlyInitialized)
}

func findByPattern[T Type](nodes map[string]T, p string, onlyInitialized bool) []T {
	out := make([]T, 0)

	if !pattern.IsWildcard(p) {
		if t, ok := nodes[p]; ok && (!onlyInitialized || t.base().state == StateInitialized) {
			out = append(out, t)
		}
		return out
	}

	m := pattern.New(p)
	for name, t := range nodes {
		if onlyInitialized && t.base().state != StateInitialized {
			continue
		}
		if m.Match(name) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FQN() < out[j].FQN() })
	return out
}

// FindClassTypesByPattern is the locking form of View.FindClassTypesByPattern.
func (c *ClassCache) FindClassTypesByPattern(p string, onlyInitialized bool) []*ClassType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return findByPattern(c.classes, p, onlyInitialized)
}

// FindInterfaceTypesByPattern is the locking form of
// View.FindInterfaceTypesByPattern.
func (c *ClassCache) FindInterfaceTypesByPattern(p string, onlyInitialized bool) []*InterfaceType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return findByPattern(c.interfaces, p, onlyInitialized)
}

// FindAnnotationTypesByPattern is the locking form of
// View.FindAnnotationTypesByPattern.
func (c *ClassCache) FindAnnotationTypesByPattern(p string, onlyInitialized bool) []*AnnotationType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return findByPattern(c.annotations, p, onlyInitialized)
}
