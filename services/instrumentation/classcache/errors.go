// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classcache holds the in-memory type graph built from the classes
// agents report when they load them.
//
// # Nodes and edges
//
// The graph contains four node kinds: ClassType, InterfaceType,
// AnnotationType and MethodType. Structural edges always come in pairs:
//
//	class      --extends-->     class       (reverse: subclasses)
//	class      --implements-->  interface   (reverse: implementors)
//	interface  --extends-->     interface   (reverse: sub-interfaces)
//	class/interface/method --annotated--> annotation (reverse: annotated nodes)
//
// A forward edge and its reverse are always written under the same write
// lock, so a reader can never observe one without the other.
//
// # Stubs
//
// A type referenced before it is reported itself (for example a superclass
// of a freshly loaded class) is created as a stub. Stubs participate in
// traversal like any other node; they are upgraded in place once the type is
// reported, keeping every edge added while they were stubs.
//
// # Thread Safety
//
// ClassCache is safe for concurrent use. Mutations take the write lock for a
// single report. Reads are either single-node accessors (each taking the read
// lock) or a View callback holding the read lock for a whole traversal.
//
// # Lifecycle
//
// A ClassCache is created once at server start with New and lives as long as
// the server. Nodes are never removed implicitly; Clear is the only way to
// drop them.
package classcache

import "errors"

// Sentinel errors for class cache operations.
var (
	// ErrInvalidReport is returned when a report is missing its name or
	// describes an impossible structure (a class extending itself).
	ErrInvalidReport = errors.New("invalid type report")

	// ErrKindMismatch is returned when a name already known as one kind of
	// type is reported or referenced as another kind.
	ErrKindMismatch = errors.New("type kind mismatch")

	// ErrNodeNotFound is returned by Upgrade for unknown names.
	ErrNodeNotFound = errors.New("type not found")
)
