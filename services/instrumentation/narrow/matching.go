// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package narrow expands a sensor assignment's matching rule into the set of
// already-reported classes it affects.
//
// A rule is one of four matching modes, modelled as the closed union
// Matching:
//
//	ByClassName  - classes whose own name matches, no hierarchy walk
//	BySuperclass - matching classes and all their subclasses
//	ByInterface  - implementors of matching interfaces (and of their
//	               sub-interfaces) plus all their subclasses
//	ByAnnotation - annotated classes, implementors of annotated interfaces
//	               (both with subclasses) and owners of annotated methods
//
// Stubs are walked through but never returned.
package narrow

import "fmt"

// Matching is a closed union of matching modes. Only the types in this
// package implement it.
type Matching interface {
	fmt.Stringer

	// Mode returns the mode name used in logs and metrics.
	Mode() string

	matching()
}

// ByClassName matches classes by their own name.
type ByClassName struct {
	Pattern string
}

// BySuperclass matches classes extending a class matching Pattern.
type BySuperclass struct {
	Pattern string
}

// ByInterface matches classes implementing an interface matching Pattern.
type ByInterface struct {
	Pattern string
}

// ByAnnotation matches types annotated with an annotation matching
// Annotation.
type ByAnnotation struct {
	Annotation string
}

func (ByClassName) matching()  {}
func (BySuperclass) matching() {}
func (ByInterface) matching()  {}
func (ByAnnotation) matching() {}

// Mode returns "class".
func (ByClassName) Mode() string { return "class" }

// Mode returns "superclass".
func (BySuperclass) Mode() string { return "superclass" }

// Mode returns "interface".
func (ByInterface) Mode() string { return "interface" }

// Mode returns "annotation".
func (ByAnnotation) Mode() string { return "annotation" }

func (m ByClassName) String() string  { return "class " + m.Pattern }
func (m BySuperclass) String() string { return "superclass " + m.Pattern }
func (m ByInterface) String() string  { return "interface " + m.Pattern }
func (m ByAnnotation) String() string { return "@" + m.Annotation }
