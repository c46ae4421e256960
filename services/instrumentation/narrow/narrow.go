// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package narrow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/classcache"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/pattern"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Narrow returns the initialized classes affected by m.
//
// Description:
//
//	Looks up the seed types for m and walks reverse edges (subclasses,
//	sub-interfaces, implementors, annotated types) to compute the affected
//	classes. The whole walk runs inside one ClassCache.View, so it observes a
//	single consistent graph and is bounded by the number of known types.
//
// Inputs:
//
//	ctx - Context for tracing.
//	cache - The type graph. Must not be nil.
//	m - The matching rule. Must be one of the types of this package.
//
// Outputs:
//
//	[]*classcache.ClassType - Affected classes, deduplicated, sorted by name,
//	never containing a stub. Never nil.
//
// Panics:
//
//	If m is nil or not one of this package's matching modes. That is a
//	programming error, not a runtime condition.
//
// Thread Safety: Safe for concurrent use.
func Narrow(ctx context.Context, cache *classcache.ClassCache, m Matching) []*classcache.ClassType {
	if m == nil {
		panic("narrow: nil matching")
	}

	_, span := tracer.Start(ctx, "narrow.Narrow",
		trace.WithAttributes(
			attribute.String("narrow.mode", m.Mode()),
			attribute.String("narrow.rule", m.String()),
		),
	)
	defer span.End()

	start := time.Now()
	var out []*classcache.ClassType

	_ = cache.View(func(v *classcache.View) error {
		rs := newResultSet(v)
		switch mm := m.(type) {
		case ByClassName:
			byClassName(v, mm, rs)
		case BySuperclass:
			bySuperclass(v, mm, rs)
		case ByInterface:
			byInterface(v, mm, rs)
		case ByAnnotation:
			byAnnotation(v, mm, rs)
		default:
			panic(fmt.Sprintf("narrow: unsupported matching %T", m))
		}
		out = rs.sorted()
		return nil
	})

	span.SetAttributes(attribute.Int("narrow.result_count", len(out)))
	recordNarrow(ctx, m.Mode(), time.Since(start), len(out))
	return out
}

// Contains reports whether the class named fqn is affected by m.
//
// Description:
//
//	Answers the same question as membership in Narrow without building the
//	affected set. The walk goes up from the class: its superclass chain, the
//	interfaces of every class on the chain and their super-interfaces, and
//	the annotations of all of those. Method annotations only count on the
//	class's own methods, matching Narrow's treatment of method hits. Stubs
//	are walked through; the class itself must be initialized.
//
//	Cost is bounded by the size of the class's ancestry, not by the graph.
//
// Panics: under the same conditions as Narrow.
//
// Thread Safety: Safe for concurrent use.
func Contains(ctx context.Context, cache *classcache.ClassCache, m Matching, fqn string) bool {
	if m == nil {
		panic("narrow: nil matching")
	}

	start := time.Now()
	var hit bool
	_ = cache.View(func(v *classcache.View) error {
		cls, ok := v.Class(fqn)
		if !ok || !v.Initialized(cls) {
			return nil
		}
		switch mm := m.(type) {
		case ByClassName:
			hit = pattern.New(mm.Pattern).Match(cls.FQN())
		case BySuperclass:
			match := pattern.New(mm.Pattern)
			hit = anyClass(superChain(v, cls), func(c *classcache.ClassType) bool {
				return match.Match(c.FQN())
			})
		case ByInterface:
			match := pattern.New(mm.Pattern)
			hit = anyInterface(v, superChain(v, cls), func(i *classcache.InterfaceType) bool {
				return match.Match(i.FQN())
			})
		case ByAnnotation:
			hit = annotatedAbove(v, cls, pattern.New(mm.Annotation))
		default:
			panic(fmt.Sprintf("narrow: unsupported matching %T", m))
		}
		return nil
	})

	recordContains(ctx, m.Mode(), time.Since(start), hit)
	return hit
}

// superChain returns cls followed by its superclasses, stopping at a cycle.
func superChain(v *classcache.View, cls *classcache.ClassType) []*classcache.ClassType {
	seen := make(map[*classcache.ClassType]struct{})
	var chain []*classcache.ClassType
	for c := cls; c != nil; c = v.SuperClass(c) {
		if _, ok := seen[c]; ok {
			break
		}
		seen[c] = struct{}{}
		chain = append(chain, c)
	}
	return chain
}

func anyClass(chain []*classcache.ClassType, fn func(*classcache.ClassType) bool) bool {
	for _, c := range chain {
		if fn(c) {
			return true
		}
	}
	return false
}

// anyInterface visits the interfaces of every class in chain together with
// their transitive super-interfaces, each at most once.
func anyInterface(v *classcache.View, chain []*classcache.ClassType, fn func(*classcache.InterfaceType) bool) bool {
	seen := make(map[*classcache.InterfaceType]struct{})
	var stack []*classcache.InterfaceType
	for _, c := range chain {
		stack = append(stack, v.Interfaces(c)...)
	}
	for len(stack) > 0 {
		iface := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[iface]; ok {
			continue
		}
		seen[iface] = struct{}{}
		if fn(iface) {
			return true
		}
		stack = append(stack, v.SuperInterfaces(iface)...)
	}
	return false
}

func annotatedAbove(v *classcache.View, cls *classcache.ClassType, match pattern.Matcher) bool {
	matches := func(anns []*classcache.AnnotationType) bool {
		for _, a := range anns {
			if match.Match(a.FQN()) {
				return true
			}
		}
		return false
	}

	chain := superChain(v, cls)
	if anyClass(chain, func(c *classcache.ClassType) bool { return matches(v.ClassAnnotations(c)) }) {
		return true
	}
	if anyInterface(v, chain, func(i *classcache.InterfaceType) bool { return matches(v.InterfaceAnnotations(i)) }) {
		return true
	}
	for _, method := range v.Methods(cls) {
		if matches(v.MethodAnnotations(method)) {
			return true
		}
	}
	return false
}

// byClassName returns the initialized classes whose own name matches; there
// is no hierarchy walk.
func byClassName(v *classcache.View, m ByClassName, rs *resultSet) {
	for _, cls := range v.FindClassTypesByPattern(m.Pattern, true) {
		rs.include(cls)
	}
}

// bySuperclass adds every matching class (stubs included as seeds) with its
// subclass closure.
func bySuperclass(v *classcache.View, m BySuperclass, rs *resultSet) {
	for _, cls := range v.FindClassTypesByPattern(m.Pattern, false) {
		rs.includeWithSubclasses(cls)
	}
}

func byInterface(v *classcache.View, m ByInterface, rs *resultSet) {
	for _, iface := range v.FindInterfaceTypesByPattern(m.Pattern, false) {
		rs.includeImplementors(iface)
	}
}

// byAnnotation collects every type directly annotated with a matching
// annotation. Class and interface hits are expanded through the hierarchy;
// a method hit contributes only its declaring class.
func byAnnotation(v *classcache.View, m ByAnnotation, rs *resultSet) {
	for _, ann := range v.FindAnnotationTypesByPattern(m.Annotation, false) {
		for _, cls := range v.AnnotatedClasses(ann) {
			rs.includeWithSubclasses(cls)
		}
		for _, iface := range v.AnnotatedInterfaces(ann) {
			rs.includeImplementors(iface)
		}
		for _, method := range v.AnnotatedMethods(ann) {
			rs.include(method.Owner())
		}
	}
}

// resultSet accumulates classes during a walk. Expansion bookkeeping is
// separate from the result so stubs can be walked but not returned.
type resultSet struct {
	v *classcache.View

	result     map[*classcache.ClassType]struct{}
	expanded   map[*classcache.ClassType]struct{}
	interfaces map[*classcache.InterfaceType]struct{}
}

func newResultSet(v *classcache.View) *resultSet {
	return &resultSet{
		v:          v,
		result:     make(map[*classcache.ClassType]struct{}),
		expanded:   make(map[*classcache.ClassType]struct{}),
		interfaces: make(map[*classcache.InterfaceType]struct{}),
	}
}

// include adds cls to the result if it is initialized.
func (rs *resultSet) include(cls *classcache.ClassType) {
	if rs.v.Initialized(cls) {
		rs.result[cls] = struct{}{}
	}
}

// includeWithSubclasses adds cls and its transitive subclasses.
func (rs *resultSet) includeWithSubclasses(root *classcache.ClassType) {
	stack := []*classcache.ClassType{root}
	for len(stack) > 0 {
		cls := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := rs.expanded[cls]; ok {
			continue
		}
		rs.expanded[cls] = struct{}{}
		rs.include(cls)
		stack = append(stack, rs.v.Subclasses(cls)...)
	}
}

// includeImplementors adds, for root and all its transitive sub-interfaces,
// every direct implementor with its subclasses.
func (rs *resultSet) includeImplementors(root *classcache.InterfaceType) {
	stack := []*classcache.InterfaceType{root}
	for len(stack) > 0 {
		iface := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := rs.interfaces[iface]; ok {
			continue
		}
		rs.interfaces[iface] = struct{}{}
		for _, impl := range rs.v.Implementors(iface) {
			rs.includeWithSubclasses(impl)
		}
		stack = append(stack, rs.v.SubInterfaces(iface)...)
	}
}

func (rs *resultSet) sorted() []*classcache.ClassType {
	out := make([]*classcache.ClassType, 0, len(rs.result))
	for cls := range rs.result {
		out = append(out, cls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FQN() < out[j].FQN() })
	return out
}
