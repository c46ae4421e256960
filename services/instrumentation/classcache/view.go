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

import "sort"

// View is a read-only snapshot of the cache, valid only inside the callback
// passed to ClassCache.View. Its accessors do not lock; the read lock is held
// for the whole callback.
//
// Every slice returned by a View is freshly allocated and sorted by name.
type View struct {
	c *ClassCache
}

// View runs fn while holding the read lock.
//
// Description:
//
//	Use View for multi-step traversals that must observe a single consistent
//	graph. fn must not call mutating ClassCache methods or the locking
//	single-node accessors (IsInitialized, SuperClass, ...) on nodes; use the
//	View accessors instead.
//
// Outputs:
//
//	error - Whatever fn returns.
//
// Thread Safety: Safe for concurrent use. Blocks writers while fn runs.
func (c *ClassCache) View(fn func(v *View) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn(&View{c: c})
}

// Class returns the class with the given name.
func (v *View) Class(fqn string) (*ClassType, bool) {
	cls, ok := v.c.classes[fqn]
	return cls, ok
}

// Interface returns the interface with the given name.
func (v *View) Interface(fqn string) (*InterfaceType, bool) {
	iface, ok := v.c.interfaces[fqn]
	return iface, ok
}

// Annotation returns the annotation with the given name.
func (v *View) Annotation(fqn string) (*AnnotationType, bool) {
	ann, ok := v.c.annotations[fqn]
	return ann, ok
}

// Initialized reports whether t was reported by an agent.
func (v *View) Initialized(t Type) bool {
	return t.base().state == StateInitialized
}

// SuperClass returns the direct superclass of cls, or nil.
func (v *View) SuperClass(cls *ClassType) *ClassType {
	return cls.superClass
}

// Subclasses returns the direct subclasses of cls.
func (v *View) Subclasses(cls *ClassType) []*ClassType {
	return sortedClasses(cls.subClasses)
}

// AllSubclasses returns the transitive subclasses of cls, excluding cls.
// Stubs are included.
func (v *View) AllSubclasses(cls *ClassType) []*ClassType {
	seen := map[*ClassType]struct{}{cls: {}}
	var out []*ClassType
	stack := []*ClassType{cls}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, sub := range cur.subClasses {
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			out = append(out, sub)
			stack = append(stack, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].fqn < out[j].fqn })
	return out
}

// Interfaces returns the interfaces cls implements directly.
func (v *View) Interfaces(cls *ClassType) []*InterfaceType {
	return sortedInterfaces(cls.interfaces)
}

// ClassAnnotations returns the annotations present directly on cls.
func (v *View) ClassAnnotations(cls *ClassType) []*AnnotationType {
	return sortedAnnotations(cls.annotations)
}

// Methods returns the methods declared by cls, sorted by signature.
func (v *View) Methods(cls *ClassType) []*MethodType {
	return sortedMethods(cls.methods)
}

// MethodAnnotations returns the annotations present directly on m.
func (v *View) MethodAnnotations(m *MethodType) []*AnnotationType {
	return sortedAnnotations(m.annotations)
}

// SuperInterfaces returns the direct super-interfaces of iface.
func (v *View) SuperInterfaces(iface *InterfaceType) []*InterfaceType {
	return sortedInterfaces(iface.superInterfaces)
}

// SubInterfaces returns the direct sub-interfaces of iface.
func (v *View) SubInterfaces(iface *InterfaceType) []*InterfaceType {
	return sortedInterfaces(iface.subInterfaces)
}

// AllSubInterfaces returns the transitive sub-interfaces of iface,
// excluding iface. Stubs are included.
func (v *View) AllSubInterfaces(iface *InterfaceType) []*InterfaceType {
	seen := map[*InterfaceType]struct{}{iface: {}}
	var out []*InterfaceType
	stack := []*InterfaceType{iface}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, sub := range cur.subInterfaces {
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			out = append(out, sub)
			stack = append(stack, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].fqn < out[j].fqn })
	return out
}

// Implementors returns the classes implementing iface directly.
func (v *View) Implementors(iface *InterfaceType) []*ClassType {
	return sortedClasses(iface.implementors)
}

// InterfaceAnnotations returns the annotations present directly on iface.
func (v *View) InterfaceAnnotations(iface *InterfaceType) []*AnnotationType {
	return sortedAnnotations(iface.annotations)
}

// AnnotatedClasses returns the classes directly annotated with ann.
func (v *View) AnnotatedClasses(ann *AnnotationType) []*ClassType {
	return sortedClasses(ann.annotatedClasses)
}

// AnnotatedInterfaces returns the interfaces directly annotated with ann.
func (v *View) AnnotatedInterfaces(ann *AnnotationType) []*InterfaceType {
	return sortedInterfaces(ann.annotatedInterfaces)
}

// AnnotatedMethods returns the methods directly annotated with ann, sorted
// by owner and signature.
func (v *View) AnnotatedMethods(ann *AnnotationType) []*MethodType {
	out := make([]*MethodType, 0, len(ann.annotatedMethods))
	for _, m := range ann.annotatedMethods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

// IsSubclassOf reports whether cls extends super directly or transitively.
func (v *View) IsSubclassOf(cls, super *ClassType) bool {
	seen := make(map[*ClassType]struct{})
	for cur := cls.superClass; cur != nil; cur = cur.superClass {
		if cur == super {
			return true
		}
		if _, ok := seen[cur]; ok {
			return false
		}
		seen[cur] = struct{}{}
	}
	return false
}

func sortedClasses(m map[string]*ClassType) []*ClassType {
	out := make([]*ClassType, 0, len(m))
	for _, cls := range m {
		out = append(out, cls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].fqn < out[j].fqn })
	return out
}

func sortedInterfaces(m map[string]*InterfaceType) []*InterfaceType {
	out := make([]*InterfaceType, 0, len(m))
	for _, iface := range m {
		out = append(out, iface)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].fqn < out[j].fqn })
	return out
}

func sortedAnnotations(m map[string]*AnnotationType) []*AnnotationType {
	out := make([]*AnnotationType, 0, len(m))
	for _, ann := range m {
		out = append(out, ann)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].fqn < out[j].fqn })
	return out
}
