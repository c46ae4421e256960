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
	"slices"
	"strings"
)

// Kind identifies the kind of a type node.
type Kind int

const (
	// KindUnknown is the zero value and never assigned to a node.
	KindUnknown Kind = iota

	// KindClass is a concrete or abstract class.
	KindClass

	// KindInterface is an interface.
	KindInterface

	// KindAnnotation is an annotation type.
	KindAnnotation
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindInterface:
		return "interface"
	case KindAnnotation:
		return "annotation"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a type node.
type State int

const (
	// StateStub marks a node only known as a reference from another type.
	StateStub State = iota

	// StateInitialized marks a node reported by an agent.
	StateInitialized
)

// String returns the string representation of the State.
func (s State) String() string {
	if s == StateInitialized {
		return "initialized"
	}
	return "stub"
}

// TypeInfo is the payload of an initialized node.
type TypeInfo struct {
	// Hashes contains every bytecode revision reported for the type, in
	// report order.
	Hashes []string

	// Modifiers are the access flags of the last report.
	Modifiers int
}

// Type is implemented by ClassType, InterfaceType and AnnotationType.
type Type interface {
	// FQN returns the fully-qualified name. It never changes.
	FQN() string

	// Kind returns the node kind.
	Kind() Kind

	// IsInitialized reports whether the type was reported by an agent.
	IsInitialized() bool

	base() *typeNode
}

// typeNode holds the state shared by all type kinds. The state and info
// fields form a tagged union: info is only meaningful when state is
// StateInitialized.
type typeNode struct {
	cache *ClassCache
	fqn   string
	state State
	info  TypeInfo
}

func (n *typeNode) base() *typeNode { return n }

// FQN returns the fully-qualified name.
func (n *typeNode) FQN() string { return n.fqn }

// IsInitialized reports whether the type was reported by an agent.
func (n *typeNode) IsInitialized() bool {
	n.cache.mu.RLock()
	defer n.cache.mu.RUnlock()
	return n.state == StateInitialized
}

// State returns the node state.
func (n *typeNode) State() State {
	n.cache.mu.RLock()
	defer n.cache.mu.RUnlock()
	return n.state
}

// Info returns a copy of the node payload and true, or false for a stub.
func (n *typeNode) Info() (TypeInfo, bool) {
	n.cache.mu.RLock()
	defer n.cache.mu.RUnlock()
	if n.state != StateInitialized {
		return TypeInfo{}, false
	}
	return TypeInfo{Hashes: slices.Clone(n.info.Hashes), Modifiers: n.info.Modifiers}, true
}

// initialize must be called with the write lock held.
func (n *typeNode) initialize(hash string, modifiers int) {
	n.state = StateInitialized
	n.info.Modifiers = modifiers
	if hash != "" && !slices.Contains(n.info.Hashes, hash) {
		n.info.Hashes = append(n.info.Hashes, hash)
	}
}

// ClassType is a class known to the cache.
type ClassType struct {
	typeNode

	superClass  *ClassType
	subClasses  map[string]*ClassType
	interfaces  map[string]*InterfaceType
	annotations map[string]*AnnotationType
	methods     map[string]*MethodType
}

func newClassType(c *ClassCache, fqn string) *ClassType {
	return &ClassType{
		typeNode:    typeNode{cache: c, fqn: fqn},
		subClasses:  make(map[string]*ClassType),
		interfaces:  make(map[string]*InterfaceType),
		annotations: make(map[string]*AnnotationType),
		methods:     make(map[string]*MethodType),
	}
}

// Kind returns KindClass.
func (c *ClassType) Kind() Kind { return KindClass }

// SuperClass returns the direct superclass, or nil.
func (c *ClassType) SuperClass() *ClassType {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()
	return c.superClass
}

// Methods returns the declared methods sorted by signature.
func (c *ClassType) Methods() []*MethodType {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()
	return sortedMethods(c.methods)
}

// InterfaceType is an interface known to the cache.
type InterfaceType struct {
	typeNode

	superInterfaces map[string]*InterfaceType
	subInterfaces   map[string]*InterfaceType
	implementors    map[string]*ClassType
	annotations     map[string]*AnnotationType
}

func newInterfaceType(c *ClassCache, fqn string) *InterfaceType {
	return &InterfaceType{
		typeNode:        typeNode{cache: c, fqn: fqn},
		superInterfaces: make(map[string]*InterfaceType),
		subInterfaces:   make(map[string]*InterfaceType),
		implementors:    make(map[string]*ClassType),
		annotations:     make(map[string]*AnnotationType),
	}
}

// Kind returns KindInterface.
func (i *InterfaceType) Kind() Kind { return KindInterface }

// AnnotationType is an annotation known to the cache, identified by name.
type AnnotationType struct {
	typeNode

	annotatedClasses    map[string]*ClassType
	annotatedInterfaces map[string]*InterfaceType
	annotatedMethods    map[string]*MethodType
}

func newAnnotationType(c *ClassCache, fqn string) *AnnotationType {
	return &AnnotationType{
		typeNode:            typeNode{cache: c, fqn: fqn},
		annotatedClasses:    make(map[string]*ClassType),
		annotatedInterfaces: make(map[string]*InterfaceType),
		annotatedMethods:    make(map[string]*MethodType),
	}
}

// Kind returns KindAnnotation.
func (a *AnnotationType) Kind() Kind { return KindAnnotation }

// MethodType is a method declared by exactly one ClassType.
type MethodType struct {
	owner      *ClassType
	name       string
	returnType string
	parameters []string
	signature  string

	modifiers   int
	annotations map[string]*AnnotationType
}

// ConstructorName is the name under which constructors are reported.
const ConstructorName = "<init>"

// Signature builds the key a method is stored under: name(param,param).
func Signature(name string, parameters []string) string {
	return name + "(" + strings.Join(parameters, ",") + ")"
}

// Owner returns the declaring class.
func (m *MethodType) Owner() *ClassType { return m.owner }

// Name returns the method name.
func (m *MethodType) Name() string { return m.name }

// ReturnType returns the fully-qualified return type.
func (m *MethodType) ReturnType() string { return m.returnType }

// Parameters returns a copy of the parameter types.
func (m *MethodType) Parameters() []string { return slices.Clone(m.parameters) }

// Signature returns name(param,param).
func (m *MethodType) Signature() string { return m.signature }

// IsConstructor reports whether the method is a constructor.
func (m *MethodType) IsConstructor() bool { return m.name == ConstructorName }

// Modifiers returns the access flags of the last report.
func (m *MethodType) Modifiers() int {
	m.owner.cache.mu.RLock()
	defer m.owner.cache.mu.RUnlock()
	return m.modifiers
}

// key identifies the method across the whole cache.
func (m *MethodType) key() string { return m.owner.fqn + "#" + m.signature }

// =============================================================================
// Reports
// =============================================================================

// MethodReport describes one declared method of a reported class.
type MethodReport struct {
	Name        string   `json:"name" binding:"required"`
	ReturnType  string   `json:"return_type"`
	Parameters  []string `json:"parameters"`
	Modifiers   int      `json:"modifiers"`
	Annotations []string `json:"annotations"`
}

// ClassReport describes a class an agent has loaded.
type ClassReport struct {
	FQN         string         `json:"fqn" binding:"required"`
	Hash        string         `json:"hash"`
	Modifiers   int            `json:"modifiers"`
	SuperClass  string         `json:"super_class"`
	Interfaces  []string       `json:"interfaces"`
	Annotations []string       `json:"annotations"`
	Methods     []MethodReport `json:"methods" binding:"dive"`
}

// InterfaceReport describes an interface an agent has loaded.
type InterfaceReport struct {
	FQN             string   `json:"fqn" binding:"required"`
	Hash            string   `json:"hash"`
	Modifiers       int      `json:"modifiers"`
	SuperInterfaces []string `json:"super_interfaces"`
	Annotations     []string `json:"annotations"`
}

// AnnotationReport describes an annotation type an agent has loaded.
type AnnotationReport struct {
	FQN       string `json:"fqn" binding:"required"`
	Hash      string `json:"hash"`
	Modifiers int    `json:"modifiers"`
}

// Stats summarises the cache contents.
type Stats struct {
	Classes     int `json:"classes"`
	Interfaces  int `json:"interfaces"`
	Annotations int `json:"annotations"`
	Methods     int `json:"methods"`
	Stubs       int `json:"stubs"`
}
