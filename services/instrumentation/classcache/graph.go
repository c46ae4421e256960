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
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianAPM/pkg/validation"
)

// Options configures a ClassCache.
type Options struct {
	// Logger receives debug output for mutations. Default: slog.Default().
	Logger *slog.Logger
}

// Option is a functional option for configuring a ClassCache.
type Option func(*Options)

// WithLogger sets the logger used by the cache.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// ClassCache is the type graph shared by every agent connection.
//
// Thread Safety:
//
//	Safe for concurrent use. See the package documentation.
type ClassCache struct {
	mu sync.RWMutex

	classes     map[string]*ClassType
	interfaces  map[string]*InterfaceType
	annotations map[string]*AnnotationType

	// byHash indexes initialized types by every reported bytecode hash.
	byHash map[string]Type

	logger *slog.Logger
}

// New creates an empty ClassCache.
func New(opts ...Option) *ClassCache {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	c := &ClassCache{logger: options.Logger.With("component", "classcache")}
	c.reset()
	return c
}

func (c *ClassCache) reset() {
	c.classes = make(map[string]*ClassType)
	c.interfaces = make(map[string]*InterfaceType)
	c.annotations = make(map[string]*AnnotationType)
	c.byHash = make(map[string]Type)
}

// Clear drops every node. It is an explicit administrative action; nothing
// in the cache calls it on its own.
func (c *ClassCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	c.logger.Info("class cache cleared")
}

// AddClass inserts or upgrades a class together with all its edges.
//
// Description:
//
//	The class becomes initialized. Its superclass, interfaces and
//	annotations are created as stubs when unknown. Forward and reverse edges
//	are written in the same critical section. Interfaces, annotations and
//	methods are merged with what is already known; a changed superclass
//	replaces the previous one on both sides.
//
// Errors:
//
//	ErrInvalidReport - empty or malformed name, or the class extends itself
//	ErrKindMismatch - a referenced name is already known as another kind
//
// Thread Safety: Safe for concurrent use.
func (c *ClassCache) AddClass(r ClassReport) (*ClassType, error) {
	if r.FQN == "" {
		return nil, fmt.Errorf("%w: class name is empty", ErrInvalidReport)
	}
	if err := validateNames(r.FQN, r.SuperClass, r.Interfaces); err != nil {
		return nil, err
	}
	if r.SuperClass == r.FQN {
		return nil, fmt.Errorf("%w: %s extends itself", ErrInvalidReport, r.FQN)
	}
	if err := validateAnnotations(r.FQN, r.Annotations); err != nil {
		return nil, err
	}
	for _, m := range r.Methods {
		if m.Name == "" {
			return nil, fmt.Errorf("%w: %s declares a method without name", ErrInvalidReport, r.FQN)
		}
		if err := validateAnnotations(r.FQN+"#"+m.Name, m.Annotations); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Check every name before touching the graph so a failed report leaves
	// no partial edges behind.
	if err := c.checkKindLocked(r.FQN, KindClass); err != nil {
		return nil, err
	}
	if r.SuperClass != "" {
		if err := c.checkKindLocked(r.SuperClass, KindClass); err != nil {
			return nil, err
		}
	}
	for _, name := range r.Interfaces {
		if err := c.checkKindLocked(name, KindInterface); err != nil {
			return nil, err
		}
	}
	if err := c.checkAnnotationsLocked(r.Annotations); err != nil {
		return nil, err
	}
	for _, m := range r.Methods {
		if err := c.checkAnnotationsLocked(m.Annotations); err != nil {
			return nil, err
		}
	}

	cls := c.classLocked(r.FQN)
	cls.initialize(r.Hash, r.Modifiers)
	c.indexHashLocked(r.Hash, cls)

	if r.SuperClass != "" {
		c.setSuperClassLocked(cls, c.classLocked(r.SuperClass))
	}
	for _, name := range r.Interfaces {
		iface := c.interfaceLocked(name)
		cls.interfaces[name] = iface
		iface.implementors[cls.fqn] = cls
	}
	for _, name := range r.Annotations {
		ann := c.annotationLocked(name)
		cls.annotations[name] = ann
		ann.annotatedClasses[cls.fqn] = cls
	}
	for _, mr := range r.Methods {
		c.addMethodLocked(cls, mr)
	}

	recordMutation(KindClass)
	c.logger.Debug("class reported", "fqn", r.FQN, "hash", r.Hash, "methods", len(r.Methods))
	return cls, nil
}

// AddInterface inserts or upgrades an interface together with all its edges.
//
// Errors:
//
//	ErrInvalidReport - empty or malformed name, or the interface extends itself
//	ErrKindMismatch - a referenced name is already known as another kind
//
// Thread Safety: Safe for concurrent use.
func (c *ClassCache) AddInterface(r InterfaceReport) (*InterfaceType, error) {
	if r.FQN == "" {
		return nil, fmt.Errorf("%w: interface name is empty", ErrInvalidReport)
	}
	if err := validateNames(r.FQN, "", r.SuperInterfaces); err != nil {
		return nil, err
	}
	for _, name := range r.SuperInterfaces {
		if name == r.FQN {
			return nil, fmt.Errorf("%w: %s extends itself", ErrInvalidReport, r.FQN)
		}
	}
	if err := validateAnnotations(r.FQN, r.Annotations); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkKindLocked(r.FQN, KindInterface); err != nil {
		return nil, err
	}
	for _, name := range r.SuperInterfaces {
		if err := c.checkKindLocked(name, KindInterface); err != nil {
			return nil, err
		}
	}
	if err := c.checkAnnotationsLocked(r.Annotations); err != nil {
		return nil, err
	}

	iface := c.interfaceLocked(r.FQN)
	iface.initialize(r.Hash, r.Modifiers)
	c.indexHashLocked(r.Hash, iface)

	for _, name := range r.SuperInterfaces {
		super := c.interfaceLocked(name)
		iface.superInterfaces[name] = super
		super.subInterfaces[iface.fqn] = iface
	}
	for _, name := range r.Annotations {
		ann := c.annotationLocked(name)
		iface.annotations[name] = ann
		ann.annotatedInterfaces[iface.fqn] = iface
	}

	recordMutation(KindInterface)
	c.logger.Debug("interface reported", "fqn", r.FQN, "hash", r.Hash)
	return iface, nil
}

// AddAnnotation inserts or upgrades an annotation type.
//
// Errors:
//
//	ErrInvalidReport - empty name
//	ErrKindMismatch - the name is already known as another kind
//
// Thread Safety: Safe for concurrent use.
func (c *ClassCache) AddAnnotation(r AnnotationReport) (*AnnotationType, error) {
	if r.FQN == "" {
		return nil, fmt.Errorf("%w: annotation name is empty", ErrInvalidReport)
	}
	if err := validateNames(r.FQN, "", nil); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkKindLocked(r.FQN, KindAnnotation); err != nil {
		return nil, err
	}

	ann := c.annotationLocked(r.FQN)
	ann.initialize(r.Hash, r.Modifiers)
	c.indexHashLocked(r.Hash, ann)

	recordMutation(KindAnnotation)
	c.logger.Debug("annotation reported", "fqn", r.FQN, "hash", r.Hash)
	return ann, nil
}

// Upgrade promotes a known node to initialized without touching its edges.
//
// Calling Upgrade on an initialized node adds the hash and refreshes the
// modifiers.
//
// Errors:
//
//	ErrNodeNotFound - no node with that name exists
//
// Thread Safety: Safe for concurrent use.
func (c *ClassCache) Upgrade(fqn, hash string, modifiers int) (Type, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.lookupLocked(fqn)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, fqn)
	}
	t.base().initialize(hash, modifiers)
	c.indexHashLocked(hash, t)
	recordMutation(t.Kind())
	return t, nil
}

// Class returns the class with the given name.
func (c *ClassCache) Class(fqn string) (*ClassType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cls, ok := c.classes[fqn]
	return cls, ok
}

// Interface returns the interface with the given name.
func (c *ClassCache) Interface(fqn string) (*InterfaceType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	iface, ok := c.interfaces[fqn]
	return iface, ok
}

// Annotation returns the annotation type with the given name.
func (c *ClassCache) Annotation(fqn string) (*AnnotationType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ann, ok := c.annotations[fqn]
	return ann, ok
}

// Lookup returns the node of any kind with the given name.
func (c *ClassCache) Lookup(fqn string) (Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := c.lookupLocked(fqn)
	return t, t != nil
}

// FindByHash returns the type reported with the given bytecode hash.
func (c *ClassCache) FindByHash(hash string) (Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byHash[hash]
	return t, ok
}

// Stats returns node counts.
func (c *ClassCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Classes:     len(c.classes),
		Interfaces:  len(c.interfaces),
		Annotations: len(c.annotations),
	}
	for _, cls := range c.classes {
		s.Methods += len(cls.methods)
		if cls.state == StateStub {
			s.Stubs++
		}
	}
	for _, iface := range c.interfaces {
		if iface.state == StateStub {
			s.Stubs++
		}
	}
	for _, ann := range c.annotations {
		if ann.state == StateStub {
			s.Stubs++
		}
	}
	return s
}

// =============================================================================
// Locked helpers
// =============================================================================

// validateNames checks a reported name and the names it references. An
// empty super class means none.
func validateNames(fqn, super string, related []string) error {
	if err := validation.ValidateTypeName(fqn); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if super != "" {
		if err := validation.ValidateTypeName(super); err != nil {
			return fmt.Errorf("%w: %s: super class: %v", ErrInvalidReport, fqn, err)
		}
	}
	if err := validation.ValidateTypeNames(related); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidReport, fqn, err)
	}
	return nil
}

// validateAnnotations checks the annotation names present on owner.
func validateAnnotations(owner string, names []string) error {
	if err := validation.ValidateTypeNames(names); err != nil {
		return fmt.Errorf("%w: %s: annotations: %v", ErrInvalidReport, owner, err)
	}
	return nil
}

func (c *ClassCache) lookupLocked(fqn string) Type {
	if cls, ok := c.classes[fqn]; ok {
		return cls
	}
	if iface, ok := c.interfaces[fqn]; ok {
		return iface
	}
	if ann, ok := c.annotations[fqn]; ok {
		return ann
	}
	return nil
}

func (c *ClassCache) checkKindLocked(fqn string, want Kind) error {
	t := c.lookupLocked(fqn)
	if t == nil || t.Kind() == want {
		return nil
	}
	return fmt.Errorf("%w: %s is a %s, not a %s", ErrKindMismatch, fqn, t.Kind(), want)
}

func (c *ClassCache) checkAnnotationsLocked(names []string) error {
	for _, name := range names {
		if name == "" {
			return fmt.Errorf("%w: empty annotation name", ErrInvalidReport)
		}
		if err := c.checkKindLocked(name, KindAnnotation); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClassCache) classLocked(fqn string) *ClassType {
	cls, ok := c.classes[fqn]
	if !ok {
		cls = newClassType(c, fqn)
		c.classes[fqn] = cls
	}
	return cls
}

func (c *ClassCache) interfaceLocked(fqn string) *InterfaceType {
	iface, ok := c.interfaces[fqn]
	if !ok {
		iface = newInterfaceType(c, fqn)
		c.interfaces[fqn] = iface
	}
	return iface
}

func (c *ClassCache) annotationLocked(fqn string) *AnnotationType {
	ann, ok := c.annotations[fqn]
	if !ok {
		ann = newAnnotationType(c, fqn)
		c.annotations[fqn] = ann
	}
	return ann
}

func (c *ClassCache) indexHashLocked(hash string, t Type) {
	if hash != "" {
		c.byHash[hash] = t
	}
}

func (c *ClassCache) setSuperClassLocked(cls, super *ClassType) {
	if cls.superClass == super {
		return
	}
	if cls.superClass != nil {
		delete(cls.superClass.subClasses, cls.fqn)
	}
	cls.superClass = super
	super.subClasses[cls.fqn] = cls
}

func (c *ClassCache) addMethodLocked(cls *ClassType, r MethodReport) {
	sig := Signature(r.Name, r.Parameters)
	m, ok := cls.methods[sig]
	if !ok {
		m = &MethodType{
			owner:       cls,
			name:        r.Name,
			returnType:  r.ReturnType,
			parameters:  append([]string(nil), r.Parameters...),
			signature:   sig,
			annotations: make(map[string]*AnnotationType),
		}
		cls.methods[sig] = m
	}
	m.modifiers = r.Modifiers
	for _, name := range r.Annotations {
		ann := c.annotationLocked(name)
		m.annotations[name] = ann
		ann.annotatedMethods[m.key()] = m
	}
}

func sortedMethods(m map[string]*MethodType) []*MethodType {
	out := make([]*MethodType, 0, len(m))
	for _, mt := range m {
		out = append(out, mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].signature < out[j].signature })
	return out
}
