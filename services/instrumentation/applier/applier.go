// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package applier turns resolved sensor assignments into appliers: units
// that decide, for one reported class, which of its methods a sensor is
// woven into.
package applier

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/classcache"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/narrow"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/pattern"
)

// Kind is the origin of an applier.
type Kind int

const (
	// KindMethodSensor comes from a profile's method sensor assignment.
	KindMethodSensor Kind = iota

	// KindExceptionSensor comes from a profile's exception sensor
	// assignment. It instruments constructors.
	KindExceptionSensor

	// KindFunctional is built in and scoped to the environment.
	KindFunctional
)

// String returns the kind name used in logs and decisions.
func (k Kind) String() string {
	switch k {
	case KindMethodSensor:
		return "method_sensor"
	case KindExceptionSensor:
		return "exception_sensor"
	case KindFunctional:
		return "functional"
	default:
		return "unknown"
	}
}

// Applier applies one sensor assignment. Appliers are immutable after
// construction and safe for concurrent use.
type Applier struct {
	kind       Kind
	name       string
	assignment ci.SensorAssignment
	matching   narrow.Matching

	sensorClassName string
	priority        ci.Priority
	settings        map[string]string

	methodName  pattern.Matcher
	parameters  []string
	constructor bool
}

// NewMethodSensor builds the applier of a method sensor assignment.
//
// Errors: ci.ErrUnknownAssignmentShape from the assignment's flags.
func NewMethodSensor(a ci.MethodSensorAssignment, cfg ci.MethodSensorConfig) (*Applier, error) {
	m, err := a.Matching()
	if err != nil {
		return nil, err
	}
	methods := a.MethodPattern()
	if a.Constructor {
		methods = classcache.ConstructorName
	}
	return &Applier{
		kind:            KindMethodSensor,
		name:            fmt.Sprintf("%s on %s#%s", cfg.Name, m, methods),
		assignment:      a.SensorAssignment,
		matching:        m,
		sensorClassName: cfg.ClassName,
		priority:        cfg.Priority,
		settings:        maps.Clone(a.Settings),
		methodName:      pattern.New(a.MethodPattern()),
		parameters:      slices.Clone(a.Parameters),
		constructor:     a.Constructor,
	}, nil
}

// NewExceptionSensor builds the applier of an exception sensor assignment.
// It selects every constructor of the matching classes.
func NewExceptionSensor(a ci.ExceptionSensorAssignment, cfg ci.ExceptionSensorConfig) (*Applier, error) {
	m, err := a.Matching()
	if err != nil {
		return nil, err
	}
	return &Applier{
		kind:            KindExceptionSensor,
		name:            fmt.Sprintf("%s on %s", cfg.Name, m),
		assignment:      a.SensorAssignment,
		matching:        m,
		sensorClassName: cfg.ClassName,
		priority:        cfg.Priority,
		settings:        maps.Clone(a.Settings),
		methodName:      pattern.New(pattern.Wildcard),
		constructor:     true,
	}, nil
}

// Functional describes a built-in assignment.
type Functional struct {
	Name            string
	SensorClassName string
	Assignment      ci.SensorAssignment
	MethodName      string
	Parameters      []string
}

// NewFunctional builds the applier of a built-in assignment.
func NewFunctional(f Functional) (*Applier, error) {
	m, err := f.Assignment.Matching()
	if err != nil {
		return nil, err
	}
	return &Applier{
		kind:            KindFunctional,
		name:            f.Name,
		assignment:      f.Assignment,
		matching:        m,
		sensorClassName: f.SensorClassName,
		priority:        ci.PriorityMax,
		methodName:      pattern.New(f.MethodName),
		parameters:      slices.Clone(f.Parameters),
	}, nil
}

// Kind returns the applier kind.
func (a *Applier) Kind() Kind { return a.kind }

// Name returns a human readable description.
func (a *Applier) Name() string { return a.name }

func (a *Applier) String() string { return a.name }

// Assignment returns the type-matching part of the source assignment.
func (a *Applier) Assignment() ci.SensorAssignment { return a.assignment }

// Matching returns the narrowing rule.
func (a *Applier) Matching() narrow.Matching { return a.matching }

// SensorClassName returns the sensor class woven into selected methods.
func (a *Applier) SensorClassName() string { return a.sensorClassName }

// Narrow returns every reported class this applier affects.
func (a *Applier) Narrow(ctx context.Context, cache *classcache.ClassCache) []*classcache.ClassType {
	return narrow.Narrow(ctx, cache, a.matching)
}

// Methods returns the methods of cls this applier selects, without checking
// whether cls itself is affected.
func (a *Applier) Methods(cls *classcache.ClassType) []*classcache.MethodType {
	var out []*classcache.MethodType
	for _, m := range cls.Methods() {
		if a.selects(m) {
			out = append(out, m)
		}
	}
	return out
}

func (a *Applier) selects(m *classcache.MethodType) bool {
	if a.constructor != m.IsConstructor() {
		return false
	}
	if !a.constructor && !a.methodName.Match(m.Name()) {
		return false
	}
	if a.parameters != nil && !slices.Equal(a.parameters, m.Parameters()) {
		return false
	}
	return true
}

// Instrumentation is the decision of one applier for one class.
type Instrumentation struct {
	Applier         string            `json:"applier"`
	Kind            string            `json:"kind"`
	SensorClassName string            `json:"sensor_class_name"`
	Priority        ci.Priority       `json:"priority,omitempty"`
	Settings        map[string]string `json:"settings,omitempty"`
	Methods         []string          `json:"methods"`
}

// Instrument decides how cls is instrumented by this applier.
//
// Description:
//
//	Checks that cls is in the narrowed class set and collects the selected
//	methods. The second result is false when the class is not affected or
//	no method is selected.
//
// Panics: if the applier's matching is outside the supported modes.
func (a *Applier) Instrument(ctx context.Context, cache *classcache.ClassCache, cls *classcache.ClassType) (Instrumentation, bool) {
	if !narrow.Contains(ctx, cache, a.matching, cls.FQN()) {
		return Instrumentation{}, false
	}
	methods := a.Methods(cls)
	if len(methods) == 0 {
		return Instrumentation{}, false
	}
	sigs := make([]string, len(methods))
	for i, m := range methods {
		sigs[i] = m.Signature()
	}
	return Instrumentation{
		Applier:         a.name,
		Kind:            a.kind.String(),
		SensorClassName: a.sensorClassName,
		Priority:        a.priority,
		Settings:        maps.Clone(a.settings),
		Methods:         sigs,
	}, true
}
