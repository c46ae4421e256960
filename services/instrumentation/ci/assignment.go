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

import (
	"fmt"

	"github.com/AleutianAI/AleutianAPM/services/instrumentation/narrow"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/pattern"
)

// SensorAssignment is the type-matching part shared by all assignments.
//
// ClassName is a name pattern. With Interface set it names interfaces, with
// Superclass set it names super classes, otherwise it names the classes
// themselves. A non-empty Annotation switches to annotation matching, in
// which ClassName is not consulted.
type SensorAssignment struct {
	ClassName  string `json:"class_name" yaml:"class_name" validate:"required"`
	Interface  bool   `json:"interface,omitempty" yaml:"interface,omitempty"`
	Superclass bool   `json:"superclass,omitempty" yaml:"superclass,omitempty"`
	Annotation string `json:"annotation,omitempty" yaml:"annotation,omitempty"`
}

// Matching converts the assignment flags into a narrowing rule.
//
// Errors:
//
//	ErrUnknownAssignmentShape - Interface and Superclass are both set, or an
//	annotation is combined with either of them.
func (a SensorAssignment) Matching() (narrow.Matching, error) {
	switch {
	case a.Interface && a.Superclass:
		return nil, fmt.Errorf("%w: %s is both interface and superclass", ErrUnknownAssignmentShape, a.ClassName)
	case a.Annotation != "" && (a.Interface || a.Superclass):
		return nil, fmt.Errorf("%w: annotation %s combined with a hierarchy flag", ErrUnknownAssignmentShape, a.Annotation)
	case a.Annotation != "":
		return narrow.ByAnnotation{Annotation: a.Annotation}, nil
	case a.Interface:
		return narrow.ByInterface{Pattern: a.ClassName}, nil
	case a.Superclass:
		return narrow.BySuperclass{Pattern: a.ClassName}, nil
	default:
		return narrow.ByClassName{Pattern: a.ClassName}, nil
	}
}

// MethodSensorAssignment attaches a method sensor to the matching methods of
// the matching classes.
type MethodSensorAssignment struct {
	SensorAssignment `yaml:",inline"`

	// SensorConfigClassName names the environment's MethodSensorConfig.
	SensorConfigClassName string `json:"sensor_config_class_name" yaml:"sensor_config_class_name" validate:"required"`

	// MethodName is a name pattern; empty means every method.
	MethodName string `json:"method_name,omitempty" yaml:"method_name,omitempty"`

	// Parameters restricts matching to this exact parameter list. Nil matches
	// any parameter list.
	Parameters []string `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Constructor selects constructors instead of named methods.
	Constructor bool `json:"constructor,omitempty" yaml:"constructor,omitempty"`

	Settings map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// MethodPattern returns the effective method name pattern.
func (a MethodSensorAssignment) MethodPattern() string {
	if a.MethodName == "" {
		return pattern.Wildcard
	}
	return a.MethodName
}

// ExceptionSensorAssignment attaches the exception sensor to the constructors
// of matching exception classes.
type ExceptionSensorAssignment struct {
	SensorAssignment `yaml:",inline"`

	Settings map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}
