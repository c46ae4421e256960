// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/applier"
	"github.com/AleutianAI/AleutianAPM/services/instrumentation/ci"
)

// Sensor classes of the built-in assignments.
const (
	ClassLoadingDelegationSensor = "functional.ClassLoadingDelegation"
	EUMSensor                    = "functional.EUM"
)

var classLoadingDelegation = applier.Functional{
	Name:            "class loading delegation",
	SensorClassName: ClassLoadingDelegationSensor,
	Assignment:      ci.SensorAssignment{ClassName: "java.lang.ClassLoader", Superclass: true},
	MethodName:      "loadClass",
	Parameters:      []string{"java.lang.String"},
}

var eumHooks = []applier.Functional{
	{
		Name:            "eum servlet filter",
		SensorClassName: EUMSensor,
		Assignment:      ci.SensorAssignment{ClassName: "javax.servlet.Filter", Interface: true},
		MethodName:      "doFilter",
	},
	{
		Name:            "eum servlet",
		SensorClassName: EUMSensor,
		Assignment:      ci.SensorAssignment{ClassName: "javax.servlet.Servlet", Interface: true},
		MethodName:      "service",
	},
}

// FunctionalAppliers returns the built-in appliers env enables. They do not
// depend on any profile.
func FunctionalAppliers(env *ci.Environment) ([]*applier.Applier, error) {
	if env == nil {
		return nil, nil
	}

	var fs []applier.Functional
	if env.ClassLoadingDelegation {
		fs = append(fs, classLoadingDelegation)
	}
	if env.EUM.Enabled {
		fs = append(fs, eumHooks...)
	}

	out := make([]*applier.Applier, 0, len(fs))
	for _, f := range fs {
		a, err := applier.NewFunctional(f)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
