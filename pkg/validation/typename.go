// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks untrusted names reported by agents before they
// reach the type graph.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTypeNameLength bounds a fully qualified type name in bytes.
const MaxTypeNameLength = 1024

// ValidateTypeName checks a fully qualified type name.
//
// Description:
//
//	Accepts binary names ("com.example.Outer$Inner"), array types
//	("java.lang.String[]") and primitives. Rejects empty names, names over
//	MaxTypeNameLength, invalid UTF-8, whitespace and control characters, and
//	names with empty segments ("a..b", ".a", "a.").
//
// Inputs:
//
//	name - The name as reported.
//
// Outputs:
//
//	error - Nil if the name is acceptable.
func ValidateTypeName(name string) error {
	if name == "" {
		return fmt.Errorf("type name cannot be empty")
	}
	if len(name) > MaxTypeNameLength {
		return fmt.Errorf("type name is %d bytes, limit is %d", len(name), MaxTypeNameLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("type name %q is not valid UTF-8", name)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("type name %q contains whitespace or control characters", name)
		}
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return fmt.Errorf("type name %q has an empty segment", name)
	}
	return nil
}

// ValidateTypeNames validates several names. The error lists every invalid
// name.
func ValidateTypeNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateTypeName(n); err != nil {
			invalid = append(invalid, fmt.Sprintf("%q", n))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid type names: %s", strings.Join(invalid, ", "))
	}
	return nil
}
