// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTypeName(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		wantErr  bool
	}{
		// Valid names
		{"simple", "Foo", false},
		{"qualified", "com.example.Foo", false},
		{"inner class", "com.example.Outer$Inner", false},
		{"array", "java.lang.String[]", false},
		{"primitive", "int", false},
		{"unicode", "com.exämple.Ünïcode", false},
		{"max length", strings.Repeat("a", MaxTypeNameLength), false},

		// Invalid names
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxTypeNameLength+1), true},
		{"space", "com.example.Foo Bar", true},
		{"newline", "com.example.Foo\n", true},
		{"nul", "com.example\x00Foo", true},
		{"invalid utf8", "com.\xffFoo", true},
		{"leading dot", ".Foo", true},
		{"trailing dot", "com.example.", true},
		{"empty segment", "com..Foo", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTypeName(tt.typeName)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateTypeNames(t *testing.T) {
	assert.NoError(t, ValidateTypeNames(nil))
	assert.NoError(t, ValidateTypeNames([]string{"a.B", "a.C"}))

	err := ValidateTypeNames([]string{"a.B", "bad name", "", "a.C"})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), `"bad name"`)
		assert.Contains(t, err.Error(), `""`)
		assert.NotContains(t, err.Error(), "a.B")
	}
}
