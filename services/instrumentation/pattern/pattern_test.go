// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Kind(t *testing.T) {
	assert.False(t, New("java.lang.Object").IsWildcard())
	assert.True(t, New("java.lang.*").IsWildcard())
	assert.Equal(t, "java.lang.*", New("java.lang.*").Pattern())
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		value   string
		want    bool
	}{
		{"exact hit", "com.acme.Service", "com.acme.Service", true},
		{"exact miss", "com.acme.Service", "com.acme.ServiceImpl", false},
		{"star matches everything", "*", "com.acme.Service", true},
		{"star matches empty", "com.acme.Service*", "com.acme.Service", true},
		{"prefix crosses dots", "com.*", "com.acme.deep.Service", true},
		{"infix", "com.*.Service", "com.acme.impl.Service", true},
		{"infix miss", "com.*.Service", "org.acme.Service", false},
		{"suffix", "*Impl", "com.acme.ServiceImpl", true},
		{"inner class", "com.acme.Outer$*", "com.acme.Outer$Inner", true},
		{"question mark is literal", "com.acme.?*", "com.acme.X", false},
		{"brackets are literal", "[Ljava.lang.*", "[Ljava.lang.String;", true},
		{"braces are literal", "a{b,c}*", "ab", false},
		{"ip glob", "192.168.*", "192.168.1.12", true},
		{"ip glob miss", "192.168.*", "10.0.0.1", false},
		{"star crosses slash", "*", "shop/frontend", true},
		{"prefix crosses slashes", "shop/*", "shop/frontend/eu", true},
		{"slash is literal", "shop/*", "shopfront", false},
		{"suffix after slash", "*/frontend", "shop/frontend", true},
		{"exact with slash", "shop/frontend", "shop/frontend", true},
		{"slash not confused with private-use rune", "a/*", "a\uE000b", false},
		{"private-use rune and slash in value", "a*b", "a\uE000/b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.value))
		})
	}
}

func TestMatchAny(t *testing.T) {
	assert.True(t, MatchAny("10.0.*", []string{"192.168.0.1", "10.0.0.7"}))
	assert.False(t, MatchAny("10.0.*", []string{"192.168.0.1"}))
	assert.False(t, MatchAny("*", nil))
}
