// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pattern implements the name patterns used throughout the
// configuration engine: class names, annotation names, agent names and
// agent IP addresses.
//
// A pattern without the wildcard character is compared by exact equality.
// A pattern containing at least one '*' is a glob where '*' matches any run
// of characters (including the empty run, dots and '$'). Every other
// character is literal. '*' also matches across '/', which agent names may
// contain.
package pattern

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Wildcard is the only meta character recognised in a pattern.
const Wildcard = "*"

// Matcher matches a single string against a compiled pattern.
type Matcher interface {
	// Match reports whether s matches the pattern.
	Match(s string) bool

	// Pattern returns the pattern as written by the user.
	Pattern() string

	// IsWildcard reports whether the pattern is a glob.
	IsWildcard() bool
}

// IsWildcard reports whether p contains the wildcard character.
func IsWildcard(p string) bool {
	return strings.Contains(p, Wildcard)
}

// New compiles p into an equality or wildcard matcher.
func New(p string) Matcher {
	if IsWildcard(p) {
		return newGlob(p)
	}
	return Equals(p)
}

// Match is a convenience for New(p).Match(s).
func Match(p, s string) bool {
	return New(p).Match(s)
}

// MatchAny reports whether any of values matches p.
func MatchAny(p string, values []string) bool {
	m := New(p)
	for _, v := range values {
		if m.Match(v) {
			return true
		}
	}
	return false
}

// Equals is a pattern compared by string equality.
type Equals string

// Match reports whether s equals the pattern.
func (e Equals) Match(s string) bool { return string(e) == s }

// Pattern returns the literal.
func (e Equals) Pattern() string { return string(e) }

// IsWildcard always returns false.
func (e Equals) IsWildcard() bool { return false }

type glob struct {
	raw      string
	escaped  string
	hasSlash bool
}

// doublestar treats these as meta characters; only '*' is meta for us.
var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
	`{`, `\{`,
	`}`, `\}`,
)

func newGlob(p string) *glob {
	return &glob{raw: p, escaped: globEscaper.Replace(p), hasSlash: strings.Contains(p, "/")}
}

// Match runs doublestar with '/' replaced in both pattern and input by a
// rune neither contains, so '/' is an ordinary character.
func (g *glob) Match(s string) bool {
	pat := g.escaped
	if g.hasSlash || strings.Contains(s, "/") {
		sep := string(freeRune(pat, s))
		pat = strings.ReplaceAll(pat, "/", sep)
		s = strings.ReplaceAll(s, "/", sep)
	}
	ok, err := doublestar.Match(pat, s)
	return err == nil && ok
}

// freeRune returns the first private-use rune absent from a and b.
func freeRune(a, b string) rune {
	r := rune(0xE000)
	for strings.ContainsRune(a, r) || strings.ContainsRune(b, r) {
		r++
	}
	return r
}

func (g *glob) Pattern() string { return g.raw }

func (g *glob) IsWildcard() bool { return true }
