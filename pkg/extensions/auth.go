// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"sort"
)

// ErrUnauthorized is returned when a token is missing or invalid.
// Implementations wrap it with context.
var ErrUnauthorized = errors.New("unauthorized")

// LocalSubject is the identity NopAuthProvider returns.
const LocalSubject = "local"

// AuthInfo identifies the caller of an authenticated request.
type AuthInfo struct {
	// Subject names the caller, e.g. an agent fleet or an operator. Never
	// empty.
	Subject string

	// Roles lists role memberships, e.g. "agent" or "admin".
	Roles []string
}

// HasRole reports whether the caller has the given role.
func (a *AuthInfo) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// AuthProvider validates bearer tokens.
//
// Validate returns ErrUnauthorized (possibly wrapped) for a bad token and
// other errors for provider failures. Both are treated as authentication
// failures by the HTTP layer.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every token, including none, as LocalSubject with
// the admin role.
type NopAuthProvider struct{}

// Validate always succeeds unless ctx is done.
func (p *NopAuthProvider) Validate(ctx context.Context, _ string) (*AuthInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &AuthInfo{Subject: LocalSubject, Roles: []string{"admin"}}, nil
}

// TokenAuthProvider validates static API tokens configured per subject.
//
// Thread Safety: Immutable after construction.
type TokenAuthProvider struct {
	subjects []string
	digests  [][sha256.Size]byte
}

// NewTokenAuthProvider builds a provider from a subject to token map.
// Entries with an empty token are ignored. Every subject gets the "agent"
// role.
func NewTokenAuthProvider(tokens map[string]string) *TokenAuthProvider {
	p := &TokenAuthProvider{}
	subjects := make([]string, 0, len(tokens))
	for subject := range tokens {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	for _, subject := range subjects {
		if tokens[subject] == "" {
			continue
		}
		p.subjects = append(p.subjects, subject)
		p.digests = append(p.digests, sha256.Sum256([]byte(tokens[subject])))
	}
	return p
}

// Validate compares the token against every configured token in constant
// time.
func (p *TokenAuthProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}

	digest := sha256.Sum256([]byte(token))
	match := -1
	for i := range p.digests {
		if subtle.ConstantTimeCompare(digest[:], p.digests[i][:]) == 1 {
			match = i
		}
	}
	if match < 0 {
		return nil, fmt.Errorf("unknown token: %w", ErrUnauthorized)
	}
	return &AuthInfo{Subject: p.subjects[match], Roles: []string{"agent"}}, nil
}

// Len returns the number of configured tokens.
func (p *TokenAuthProvider) Len() int { return len(p.digests) }
