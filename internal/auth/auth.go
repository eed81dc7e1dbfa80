// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth resolves request credentials to an authenticated user
// and computes a user's rights over a crate.
package auth

import (
	"strings"

	"github.com/pkg/errors"
	"zombiezen.com/go/sqlite"

	"github.com/crateworks/registry/internal/catalog"
	"github.com/crateworks/registry/pkg/cargo"
)

// Scope is the endpoint granularity a token must be valid for.
type Scope string

const (
	// ScopePublishNew covers publishing a crate that does not exist yet.
	ScopePublishNew Scope = "publish-new"
	// ScopePublishUpdate covers publishing a new version of an existing crate.
	ScopePublishUpdate Scope = "publish-update"
)

// ErrUnauthorized is returned when credentials are missing, unknown,
// or out of scope for the requested operation.
var ErrUnauthorized = errors.New("authorization failed")

// AuthenticatedUser is the result of a successful credential check.
type AuthenticatedUser struct {
	User    catalog.User
	TokenID *int64
}

// Resolver checks request credentials against a requested endpoint
// scope and target crate.
type Resolver interface {
	Check(conn *sqlite.Conn, token string, scope Scope, crateName string) (*AuthenticatedUser, error)
}

// TokenResolver is the catalog-backed Resolver.
type TokenResolver struct{}

// Check resolves the bearer token and enforces its crate and endpoint
// scopes against the requested operation.
func (TokenResolver) Check(conn *sqlite.Conn, token string, scope Scope, crateName string) (*AuthenticatedUser, error) {
	if token == "" {
		return nil, errors.Wrap(ErrUnauthorized, "missing authorization header")
	}
	t, err := catalog.FindToken(conn, token)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.Wrap(ErrUnauthorized, "unknown api token")
	}
	if !scopeAllows(t.EndpointScopes, string(scope)) {
		return nil, errors.Wrapf(ErrUnauthorized, "token is not valid for %s", scope)
	}
	if !crateScopeAllows(t.CrateScopes, crateName) {
		return nil, errors.Wrapf(ErrUnauthorized, "token is not valid for crate `%s`", crateName)
	}
	user, err := catalog.FindUser(conn, t.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.Wrap(ErrUnauthorized, "token user not found")
	}
	tokenID := t.ID
	return &AuthenticatedUser{User: *user, TokenID: &tokenID}, nil
}

func scopeAllows(scopes, want string) bool {
	if scopes == "" {
		return true
	}
	for _, s := range strings.Split(scopes, ",") {
		if strings.TrimSpace(s) == want {
			return true
		}
	}
	return false
}

// crateScopeAllows matches the token's crate-scope patterns against
// the target crate's canonical name. A trailing `*` matches a prefix.
func crateScopeAllows(scopes, crateName string) bool {
	if scopes == "" {
		return true
	}
	canon := cargo.CanonicalName(crateName)
	for _, pattern := range strings.Split(scopes, ",") {
		pattern = cargo.CanonicalName(strings.TrimSpace(pattern))
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			if strings.HasPrefix(canon, prefix) {
				return true
			}
		} else if pattern == canon {
			return true
		}
	}
	return false
}
