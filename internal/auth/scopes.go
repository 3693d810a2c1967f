// Package auth - scopes.go defines the permission scopes of the audit API and the
// HasScope, HasAnyScope and HasAllScopes checks.
package auth

import (
	"errors"
	"fmt"
)

// Scope represents a permission/scope type
type Scope string

const (
	// ScopeAuditRead allows reading entries, analytics, anomalies and reports
	ScopeAuditRead Scope = "audit:read"
	// ScopeAuditWrite allows submitting events; it does not grant read access
	ScopeAuditWrite Scope = "audit:write"
	// ScopeAuditAdmin allows maintenance such as purges, and implies audit:read
	ScopeAuditAdmin Scope = "audit:admin"

	// ScopeAdmin is the wildcard
	ScopeAdmin Scope = "admin"
)

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{ScopeAuditRead, ScopeAuditWrite, ScopeAuditAdmin, ScopeAdmin}
}

// ValidScopes returns a map of valid scope strings
func ValidScopes() map[string]bool {
	valid := make(map[string]bool)
	for _, scope := range AllScopes() {
		valid[string(scope)] = true
	}
	return valid
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	valid := ValidScopes()
	for _, scope := range scopes {
		if !valid[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}
	return nil
}

// HasScope checks if a caller has a required scope. admin grants everything and
// audit:admin grants audit:read.
func HasScope(userScopes []string, required Scope) bool {
	for _, scope := range userScopes {
		switch {
		case scope == string(required), scope == string(ScopeAdmin):
			return true
		case required == ScopeAuditRead && scope == string(ScopeAuditAdmin):
			return true
		}
	}
	return false
}

// HasAnyScope checks if a caller has at least one of the required scopes
func HasAnyScope(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if HasScope(userScopes, required) {
			return true
		}
	}
	return false
}

// HasAllScopes checks if a caller has all of the required scopes
func HasAllScopes(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if !HasScope(userScopes, required) {
			return false
		}
	}
	return true
}

// ValidateScopeString validates a single scope string
func ValidateScopeString(scope string) error {
	if !ValidScopes()[scope] {
		return errors.New("invalid scope")
	}
	return nil
}
