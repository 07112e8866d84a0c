// Package policy decides whether a grant is about to expire and whether it
// covers a capability. Every function is pure.
package policy

import (
	"strings"
	"time"

	"github.com/freekieb7/formlink/internal/grant"
)

const (
	// DefaultLookahead is how early the interactive monitor asks for renewal.
	DefaultLookahead = 15 * time.Minute
	// DefaultRefreshWindow is how far ahead the batch refresher looks.
	DefaultRefreshWindow = 24 * time.Hour
)

// IsExpiringSoon reports whether expiresAt falls within lookahead of now.
// An unknown or past expiry counts as expiring, whatever the lookahead.
func IsExpiringSoon(expiresAt *time.Time, lookahead time.Duration, now time.Time) bool {
	if expiresAt == nil || !expiresAt.After(now) {
		return true
	}
	return expiresAt.Sub(now) <= lookahead
}

// HasCapability reports whether every required scope token is present in scope.
// Tokens match exactly; order and duplicates are irrelevant.
func HasCapability(scope []string, required []string) bool {
	if len(required) == 0 {
		return true
	}

	granted := make(map[string]struct{}, len(scope))
	for _, s := range scope {
		granted[s] = struct{}{}
	}

	for _, r := range required {
		if _, ok := granted[r]; !ok {
			return false
		}
	}
	return true
}

// ParseScope splits an OAuth space-delimited scope string.
func ParseScope(raw string) []string {
	return strings.Fields(raw)
}

type CapabilityStatus string

const (
	StatusNoGrant      CapabilityStatus = "no_grant"
	StatusInsufficient CapabilityStatus = "insufficient_scope"
	StatusSufficient   CapabilityStatus = "sufficient"
)

// Evaluate classifies a grant against the scopes a capability needs.
// A nil or revoked grant has no capability at all.
func Evaluate(g *grant.Grant, required []string) CapabilityStatus {
	if g == nil || g.Revoked() {
		return StatusNoGrant
	}
	if !HasCapability(g.Scope, required) {
		return StatusInsufficient
	}
	return StatusSufficient
}
