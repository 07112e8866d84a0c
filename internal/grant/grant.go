// Package grant persists delegated OAuth grants, one per subject and provider.
package grant

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Grant is a user's delegated authorization with one identity provider.
// A nil RefreshToken means the grant cannot be refreshed and stays expired
// until the user authorizes again.
type Grant struct {
	ID           uuid.UUID
	SubjectID    string
	Provider     string
	AccessToken  *string
	RefreshToken *string
	Scope        []string
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EffectiveExpiry is the expiry that matters for this grant. It is nil once
// the access token is gone, whatever ExpiresAt still holds.
func (g Grant) EffectiveExpiry() *time.Time {
	if g.AccessToken == nil {
		return nil
	}
	return g.ExpiresAt
}

func (g Grant) Refreshable() bool {
	return g.RefreshToken != nil
}

// Revoked reports a grant whose tokens were both cleared.
func (g Grant) Revoked() bool {
	return g.AccessToken == nil && g.RefreshToken == nil
}

// TokenUpdate is the result of a successful refresh exchange.
type TokenUpdate struct {
	AccessToken string
	// RefreshToken is set only when the provider rotated it.
	RefreshToken *string
	ExpiresAt    time.Time
}

// JoinScope renders scopes the way OAuth transmits them.
func JoinScope(scope []string) string {
	return strings.Join(scope, " ")
}

func splitScope(raw string) []string {
	return strings.Fields(raw)
}

func clone(g Grant) Grant {
	c := g
	if g.AccessToken != nil {
		v := *g.AccessToken
		c.AccessToken = &v
	}
	if g.RefreshToken != nil {
		v := *g.RefreshToken
		c.RefreshToken = &v
	}
	if g.ExpiresAt != nil {
		v := *g.ExpiresAt
		c.ExpiresAt = &v
	}
	if g.Scope != nil {
		c.Scope = append([]string(nil), g.Scope...)
	}
	return c
}
