package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ReasonUnknownKey          = "unknown key"
	ReasonRevoked             = "license revoked"
	ReasonExpired             = "license expired"
	ReasonDomainNotAuthorized = "domain not authorized"
)

type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Verifier answers whether a key is usable on a domain. It only reads.
type Verifier struct {
	Store Store
	Now   func() time.Time
}

func NewVerifier(store Store) *Verifier {
	return &Verifier{
		Store: store,
		Now:   time.Now,
	}
}

// Verify returns a negative Result for every business rejection and an
// error only when the store could not be read.
func (v *Verifier) Verify(ctx context.Context, key, domain string) (Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{Reason: ReasonUnknownKey}, nil
	}

	l, err := v.Store.GetByKeyHash(ctx, HashKey(key))
	if err != nil {
		if errors.Is(err, ErrLicenseNotFound) {
			return Result{Reason: ReasonUnknownKey}, nil
		}
		return Result{}, fmt.Errorf("failed to look up license: %w", err)
	}

	now := v.Now()
	if l.RevokedAt != nil && !l.RevokedAt.After(now) {
		return Result{Reason: ReasonRevoked}, nil
	}
	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return Result{Reason: ReasonExpired}, nil
	}
	if !MatchDomain(l.BoundDomain, domain) {
		return Result{Reason: ReasonDomainNotAuthorized}, nil
	}

	return Result{Valid: true}, nil
}
