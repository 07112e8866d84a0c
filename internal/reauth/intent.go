// Package reauth sends a user to the identity provider and brings them back
// to where they were.
package reauth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultStateTTL = 30 * time.Minute
	stateIssuer     = "formlink/reauth"
)

var ErrInvalidState = errors.New("invalid reauthorization state")

// Intent is what the user was doing before the provider round-trip.
// It only ever lives inside the state parameter.
type Intent struct {
	ReturnPath          string `json:"rp"`
	RequestedCapability string `json:"cap"`
	IsReauthorization   bool   `json:"re"`
}

type stateClaims struct {
	Intent
	jwt.RegisteredClaims
}

// StateCodec turns an Intent into an HS256 signed, expiring token and back.
type StateCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewStateCodec(key []byte, ttl time.Duration) (*StateCodec, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("state signing key is empty")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateCodec{
		key: key,
		ttl: ttl,
		now: time.Now,
	}, nil
}

func (c *StateCodec) Encode(intent Intent) (string, error) {
	now := c.now()
	claims := stateClaims{
		Intent: intent,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return state, nil
}

// Decode verifies signature, issuer and expiry. Every failure is ErrInvalidState.
func (c *StateCodec) Decode(state string) (Intent, error) {
	if state == "" {
		return Intent{}, fmt.Errorf("%w: missing", ErrInvalidState)
	}

	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(token *jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	return claims.Intent, nil
}

// SafeReturnPath accepts only same-origin absolute paths.
func SafeReturnPath(path string) bool {
	if path == "" || !strings.HasPrefix(path, "/") {
		return false
	}
	// "//host" and "/\host" are treated as hosts by browsers
	if strings.HasPrefix(path, "//") || strings.Contains(path, "\\") {
		return false
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return false
		}
	}

	u, err := url.Parse(path)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}
