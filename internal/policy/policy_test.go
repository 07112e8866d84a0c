package policy

import (
	"testing"
	"time"

	"github.com/freekieb7/formlink/internal/grant"
	"github.com/stretchr/testify/assert"
)

func TestIsExpiringSoon(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name      string
		expiresAt *time.Time
		lookahead time.Duration
		want      bool
	}{
		{"unknown expiry", nil, DefaultLookahead, true},
		{"already expired", at(-time.Minute), DefaultLookahead, true},
		{"expired with negative lookahead", at(-time.Minute), -time.Hour, true},
		{"expiring now with zero lookahead", at(0), 0, true},
		{"exactly at lookahead", at(15 * time.Minute), DefaultLookahead, true},
		{"just inside lookahead", at(14*time.Minute + 59*time.Second), DefaultLookahead, true},
		{"just outside lookahead", at(15*time.Minute + time.Second), DefaultLookahead, false},
		{"far future", at(2 * time.Hour), DefaultLookahead, false},
		{"batch window edge", at(24 * time.Hour), DefaultRefreshWindow, true},
		{"beyond batch window", at(25 * time.Hour), DefaultRefreshWindow, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpiringSoon(tt.expiresAt, tt.lookahead, now))
		})
	}
}

func TestHasCapability(t *testing.T) {
	tests := []struct {
		name     string
		scope    []string
		required []string
		want     bool
	}{
		{"empty required", nil, nil, true},
		{"exact", []string{"drive.file"}, []string{"drive.file"}, true},
		{"superset", []string{"email", "drive.file", "openid"}, []string{"drive.file", "email"}, true},
		{"order and duplicates", []string{"b", "a", "a"}, []string{"a", "b", "b"}, true},
		{"missing one", []string{"email"}, []string{"drive.file", "email"}, false},
		{"no substring match", []string{"https://x/auth/drive.file.readonly"}, []string{"https://x/auth/drive.file"}, false},
		{"no prefix match", []string{"drive"}, []string{"drive.file"}, false},
		{"empty scope", nil, []string{"drive.file"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasCapability(tt.scope, tt.required))
		})
	}
}

func TestParseScope(t *testing.T) {
	assert.Equal(t, []string{"openid", "email"}, ParseScope(" openid  email "))
	assert.Empty(t, ParseScope(""))
}

func TestEvaluate(t *testing.T) {
	token := "access"
	required := []string{"drive.file"}

	assert.Equal(t, StatusNoGrant, Evaluate(nil, required))
	assert.Equal(t, StatusNoGrant, Evaluate(&grant.Grant{Scope: required}, required), "revoked grant")

	assert.Equal(t, StatusInsufficient, Evaluate(&grant.Grant{AccessToken: &token, Scope: []string{"email"}}, required))
	assert.Equal(t, StatusSufficient, Evaluate(&grant.Grant{AccessToken: &token, Scope: []string{"email", "drive.file"}}, required))
}
