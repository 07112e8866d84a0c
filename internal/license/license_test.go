package license

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDomain(t *testing.T) {
	tests := map[string]string{
		"Example.COM":                 "example.com",
		"  example.com  ":             "example.com",
		"example.com.":                "example.com",
		"example.com:8443":            "example.com",
		"https://Forms.Example.com/a": "forms.example.com",
		"example.com/path?q=1":        "example.com",
		"":                            "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDomain(in), in)
	}
}

func TestMatchDomain(t *testing.T) {
	tests := []struct {
		bound  string
		domain string
		want   bool
	}{
		{"*", "anything.example", true},
		{"*", "", true},
		{"example.com", "example.com", true},
		{"example.com", "EXAMPLE.com", true},
		{"Example.com", "example.com:443", true},
		{"example.com", "www.example.com", false},
		{"example.com", "badexample.com", false},
		{"example.com", "example.com.evil.io", false},
		{"*.example.com", "forms.example.com", true},
		{"*.example.com", "a.b.example.com", true},
		{"*.example.com", "example.com", false},
		{"*.example.com", "notexample.com", false},
		{"*.example.com", ".example.com", false},
		{"shop.io, *.example.com", "shop.io", true},
		{"shop.io, *.example.com", "x.example.com", true},
		{"shop.io, *.example.com", "other.io", false},
		{"", "example.com", false},
		{"example.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.bound+"|"+tt.domain, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchDomain(tt.bound, tt.domain))
		})
	}
}

type countingStore struct {
	*MemoryStore
	reads int
	err   error
}

func (s *countingStore) GetByKeyHash(ctx context.Context, keyHash string) (License, error) {
	s.reads++
	if s.err != nil {
		return License{}, s.err
	}
	return s.MemoryStore.GetByKeyHash(ctx, keyHash)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	store := NewMemoryStore()
	mustCreate := func(key string, l License) {
		l.Key = key
		_, err := store.Create(ctx, l)
		require.NoError(t, err)
	}
	mustCreate("fl_wild", License{BoundDomain: "*"})
	mustCreate("fl_exact", License{BoundDomain: "shop.example.com", ExpiresAt: &future})
	mustCreate("fl_sub", License{BoundDomain: "*.example.com"})
	mustCreate("fl_expired", License{BoundDomain: "*", ExpiresAt: &past})
	mustCreate("fl_revoked", License{BoundDomain: "*", RevokedAt: &past})
	mustCreate("fl_revoked_later", License{BoundDomain: "*", RevokedAt: &future})

	verifier := NewVerifier(store)
	verifier.Now = func() time.Time { return now }

	tests := []struct {
		name   string
		key    string
		domain string
		want   Result
	}{
		{"wildcard", "fl_wild", "anywhere.io", Result{Valid: true}},
		{"exact", "fl_exact", "Shop.Example.com", Result{Valid: true}},
		{"exact mismatch", "fl_exact", "example.com", Result{Reason: ReasonDomainNotAuthorized}},
		{"subdomain", "fl_sub", "forms.example.com", Result{Valid: true}},
		{"apex not covered by subdomain pattern", "fl_sub", "example.com", Result{Reason: ReasonDomainNotAuthorized}},
		{"unknown", "fl_nope", "example.com", Result{Reason: ReasonUnknownKey}},
		{"blank key", "   ", "example.com", Result{Reason: ReasonUnknownKey}},
		{"expired", "fl_expired", "example.com", Result{Reason: ReasonExpired}},
		{"revoked", "fl_revoked", "example.com", Result{Reason: ReasonRevoked}},
		{"revocation scheduled later", "fl_revoked_later", "example.com", Result{Valid: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := verifier.Verify(ctx, tt.key, tt.domain)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifyIsReadOnly(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryStore()
	created, err := memory.Create(ctx, License{Key: "fl_key", BoundDomain: "example.com"})
	require.NoError(t, err)

	store := &countingStore{MemoryStore: memory}
	verifier := NewVerifier(store)

	for range 3 {
		_, err := verifier.Verify(ctx, "fl_key", "example.com")
		require.NoError(t, err)
	}

	after, err := memory.GetByKeyHash(ctx, created.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, created, after)
	assert.Equal(t, 3, store.reads)
}

func TestVerifyStoreError(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore(), err: errors.New("connection reset")}
	_, err := NewVerifier(store).Verify(context.Background(), "fl_key", "example.com")
	assert.ErrorContains(t, err, "connection reset")
}

func TestGenerateAndHashKey(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "fl_"))
	assert.NotEqual(t, a, b)
	assert.Len(t, HashKey(a), 64)
	assert.Equal(t, HashKey(a), HashKey(a))
	assert.NotContains(t, HashKey(a), a)
}

func TestMemoryStoreRevoke(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l, err := store.Create(ctx, License{Key: "fl_key", BoundDomain: "*"})
	require.NoError(t, err)

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Revoke(ctx, l.KeyHash, first))
	require.NoError(t, store.Revoke(ctx, l.KeyHash, first.Add(time.Hour)))

	got, err := store.GetByKeyHash(ctx, l.KeyHash)
	require.NoError(t, err)
	assert.True(t, got.RevokedAt.Equal(first), "first revocation time is kept")

	assert.ErrorIs(t, store.Revoke(ctx, "missing", first), ErrLicenseNotFound)
}
