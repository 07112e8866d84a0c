package grant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("get missing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "nobody", "google")
		assert.ErrorIs(t, err, ErrGrantNotFound)
	})

	t.Run("save then get", func(t *testing.T) {
		store := newStore(t)
		saved, err := store.Save(ctx, Grant{
			SubjectID:    "user-1",
			Provider:     "google",
			AccessToken:  strPtr("access-1"),
			RefreshToken: strPtr("refresh-1"),
			Scope:        []string{"drive.file", "email"},
			ExpiresAt:    timePtr(now.Add(time.Hour)),
		})
		require.NoError(t, err)
		assert.NotZero(t, saved.ID)

		got, err := store.Get(ctx, "user-1", "google")
		require.NoError(t, err)
		assert.Equal(t, saved.ID, got.ID)
		assert.Equal(t, "access-1", *got.AccessToken)
		assert.Equal(t, "refresh-1", *got.RefreshToken)
		assert.Equal(t, []string{"drive.file", "email"}, got.Scope)
		assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))
	})

	t.Run("save upserts and keeps refresh token when none returned", func(t *testing.T) {
		store := newStore(t)
		first, err := store.Save(ctx, Grant{
			SubjectID:    "user-1",
			Provider:     "google",
			AccessToken:  strPtr("access-1"),
			RefreshToken: strPtr("refresh-1"),
			ExpiresAt:    timePtr(now),
		})
		require.NoError(t, err)

		second, err := store.Save(ctx, Grant{
			SubjectID:   "user-1",
			Provider:    "google",
			AccessToken: strPtr("access-2"),
			Scope:       []string{"drive.file"},
			ExpiresAt:   timePtr(now.Add(time.Hour)),
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		got, err := store.Get(ctx, "user-1", "google")
		require.NoError(t, err)
		assert.Equal(t, "access-2", *got.AccessToken)
		require.NotNil(t, got.RefreshToken)
		assert.Equal(t, "refresh-1", *got.RefreshToken)
	})

	t.Run("list refreshable", func(t *testing.T) {
		store := newStore(t)
		mustSave := func(subject string, refresh *string, expiresAt *time.Time) {
			_, err := store.Save(ctx, Grant{SubjectID: subject, Provider: "google", AccessToken: strPtr("a"), RefreshToken: refresh, ExpiresAt: expiresAt})
			require.NoError(t, err)
		}
		mustSave("due", strPtr("r"), timePtr(now.Add(time.Hour)))
		mustSave("unknown-expiry", strPtr("r"), nil)
		mustSave("already-expired", strPtr("r"), timePtr(now.Add(-time.Hour)))
		mustSave("later", strPtr("r"), timePtr(now.Add(48*time.Hour)))
		mustSave("no-refresh", nil, timePtr(now))

		grants, err := store.ListRefreshable(ctx, now.Add(24*time.Hour))
		require.NoError(t, err)

		var subjects []string
		for _, g := range grants {
			subjects = append(subjects, g.SubjectID)
		}
		assert.ElementsMatch(t, []string{"due", "unknown-expiry", "already-expired"}, subjects)
	})

	t.Run("update tokens", func(t *testing.T) {
		store := newStore(t)
		g, err := store.Save(ctx, Grant{SubjectID: "user-1", Provider: "google", AccessToken: strPtr("old"), RefreshToken: strPtr("refresh-1"), ExpiresAt: timePtr(now)})
		require.NoError(t, err)

		require.NoError(t, store.UpdateTokens(ctx, g, TokenUpdate{AccessToken: "new", ExpiresAt: now.Add(time.Hour)}))

		got, err := store.Get(ctx, "user-1", "google")
		require.NoError(t, err)
		assert.Equal(t, "new", *got.AccessToken)
		assert.Equal(t, "refresh-1", *got.RefreshToken)
		assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))

		require.NoError(t, store.UpdateTokens(ctx, g, TokenUpdate{AccessToken: "newer", RefreshToken: strPtr("refresh-2"), ExpiresAt: now.Add(2 * time.Hour)}))
		got, err = store.Get(ctx, "user-1", "google")
		require.NoError(t, err)
		assert.Equal(t, "refresh-2", *got.RefreshToken)
	})

	t.Run("update after revoke is rejected", func(t *testing.T) {
		store := newStore(t)
		g, err := store.Save(ctx, Grant{SubjectID: "user-1", Provider: "google", AccessToken: strPtr("old"), RefreshToken: strPtr("refresh-1"), ExpiresAt: timePtr(now)})
		require.NoError(t, err)

		require.NoError(t, store.Revoke(ctx, "user-1", "google"))

		err = store.UpdateTokens(ctx, g, TokenUpdate{AccessToken: "new", ExpiresAt: now.Add(time.Hour)})
		assert.ErrorIs(t, err, ErrGrantNotRefreshable)

		got, err := store.Get(ctx, "user-1", "google")
		require.NoError(t, err)
		assert.True(t, got.Revoked())
		assert.Nil(t, got.EffectiveExpiry())
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Revoke(ctx, "ghost", "google"))

		_, err := store.Save(ctx, Grant{SubjectID: "user-1", Provider: "google", AccessToken: strPtr("a"), RefreshToken: strPtr("r"), ExpiresAt: timePtr(now)})
		require.NoError(t, err)

		require.NoError(t, store.Revoke(ctx, "user-1", "google"))
		once, err := store.Get(ctx, "user-1", "google")
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		require.NoError(t, store.Revoke(ctx, "user-1", "google"))

		twice, err := store.Get(ctx, "user-1", "google")
		require.NoError(t, err)
		assert.Nil(t, twice.AccessToken)
		assert.Nil(t, twice.RefreshToken)
		assert.Nil(t, twice.ExpiresAt)
		require.Equal(t, once, twice, "a second revoke leaves the grant as the first left it")
	})

	t.Run("revoke subject", func(t *testing.T) {
		store := newStore(t)
		for _, provider := range []string{"google", "microsoft"} {
			_, err := store.Save(ctx, Grant{SubjectID: "user-1", Provider: provider, AccessToken: strPtr("a"), RefreshToken: strPtr("r")})
			require.NoError(t, err)
		}
		_, err := store.Save(ctx, Grant{SubjectID: "user-2", Provider: "google", AccessToken: strPtr("a"), RefreshToken: strPtr("r")})
		require.NoError(t, err)

		require.NoError(t, store.RevokeSubject(ctx, "user-1"))
		once := map[string]Grant{}
		for _, provider := range []string{"google", "microsoft"} {
			got, err := store.Get(ctx, "user-1", provider)
			require.NoError(t, err)
			once[provider] = got
		}

		time.Sleep(5 * time.Millisecond)
		require.NoError(t, store.RevokeSubject(ctx, "user-1"))

		for _, provider := range []string{"google", "microsoft"} {
			got, err := store.Get(ctx, "user-1", provider)
			require.NoError(t, err)
			assert.True(t, got.Revoked())
			require.Equal(t, once[provider], got, provider)
		}
		other, err := store.Get(ctx, "user-2", "google")
		require.NoError(t, err)
		assert.False(t, other.Revoked())
	})
}
