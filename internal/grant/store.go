package grant

import (
	"context"
	"errors"
	"time"
)

var (
	ErrGrantNotFound = errors.New("grant not found")
	// ErrGrantNotRefreshable is returned when a token update targets a grant
	// that was revoked or deleted after it was listed.
	ErrGrantNotRefreshable = errors.New("grant is no longer refreshable")
)

// Store is the durable home of grants. Every method is safe for concurrent use.
type Store interface {
	// Get returns the grant for subject and provider, or ErrGrantNotFound.
	Get(ctx context.Context, subjectID, provider string) (Grant, error)

	// Save creates or replaces the grant for (SubjectID, Provider). A nil
	// RefreshToken keeps the one already stored.
	Save(ctx context.Context, g Grant) (Grant, error)

	// ListRefreshable returns grants holding a refresh token whose expiry is
	// unknown or not after before.
	ListRefreshable(ctx context.Context, before time.Time) ([]Grant, error)

	// UpdateTokens atomically stores a refresh result. It fails with
	// ErrGrantNotRefreshable when the grant lost its refresh token meanwhile.
	UpdateTokens(ctx context.Context, g Grant, update TokenUpdate) error

	// Revoke clears the tokens of one grant. Revoking a missing or already
	// revoked grant succeeds.
	Revoke(ctx context.Context, subjectID, provider string) error

	// RevokeSubject clears every grant of a subject.
	RevokeSubject(ctx context.Context, subjectID string) error
}
