package grant

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store for tests and single-process tooling.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[string]Grant
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants: make(map[string]Grant),
		now:    time.Now,
	}
}

func memoryKey(subjectID, provider string) string {
	return subjectID + "\x00" + provider
}

func (s *MemoryStore) Get(ctx context.Context, subjectID, provider string) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[memoryKey(subjectID, provider)]
	if !ok {
		return Grant{}, ErrGrantNotFound
	}
	return clone(g), nil
}

func (s *MemoryStore) Save(ctx context.Context, g Grant) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := memoryKey(g.SubjectID, g.Provider)
	saved := clone(g)

	if existing, ok := s.grants[key]; ok {
		saved.ID = existing.ID
		saved.CreatedAt = existing.CreatedAt
		if saved.RefreshToken == nil {
			saved.RefreshToken = clone(existing).RefreshToken
		}
	} else {
		if saved.ID == uuid.Nil {
			saved.ID = uuid.New()
		}
		saved.CreatedAt = now
	}
	saved.UpdatedAt = now

	s.grants[key] = saved
	return clone(saved), nil
}

func (s *MemoryStore) ListRefreshable(ctx context.Context, before time.Time) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var grants []Grant
	for _, g := range s.grants {
		if g.RefreshToken == nil {
			continue
		}
		if g.ExpiresAt != nil && g.ExpiresAt.After(before) {
			continue
		}
		grants = append(grants, clone(g))
	}

	sort.Slice(grants, func(i, j int) bool {
		return grants[i].ID.String() < grants[j].ID.String()
	})
	return grants, nil
}

func (s *MemoryStore) UpdateTokens(ctx context.Context, g Grant, update TokenUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(g.SubjectID, g.Provider)
	current, ok := s.grants[key]
	if !ok || current.ID != g.ID || current.RefreshToken == nil {
		return ErrGrantNotRefreshable
	}

	accessToken := update.AccessToken
	expiresAt := update.ExpiresAt
	current.AccessToken = &accessToken
	current.ExpiresAt = &expiresAt
	if update.RefreshToken != nil {
		refreshToken := *update.RefreshToken
		current.RefreshToken = &refreshToken
	}
	current.UpdatedAt = s.now()

	s.grants[key] = current
	return nil
}

func (s *MemoryStore) Revoke(ctx context.Context, subjectID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(subjectID, provider)
	if g, ok := s.grants[key]; ok && holdsTokens(g) {
		s.grants[key] = revoked(g, s.now())
	}
	return nil
}

func (s *MemoryStore) RevokeSubject(ctx context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, g := range s.grants {
		if g.SubjectID == subjectID && holdsTokens(g) {
			s.grants[key] = revoked(g, now)
		}
	}
	return nil
}

// holdsTokens reports whether revoking g would change it.
func holdsTokens(g Grant) bool {
	return g.AccessToken != nil || g.RefreshToken != nil || g.ExpiresAt != nil
}

func revoked(g Grant, now time.Time) Grant {
	g.AccessToken = nil
	g.RefreshToken = nil
	g.ExpiresAt = nil
	g.UpdatedAt = now
	return g
}
