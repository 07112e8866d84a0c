package license

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/freekieb7/formlink/internal/database"
	"github.com/google/uuid"
)

var ErrLicenseNotFound = errors.New("license not found")

type Store interface {
	GetByKeyHash(ctx context.Context, keyHash string) (License, error)
	Create(ctx context.Context, l License) (License, error)
	Revoke(ctx context.Context, keyHash string, at time.Time) error
}

type PostgresStore struct {
	DB *database.Database
}

func NewPostgresStore(db *database.Database) *PostgresStore {
	return &PostgresStore{
		DB: db,
	}
}

func (s *PostgresStore) GetByKeyHash(ctx context.Context, keyHash string) (License, error) {
	var l License
	query := `SELECT id, key_hash, bound_domain, expires_at, revoked_at, created_at FROM tbl_license WHERE key_hash = $1`
	if err := s.DB.QueryRow(ctx, query, keyHash).Scan(&l.ID, &l.KeyHash, &l.BoundDomain, &l.ExpiresAt, &l.RevokedAt, &l.CreatedAt); err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return License{}, ErrLicenseNotFound
		}
		return License{}, fmt.Errorf("failed to get license: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) Create(ctx context.Context, l License) (License, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.KeyHash == "" {
		l.KeyHash = HashKey(l.Key)
	}

	query := `INSERT INTO tbl_license (id, key_hash, bound_domain, expires_at, revoked_at) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`
	if err := s.DB.QueryRow(ctx, query, l.ID, l.KeyHash, l.BoundDomain, l.ExpiresAt, l.RevokedAt).Scan(&l.CreatedAt); err != nil {
		return License{}, fmt.Errorf("failed to create license: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, keyHash string, at time.Time) error {
	tag, err := s.DB.Exec(ctx, `UPDATE tbl_license SET revoked_at = COALESCE(revoked_at, $2) WHERE key_hash = $1`, keyHash, at)
	if err != nil {
		return fmt.Errorf("failed to revoke license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLicenseNotFound
	}
	return nil
}

type MemoryStore struct {
	mu       sync.RWMutex
	licenses map[string]License
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		licenses: make(map[string]License),
	}
}

func (s *MemoryStore) GetByKeyHash(ctx context.Context, keyHash string) (License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.licenses[keyHash]
	if !ok {
		return License{}, ErrLicenseNotFound
	}
	return l, nil
}

func (s *MemoryStore) Create(ctx context.Context, l License) (License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.KeyHash == "" {
		l.KeyHash = HashKey(l.Key)
	}
	if _, exists := s.licenses[l.KeyHash]; exists {
		return License{}, fmt.Errorf("license already exists")
	}
	l.CreatedAt = time.Now()
	s.licenses[l.KeyHash] = l
	return l, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, keyHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[keyHash]
	if !ok {
		return ErrLicenseNotFound
	}
	if l.RevokedAt == nil {
		l.RevokedAt = &at
		s.licenses[keyHash] = l
	}
	return nil
}
