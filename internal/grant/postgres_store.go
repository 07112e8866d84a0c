package grant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freekieb7/formlink/internal/database"
	"github.com/freekieb7/formlink/internal/secret"
	"github.com/google/uuid"
)

// PostgresStore keeps grants in tbl_grant with both tokens sealed.
type PostgresStore struct {
	DB  *database.Database
	Box *secret.Box
}

func NewPostgresStore(db *database.Database, box *secret.Box) *PostgresStore {
	return &PostgresStore{
		DB:  db,
		Box: box,
	}
}

// additionalData binds sealed tokens to the grant they belong to.
func additionalData(subjectID, provider string) []byte {
	return []byte(subjectID + "\x00" + provider)
}

const selectGrant = `SELECT id, subject_id, provider, access_token, refresh_token, scope, expires_at, created_at, updated_at FROM tbl_grant`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scan(row rowScanner) (Grant, error) {
	var g Grant
	var accessToken, refreshToken []byte
	var scope string

	if err := row.Scan(&g.ID, &g.SubjectID, &g.Provider, &accessToken, &refreshToken, &scope, &g.ExpiresAt, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return Grant{}, err
	}

	aad := additionalData(g.SubjectID, g.Provider)

	var err error
	if g.AccessToken, err = s.Box.OpenString(accessToken, aad); err != nil {
		return Grant{}, fmt.Errorf("failed to open access token of grant %s: %w", g.ID, err)
	}
	if g.RefreshToken, err = s.Box.OpenString(refreshToken, aad); err != nil {
		return Grant{}, fmt.Errorf("failed to open refresh token of grant %s: %w", g.ID, err)
	}
	g.Scope = splitScope(scope)

	return g, nil
}

func (s *PostgresStore) Get(ctx context.Context, subjectID, provider string) (Grant, error) {
	g, err := s.scan(s.DB.QueryRow(ctx, selectGrant+` WHERE subject_id = $1 AND provider = $2`, subjectID, provider))
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return Grant{}, ErrGrantNotFound
		}
		return Grant{}, fmt.Errorf("failed to get grant: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) Save(ctx context.Context, g Grant) (Grant, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}

	aad := additionalData(g.SubjectID, g.Provider)

	accessToken, err := s.Box.SealString(g.AccessToken, aad)
	if err != nil {
		return Grant{}, fmt.Errorf("failed to seal access token: %w", err)
	}
	refreshToken, err := s.Box.SealString(g.RefreshToken, aad)
	if err != nil {
		return Grant{}, fmt.Errorf("failed to seal refresh token: %w", err)
	}

	query := `
		INSERT INTO tbl_grant (id, subject_id, provider, access_token, refresh_token, scope, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (subject_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(EXCLUDED.refresh_token, tbl_grant.refresh_token),
			scope = EXCLUDED.scope,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		RETURNING id, subject_id, provider, access_token, refresh_token, scope, expires_at, created_at, updated_at
	`

	saved, err := s.scan(s.DB.QueryRow(ctx, query, g.ID, g.SubjectID, g.Provider, accessToken, refreshToken, JoinScope(g.Scope), g.ExpiresAt))
	if err != nil {
		return Grant{}, fmt.Errorf("failed to save grant: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) ListRefreshable(ctx context.Context, before time.Time) ([]Grant, error) {
	rows, err := s.DB.Query(ctx, selectGrant+` WHERE refresh_token IS NOT NULL AND (expires_at IS NULL OR expires_at <= $1) ORDER BY expires_at NULLS FIRST`, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list refreshable grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		g, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grants: %w", err)
	}

	return grants, nil
}

func (s *PostgresStore) UpdateTokens(ctx context.Context, g Grant, update TokenUpdate) error {
	aad := additionalData(g.SubjectID, g.Provider)

	accessToken, err := s.Box.Seal([]byte(update.AccessToken), aad)
	if err != nil {
		return fmt.Errorf("failed to seal access token: %w", err)
	}
	refreshToken, err := s.Box.SealString(update.RefreshToken, aad)
	if err != nil {
		return fmt.Errorf("failed to seal refresh token: %w", err)
	}

	// Guarded on refresh_token so a revocation during the batch wins.
	tag, err := s.DB.Exec(ctx, `
		UPDATE tbl_grant
		SET access_token = $2, refresh_token = COALESCE($3, refresh_token), expires_at = $4, updated_at = NOW()
		WHERE id = $1 AND refresh_token IS NOT NULL
	`, g.ID, accessToken, refreshToken, update.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to update grant tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGrantNotRefreshable
	}
	return nil
}

func (s *PostgresStore) Revoke(ctx context.Context, subjectID, provider string) error {
	if _, err := s.DB.Exec(ctx, `
		UPDATE tbl_grant SET access_token = NULL, refresh_token = NULL, expires_at = NULL, updated_at = NOW()
		WHERE subject_id = $1 AND provider = $2
		  AND (access_token IS NOT NULL OR refresh_token IS NOT NULL OR expires_at IS NOT NULL)
	`, subjectID, provider); err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeSubject(ctx context.Context, subjectID string) error {
	if _, err := s.DB.Exec(ctx, `
		UPDATE tbl_grant SET access_token = NULL, refresh_token = NULL, expires_at = NULL, updated_at = NOW()
		WHERE subject_id = $1
		  AND (access_token IS NOT NULL OR refresh_token IS NOT NULL OR expires_at IS NOT NULL)
	`, subjectID); err != nil {
		return fmt.Errorf("failed to revoke subject grants: %w", err)
	}
	return nil
}
