package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/freekieb7/formlink/internal/database"
	"github.com/google/uuid"
)

const (
	CookieName string = "SID"

	SessionExpiryDefault = 8 * time.Hour
)

type contextKey string

var (
	ErrSessionNotFound = errors.New("session not found")
	ContextKey         = contextKey("session")
)

// Repository is how the HTTP layer reaches sessions.
type Repository interface {
	GetSessionByToken(ctx context.Context, token string) (Session, error)
	SaveSession(ctx context.Context, sess Session) (Session, error)
	DeleteSession(ctx context.Context, token string) error
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewSession prepares an unsaved session for subjectID.
func NewSession(subjectID string) (Session, error) {
	token, err := generateToken(32)
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate session token: %w", err)
	}

	return Session{
		Token:     token,
		SubjectID: subjectID,
		Data:      map[string]any{},
		ExpiresAt: time.Now().Add(SessionExpiryDefault),
	}, nil
}

type Store struct {
	DB *database.Database
}

func NewStore(db *database.Database) *Store {
	return &Store{
		DB: db,
	}
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	var sess Session
	var subjectID *string
	var dataBytes json.RawMessage

	query := `SELECT id, subject_id, data, expires_at, created_at FROM tbl_session WHERE token = $1 AND expires_at > NOW()`
	row := s.DB.QueryRow(ctx, query, token)
	if err := row.Scan(&sess.ID, &subjectID, &dataBytes, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("failed to get session by token: %w", err)
	}

	if err := json.Unmarshal(dataBytes, &sess.Data); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal session data: %w", err)
	}

	sess.Token = token

	if subjectID != nil {
		sess.SubjectID = *subjectID
	}

	if sess.Data == nil {
		sess.Data = make(map[string]any)
	}

	return sess, nil
}

func (s *Store) SaveSession(ctx context.Context, sess Session) (Session, error) {
	data, err := json.Marshal(sess.Data)
	if err != nil {
		return Session{}, fmt.Errorf("failed to marshal session data: %w", err)
	}

	var subjectID *string
	if sess.SubjectID != "" {
		subjectID = &sess.SubjectID
	}

	if sess.ID == uuid.Nil {
		if err := s.DB.QueryRow(ctx, `INSERT INTO tbl_session (token, subject_id, data, expires_at) VALUES ($1, $2, $3, $4) RETURNING id, created_at`, sess.Token, subjectID, data, sess.ExpiresAt).Scan(&sess.ID, &sess.CreatedAt); err != nil {
			return Session{}, fmt.Errorf("failed to create session: %w", err)
		}
		return sess, nil
	}

	if _, err := s.DB.Exec(ctx, `UPDATE tbl_session SET subject_id = $1, data = $2, expires_at = $3 WHERE id = $4`, subjectID, data, sess.ExpiresAt, sess.ID); err != nil {
		return Session{}, fmt.Errorf("failed to update session: %w", err)
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.DB.Exec(ctx, `DELETE FROM tbl_session WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// MemoryStore keeps sessions in process. Used by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
	}
}

func (s *MemoryStore) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok || !sess.ExpiresAt.After(time.Now()) {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *MemoryStore) SaveSession(ctx context.Context, sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
		sess.CreatedAt = time.Now()
	}
	s.sessions[sess.Token] = sess
	return sess, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	return nil
}

// FromContext returns the session the middleware attached, if any.
func FromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(ContextKey).(Session)
	return sess, ok
}
