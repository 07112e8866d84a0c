package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is created by the sign-in shell. This service only reads it and
// deletes it on sign-out.
type Session struct {
	ID        uuid.UUID
	Token     string
	SubjectID string
	Data      map[string]any
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (s Session) Authenticated() bool {
	return s.SubjectID != ""
}
