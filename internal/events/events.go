// Package events publishes grant lifecycle events for other services.
package events

import (
	"context"
	"time"
)

const (
	TypeGrantRefreshed     = "grant.refreshed"
	TypeGrantRefreshFailed = "grant.refresh_failed"
	TypeGrantRevoked       = "grant.revoked"
	TypeBatchCompleted     = "grant.refresh_batch_completed"
)

type Event struct {
	Type       string     `json:"type"`
	GrantID    string     `json:"grantId,omitempty"`
	SubjectID  string     `json:"subjectId,omitempty"`
	Provider   string     `json:"provider,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Processed  int        `json:"processed,omitempty"`
	Succeeded  int        `json:"succeeded,omitempty"`
	Failed     int        `json:"failed,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event Event) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}
