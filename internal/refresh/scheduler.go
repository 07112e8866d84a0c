// Package refresh renews every grant that is about to expire in one batch.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/freekieb7/formlink/internal/events"
	"github.com/freekieb7/formlink/internal/grant"
	"github.com/freekieb7/formlink/internal/policy"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency     = 8
	DefaultExchangeTimeout = 10 * time.Second
	// DefaultLifetime is assumed when the provider omits expires_in.
	DefaultLifetime = 30 * time.Minute
)

// Failure kinds
const (
	KindTimeout       = "timeout"
	KindExchange      = "exchange_failed"
	KindNoAccessToken = "no_access_token"
	KindRevoked       = "revoked"
	KindStore         = "store_failed"
	KindNoExtension   = "no_extension"
)

type Failure struct {
	GrantID   uuid.UUID `json:"grantId"`
	SubjectID string    `json:"subjectId"`
	Provider  string    `json:"provider"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
}

// Result summarizes one batch. Processed == Succeeded + len(Failures).
type Result struct {
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failures   []Failure `json:"failures"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (r Result) Failed() int {
	return len(r.Failures)
}

// Publisher is where per-grant outcomes are announced.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Scheduler struct {
	Store     grant.Store
	Exchanger Exchanger
	Publisher Publisher
	Reports   ReportStore
	Logger    *slog.Logger

	Window          time.Duration
	Concurrency     int
	ExchangeTimeout time.Duration
	DefaultLifetime time.Duration
	Now             func() time.Time
}

func NewScheduler(store grant.Store, exchanger Exchanger, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		Store:           store,
		Exchanger:       exchanger,
		Publisher:       events.NoopPublisher{},
		Logger:          logger,
		Window:          policy.DefaultRefreshWindow,
		Concurrency:     DefaultConcurrency,
		ExchangeTimeout: DefaultExchangeTimeout,
		DefaultLifetime: DefaultLifetime,
		Now:             time.Now,
	}
}

type outcome struct {
	grant     grant.Grant
	expiresAt time.Time
	failure   *Failure
}

// RunBatch refreshes every grant expiring within Window. One grant failing
// never affects another; only failing to list grants is returned as an error.
// Callers must not run two batches at once.
func (s *Scheduler) RunBatch(ctx context.Context) (Result, error) {
	startedAt := s.Now()

	grants, err := s.Store.ListRefreshable(ctx, startedAt.Add(s.Window))
	if err != nil {
		return Result{}, fmt.Errorf("failed to list refreshable grants: %w", err)
	}

	s.Logger.InfoContext(ctx, "Starting grant refresh batch",
		slog.Int("grants", len(grants)),
		slog.Duration("window", s.Window))

	// Each goroutine owns exactly one slot
	outcomes := make([]outcome, len(grants))

	var group errgroup.Group
	group.SetLimit(max(s.Concurrency, 1))
	for i, g := range grants {
		group.Go(func() error {
			outcomes[i] = s.refreshOne(ctx, g)
			return nil
		})
	}
	group.Wait()

	result := Result{
		Processed: len(grants),
		Failures:  []Failure{},
		StartedAt: startedAt,
	}
	for _, o := range outcomes {
		if o.failure != nil {
			result.Failures = append(result.Failures, *o.failure)
			s.publish(ctx, events.Event{
				Type:      events.TypeGrantRefreshFailed,
				GrantID:   o.grant.ID.String(),
				SubjectID: o.grant.SubjectID,
				Provider:  o.grant.Provider,
				Reason:    o.failure.Reason,
			})
			continue
		}
		result.Succeeded++
		expiresAt := o.expiresAt
		s.publish(ctx, events.Event{
			Type:      events.TypeGrantRefreshed,
			GrantID:   o.grant.ID.String(),
			SubjectID: o.grant.SubjectID,
			Provider:  o.grant.Provider,
			ExpiresAt: &expiresAt,
		})
	}
	result.FinishedAt = s.Now()

	s.publish(ctx, events.Event{
		Type:      events.TypeBatchCompleted,
		Processed: result.Processed,
		Succeeded: result.Succeeded,
		Failed:    result.Failed(),
	})

	if s.Reports != nil {
		if err := s.Reports.SaveReport(ctx, result); err != nil {
			s.Logger.WarnContext(ctx, "Failed to record refresh report", slog.String("error", err.Error()))
		}
	}

	s.Logger.InfoContext(ctx, "Finished grant refresh batch",
		slog.Int("processed", result.Processed),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed()),
		slog.Duration("took", result.FinishedAt.Sub(startedAt)))

	return result, nil
}

func (s *Scheduler) refreshOne(ctx context.Context, g grant.Grant) outcome {
	fail := func(kind, reason string) outcome {
		s.Logger.WarnContext(ctx, "Grant refresh failed",
			slog.String("grant_id", g.ID.String()),
			slog.String("provider", g.Provider),
			slog.String("kind", kind),
			slog.String("reason", reason))
		return outcome{grant: g, failure: &Failure{
			GrantID:   g.ID,
			SubjectID: g.SubjectID,
			Provider:  g.Provider,
			Kind:      kind,
			Reason:    reason,
		}}
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, s.ExchangeTimeout)
	defer cancel()

	token, err := s.Exchanger.Refresh(exchangeCtx, g)
	if err != nil {
		if errors.Is(exchangeCtx.Err(), context.DeadlineExceeded) {
			return fail(KindTimeout, fmt.Sprintf("token exchange timed out after %s", s.ExchangeTimeout))
		}
		return fail(KindExchange, err.Error())
	}
	if token == nil || token.AccessToken == "" {
		return fail(KindNoAccessToken, "provider returned no access token")
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = s.Now().Add(s.DefaultLifetime)
	}
	// A refresh must extend validity. A shorter token is not stored, the
	// current one stays in use until it is due again.
	if current := g.EffectiveExpiry(); current != nil && !expiresAt.After(*current) {
		return fail(KindNoExtension, fmt.Sprintf("refreshed token expires at %s, not after the current %s",
			expiresAt.UTC().Format(time.RFC3339), current.UTC().Format(time.RFC3339)))
	}

	update := grant.TokenUpdate{
		AccessToken: token.AccessToken,
		ExpiresAt:   expiresAt,
	}
	if token.RefreshToken != "" && (g.RefreshToken == nil || token.RefreshToken != *g.RefreshToken) {
		rotated := token.RefreshToken
		update.RefreshToken = &rotated
	}

	if err := s.Store.UpdateTokens(ctx, g, update); err != nil {
		if errors.Is(err, grant.ErrGrantNotRefreshable) {
			return fail(KindRevoked, "grant was revoked during refresh")
		}
		return fail(KindStore, err.Error())
	}

	return outcome{grant: g, expiresAt: expiresAt}
}

func (s *Scheduler) publish(ctx context.Context, event events.Event) {
	if s.Publisher == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.Now().UTC()
	}
	if err := s.Publisher.Publish(ctx, event); err != nil {
		s.Logger.WarnContext(ctx, "Failed to publish grant event",
			slog.String("type", event.Type),
			slog.String("error", err.Error()))
	}
}
