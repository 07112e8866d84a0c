// Package monitor watches one session's grant and asks the user to renew it
// shortly before it expires.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/freekieb7/formlink/internal/policy"
)

const (
	DefaultLookahead    = policy.DefaultLookahead
	DefaultPollInterval = 60 * time.Second
)

var (
	ErrInvalidTransition = errors.New("invalid monitor transition")
	ErrAlreadyStarted    = errors.New("monitor already started")
)

type State int

const (
	Idle State = iota
	Watching
	PromptShown
	Dismissed
	Reauthorizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Watching:
		return "watching"
	case PromptShown:
		return "prompt_shown"
	case Dismissed:
		return "dismissed"
	case Reauthorizing:
		return "reauthorizing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ExpirySource reads the current grant expiry. found is false when the
// subject has no grant. It must not write anything.
type ExpirySource interface {
	Expiry(ctx context.Context) (expiresAt *time.Time, found bool, err error)
}

type ExpirySourceFunc func(ctx context.Context) (*time.Time, bool, error)

func (f ExpirySourceFunc) Expiry(ctx context.Context) (*time.Time, bool, error) {
	return f(ctx)
}

// Prompt is what the user is shown.
type Prompt struct {
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Capability string     `json:"capability"`
}

// Prompter presents a prompt. It is called at most once per monitor.
type Prompter interface {
	Prompt(ctx context.Context, p Prompt)
}

type PrompterFunc func(ctx context.Context, p Prompt)

func (f PrompterFunc) Prompt(ctx context.Context, p Prompt) {
	f(ctx, p)
}

// Redirector builds the provider redirect for a renewal.
type Redirector interface {
	BuildRedirect(returnPath, capability string) (string, error)
}

// Ticker is the subset of time.Ticker the poll loop needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	*time.Ticker
}

func (t realTicker) C() <-chan time.Time {
	return t.Ticker.C
}

type Option func(*Monitor)

func WithLookahead(d time.Duration) Option {
	return func(m *Monitor) { m.lookahead = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(m *Monitor) { m.newTicker = newTicker }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// Monitor walks Idle -> Watching -> PromptShown -> Dismissed|Reauthorizing.
type Monitor struct {
	source     ExpirySource
	prompter   Prompter
	redirector Redirector
	capability string

	lookahead time.Duration
	interval  time.Duration
	now       func() time.Time
	newTicker func(time.Duration) Ticker
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	stopOnce sync.Once
}

func New(source ExpirySource, prompter Prompter, redirector Redirector, capability string, opts ...Option) *Monitor {
	m := &Monitor{
		source:     source,
		prompter:   prompter,
		redirector: redirector,
		capability: capability,
		lookahead:  DefaultLookahead,
		interval:   DefaultPollInterval,
		now:        time.Now,
		newTicker: func(d time.Duration) Ticker {
			return realTicker{time.NewTicker(d)}
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start evaluates the grant once and, unless a prompt is already due, keeps
// re-evaluating every poll interval until ctx ends or Stop is called.
// Without a grant the monitor stays Idle.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	expiresAt, found, err := m.source.Expiry(ctx)
	if err != nil {
		return fmt.Errorf("failed to read grant expiry: %w", err)
	}
	if !found {
		m.logger.DebugContext(ctx, "No grant to monitor")
		return nil
	}

	m.mu.Lock()
	m.state = Watching
	m.mu.Unlock()

	if m.evaluate(ctx, expiresAt) {
		return nil
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.poll(loopCtx)
	return nil
}

func (m *Monitor) poll(ctx context.Context) {
	defer close(m.done)

	ticker := m.newTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			expiresAt, found, err := m.source.Expiry(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.WarnContext(ctx, "Grant expiry check failed", slog.String("error", err.Error()))
				continue
			}
			if !found {
				// Grant deleted underneath us
				m.mu.Lock()
				if m.state == Watching {
					m.state = Idle
				}
				m.mu.Unlock()
				return
			}
			if m.evaluate(ctx, expiresAt) {
				return
			}
		}
	}
}

// evaluate moves Watching to PromptShown when expiry is near and reports
// whether polling should end.
func (m *Monitor) evaluate(ctx context.Context, expiresAt *time.Time) bool {
	if !policy.IsExpiringSoon(expiresAt, m.lookahead, m.now()) {
		return false
	}

	m.mu.Lock()
	if m.state != Watching {
		m.mu.Unlock()
		return true
	}
	m.state = PromptShown
	m.mu.Unlock()

	m.prompter.Prompt(ctx, Prompt{
		ExpiresAt:  expiresAt,
		Capability: m.capability,
	})
	return true
}

// Dismiss hides the prompt until the next monitor is opened.
func (m *Monitor) Dismiss() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != PromptShown {
		return fmt.Errorf("%w: dismiss from %s", ErrInvalidTransition, m.state)
	}
	m.state = Dismissed
	return nil
}

// Reauthorize returns the provider URL that renews the grant and resumes at returnPath.
func (m *Monitor) Reauthorize(returnPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != PromptShown {
		return "", fmt.Errorf("%w: reauthorize from %s", ErrInvalidTransition, m.state)
	}

	redirect, err := m.redirector.BuildRedirect(returnPath, m.capability)
	if err != nil {
		return "", err
	}
	m.state = Reauthorizing
	return redirect, nil
}

// Stop ends polling and waits for the loop to exit. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		cancel, done := m.cancel, m.done
		m.mu.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}
	})
}
