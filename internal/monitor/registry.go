package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNoMonitor      = errors.New("no monitor for session")
	ErrRegistryClosed = errors.New("monitor registry is closed")
)

// Registry holds the live monitor of each session. Opening a new monitor
// for a session stops the previous one.
type Registry struct {
	mu       sync.Mutex
	monitors map[string]*Monitor
	closed   bool
	done     chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		monitors: make(map[string]*Monitor),
		done:     make(chan struct{}),
	}
}

// Done is closed by CloseAll. Streams serving a monitor end on it.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// Open registers m under key and starts it with ctx as its owner.
func (r *Registry) Open(ctx context.Context, key string, m *Monitor) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	previous := r.monitors[key]
	r.monitors[key] = m
	r.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	if err := m.Start(ctx); err != nil {
		r.Release(key, m)
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	return nil
}

func (r *Registry) Get(key string) (*Monitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.monitors[key]
	return m, ok
}

// Dismiss dismisses the prompt of key's monitor.
func (r *Registry) Dismiss(key string) error {
	m, ok := r.Get(key)
	if !ok {
		return ErrNoMonitor
	}
	return m.Dismiss()
}

// Reauthorize moves key's monitor to Reauthorizing and returns the provider redirect.
func (r *Registry) Reauthorize(key, returnPath string) (string, error) {
	m, ok := r.Get(key)
	if !ok {
		return "", ErrNoMonitor
	}
	return m.Reauthorize(returnPath)
}

// Release stops m and forgets it, unless it was already replaced.
func (r *Registry) Release(key string, m *Monitor) {
	r.mu.Lock()
	if r.monitors[key] == m {
		delete(r.monitors, key)
	}
	r.mu.Unlock()

	m.Stop()
}

// Close stops whatever monitor key has.
func (r *Registry) Close(key string) {
	r.mu.Lock()
	m, ok := r.monitors[key]
	delete(r.monitors, key)
	r.mu.Unlock()

	if ok {
		m.Stop()
	}
}

// CloseAll stops every monitor and closes Done. Later opens fail with
// ErrRegistryClosed.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	monitors := r.monitors
	r.monitors = make(map[string]*Monitor)
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	r.mu.Unlock()

	for _, m := range monitors {
		m.Stop()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}
