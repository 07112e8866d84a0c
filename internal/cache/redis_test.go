package cache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/freekieb7/formlink/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryClient is an in-process clientInterface for tests.
type memoryClient struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryClient() *memoryClient {
	return &memoryClient{data: make(map[string][]byte)}
}

func (m *memoryClient) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryClient) get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (m *memoryClient) del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryClient) setNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *memoryClient) increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data[key])) + 1
	m.data[key] = make([]byte, n)
	return n, nil
}

func (m *memoryClient) ping(ctx context.Context) error {
	return nil
}

func newTestService(client clientInterface) *Service {
	return &Service{
		client: client,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		prefix: "test:",
	}
}

func TestServiceJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newMemoryClient()
	svc := newTestService(client)

	type report struct {
		Processed int `json:"processed"`
	}

	require.NoError(t, svc.Set(ctx, "refresh:last", report{Processed: 3}, time.Minute))
	_, ok := client.data["test:refresh:last"]
	assert.True(t, ok, "keys are prefixed")

	var got report
	require.NoError(t, svc.Get(ctx, "refresh:last", &got))
	assert.Equal(t, 3, got.Processed)

	require.NoError(t, svc.Delete(ctx, "refresh:last"))
	assert.ErrorIs(t, svc.Get(ctx, "refresh:last", &got), ErrCacheMiss)
}

func TestServiceSetNXAndIncrement(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryClient())

	ok, err := svc.SetNX(ctx, "lock", "run-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.SetNX(ctx, "lock", "run-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := svc.Increment(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = svc.Increment(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestDisabledServiceIsNoOp(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(FromConfig(config.Cache{Enabled: false, Prefix: "x:"}), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, svc.Set(ctx, "k", 1, time.Minute))
	var v int
	assert.ErrorIs(t, svc.Get(ctx, "k", &v), ErrCacheMiss)

	ok, err := svc.SetNX(ctx, "lock", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, svc.Health(ctx))
	assert.NoError(t, svc.Close())
}

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.Cache{Enabled: true, RedisAddr: "redis:6379", RedisDB: 2})
	assert.Equal(t, "redis:6379", c.Addr)
	assert.Equal(t, 2, c.DB)
	assert.Equal(t, 10, c.PoolSize)
	assert.Equal(t, "formlink:", c.Prefix)
}
