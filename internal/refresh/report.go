package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/freekieb7/formlink/internal/cache"
)

var ErrNoReport = errors.New("no refresh run recorded")

const lastReportKey = "refresh:last_report"

// ReportStore remembers the outcome of the latest run.
type ReportStore interface {
	SaveReport(ctx context.Context, result Result) error
	LastReport(ctx context.Context) (Result, error)
}

// CacheReportStore keeps the report in Redis.
type CacheReportStore struct {
	Cache *cache.Service
	TTL   time.Duration
}

func NewCacheReportStore(c *cache.Service, ttl time.Duration) *CacheReportStore {
	return &CacheReportStore{
		Cache: c,
		TTL:   ttl,
	}
}

func (s *CacheReportStore) SaveReport(ctx context.Context, result Result) error {
	if err := s.Cache.Set(ctx, lastReportKey, result, s.TTL); err != nil {
		return fmt.Errorf("failed to save refresh report: %w", err)
	}
	return nil
}

func (s *CacheReportStore) LastReport(ctx context.Context) (Result, error) {
	var result Result
	if err := s.Cache.Get(ctx, lastReportKey, &result); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return Result{}, ErrNoReport
		}
		return Result{}, fmt.Errorf("failed to read refresh report: %w", err)
	}
	return result, nil
}

type MemoryReportStore struct {
	mu   sync.Mutex
	last *Result
}

func (s *MemoryReportStore) SaveReport(ctx context.Context, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &result
	return nil
}

func (s *MemoryReportStore) LastReport(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, ErrNoReport
	}
	return *s.last, nil
}
