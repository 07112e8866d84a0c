package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/freekieb7/formlink/internal/config"
	apperrors "github.com/freekieb7/formlink/internal/errors"
	"github.com/redis/go-redis/v9"
)

// Service provides caching functionality using Redis
type Service struct {
	client clientInterface
	logger *slog.Logger
	prefix string
}

// clientInterface abstracts Redis operations we actually use
type clientInterface interface {
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	get(ctx context.Context, key string) ([]byte, error)
	del(ctx context.Context, key string) error
	setNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	ping(ctx context.Context) error
}

// Config holds Redis cache configuration
type Config struct {
	Addr         string        // Redis server address
	Password     string        // Redis password
	DB           int           // Redis database number
	PoolSize     int           // Connection pool size
	MinIdleConns int           // Minimum idle connections
	MaxRetries   int           // Maximum number of retries
	DialTimeout  time.Duration // Connection timeout
	ReadTimeout  time.Duration // Read timeout
	WriteTimeout time.Duration // Write timeout
	IdleTimeout  time.Duration // Idle connection timeout
	Prefix       string        // Key prefix for namespacing
	Enabled      bool          // Whether Redis caching is enabled
}

// DefaultConfig returns default Redis configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 3,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  5 * time.Minute,
		Prefix:       "formlink:",
		Enabled:      true,
	}
}

// FromConfig overlays application settings on DefaultConfig
func FromConfig(cfg config.Cache) *Config {
	c := DefaultConfig()
	c.Enabled = cfg.Enabled
	c.Addr = cfg.RedisAddr
	c.Password = cfg.RedisPassword
	c.DB = cfg.RedisDB
	if cfg.RedisPoolSize > 0 {
		c.PoolSize = cfg.RedisPoolSize
	}
	if cfg.Prefix != "" {
		c.Prefix = cfg.Prefix
	}
	return c
}

// NewService creates a new Redis cache service
func NewService(cfg *Config, logger *slog.Logger) (*Service, error) {
	if !cfg.Enabled {
		return &Service{
			client: &noOpClient{},
			logger: logger,
			prefix: cfg.Prefix,
		}, nil
	}

	// Create Redis client options
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	redisClient := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to Redis", "error", err, "addr", cfg.Addr)
		return nil, apperrors.CacheError("failed to connect to Redis", err)
	}

	logger.Info("Connected to Redis cache", "addr", cfg.Addr, "db", cfg.DB)

	return &Service{
		client: &redisClientWrapper{client: redisClient},
		logger: logger,
		prefix: cfg.Prefix,
	}, nil
}

// buildKey creates a prefixed key
func (s *Service) buildKey(key string) string {
	return s.prefix + key
}

// Set stores a value in cache with expiration
func (s *Service) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	err = s.client.set(ctx, s.buildKey(key), data, ttl)
	if err != nil {
		s.logger.Warn("Cache set failed", "key", key, "error", err)
		return err
	}

	s.logger.Debug("Cache set", "key", key, "ttl", ttl)
	return nil
}

// Get retrieves a value from cache
func (s *Service) Get(ctx context.Context, key string, dest any) error {
	val, err := s.client.get(ctx, s.buildKey(key))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return ErrCacheMiss
		}
		s.logger.Warn("Cache get failed", "key", key, "error", err)
		return err
	}

	err = json.Unmarshal(val, dest)
	if err != nil {
		s.logger.Warn("Cache unmarshal failed", "key", key, "error", err)
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}

	s.logger.Debug("Cache hit", "key", key)
	return nil
}

// Delete removes a value from cache
func (s *Service) Delete(ctx context.Context, key string) error {
	err := s.client.del(ctx, s.buildKey(key))
	if err != nil {
		s.logger.Warn("Cache delete failed", "key", key, "error", err)
		return err
	}

	s.logger.Debug("Cache deleted", "key", key)
	return nil
}

// SetNX sets a key only if it doesn't exist (atomic operation for locking)
func (s *Service) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal cache value: %w", err)
	}

	result, err := s.client.setNX(ctx, s.buildKey(key), data, ttl)
	if err != nil {
		s.logger.Warn("Cache setnx failed", "key", key, "error", err)
		return false, err
	}

	s.logger.Debug("Cache setnx", "key", key, "success", result, "ttl", ttl)
	return result, nil
}

// Increment atomically increments a counter
func (s *Service) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	result, err := s.client.increment(ctx, s.buildKey(key), ttl)
	if err != nil {
		s.logger.Warn("Cache increment failed", "key", key, "error", err)
		return 0, err
	}

	s.logger.Debug("Cache incremented", "key", key, "value", result)
	return result, nil
}

// Health checks the health of the cache service
func (s *Service) Health(ctx context.Context) error {
	return s.client.ping(ctx)
}

// Close closes the cache service
func (s *Service) Close() error {
	if wrapper, ok := s.client.(*redisClientWrapper); ok {
		return wrapper.close()
	}
	return nil
}

// Cache errors
var (
	ErrCacheMiss = errors.New("cache miss")
)

// redisClientWrapper wraps redis.Client to implement our interface
type redisClientWrapper struct {
	client *redis.Client
}

func (r *redisClientWrapper) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisClientWrapper) get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return []byte(val), nil
}

func (r *redisClientWrapper) del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisClientWrapper) setNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *redisClientWrapper) increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipeline := r.client.Pipeline()
	incrCmd := pipeline.Incr(ctx, key)
	pipeline.Expire(ctx, key, ttl)

	_, err := pipeline.Exec(ctx)
	if err != nil {
		return 0, err
	}

	return incrCmd.Val(), nil
}

func (r *redisClientWrapper) ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisClientWrapper) close() error {
	return r.client.Close()
}

// noOpClient is a simplified no-op implementation
type noOpClient struct{}

func (n *noOpClient) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (n *noOpClient) get(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (n *noOpClient) del(ctx context.Context, key string) error {
	return nil
}

// setNX always grants: without Redis there is nothing shared to contend on
func (n *noOpClient) setNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return true, nil
}

func (n *noOpClient) increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 1, nil
}

func (n *noOpClient) ping(ctx context.Context) error {
	return nil
}
