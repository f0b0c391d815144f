// Package store wraps Redis as the durable state layer shared by every
// dataplane component: client key records, upstream key records, vault
// entries, usage counters, and rate-limit windows all live here rather
// than in process memory. Circuit breaker state is kept in process memory
// and is not stored here.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a record, set member, or key does not exist.
var ErrNotFound = errors.New("store: not found")

// Config configures the Redis connection backing the store.
type Config struct {
	Addr                string        `yaml:"addr" json:"addr"`
	Password            string        `yaml:"password" json:"password"`
	DB                  int           `yaml:"db" json:"db"`
	MaxRetries          int           `yaml:"max_retries" json:"max_retries"`
	PoolSize            int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns        int           `yaml:"min_idle_conns" json:"min_idle_conns"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig returns sane defaults for the store's Redis connection.
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		DB:                  0,
		MaxRetries:          3,
		PoolSize:            20,
		MinIdleConns:        4,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Store is the Redis-backed state store.
type Store struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// New connects to Redis and returns a ready Store.
func New(config Config, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := &Store{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "store")),
	}

	if config.HealthCheckInterval > 0 {
		go s.healthCheckLoop()
	}

	logger.Info("state store initialized", zap.String("addr", config.Addr))

	return s, nil
}

// =============================================================================
// 🎯 记录（哈希）
// =============================================================================

// PutRecord stores a flat string-map record under key, replacing it wholly.
func (s *Store) PutRecord(ctx context.Context, key string, fields map[string]string) error {
	if s.isClosed() {
		return fmt.Errorf("store is closed")
	}
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	if err := s.redis.HSet(ctx, key, values).Err(); err != nil {
		return fmt.Errorf("put record %s: %w", key, err)
	}
	return nil
}

// GetRecord loads the full hash stored at key. Returns ErrNotFound if the
// key does not exist.
func (s *Store) GetRecord(ctx context.Context, key string) (map[string]string, error) {
	if s.isClosed() {
		return nil, fmt.Errorf("store is closed")
	}
	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return fields, nil
}

// DeleteRecord removes key entirely.
func (s *Store) DeleteRecord(ctx context.Context, key string) error {
	if s.isClosed() {
		return fmt.Errorf("store is closed")
	}
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// 🧮 集合
// =============================================================================

// SetAdd adds member(s) to the set at key.
func (s *Store) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	vals := make([]any, len(members))
	for i, m := range members {
		vals[i] = m
	}
	if err := s.redis.SAdd(ctx, key, vals...).Err(); err != nil {
		return fmt.Errorf("set add %s: %w", key, err)
	}
	return nil
}

// SetRemove removes member(s) from the set at key.
func (s *Store) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	vals := make([]any, len(members))
	for i, m := range members {
		vals[i] = m
	}
	if err := s.redis.SRem(ctx, key, vals...).Err(); err != nil {
		return fmt.Errorf("set remove %s: %w", key, err)
	}
	return nil
}

// SetMembers returns every member of the set at key.
func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.redis.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("set members %s: %w", key, err)
	}
	return members, nil
}

// SetContains reports whether member is present in the set at key.
func (s *Store) SetContains(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.redis.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("set contains %s: %w", key, err)
	}
	return ok, nil
}

// =============================================================================
// 📊 有序集合
// =============================================================================

// SortedSetAdd adds member with score to the sorted set at key.
func (s *Store) SortedSetAdd(ctx context.Context, key string, score float64, member string) error {
	if err := s.redis.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("sorted set add %s: %w", key, err)
	}
	return nil
}

// SortedSetRangeByScore returns members in [min, max] score order.
func (s *Store) SortedSetRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	members, err := s.redis.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("sorted set range %s: %w", key, err)
	}
	return members, nil
}

// =============================================================================
// 🚦 原子计数（限流）
// =============================================================================

// AtomicIncrement increments the counter at key by 1 and, only on the
// first increment (value becomes 1), applies ttl as an expiry — the
// classic Redis rolling-window counter idiom.
func (s *Store) AtomicIncrement(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("atomic increment %s: %w", key, err)
	}
	if count == 1 && ttl > 0 {
		if err := s.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return count, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return count, nil
}

// =============================================================================
// 🔍 扫描
// =============================================================================

// Scan lazily iterates every key matching pattern, invoking fn for each.
// Iteration stops early if fn returns an error.
func (s *Store) Scan(ctx context.Context, pattern string, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", pattern, err)
		}
		for _, k := range keys {
			if err := fn(k); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// Ping reports whether the backing Redis connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	if s.isClosed() {
		return fmt.Errorf("store is closed")
	}
	return s.redis.Ping(ctx).Err()
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing state store")
	return s.redis.Close()
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) healthCheckLoop() {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for range ticker.C {
		if s.isClosed() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Ping(ctx); err != nil {
			s.logger.Error("state store health check failed", zap.Error(err))
		}
		cancel()
	}
}

func formatScore(f float64) string {
	if f == negInf {
		return "-inf"
	}
	if f == posInf {
		return "+inf"
	}
	return fmt.Sprintf("%f", f)
}

const (
	negInf = -1 << 62
	posInf = 1 << 62
)
