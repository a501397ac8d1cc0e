package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 管理器
// =============================================================================

var (
	// ErrCacheMiss 键不存在
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
)

// IsCacheMiss 判断是否为缓存未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Config Redis 连接配置
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// KeyPrefix 所有键的前缀，例如 "aura:"
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// DefaultTTL 写入未指定过期时间时使用，0 表示永不过期
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	MaxRetries   int `yaml:"max_retries" json:"max_retries"`
	PoolSize     int `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// DialTimeout 建连与首次 Ping 的超时
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		KeyPrefix:    "aura:",
		DefaultTTL:   24 * time.Hour,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
	}
}

// Manager 包装 Redis 客户端，统一键前缀、JSON 编解码与关闭语义
type Manager struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewManager 连接 Redis 并 Ping 一次，失败时返回错误
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cache")),
	}
	m.logger.Info("redis connected",
		zap.String("addr", cfg.Addr),
		zap.String("key_prefix", cfg.KeyPrefix),
	)
	return m, nil
}

// Key 以冒号拼接各段并加上前缀
func (m *Manager) Key(parts ...string) string {
	return m.cfg.KeyPrefix + strings.Join(parts, ":")
}

// guard 在未关闭时执行 fn
func (m *Manager) guard(fn func(c *redis.Client) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(m.client)
}

func (m *Manager) ttl(d time.Duration) time.Duration {
	if d == 0 {
		return m.cfg.DefaultTTL
	}
	return d
}

// GetJSON 读取并解码；键不存在时返回 ErrCacheMiss
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	var raw []byte
	err := m.guard(func(c *redis.Client) error {
		var err error
		raw, err = c.Get(ctx, key).Bytes()
		return err
	})
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON 编码后写入，ttl 为 0 时使用默认过期时间
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	err = m.guard(func(c *redis.Client) error {
		return c.Set(ctx, key, data, m.ttl(ttl)).Err()
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return err
}

// Record 在一个事务管道里写入最新值并把它压入定长历史列表。
// keep<=0 时不裁剪列表，ttl 为 0 时使用默认过期时间。
func (m *Manager) Record(ctx context.Context, latestKey, listKey string, value any, keep int64, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", latestKey, err)
	}
	ttl = m.ttl(ttl)

	err = m.guard(func(c *redis.Client) error {
		_, err := c.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, latestKey, data, ttl)
			p.LPush(ctx, listKey, data)
			if keep > 0 {
				p.LTrim(ctx, listKey, 0, keep-1)
			}
			if ttl > 0 {
				p.Expire(ctx, listKey, ttl)
			}
			return nil
		})
		return err
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		m.logger.Error("cache record failed", zap.String("key", latestKey), zap.Error(err))
		return fmt.Errorf("cache record %s: %w", latestKey, err)
	}
	return err
}

// Range 读取列表 [start, stop] 区间的原始 JSON，最新的在前
func (m *Manager) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var vals []string
	err := m.guard(func(c *redis.Client) error {
		var err error
		vals, err = c.LRange(ctx, key, start, stop).Result()
		return err
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		return nil, fmt.Errorf("cache range %s: %w", key, err)
	}
	return vals, err
}

// Delete 删除若干键
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return m.guard(func(c *redis.Client) error {
		return c.Del(ctx, keys...).Err()
	})
}

// Ping 检查连接，可直接作为健康检查函数
func (m *Manager) Ping(ctx context.Context) error {
	return m.guard(func(c *redis.Client) error {
		return c.Ping(ctx).Err()
	})
}

// Close 关闭客户端，可重复调用
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("redis connection closed")
	return m.client.Close()
}
