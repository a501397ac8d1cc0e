package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 🗄️ 快照库连接池
// =============================================================================

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("database pool is closed")

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// StatsInterval 探活并上报连接统计的间隔，0 表示不启动
	StatsInterval time.Duration `yaml:"stats_interval" json:"stats_interval"`

	// TxAttempts 事务最多尝试次数（含首次），小于 1 按 1 处理
	TxAttempts int `yaml:"tx_attempts" json:"tx_attempts"`
	// TxBackoff 首次重试前的等待，之后每次翻倍
	TxBackoff time.Duration `yaml:"tx_backoff" json:"tx_backoff"`
}

// DefaultPoolConfig 快照写入量很小，连接数保守
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		StatsInterval:   30 * time.Second,
		TxAttempts:      3,
		TxBackoff:       100 * time.Millisecond,
	}
}

// Validate 校验连接池配置
func (c PoolConfig) Validate() error {
	switch {
	case c.MaxOpenConns <= 0:
		return fmt.Errorf("max_open_conns must be positive, got %d", c.MaxOpenConns)
	case c.MaxIdleConns <= 0:
		return fmt.Errorf("max_idle_conns must be positive, got %d", c.MaxIdleConns)
	case c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("max_idle_conns (%d) cannot exceed max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// StatsFunc 每次探活成功后收到一份连接统计
type StatsFunc func(sql.DBStats)

// Pool 持有 GORM 实例与底层 sql.DB，负责探活、统计与带重试的事务
type Pool struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	cfg    PoolConfig
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	onStats StatsFunc

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPool 应用连接池参数并启动统计循环
func NewPool(db *gorm.DB, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TxAttempts < 1 {
		cfg.TxAttempts = 1
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	p := &Pool{
		db:     db,
		sqlDB:  sqlDB,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "db_pool")),
		stop:   make(chan struct{}),
	}
	if cfg.StatsInterval > 0 {
		p.wg.Add(1)
		go p.statsLoop()
	}

	p.logger.Info("database pool ready",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Int("tx_attempts", cfg.TxAttempts),
	)
	return p, nil
}

// DB GORM 实例
func (p *Pool) DB() *gorm.DB { return p.db }

// OnStats 注册统计回调
func (p *Pool) OnStats(fn StatsFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStats = fn
}

// Ping 探活，可直接作为健康检查函数
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	return p.sqlDB.PingContext(ctx)
}

// Stats 底层连接统计
func (p *Pool) Stats() sql.DBStats { return p.sqlDB.Stats() }

// Transact 在事务中执行 fn。死锁、序列化失败、断连等瞬时错误按指数退避重试。
func (p *Pool) Transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	wait := p.cfg.TxBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = p.transactOnce(ctx, fn); err == nil || !Retryable(err) || attempt >= p.cfg.TxAttempts {
			break
		}

		p.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	if err != nil && p.cfg.TxAttempts > 1 && Retryable(err) {
		return fmt.Errorf("transaction failed after %d attempts: %w", p.cfg.TxAttempts, err)
	}
	return err
}

func (p *Pool) transactOnce(ctx context.Context, fn func(tx *gorm.DB) error) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	return p.db.WithContext(ctx).Transaction(fn)
}

// Close 停止统计循环并关闭连接，可重复调用
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("database pool closed")
	return p.sqlDB.Close()
}

func (p *Pool) statsLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.probe()
		}
	}
}

func (p *Pool) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		p.logger.Error("database probe failed", zap.Error(err))
		return
	}
	stats := p.Stats()
	p.logger.Debug("database probe ok",
		zap.Int("open", stats.OpenConnections),
		zap.Int("in_use", stats.InUse),
		zap.Int("idle", stats.Idle),
	)

	p.mu.RLock()
	hook := p.onStats
	p.mu.RUnlock()
	if hook != nil {
		hook(stats)
	}
}

// transientMarkers 各驱动瞬时错误的文本特征（小写）
var transientMarkers = []string{
	"deadlock",
	"serialization failure",
	"sqlstate 40001",
	"database is locked",
	"lock wait timeout",
	"connection reset",
	"connection refused",
	"broken pipe",
}

// Retryable 判断事务错误是否值得重试
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrPoolClosed) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
