package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aura/internal/tlsutil"
)

// =============================================================================
// 🌐 HTTP 监听管理
// =============================================================================

// Config 单个监听端口的配置
type Config struct {
	// Name 出现在日志中，区分 api 与 metrics 等端口
	Name string `yaml:"name" json:"name"`
	Addr string `yaml:"addr" json:"addr"`

	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// CertFile 与 KeyFile 同时配置时以 HTTPS 提供服务
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// DefaultConfig 默认配置。WriteTimeout 只约束普通请求，websocket 劫持后不受影响。
func DefaultConfig() Config {
	return Config{
		Name:            "http",
		Addr:            ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

// TLS 是否以 HTTPS 提供服务
func (c Config) TLS() bool { return c.CertFile != "" || c.KeyFile != "" }

// Manager 管理一个 http.Server 的监听、服务与关闭
type Manager struct {
	cfg    Config
	srv    *http.Server
	logger *zap.Logger

	// 所有请求 context 的根。http.Server.Shutdown 不管被劫持的连接，
	// websocket 中继靠它的取消退出。
	base       context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	closed   bool

	failed chan error
}

// NewManager 创建 Manager，不监听
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	base, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "server"), zap.String("listener", cfg.Name)),
		base:       base,
		cancelBase: cancel,
		failed:     make(chan error, 1),
	}
	m.srv = &http.Server{
		Addr:           cfg.Addr,
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		BaseContext:    func(net.Listener) context.Context { return m.base },
	}
	return m
}

// Start 监听并在后台提供服务。配置了证书时走 HTTPS。
func (m *Manager) Start() error {
	var kp *tlsutil.Keypair
	if m.cfg.TLS() {
		if m.cfg.CertFile == "" || m.cfg.KeyFile == "" {
			return errors.New("tls requires both cert_file and key_file")
		}
		var err error
		if kp, err = tlsutil.LoadKeypair(m.cfg.CertFile, m.cfg.KeyFile, m.logger); err != nil {
			return err
		}
	}

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return errors.New("server is closed")
	case m.listener != nil:
		m.mu.Unlock()
		return errors.New("server already started")
	}
	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("listen %s: %w", m.cfg.Addr, err)
	}
	m.listener = ln
	m.mu.Unlock()

	serve := func() error { return m.srv.Serve(ln) }
	if kp != nil {
		m.srv.TLSConfig = tlsutil.ServerConfig(kp)
		serve = func() error { return m.srv.ServeTLS(ln, "", "") }
	}

	m.logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.Bool("tls", m.cfg.TLS()))
	go func() {
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("serve failed", zap.Error(err))
			select {
			case m.failed <- err:
			default:
			}
		}
	}()
	return nil
}

// ListenAddr 实际监听地址，未启动时为空。端口配置为 0 时用它取得随机端口。
func (m *Manager) ListenAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Failed 服务异常退出时收到错误
func (m *Manager) Failed() <-chan error { return m.failed }

// Shutdown 先取消请求根 context，再排空普通请求。可重复调用。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("shutting down")
	m.cancelBase()

	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := m.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown %s: %w", m.cfg.Name, err)
	}
	m.logger.Info("stopped")
	return nil
}

// WaitForShutdown 阻塞直到收到 SIGINT/SIGTERM、ctx 取消或服务异常退出，然后关闭
func (m *Manager) WaitForShutdown(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		m.logger.Info("shutdown requested")
	case err := <-m.failed:
		m.logger.Error("server exited unexpectedly", zap.Error(err))
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown error", zap.Error(err))
	}
}
