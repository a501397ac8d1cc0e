package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/aura/api/handlers"
	"github.com/BaSui01/aura/companion/profile"
	"github.com/BaSui01/aura/companion/score"
	"github.com/BaSui01/aura/companion/session"
	"github.com/BaSui01/aura/companion/snapshot"
	"github.com/BaSui01/aura/config"
	"github.com/BaSui01/aura/internal/cache"
	"github.com/BaSui01/aura/internal/database"
	"github.com/BaSui01/aura/internal/metrics"
	"github.com/BaSui01/aura/internal/migration"
	"github.com/BaSui01/aura/internal/server"
	"github.com/BaSui01/aura/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 Aura 的主服务器
type Server struct {
	cfg        *config.Config
	loader     *config.Loader
	configPath string
	level      zap.AtomicLevel
	logger     *zap.Logger
	telemetry  *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler  *handlers.HealthHandler
	sessionHandler *handlers.SessionHandler

	metricsCollector *metrics.Collector
	session          *session.Session
	watcher          *config.Watcher

	// 快照存储
	pool        *database.Pool
	cache       *cache.Manager
	mongoClient *mongo.Client

	// 后台 goroutine（限流清理、上游语音连接）的生命周期
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
}

// NewServer 创建新的服务器实例，configPath 非空时启用配置热更新
func NewServer(cfg *config.Config, loader *config.Loader, configPath string, level zap.AtomicLevel, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:              cfg,
		loader:           loader,
		configPath:       configPath,
		level:            level,
		logger:           logger,
		telemetry:        otelProviders,
		metricsCollector: metrics.NewCollector("aura", logger),
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// 1. Handlers 与会话（指标收集器在 NewServer 中创建）
	if err := s.initHandlers(ctx); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 2. 配置热更新
	if err := s.initWatcher(ctx); err != nil {
		return fmt.Errorf("failed to init config watcher: %w", err)
	}

	// 3. HTTP 服务器
	if err := s.startHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 4. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 5. 上游语音连接
	if s.cfg.Voice.URL != "" {
		link := newVoiceLink(s.cfg.Voice, s.session, s.metricsCollector, s.logger)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			link.Run(ctx)
		}()
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.watcher != nil),
		zap.Bool("voice_upstream", s.cfg.Voice.URL != ""),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers 初始化快照存储、会话和 handlers
func (s *Server) initHandlers(ctx context.Context) error {
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	syncer, err := s.initSnapshots(ctx)
	if err != nil {
		return err
	}

	sessCfg, err := sessionConfig(s.cfg.Companion)
	if err != nil {
		return err
	}
	opts := []session.Option{
		session.WithLogger(s.logger),
		session.WithRecorder(s.metricsCollector),
	}
	if syncer != nil {
		opts = append(opts, session.WithSnapshotSyncer(syncer))
	}
	s.session, err = session.New(sessCfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	s.healthHandler.RegisterCheck(handlers.NewCheck("session", s.session.Ping))

	s.sessionHandler = handlers.NewSessionHandler(s.session, s.logger,
		handlers.WithOriginPatterns(s.cfg.Server.CORSAllowedOrigins),
		handlers.WithConnectionRecorder(s.metricsCollector),
	)

	s.logger.Info("Handlers initialized", zap.String("session_id", s.session.ID()))
	return nil
}

// sessionConfig 把配置文件中的会话段转换为 session.Config
func sessionConfig(c config.CompanionConfig) (session.Config, error) {
	cfg := session.DefaultConfig()
	if c.Variant != "" {
		cfg.Variant = session.Variant(c.Variant)
	}
	if c.HistoryCapacity > 0 {
		cfg.HistoryCapacity = c.HistoryCapacity
	}
	if c.TranscriptLimit > 0 {
		cfg.TranscriptLimit = c.TranscriptLimit
	}
	if c.AlertTimeout > 0 {
		cfg.AlertTimeout = c.AlertTimeout
	}
	if c.Calibration != (config.CalibrationConfig{}) {
		cfg.Calibration = score.Calibration{
			Multiplier:       c.Calibration.Multiplier,
			DampingThreshold: c.Calibration.DampingThreshold,
			DampingFactor:    c.Calibration.DampingFactor,
		}
	}
	if len(c.WeightOverrides) > 0 {
		cfg.WeightOverrides = make(map[string]score.WeightTable, len(c.WeightOverrides))
		for axis, weights := range c.WeightOverrides {
			cfg.WeightOverrides[axis] = score.WeightTable(weights)
		}
	}
	if c.ProfilePath != "" {
		p, err := profile.Load(c.ProfilePath)
		if err != nil {
			return cfg, fmt.Errorf("failed to load profile: %w", err)
		}
		cfg.Profile = &p
	}
	return cfg, nil
}

// migrateSnapshots 把快照表迁移到最新版本
func (s *Server) migrateSnapshots(ctx context.Context) error {
	m, err := migration.NewMigratorFromDatabaseConfig(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.EnsureLatest(ctx)
}

// initSnapshots 按配置连接快照存储，未启用时返回 nil
func (s *Server) initSnapshots(ctx context.Context) (*snapshot.Syncer, error) {
	sc := s.cfg.Snapshot
	if !sc.Enabled {
		return nil, nil
	}

	var sinks []snapshot.Sink

	if sc.Uses("sql") {
		if s.cfg.Database.AutoMigrate {
			if err := s.migrateSnapshots(ctx); err != nil {
				return nil, fmt.Errorf("snapshot sql sink: %w", err)
			}
		}
		db, err := database.Open(s.cfg.Database.Driver, s.cfg.Database.DSN(), s.logger)
		if err != nil {
			return nil, fmt.Errorf("snapshot sql sink: %w", err)
		}
		pc := database.DefaultPoolConfig()
		pc.MaxOpenConns = s.cfg.Database.MaxOpenConns
		pc.MaxIdleConns = s.cfg.Database.MaxIdleConns
		pc.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime
		pc.ConnMaxIdleTime = s.cfg.Database.ConnMaxLifetime / 2
		pool, err := database.NewPool(db, pc, s.logger)
		if err != nil {
			return nil, fmt.Errorf("snapshot sql sink: %w", err)
		}
		driver := s.cfg.Database.Driver
		pool.OnStats(func(st sql.DBStats) {
			s.metricsCollector.RecordDBConnections(driver, st.OpenConnections, st.Idle)
		})
		s.pool = pool
		s.healthHandler.RegisterCheck(handlers.NewOptionalCheck("database", pool.Ping))
		sinks = append(sinks, snapshot.NewGormSink(pool.DB(), snapshot.WithTransactor(pool)))
	}

	if sc.Uses("redis") {
		cc := cache.DefaultConfig()
		cc.Addr = s.cfg.Redis.Addr
		cc.Password = s.cfg.Redis.Password
		cc.DB = s.cfg.Redis.DB
		cc.KeyPrefix = s.cfg.Redis.KeyPrefix
		cc.DefaultTTL = sc.RedisTTL
		if s.cfg.Redis.PoolSize > 0 {
			cc.PoolSize = s.cfg.Redis.PoolSize
		}
		cc.MinIdleConns = s.cfg.Redis.MinIdleConns
		mgr, err := cache.NewManager(cc, s.logger)
		if err != nil {
			return nil, fmt.Errorf("snapshot redis sink: %w", err)
		}
		s.cache = mgr
		s.healthHandler.RegisterCheck(handlers.NewOptionalCheck("redis", mgr.Ping))
		sinks = append(sinks, snapshot.NewRedisSink(mgr, int(sc.RedisHistory), sc.RedisTTL))
	}

	if sc.Uses("mongo") {
		connectCtx := ctx
		if s.cfg.Mongo.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			connectCtx, cancel = context.WithTimeout(ctx, s.cfg.Mongo.ConnectTimeout)
			defer cancel()
		}
		client, coll, err := snapshot.ConnectMongo(connectCtx, s.cfg.Mongo.URI, s.cfg.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("snapshot mongo sink: %w", err)
		}
		s.mongoClient = client
		s.healthHandler.RegisterCheck(handlers.NewOptionalCheck("mongo", func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		}))
		sinks = append(sinks, snapshot.NewMongoSink(coll))
	}

	sink := snapshot.NewMultiSink(sinks...)
	if sink == nil {
		s.logger.Warn("snapshot sync enabled without any sink", zap.Strings("sinks", sc.Sinks))
		return nil, nil
	}
	s.logger.Info("Snapshot sync enabled",
		zap.String("sink", sink.Name()),
		zap.Duration("interval", sc.Interval))
	return snapshot.NewSyncer(sink,
		snapshot.WithInterval(sc.Interval),
		snapshot.WithSaveTimeout(sc.SaveTimeout),
		snapshot.WithLogger(s.logger),
		snapshot.WithRecorder(s.metricsCollector),
	), nil
}

// initWatcher 监听配置文件。日志级别与评分标定即时生效，其余字段需要重启。
func (s *Server) initWatcher(ctx context.Context) error {
	if s.configPath == "" {
		return nil
	}
	w, err := config.NewWatcher(s.loader, config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	w.OnReload(s.applyReload)
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

func (s *Server) applyReload(next *config.Config) {
	level, err := zapcore.ParseLevel(next.Log.Level)
	if err != nil {
		s.logger.Warn("Ignoring unknown log level", zap.String("level", next.Log.Level))
	} else if level != s.level.Level() {
		s.level.SetLevel(level)
		s.logger.Info("Log level changed", zap.String("level", level.String()))
	}
	if s.session != nil && next.Companion.Calibration != (config.CalibrationConfig{}) {
		s.session.Recalibrate(score.Calibration{
			Multiplier:       next.Companion.Calibration.Multiplier,
			DampingThreshold: next.Companion.Calibration.DampingThreshold,
			DampingFactor:    next.Companion.Calibration.DampingFactor,
		})
	}
	if next.Companion.Variant != s.cfg.Companion.Variant ||
		next.Server.HTTPPort != s.cfg.Server.HTTPPort ||
		next.Voice.URL != s.cfg.Voice.URL {
		s.logger.Warn("Configuration change requires restart")
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册全部路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 会话 API
	h := s.sessionHandler
	mux.HandleFunc("GET /api/v1/session", h.HandleState)
	mux.HandleFunc("GET /api/v1/session/history", h.HandleHistory)
	mux.HandleFunc("POST /api/v1/session/events", h.HandleEvent)
	mux.HandleFunc("POST /api/v1/session/reset", h.HandleReset)
	mux.HandleFunc("GET /api/v1/tasks", h.HandleListTasks)
	mux.HandleFunc("POST /api/v1/tasks", h.HandleAddTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/{action}", h.HandleTaskAction)
	mux.HandleFunc("GET /api/v1/intervention", h.HandleIntervention)
	mux.HandleFunc("POST /api/v1/intervention/clear", h.HandleClearIntervention)

	// 语音中继
	mux.HandleFunc("GET /ws/session", h.HandleWebSocket)
	return mux
}

// handler 组装中间件链
func (s *Server) handler(ctx context.Context) (http.Handler, error) {
	sc := s.cfg.Server
	auth, err := Auth(AuthConfig{
		Public:     []string{"/health", "/healthz", "/ready", "/readyz", "/version"},
		APIKeys:    sc.APIKeys,
		JWT:        sc.JWT,
		AllowQuery: sc.AllowQueryAPIKey,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	return Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		Tracing(),
		Observe(s.logger, s.metricsCollector),
		CORS(sc.CORSAllowedOrigins),
		auth,
		RateLimiter(ctx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger),
	), nil
}

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer(ctx context.Context) error {
	serverConfig := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		CertFile:        s.cfg.Server.TLSCertFile,
		KeyFile:         s.cfg.Server.TLSKeyFile,
	}

	h, err := s.handler(ctx)
	if err != nil {
		return fmt.Errorf("build middleware: %w", err)
	}
	s.httpManager = server.NewManager(h, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started",
		zap.Int("port", s.cfg.Server.HTTPPort),
		zap.Bool("tls", serverConfig.TLS()),
	)
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metricsCollector.Handler())

	serverConfig := server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown(context.Background())
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务，可重复调用
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. 停止配置监听
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Error("Config watcher shutdown error", zap.Error(err))
		}
	}

	// 2. 停止上游连接与限流清理
	if s.cancel != nil {
		s.cancel()
	}

	// 3. 关闭 HTTP 与 Metrics 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	s.wg.Wait()

	// 4. 关闭会话，最后一次快照在此之前已经写出
	if s.session != nil {
		if err := s.session.Close(); err != nil {
			s.logger.Error("Session close error", zap.Error(err))
		}
	}

	// 5. 关闭快照存储
	var errs []error
	if s.pool != nil {
		errs = append(errs, s.pool.Close())
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.mongoClient != nil {
		errs = append(errs, s.mongoClient.Disconnect(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Snapshot store shutdown error", zap.Error(err))
	}

	// 6. 刷新遥测
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Shutdown complete")
}
