// =============================================================================
// Aura 主入口
// =============================================================================
// 语音陪伴服务：HTTP API、websocket 中继、上游语音连接、健康检查与 Prometheus 指标
//
//	aura serve --config config.yaml
//	aura migrate up
//	aura health --ready
// =============================================================================

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/aura/config"
	"github.com/BaSui01/aura/internal/telemetry"
)

// 构建时通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aura",
		Short: "Aura - voice companion service",
		Long: `Aura keeps one voice companion session: it scores prosody from the upstream
voice service, routes tool calls to tasks and interventions, and serves the
session over an HTTP API and a websocket relay.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newVersionCmd(), newHealthCmd())
	return root
}

// =============================================================================
// 🖥️ serve
// =============================================================================

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Aura server",
		Long: `Starts the API and metrics listeners and, when voice.url is set, dials the
upstream voice service. Log level and score calibration changes in the config
file take effect without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
	return cmd
}

func runServe(configPath string) error {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Aura",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.String("variant", cfg.Companion.Variant),
	)

	providers, err := telemetry.Init(context.Background(), cfg.Telemetry,
		telemetry.WithVersion(Version),
		telemetry.WithVariant(cfg.Companion.Variant),
		telemetry.WithLogger(logger),
	)
	if err != nil {
		// 没有遥测也能服务
		logger.Warn("telemetry unavailable", zap.Error(err))
	}

	srv := NewServer(cfg, loader, configPath, level, logger, providers)
	if err := srv.Start(); err != nil {
		srv.Shutdown()
		return fmt.Errorf("start server: %w", err)
	}
	srv.WaitForShutdown()
	logger.Info("Aura stopped")
	return nil
}

// =============================================================================
// 🏥 health / version
// =============================================================================

func newHealthCmd() *cobra.Command {
	var (
		addr    string
		ready   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe a running server",
		Long:  "Exits non-zero unless /health (or /ready with --ready) answers 200.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/health"
			if ready {
				path = "/ready"
			}
			return probe(cmd.Context(), cmd.OutOrStdout(), addr+path, timeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "server base URL")
	cmd.Flags().BoolVar(&ready, "ready", false, "run readiness checks instead of liveness")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func probe(ctx context.Context, out io.Writer, url string, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Fprintln(out, "OK")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Aura %s\n  Build Time: %s\n  Git Commit: %s\n", Version, BuildTime, GitCommit)
		},
	}
}

// =============================================================================
// 🔧 日志
// =============================================================================

// initLogger 返回 logger 与级别句柄，配置热更新时通过句柄调整级别。
// 级别写错时按 info 处理。
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	level := zap.NewAtomicLevelAt(lvl)

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "console" {
		zc.Development = true
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}
	zc.DisableCaller = !cfg.EnableCaller
	zc.DisableStacktrace = !cfg.EnableStacktrace
	zc.Sampling = nil

	logger, err := zc.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger, level
}
