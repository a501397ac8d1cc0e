package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 存活与就绪
// =============================================================================

// DefaultReadyTimeout 一次 /ready 的总时限
const DefaultReadyTimeout = 5 * time.Second

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Check 一项就绪检查。Optional 的检查失败只让整体降级为 degraded，仍返回 200。
type Check struct {
	Name     string
	Probe    func(ctx context.Context) error
	Optional bool
}

// NewCheck 必需的检查项
func NewCheck(name string, probe func(ctx context.Context) error) Check {
	return Check{Name: name, Probe: probe}
}

// NewOptionalCheck 可选的检查项，例如快照存储
func NewOptionalCheck(name string, probe func(ctx context.Context) error) Check {
	return Check{Name: name, Probe: probe, Optional: true}
}

// HealthStatus /health 与 /ready 的响应
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单项结果，Status 为 pass / warn / fail
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// HealthHandler 存活、就绪与版本端点
type HealthHandler struct {
	logger  *zap.Logger
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks []Check
}

// NewHealthHandler 创建处理器，logger 可为 nil
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		started: time.Now(),
		timeout: DefaultReadyTimeout,
	}
}

// SetTimeout 修改 /ready 总时限，d<=0 时忽略
func (h *HealthHandler) SetTimeout(d time.Duration) {
	if d > 0 {
		h.mu.Lock()
		h.timeout = d
		h.mu.Unlock()
	}
}

// RegisterCheck 追加检查项
func (h *HealthHandler) RegisterCheck(c Check) {
	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// HandleHealth 进程存活即返回 200，不执行任何检查
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}

// HandleReady 并发执行所有检查。必需项失败返回 503。
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]Check(nil), h.checks...)
	timeout := h.timeout
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = h.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, c := range checks {
		res := results[i]
		report.Checks[c.Name] = res
		switch {
		case res.Status == "fail":
			report.Status = StatusUnhealthy
		case res.Status == "warn" && report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, report)
}

func (h *HealthHandler) run(ctx context.Context, c Check) CheckResult {
	start := time.Now()
	err := c.Probe(ctx)
	res := CheckResult{Status: "pass", Latency: time.Since(start).String()}
	if err == nil {
		return res
	}

	res.Message = err.Error()
	res.Status = "fail"
	if c.Optional {
		res.Status = "warn"
	}
	h.logger.Warn("readiness check failed",
		zap.String("check", c.Name),
		zap.Bool("optional", c.Optional),
		zap.String("latency", res.Latency),
		zap.Error(err),
	)
	return res
}

// HandleVersion 返回构建信息
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, info)
	}
}
