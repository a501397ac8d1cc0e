package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 Collector
// =============================================================================

// Collector 持有私有 Registry，同一进程（包括测试）可以创建多个
type Collector struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	httpBytes    *prometheus.HistogramVec // direction=in|out

	events     *prometheus.CounterVec
	scoreLast  *prometheus.GaugeVec
	scoreDist  *prometheus.HistogramVec
	voiceConns prometheus.Gauge

	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
	fallbacks   *prometheus.CounterVec

	snapshotSaves   *prometheus.CounterVec
	snapshotLatency *prometheus.HistogramVec

	dbConns *prometheus.GaugeVec // state=open|idle

	logger *zap.Logger
}

var (
	byteBuckets = prometheus.ExponentialBuckets(64, 4, 8)
	toolBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}
)

// NewCollector 注册全部指标以及 Go 运行时、进程指标
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)
	f := promauto.With(reg)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	c := &Collector{
		reg: reg,

		httpRequests: counter("http_requests_total", "HTTP requests by route and status class", "method", "route", "status"),
		httpLatency:  histogram("http_request_duration_seconds", "HTTP request latency", prometheus.DefBuckets, "method", "route"),
		httpBytes:    histogram("http_body_bytes", "HTTP body sizes", byteBuckets, "route", "direction"),

		events:    counter("voice_events_total", "Inbound voice events by type", "type"),
		scoreLast: gauge("score_current", "Latest score per axis", "axis"),
		scoreDist: histogram("score", "Score distribution per axis", prometheus.LinearBuckets(10, 10, 10), "axis"),

		voiceConns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "voice_connections", Help: "Open voice connections",
		}),

		toolCalls:   counter("tool_calls_total", "Agent tool calls", "tool", "handled", "success"),
		toolLatency: histogram("tool_call_duration_seconds", "Tool call handling latency", toolBuckets, "tool"),
		fallbacks:   counter("unrecognized_actions_total", "Task actions that fell back to postpone", "tool", "action"),

		snapshotSaves:   counter("snapshot_saves_total", "Snapshot save attempts", "sink", "status"),
		snapshotLatency: histogram("snapshot_save_duration_seconds", "Snapshot save latency", prometheus.DefBuckets, "sink"),

		dbConns: gauge("db_connections", "Snapshot database pool connections", "database", "state"),

		logger: logger.With(zap.String("component", "metrics")),
	}
	c.logger.Debug("metrics registered", zap.String("namespace", namespace))
	return c
}

// Handler /metrics 端点
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{
		Registry:      c.reg,
		ErrorLog:      zap.NewStdLog(c.logger),
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Gatherer 供测试直接读取
func (c *Collector) Gatherer() prometheus.Gatherer { return c.reg }

// =============================================================================
// 🎯 记录
// =============================================================================

// RecordHTTPRequest route 应当是有界的路由模板而不是原始路径
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration, in, out int64) {
	c.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
	c.httpBytes.WithLabelValues(route, "in").Observe(float64(in))
	c.httpBytes.WithLabelValues(route, "out").Observe(float64(out))
}

func (c *Collector) RecordEvent(kind string) {
	c.events.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordScore(axis string, value int) {
	c.scoreLast.WithLabelValues(axis).Set(float64(value))
	c.scoreDist.WithLabelValues(axis).Observe(float64(value))
}

// RecordConnection delta 为 +1 或 -1
func (c *Collector) RecordConnection(delta int) {
	c.voiceConns.Add(float64(delta))
}

func (c *Collector) RecordToolCall(tool string, handled, success bool, d time.Duration) {
	c.toolCalls.WithLabelValues(tool, strconv.FormatBool(handled), strconv.FormatBool(success)).Inc()
	c.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

func (c *Collector) RecordUnrecognizedAction(tool, raw string) {
	c.fallbacks.WithLabelValues(tool, actionLabel(raw)).Inc()
}

func (c *Collector) RecordSnapshot(sink string, success bool, d time.Duration) {
	status := "ok"
	if !success {
		status = "error"
	}
	c.snapshotSaves.WithLabelValues(sink, status).Inc()
	c.snapshotLatency.WithLabelValues(sink).Observe(d.Seconds())
}

func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConns.WithLabelValues(database, "open").Set(float64(open))
	c.dbConns.WithLabelValues(database, "idle").Set(float64(idle))
}

// =============================================================================
// 🏷️ 标签
// =============================================================================

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

// maxActionLabel 超长或含空白的动作词统一记为 other
const maxActionLabel = 24

// actionLabel agent 给出的动作词是自由文本，收敛成有界标签
func actionLabel(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch {
	case raw == "":
		return "empty"
	case len(raw) > maxActionLabel, strings.ContainsAny(raw, " \t\n"):
		return "other"
	}
	return raw
}
