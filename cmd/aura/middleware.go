package main

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/aura/internal/metrics"
	"github.com/BaSui01/aura/types"
)

// Middleware 包装一个 http.Handler
type Middleware func(http.Handler) http.Handler

// Chain 依次包装，第一个中间件位于最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// =============================================================================
// 📦 响应记录
// =============================================================================

// recorder 记下状态码与写出字节数。
// /ws/session 升级时需要 Hijack，其余能力经 Unwrap 交给 http.ResponseController。
type recorder struct {
	http.ResponseWriter
	status   int
	written  int64
	upgraded bool
}

func record(w http.ResponseWriter) *recorder {
	if rec, ok := w.(*recorder); ok {
		return rec
	}
	return &recorder{ResponseWriter: w}
}

// code 未显式写头时按 200 计
func (w *recorder) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *recorder) WriteHeader(code int) {
	if w.status != 0 {
		return
	}
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *recorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

func (w *recorder) Flush() {
	_ = http.NewResponseController(w.ResponseWriter).Flush()
}

func (w *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err != nil {
		return nil, nil, err
	}
	w.upgraded = true
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, nil
}

func (w *recorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// =============================================================================
// 🛡️ 基础中间件
// =============================================================================

// Recovery 把 handler 的 panic 转成 500，http.ErrAbortHandler 继续向上抛
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("handler panicked",
					zap.Any("panic", v),
					zap.String("route", routeLabel(r.URL.Path)),
					zap.Stack("stack"))
				writeJSONError(w, http.StatusInternalServerError, types.ErrInternalError, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

const maxRequestIDLen = 128

// RequestID 沿用调用方的 X-Request-ID，缺失或过长时生成新的
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > maxRequestIDLen {
				id = "req-" + uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
		})
	}
}

var securityHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	// 麦克风只给同源页面
	{"Permissions-Policy", "microphone=(self), camera=()"},
}

// SecurityHeaders 给所有响应加安全头。API 只返回 JSON，CSP 一律 none。
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range securityHeaders {
				h.Set(kv[0], kv[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS 只回显白名单里的 Origin。白名单为空时不输出任何 CORS 头，
// 预检请求来自非白名单 Origin 时返回 403。
func CORS(allowedOrigins []string) Middleware {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			ok := allowed[origin]
			if ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key, X-Request-ID")
				h.Set("Access-Control-Max-Age", "600")
				h.Add("Vary", "Origin")
			}

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			switch {
			case !preflight:
				next.ServeHTTP(w, r)
			case origin != "" && !ok:
				w.WriteHeader(http.StatusForbidden)
			default:
				w.WriteHeader(http.StatusNoContent)
			}
		})
	}
}

// =============================================================================
// 📊 观测
// =============================================================================

// Observe 每个请求写一条访问日志并记录 HTTP 指标。collector 为 nil 时只写日志。
func Observe(logger *zap.Logger, collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)
			route := routeLabel(r.URL.Path)

			if collector != nil {
				collector.RecordHTTPRequest(r.Method, route, rec.code(), elapsed, max(r.ContentLength, 0), rec.written)
			}

			fields := make([]zap.Field, 0, 7)
			fields = append(fields,
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", rec.code()),
				zap.Duration("duration", elapsed),
				zap.String("remote_addr", r.RemoteAddr),
			)
			if id, ok := types.RequestID(r.Context()); ok {
				fields = append(fields, zap.String("request_id", id))
			}
			if rec.upgraded {
				// 语音会话的访问日志在连接关闭后才写出
				fields = append(fields, zap.Bool("websocket", true))
			}
			logger.Info("request", fields...)
		})
	}
}

// Tracing 每个请求一个 server span，上游的 traceparent 作为父 span
func Tracing() Middleware {
	tracer := otel.Tracer("aura/http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			route := routeLabel(r.URL.Path)
			ctx, span := tracer.Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
				),
			)
			defer span.End()

			rec := record(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.code()))
			if id, ok := types.RequestID(ctx); ok {
				span.SetAttributes(attribute.String("aura.request_id", id))
			}
		})
	}
}

// staticRoutes 不含路径参数的路由，原样作为标签
var staticRoutes = map[string]bool{
	"/health": true, "/healthz": true, "/ready": true, "/readyz": true,
	"/version": true, "/metrics": true, "/ws/session": true,
	"/api/v1/session": true, "/api/v1/session/history": true,
	"/api/v1/session/events": true, "/api/v1/session/reset": true,
	"/api/v1/tasks": true, "/api/v1/intervention": true,
	"/api/v1/intervention/clear": true,
}

// idSegment 数字、UUID 或较长的十六进制串
var idSegment = regexp.MustCompile(`^(?:[0-9]+|[0-9a-fA-F]{8,}(?:-[0-9a-fA-F]{4,}){0,4})$`)

// routeLabel 把路径里的 id 段折叠成 :id，控制指标与 span 名的基数：
//
//	/api/v1/tasks/3/complete -> /api/v1/tasks/:id/complete
func routeLabel(path string) string {
	if staticRoutes[path] {
		return path
	}
	var b strings.Builder
	b.Grow(len(path))
	for i, seg := range strings.Split(path, "/") {
		if i > 0 {
			b.WriteByte('/')
		}
		if seg != "" && idSegment.MatchString(seg) {
			seg = ":id"
		}
		b.WriteString(seg)
	}
	return b.String()
}

// writeJSONError 与 handlers 相同的错误信封
func writeJSONError(w http.ResponseWriter, status int, code types.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"success":false,"error":{"code":%q,"message":%q}}`, string(code), message)
}
