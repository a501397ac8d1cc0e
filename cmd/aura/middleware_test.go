package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/aura/config"
	"github.com/BaSui01/aura/internal/metrics"
	"github.com/BaSui01/aura/types"
)

func testCollector() *metrics.Collector {
	return metrics.NewCollector("aura_test", zap.NewNop())
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(SecurityHeaders()(okHandler()), httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Equal(t, "microphone=(self), camera=()", w.Header().Get("Permissions-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = types.RequestID(r.Context())
	})
	handler := RequestID()(inner)

	t.Run("generated", func(t *testing.T) {
		w := serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))
		assert.True(t, strings.HasPrefix(w.Header().Get("X-Request-ID"), "req-"))
		assert.Equal(t, w.Header().Get("X-Request-ID"), seen)
	})

	t.Run("preserved", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
		r.Header.Set("X-Request-ID", "abc")
		w := serve(handler, r)
		assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
		assert.Equal(t, "abc", seen)
	})

	t.Run("oversized replaced", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
		r.Header.Set("X-Request-ID", strings.Repeat("x", maxRequestIDLen+1))
		w := serve(handler, r)
		assert.True(t, strings.HasPrefix(w.Header().Get("X-Request-ID"), "req-"))
	})
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INTERNAL_ERROR"`)

	abort := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		serve(abort, httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/v1/session", "/api/v1/session"},
		{"/ws/session", "/ws/session"},
		{"/api/v1/tasks/3/complete", "/api/v1/tasks/:id/complete"},
		{"/api/v1/tasks/550e8400-e29b-41d4-a716-446655440000/postpone", "/api/v1/tasks/:id/postpone"},
		{"/api/v1/tasks/homework/delete", "/api/v1/tasks/homework/delete"},
		{"/api/v1/tasks/7/", "/api/v1/tasks/:id/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, routeLabel(tt.in), tt.in)
	}
}

func TestObserve(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	})
	collector := testCollector()
	handler := Chain(inner, RequestID(), Observe(zap.New(core), collector))

	serve(handler, httptest.NewRequest(http.MethodPost, "/api/v1/tasks/42/complete", nil))

	scrape := serve(collector.Handler(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(),
		`aura_test_http_requests_total{method="POST",route="/api/v1/tasks/:id/complete",status="2xx"} 1`)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/v1/tasks/:id/complete", fields["route"])
	assert.EqualValues(t, http.StatusAccepted, fields["status"])
	assert.NotEmpty(t, fields["request_id"])

	// 没有 collector 时照常记日志
	serve(Observe(zap.New(core), nil)(okHandler()), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, 2, logs.FilterMessage("request").Len())
}

func TestAuth_Disabled(t *testing.T) {
	mw, err := Auth(AuthConfig{}, zap.NewNop())
	require.NoError(t, err)
	w := serve(mw(okHandler()), httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_APIKey(t *testing.T) {
	mw, err := Auth(AuthConfig{Public: []string{"/health"}, APIKeys: []string{"k1", "k2"}, AllowQuery: true}, zap.NewNop())
	require.NoError(t, err)
	handler := mw(okHandler())

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"public path", "/health", "", http.StatusOK},
		{"missing", "/api/v1/session", "", http.StatusUnauthorized},
		{"wrong", "/api/v1/session", "nope", http.StatusUnauthorized},
		{"header", "/api/v1/session", "k1", http.StatusOK},
		{"second key", "/api/v1/session", "k2", http.StatusOK},
		{"query", "/ws/session?api_key=k1", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				r.Header.Set("X-API-Key", tt.header)
			}
			assert.Equal(t, tt.want, serve(handler, r).Code)
		})
	}

	strict, err := Auth(AuthConfig{APIKeys: []string{"k1"}}, zap.NewNop())
	require.NoError(t, err)
	w := serve(strict(okHandler()), httptest.NewRequest(http.MethodGet, "/ws/session?api_key=k1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuth_JWT(t *testing.T) {
	var user string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ = types.UserID(r.Context())
	})
	mw, err := Auth(AuthConfig{
		Public:     []string{"/health"},
		JWT:        config.JWTConfig{Secret: "s3cret", Issuer: "aura"},
		AllowQuery: true,
	}, zap.NewNop())
	require.NoError(t, err)
	handler := mw(inner)

	exp := time.Now().Add(time.Hour).Unix()

	t.Run("user_id claim", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
		r.Header.Set("Authorization", "Bearer "+signHS256(t, "s3cret", jwt.MapClaims{"user_id": "u1", "iss": "aura", "exp": exp}))
		assert.Equal(t, http.StatusOK, serve(handler, r).Code)
		assert.Equal(t, "u1", user)
	})

	t.Run("subject via query", func(t *testing.T) {
		token := signHS256(t, "s3cret", jwt.MapClaims{"sub": "u2", "iss": "aura", "exp": exp})
		r := httptest.NewRequest(http.MethodGet, "/ws/session?access_token="+token, nil)
		assert.Equal(t, http.StatusOK, serve(handler, r).Code)
		assert.Equal(t, "u2", user)
	})

	t.Run("rejected", func(t *testing.T) {
		cases := map[string]string{
			"missing":      "",
			"bad secret":   "Bearer " + signHS256(t, "other", jwt.MapClaims{"user_id": "u1", "iss": "aura", "exp": exp}),
			"wrong issuer": "Bearer " + signHS256(t, "s3cret", jwt.MapClaims{"user_id": "u1", "iss": "x", "exp": exp}),
			"expired":      "Bearer " + signHS256(t, "s3cret", jwt.MapClaims{"user_id": "u1", "iss": "aura", "exp": time.Now().Add(-time.Hour).Unix()}),
			"no exp":       "Bearer " + signHS256(t, "s3cret", jwt.MapClaims{"user_id": "u1", "iss": "aura"}),
		}
		for name, auth := range cases {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
			if auth != "" {
				r.Header.Set("Authorization", auth)
			}
			assert.Equal(t, http.StatusUnauthorized, serve(handler, r).Code, name)
		}
	})

	t.Run("public path", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(handler, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	})
}

func TestAuth_RS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	mw, err := Auth(AuthConfig{JWT: config.JWTConfig{PublicKey: pemKey}}, zap.NewNop())
	require.NoError(t, err)
	handler := mw(okHandler())

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "elder-1", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(key)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	r.Header.Set("Authorization", "Bearer "+signed)
	assert.Equal(t, http.StatusOK, serve(handler, r).Code)

	// 只配置了公钥时 HS256 令牌不被接受
	r = httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	r.Header.Set("Authorization", "Bearer "+signHS256(t, "x", jwt.MapClaims{"sub": "a", "exp": time.Now().Add(time.Hour).Unix()}))
	assert.Equal(t, http.StatusUnauthorized, serve(handler, r).Code)

	_, err = Auth(AuthConfig{JWT: config.JWTConfig{PublicKey: "not a pem"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 1, 1, zap.NewNop())(okHandler())

	do := func(remote, user string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
		r.RemoteAddr = remote
		if user != "" {
			r = r.WithContext(types.WithUserID(r.Context(), user))
		}
		return serve(handler, r)
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1234", "").Code)
	limited := do("10.0.0.1:5678", "")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1234", "").Code)

	// 同一 IP 上的不同用户分别计数
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1234", "alice").Code)
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1234", "bob").Code)
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1234", "alice").Code)

	unlimited := RateLimiter(ctx, 0, 0, zap.NewNop())(okHandler())
	for range 5 {
		assert.Equal(t, http.StatusOK, serve(unlimited, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
}

func TestLimiterSet_Sweep(t *testing.T) {
	set := newLimiterSet(1, 1)
	now := time.Now()

	assert.True(t, set.allow("ip:a", now.Add(-time.Hour)))
	assert.True(t, set.allow("ip:b", now))
	assert.False(t, set.allow("ip:b", now))

	assert.Equal(t, 1, set.sweep(now, limiterIdleTTL))
	assert.True(t, set.allow("ip:a", now))
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://app.example"})(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	r.Header.Set("Origin", "https://app.example")
	assert.Equal(t, "https://app.example", serve(handler, r).Header().Get("Access-Control-Allow-Origin"))

	preflight := func(origin string) int {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/session/events", nil)
		r.Header.Set("Origin", origin)
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		return serve(handler, r).Code
	}
	assert.Equal(t, http.StatusNoContent, preflight("https://app.example"))
	assert.Equal(t, http.StatusForbidden, preflight("https://evil.example"))

	r = httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	r.Header.Set("Origin", "https://evil.example")
	assert.Empty(t, serve(handler, r).Header().Get("Access-Control-Allow-Origin"))
}

func TestMiddlewareChain_WebSocketUpgrade(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = c.Write(r.Context(), websocket.MessageText, []byte("hello"))
		_ = c.Close(websocket.StatusNormalClosure, "")
	})
	core, logs := observer.New(zapcore.InfoLevel)
	handler := Chain(inner,
		Recovery(zap.NewNop()),
		RequestID(),
		Tracing(),
		Observe(zap.New(core), testCollector()),
	)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer c.CloseNow()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// 继续读取以应答服务端的关闭握手，handler 才会返回
	_, _, err = c.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	assert.Eventually(t, func() bool {
		for _, e := range logs.FilterMessage("request").All() {
			if e.ContextMap()["websocket"] == true {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}
