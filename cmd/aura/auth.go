package main

import (
	"crypto/rsa"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/BaSui01/aura/config"
	"github.com/BaSui01/aura/types"
)

// =============================================================================
// 🔐 认证
// =============================================================================

// AuthConfig 认证中间件的配置。APIKeys 为空且 JWT 未启用时中间件直接放行。
type AuthConfig struct {
	// Public 无需认证的路径，例如健康检查
	Public []string

	APIKeys []string
	JWT     config.JWTConfig

	// AllowQuery 允许 ?api_key= 与 ?access_token=，浏览器 websocket 无法设置请求头
	AllowQuery bool
}

var (
	errNoCredential  = errors.New("missing credential")
	errBadCredential = errors.New("invalid credential")
)

// Auth 先校验 API Key，再校验 Bearer 令牌；令牌里的 user_id 或 sub 写入上下文
func Auth(cfg AuthConfig, logger *zap.Logger) (Middleware, error) {
	var verifier *tokenVerifier
	if cfg.JWT.Enabled() {
		v, err := newTokenVerifier(cfg.JWT)
		if err != nil {
			return nil, err
		}
		verifier = v
	}
	public := make(map[string]bool, len(cfg.Public))
	for _, p := range cfg.Public {
		public[p] = true
	}
	keys := make([][]byte, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, []byte(k))
	}

	return func(next http.Handler) http.Handler {
		if len(keys) == 0 && verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if len(keys) > 0 && !matchKey(keys, apiKeyFrom(r, cfg.AllowQuery)) {
				logger.Debug("api key rejected", zap.String("route", routeLabel(r.URL.Path)))
				writeJSONError(w, http.StatusUnauthorized, types.ErrUnauthorized, "invalid or missing API key")
				return
			}

			ctx := r.Context()
			if verifier != nil {
				user, err := verifier.verify(bearerFrom(r, cfg.AllowQuery))
				if err != nil {
					logger.Debug("token rejected", zap.Error(err))
					msg := "invalid or expired token"
					if errors.Is(err, errNoCredential) {
						msg = "missing bearer token"
					}
					writeJSONError(w, http.StatusUnauthorized, types.ErrUnauthorized, msg)
					return
				}
				if user != "" {
					ctx = types.WithUserID(ctx, user)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

func apiKeyFrom(r *http.Request, allowQuery bool) string {
	if k := r.Header.Get("X-API-Key"); k != "" || !allowQuery {
		return k
	}
	return r.URL.Query().Get("api_key")
}

func bearerFrom(r *http.Request, allowQuery bool) string {
	if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return tok
	}
	if allowQuery {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// matchKey 常数时间比较
func matchKey(keys [][]byte, got string) bool {
	if got == "" {
		return false
	}
	found := 0
	for _, k := range keys {
		found |= subtle.ConstantTimeCompare(k, []byte(got))
	}
	return found == 1
}

// tokenVerifier 校验 HS256 / RS256 令牌
type tokenVerifier struct {
	secret []byte
	pub    *rsa.PublicKey
	parser *jwt.Parser
}

func newTokenVerifier(cfg config.JWTConfig) (*tokenVerifier, error) {
	v := &tokenVerifier{secret: []byte(cfg.Secret)}
	methods := make([]string, 0, 2)
	if cfg.Secret != "" {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if cfg.PublicKey != "" {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("parse jwt public key: %w", err)
		}
		v.pub = pub
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	v.parser = jwt.NewParser(opts...)
	return v, nil
}

func (v *tokenVerifier) key(t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		return v.pub, nil
	}
	return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
}

// verify 返回令牌里的用户标识，优先 user_id，其次 sub
func (v *tokenVerifier) verify(raw string) (string, error) {
	if raw == "" {
		return "", errNoCredential
	}
	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, v.key); err != nil {
		return "", fmt.Errorf("%w: %w", errBadCredential, err)
	}
	if id, ok := claims["user_id"].(string); ok && id != "" {
		return id, nil
	}
	sub, _ := claims.GetSubject()
	return sub, nil
}
