package types

import "context"

// ctxKey 每种值一个私有键类型，避免与其他包冲突
type ctxKey[T any] struct{ name string }

var (
	requestIDKey = ctxKey[string]{"request_id"}
	sessionIDKey = ctxKey[string]{"session_id"}
	userIDKey    = ctxKey[string]{"user_id"}
)

func with[T any](ctx context.Context, k ctxKey[T], v T) context.Context {
	return context.WithValue(ctx, k, v)
}

// lookup 取值；字符串为空视为未设置
func lookup(ctx context.Context, k ctxKey[string]) (string, bool) {
	v, _ := ctx.Value(k).(string)
	return v, v != ""
}

// WithRequestID 写入 HTTP 请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) (string, bool) { return lookup(ctx, requestIDKey) }

// WithSessionID 写入语音会话 ID，工具调用与日志据此关联
func WithSessionID(ctx context.Context, id string) context.Context {
	return with(ctx, sessionIDKey, id)
}

func SessionID(ctx context.Context) (string, bool) { return lookup(ctx, sessionIDKey) }

// WithUserID 写入认证后的用户标识，限流按它分桶
func WithUserID(ctx context.Context, id string) context.Context {
	return with(ctx, userIDKey, id)
}

func UserID(ctx context.Context) (string, bool) { return lookup(ctx, userIDKey) }
