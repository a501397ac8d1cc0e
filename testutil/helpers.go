package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// DefaultTimeout 测试上下文的默认时限
const DefaultTimeout = 30 * time.Second

// TestContext 在 DefaultTimeout 后取消，测试结束时自动释放
func TestContext(t testing.TB) context.Context {
	return TestContextWithTimeout(t, DefaultTimeout)
}

// TestContextWithTimeout 同 TestContext，自定义时限
func TestContextWithTimeout(t testing.TB, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

// WaitForChannel 在 d 内从 ch 收一个值；超时或通道关闭时 ok 为 false
func WaitForChannel[T any](ch <-chan T, d time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-ch:
	case <-time.After(d):
	}
	return v, ok
}

// DecodeFrame 把一条发往语音服务的 JSON 帧解成 T，失败即终止测试
func DecodeFrame[T any](t testing.TB, frame []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(frame, &v); err != nil {
		t.Fatalf("decode frame %s: %v", frame, err)
	}
	return v
}
