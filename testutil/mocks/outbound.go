// Outbound 的测试模拟实现。
//
// 记录发往语音服务的工具响应与会话设置，支持错误注入。
package mocks

import (
	"context"
	"sync"
)

// ToolResponse 记录单次工具响应
type ToolResponse struct {
	CallID  string
	Content string
}

// Outbound 记录型 session.Outbound
type Outbound struct {
	mu        sync.Mutex
	responses []ToolResponse
	prompts   []string
	err       error
	notify    chan struct{}
}

// NewOutbound 创建 Outbound
func NewOutbound() *Outbound {
	return &Outbound{notify: make(chan struct{}, 64)}
}

// WithError 之后的发送都返回 err（仍会被记录）
func (o *Outbound) WithError(err error) *Outbound {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
	return o
}

func (o *Outbound) SendToolResponse(_ context.Context, callID, content string) error {
	o.mu.Lock()
	o.responses = append(o.responses, ToolResponse{CallID: callID, Content: content})
	err := o.err
	o.mu.Unlock()
	o.signal()
	return err
}

func (o *Outbound) SendSessionSettings(_ context.Context, prompt string) error {
	o.mu.Lock()
	o.prompts = append(o.prompts, prompt)
	err := o.err
	o.mu.Unlock()
	o.signal()
	return err
}

func (o *Outbound) signal() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Sent 每次发送后收到一个信号
func (o *Outbound) Sent() <-chan struct{} { return o.notify }

// ToolResponses 已发送的工具响应副本
func (o *Outbound) ToolResponses() []ToolResponse {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ToolResponse(nil), o.responses...)
}

// Prompts 已发送的系统提示副本
func (o *Outbound) Prompts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.prompts...)
}

// LastPrompt 最近一次系统提示，没有时返回空串
func (o *Outbound) LastPrompt() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.prompts) == 0 {
		return ""
	}
	return o.prompts[len(o.prompts)-1]
}
