// Package dispatch 把 agent 的工具调用路由到实体存储。
//
// 每个已知工具有一个类型化参数结构；未知工具返回 Handled=false，不会报错。
// 参数解析失败时按空参数处理，只记录日志。
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ToolCall 一次工具调用。调用 id 在线上可能叫 toolCallId 或 tool_call_id。
type ToolCall struct {
	Name       string          `json:"name"`
	CallID     string          `json:"tool_call_id,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type wireToolCall struct {
	Name         string          `json:"name"`
	ToolCallID   string          `json:"tool_call_id"`
	ToolCallIDCC string          `json:"toolCallId"`
	Parameters   json.RawMessage `json:"parameters"`
}

// UnmarshalJSON 兼容两种调用 id 写法。
func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var w wireToolCall
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Name = w.Name
	c.CallID = w.ToolCallIDCC
	if c.CallID == "" {
		c.CallID = w.ToolCallID
	}
	c.Parameters = w.Parameters
	return nil
}

// Response 调度结果。Content 作为工具响应回传给 agent。
type Response struct {
	Handled bool   `json:"handled"`
	Success bool   `json:"success"`
	Tool    string `json:"tool"`
	CallID  string `json:"tool_call_id,omitempty"`
	Content string `json:"content,omitempty"`
}

var errNotObject = errors.New("tool parameters are not a JSON object")

// ParseParameters 解析工具参数。参数可以是 JSON 对象，也可以是内容为 JSON 对象的字符串。
// 空参数返回空 map。
func ParseParameters(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return map[string]any{}, fmt.Errorf("decode parameter string: %w", err)
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			return map[string]any{}, nil
		}
		trimmed = inner
	}

	if !strings.HasPrefix(trimmed, "{") {
		return map[string]any{}, errNotObject
	}
	params := map[string]any{}
	if err := json.Unmarshal([]byte(trimmed), &params); err != nil {
		return map[string]any{}, fmt.Errorf("decode parameters: %w", err)
	}
	return params, nil
}
