// =============================================================================
// 📦 测试数据工厂 - 语音事件
// =============================================================================
// 按语音服务的线上格式构造事件 JSON
// =============================================================================
package fixtures

import "encoding/json"

func mustMarshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type prosody struct {
	Scores map[string]float64 `json:"scores"`
}

type models struct {
	Prosody prosody `json:"prosody"`
}

type conversationEvent struct {
	Type    string  `json:"type"`
	Interim bool    `json:"interim,omitempty"`
	Message message `json:"message"`
	Models  *models `json:"models,omitempty"`
}

// UserMessage 用户语音转写，scores 为 nil 时不带韵律
func UserMessage(text string, scores map[string]float64) string {
	ev := conversationEvent{Type: "user_message", Message: message{Role: "user", Content: text}}
	if scores != nil {
		ev.Models = &models{Prosody: prosody{Scores: scores}}
	}
	return mustMarshal(ev)
}

// InterimUserMessage 中间转写结果
func InterimUserMessage(text string) string {
	return mustMarshal(conversationEvent{Type: "user_message", Interim: true, Message: message{Role: "user", Content: text}})
}

// AssistantMessage 助手回复
func AssistantMessage(text string) string {
	return mustMarshal(conversationEvent{Type: "assistant_message", Message: message{Role: "assistant", Content: text}})
}

// AssistantEnd 助手说完
func AssistantEnd() string {
	return `{"type":"assistant_end"}`
}

// ToolCall 工具调用，参数按语音服务的习惯编码为 JSON 字符串
func ToolCall(name, callID string, params map[string]any) string {
	return mustMarshal(map[string]any{
		"type":       "tool_call",
		"name":       name,
		"toolCallId": callID,
		"parameters": mustMarshal(params),
	})
}

// ErrorEvent 语音服务错误
func ErrorEvent(code, msg string) string {
	return mustMarshal(map[string]string{"type": "error", "code": code, "message": msg})
}
