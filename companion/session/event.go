package session

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/aura/companion/dispatch"
)

// 入站事件类型。
const (
	EventUserMessage      = "user_message"
	EventAssistantMessage = "assistant_message"
	EventAssistantEnd     = "assistant_end"
	EventUserInterruption = "user_interruption"
	EventToolCall         = "tool_call"
	EventError            = "error"
	EventAudioOutput      = "audio_output"
)

// Event 语音传输投递的一条消息。
type Event struct {
	Type    string
	Interim bool
	Role    string
	Content string
	// Prosody 韵律情绪概率，消息不带韵律时为 nil
	Prosody map[string]float64
	Tool    *dispatch.ToolCall
	Error   string
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireEvent struct {
	Type    string          `json:"type"`
	Interim bool            `json:"interim"`
	Message json.RawMessage `json:"message"`
	Models  *struct {
		Prosody *struct {
			Scores map[string]float64 `json:"scores"`
		} `json:"prosody"`
	} `json:"models"`
	Code string `json:"code"`
}

// ParseEvent 解码线上 JSON 事件。
// message 字段在对话事件里是 {role, content} 对象，在 error 事件里是字符串。
func ParseEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if w.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}

	ev := Event{Type: w.Type, Interim: w.Interim}

	switch w.Type {
	case EventToolCall:
		var call dispatch.ToolCall
		if err := json.Unmarshal(data, &call); err != nil {
			return Event{}, fmt.Errorf("decode tool call: %w", err)
		}
		ev.Tool = &call
	case EventError:
		var msg string
		if len(w.Message) > 0 && json.Unmarshal(w.Message, &msg) == nil {
			ev.Error = msg
		} else {
			ev.Error = string(w.Message)
		}
		if ev.Error == "" {
			ev.Error = w.Code
		}
	default:
		if len(w.Message) > 0 {
			var m wireMessage
			if err := json.Unmarshal(w.Message, &m); err == nil {
				ev.Role = m.Role
				ev.Content = m.Content
			}
		}
	}

	if w.Models != nil && w.Models.Prosody != nil && w.Models.Prosody.Scores != nil {
		ev.Prosody = w.Models.Prosody.Scores
	}
	return ev, nil
}
