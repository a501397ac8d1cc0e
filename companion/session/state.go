package session

import (
	"time"

	"github.com/BaSui01/aura/companion/history"
	"github.com/BaSui01/aura/companion/intervention"
	"github.com/BaSui01/aura/companion/profile"
	"github.com/BaSui01/aura/companion/tasks"
)

// Variant 应用变体。
type Variant string

const (
	VariantAura      Variant = "aura"
	VariantElderLink Variant = "elderlink"
)

// Valid 是否为已知变体。
func (v Variant) Valid() bool {
	return v == VariantAura || v == VariantElderLink
}

// Status 连接状态。
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusConnecting Status = "CONNECTING"
	StatusActive     Status = "ACTIVE"
	StatusError      Status = "ERROR"
)

// VoiceState 语音交互状态。
type VoiceState string

const (
	VoiceIdle       VoiceState = "idle"
	VoiceListening  VoiceState = "listening"
	VoiceSpeaking   VoiceState = "speaking"
	VoiceProcessing VoiceState = "processing"
)

// Message 一条对话记录。
type Message struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// State 会话的可序列化视图。
type State struct {
	SessionID      string                     `json:"session_id"`
	Variant        Variant                    `json:"variant"`
	Status         Status                     `json:"status"`
	VoiceState     VoiceState                 `json:"voice_state"`
	Scores         map[string]int             `json:"scores"`
	Emotions       map[string]float64         `json:"emotions,omitempty"`
	History        []history.Entry            `json:"history"`
	Tasks          []tasks.Task               `json:"tasks,omitempty"`
	Intervention   *intervention.Intervention `json:"intervention,omitempty"`
	Profile        *profile.Profile           `json:"profile,omitempty"`
	Tools          []string                   `json:"tools"`
	Transcript     []Message                  `json:"transcript"`
	LiveTranscript string                     `json:"live_transcript,omitempty"`
	LastError      string                     `json:"last_error,omitempty"`
}
