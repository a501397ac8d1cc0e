package mocks

import (
	"sync"
	"time"
)

// ToolCallRecord 记录单次工具调用指标
type ToolCallRecord struct {
	Tool    string
	Handled bool
	Success bool
}

// Recorder 记录型指标钩子，同时满足会话、工具调度、快照与连接的 Recorder 接口
type Recorder struct {
	mu           sync.Mutex
	events       map[string]int
	scores       map[string][]int
	toolCalls    []ToolCallRecord
	unrecognized []string
	snapshots    map[string]int
	connections  int
}

// NewRecorder 创建 Recorder
func NewRecorder() *Recorder {
	return &Recorder{
		events:    make(map[string]int),
		scores:    make(map[string][]int),
		snapshots: make(map[string]int),
	}
}

func (r *Recorder) RecordEvent(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[kind]++
}

func (r *Recorder) RecordScore(axis string, value int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[axis] = append(r.scores[axis], value)
}

func (r *Recorder) RecordToolCall(tool string, handled, success bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolCalls = append(r.toolCalls, ToolCallRecord{Tool: tool, Handled: handled, Success: success})
}

func (r *Recorder) RecordUnrecognizedAction(_ string, raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unrecognized = append(r.unrecognized, raw)
}

func (r *Recorder) RecordSnapshot(sink string, success bool, _ time.Duration) {
	if !success {
		sink += ":failed"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[sink]++
}

func (r *Recorder) RecordConnection(delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections += delta
}

// Events 事件计数
func (r *Recorder) Events(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[kind]
}

// Scores 某一轴记录过的分数
func (r *Recorder) Scores(axis string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.scores[axis]...)
}

// ToolCalls 工具调用记录副本
func (r *Recorder) ToolCalls() []ToolCallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ToolCallRecord(nil), r.toolCalls...)
}

// Unrecognized 未识别的动作原文
func (r *Recorder) Unrecognized() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.unrecognized...)
}

// Snapshots 快照写入计数，失败记在 "<sink>:failed"
func (r *Recorder) Snapshots(sink string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[sink]
}

// Connections 当前连接数
func (r *Recorder) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connections
}
