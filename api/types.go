package api

import (
	"github.com/BaSui01/aura/companion/dispatch"
	"github.com/BaSui01/aura/companion/history"
	"github.com/BaSui01/aura/companion/intervention"
	"github.com/BaSui01/aura/companion/tasks"
)

// =============================================================================
// 📋 会话
// =============================================================================

// HistoryResponse GET /api/v1/session/history 的响应
type HistoryResponse struct {
	Capacity int             `json:"capacity"`
	Entries  []history.Entry `json:"entries"`
}

// EventResponse POST /api/v1/session/events 的响应。
// tool_call 事件返回调度结果，其余事件返回处理后的会话状态。
type EventResponse struct {
	Type     string             `json:"type"`
	Dispatch *dispatch.Response `json:"dispatch,omitempty"`
	State    any                `json:"state,omitempty"`
}

// =============================================================================
// ✅ 任务
// =============================================================================

// TaskRequest POST /api/v1/tasks 的请求体。id 接受字符串或数字。
type TaskRequest struct {
	ID       any            `json:"id"`
	Title    string         `json:"title"`
	Priority tasks.Priority `json:"priority,omitempty"`
	Day      tasks.Day      `json:"day,omitempty"`
}

// Task 转换为存储记录
func (r TaskRequest) Task() tasks.Task {
	return tasks.Task{
		ID:       tasks.NormalizeID(r.ID),
		Title:    r.Title,
		Priority: r.Priority,
		Day:      r.Day,
	}
}

// TaskListResponse GET /api/v1/tasks 的响应
type TaskListResponse struct {
	Tasks []tasks.Task `json:"tasks"`
}

// =============================================================================
// 🚨 干预
// =============================================================================

// InterventionResponse 干预槽位当前值
type InterventionResponse struct {
	Intervention intervention.Intervention `json:"intervention"`
}
