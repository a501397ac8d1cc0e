// Package tasks 实现任务实体存储及其单向状态机。
//
// 状态流转：pending → {completed, postponed, cancelled, delegated}。
// postponed 同时把 day 从 today 移到 tomorrow。会话内不会回到 pending，
// 任务也不会被物理删除。
package tasks

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Priority 任务优先级。
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Day 任务截止日。
type Day string

const (
	DayToday    Day = "today"
	DayTomorrow Day = "tomorrow"
)

// Status 任务状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusPostponed Status = "postponed"
	StatusCancelled Status = "cancelled"
	StatusDelegated Status = "delegated"
)

// Task 一个被跟踪的任务。
type Task struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Priority Priority `json:"priority"`
	Day      Day      `json:"day"`
	Status   Status   `json:"status"`
}

// Valid 检查优先级取值。
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Valid 检查截止日取值。
func (d Day) Valid() bool {
	return d == DayToday || d == DayTomorrow
}

// Valid 检查状态取值。
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusPostponed, StatusCancelled, StatusDelegated:
		return true
	}
	return false
}

// SeedTasks 会话初始化时的种子任务。
func SeedTasks() []Task {
	return []Task{
		{ID: "1", Title: "Chemistry Lab Report", Priority: PriorityHigh, Day: DayToday, Status: StatusPending},
		{ID: "2", Title: "Calculus Assignment", Priority: PriorityMedium, Day: DayToday, Status: StatusPending},
		{ID: "3", Title: "English Literature Essay", Priority: PriorityLow, Day: DayToday, Status: StatusPending},
	}
}

// NormalizeID 把 agent 传来的任意 id 表示转为规范字符串。
// 数字 2、2.0、"2"、" 2 " 都得到 "2"；nil 得到空串。
func NormalizeID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case float64:
		return formatFloat(id)
	case float32:
		return formatFloat(float64(id))
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case uint:
		return strconv.FormatUint(uint64(id), 10)
	case uint64:
		return strconv.FormatUint(id, 10)
	case fmt.Stringer:
		return strings.TrimSpace(id.String())
	default:
		return strings.TrimSpace(fmt.Sprint(id))
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
