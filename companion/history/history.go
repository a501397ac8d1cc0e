// Package history 维护会话内定长的评分快照环形缓冲区，供趋势图读取。
package history

import (
	"sync"
	"time"
)

// DefaultCapacity 默认保留的最近快照数量。
const DefaultCapacity = 20

// TimeLayout 展示用时间格式（本地墙上时钟）。
const TimeLayout = "15:04:05"

// Entry 一条带时间戳的评分快照。
type Entry struct {
	Time   string         `json:"time"`
	At     time.Time      `json:"at"`
	Scores map[string]int `json:"scores"`
}

// History 定长 FIFO 缓冲区，超出容量时淘汰最旧的条目。
// 插入顺序即时间顺序。并发安全。
type History struct {
	mu       sync.RWMutex
	buf      []Entry
	start    int
	size     int
	capacity int
	now      func() time.Time
}

// Option 配置 History。
type Option func(*History)

// WithClock 替换时钟（测试用）。
func WithClock(now func() time.Time) Option {
	return func(h *History) {
		if now != nil {
			h.now = now
		}
	}
}

// New 创建容量为 capacity 的 History；capacity <= 0 时使用 DefaultCapacity。
func New(capacity int, opts ...Option) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	h := &History{
		buf:      make([]Entry, capacity),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Append 追加一条快照，时间戳在追加时按调用方本地时钟生成。
func (h *History) Append(scores map[string]int) Entry {
	at := h.now().Local()
	copied := make(map[string]int, len(scores))
	for k, v := range scores {
		copied[k] = v
	}
	e := Entry{Time: at.Format(TimeLayout), At: at, Scores: copied}

	h.mu.Lock()
	defer h.mu.Unlock()

	idx := (h.start + h.size) % h.capacity
	h.buf[idx] = e
	if h.size < h.capacity {
		h.size++
	} else {
		h.start = (h.start + 1) % h.capacity
	}
	return e
}

// Entries 按时间顺序返回当前条目的副本。
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Entry, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%h.capacity]
	}
	return out
}

// Latest 返回最新的一条；为空时 ok 为 false。
func (h *History) Latest() (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.size == 0 {
		return Entry{}, false
	}
	return h.buf[(h.start+h.size-1)%h.capacity], true
}

// Len 返回当前条目数量。
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Capacity 返回容量。
func (h *History) Capacity() int {
	return h.capacity
}

// Reset 清空所有条目。
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf = make([]Entry, h.capacity)
	h.start = 0
	h.size = 0
}
