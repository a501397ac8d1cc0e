package tasks

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/aura/types"
)

// Action 任务调整动作（闭集）。
type Action string

const (
	ActionPostpone Action = "postpone"
	ActionCancel   Action = "cancel"
	ActionDelegate Action = "delegate"
	ActionComplete Action = "complete"
)

// Result 变更操作结果，Message 供语音 agent 直接播报。
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Task    *Task  `json:"task,omitempty"`
}

// Listener 任务变更回调，收到变更后的完整列表副本。
type Listener func(tasks []Task)

// Store 任务存储，是任务记录的唯一修改者。变更串行化执行。
type Store struct {
	mu        sync.RWMutex
	tasks     []Task
	listeners []Listener
	logger    *zap.Logger
}

// NewStore 用给定的种子任务创建存储。
func NewStore(seed []Task, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	tasks := make([]Task, len(seed))
	copy(tasks, seed)
	return &Store{
		tasks:  tasks,
		logger: logger.With(zap.String("component", "task_store")),
	}
}

// Subscribe 注册变更回调。回调在锁外同步调用。
func (s *Store) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// List 按插入顺序返回任务副本。
func (s *Store) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Get 按 id 查找任务。
func (s *Store) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.tasks[i], true
	}
	return Task{}, false
}

// IDs 返回所有任务 id。
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idsLocked()
}

// Add 新增任务。id 重复或标题为空时返回错误；缺省字段取默认值。
func (s *Store) Add(task Task) (Task, error) {
	task.ID = NormalizeID(task.ID)
	task.Title = strings.TrimSpace(task.Title)
	if task.ID == "" {
		return Task{}, types.NewError(types.ErrInvalidRequest, "task id is required")
	}
	if task.Title == "" {
		return Task{}, types.NewError(types.ErrInvalidRequest, "task title is required")
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	if task.Day == "" {
		task.Day = DayToday
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if !task.Priority.Valid() || !task.Day.Valid() || !task.Status.Valid() {
		return Task{}, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("invalid task fields: priority=%s day=%s status=%s", task.Priority, task.Day, task.Status))
	}

	s.mu.Lock()
	if s.indexOf(task.ID) >= 0 {
		s.mu.Unlock()
		return Task{}, types.NewError(types.ErrConflict, fmt.Sprintf("task %s already exists", task.ID))
	}
	s.tasks = append(s.tasks, task)
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("task added", zap.String("task_id", task.ID), zap.String("title", task.Title))
	notify(listeners, snapshot)
	return task, nil
}

// Postpone 推迟到明天。
func (s *Store) Postpone(id string) Result { return s.Apply(id, ActionPostpone) }

// Complete 标记完成。重复完成无害。
func (s *Store) Complete(id string) Result { return s.Apply(id, ActionComplete) }

// Cancel 标记取消。
func (s *Store) Cancel(id string) Result { return s.Apply(id, ActionCancel) }

// Delegate 标记委派。
func (s *Store) Delegate(id string) Result { return s.Apply(id, ActionDelegate) }

// Apply 对任务执行动作。任务不存在时返回 Success=false，消息列出可用 id 以便 agent 自我纠正。
func (s *Store) Apply(id string, action Action) Result {
	id = NormalizeID(id)

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		ids := s.idsLocked()
		s.mu.Unlock()
		msg := fmt.Sprintf("Task with ID %s not found. Available IDs: %s", id, strings.Join(ids, ", "))
		s.logger.Warn("task not found", zap.String("task_id", id), zap.String("action", string(action)))
		return Result{Success: false, Message: msg}
	}

	task := s.tasks[i]
	var msg string
	switch action {
	case ActionPostpone:
		task.Day = DayTomorrow
		task.Status = StatusPostponed
		msg = fmt.Sprintf(`Postponed "%s" to tomorrow.`, task.Title)
	case ActionCancel:
		task.Status = StatusCancelled
		msg = fmt.Sprintf(`Cancelled "%s".`, task.Title)
	case ActionDelegate:
		task.Status = StatusDelegated
		msg = fmt.Sprintf(`Marked "%s" for delegation.`, task.Title)
	case ActionComplete:
		task.Status = StatusCompleted
		msg = fmt.Sprintf(`Awesome! I've marked "%s" as completed.`, task.Title)
	default:
		s.mu.Unlock()
		return Result{Success: false, Message: fmt.Sprintf("Unsupported action %q.", action)}
	}
	s.tasks[i] = task
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("task updated",
		zap.String("task_id", id),
		zap.String("action", string(action)),
		zap.String("status", string(task.Status)),
		zap.String("day", string(task.Day)),
	)
	notify(listeners, snapshot)
	return Result{Success: true, Message: msg, Task: &task}
}

// Reset 恢复为给定任务列表。
func (s *Store) Reset(seed []Task) {
	s.mu.Lock()
	s.tasks = make([]Task, len(seed))
	copy(s.tasks, seed)
	snapshot, listeners := s.snapshotLocked()
	s.mu.Unlock()
	notify(listeners, snapshot)
}

func (s *Store) indexOf(id string) int {
	for i, t := range s.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) idsLocked() []string {
	ids := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		ids[i] = t.ID
	}
	return ids
}

func (s *Store) snapshotLocked() ([]Task, []Listener) {
	snapshot := make([]Task, len(s.tasks))
	copy(snapshot, s.tasks)
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	return snapshot, listeners
}

func notify(listeners []Listener, snapshot []Task) {
	for _, fn := range listeners {
		fn(snapshot)
	}
}
