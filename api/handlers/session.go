package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aura/api"
	"github.com/BaSui01/aura/companion/dispatch"
	"github.com/BaSui01/aura/companion/history"
	"github.com/BaSui01/aura/companion/intervention"
	"github.com/BaSui01/aura/companion/session"
	"github.com/BaSui01/aura/companion/tasks"
	"github.com/BaSui01/aura/companion/transport"
	"github.com/BaSui01/aura/types"
)

// Companion 会话接口，由 *session.Session 实现
type Companion interface {
	transport.Session
	ID() string
	Variant() session.Variant
	Begin() error
	State() session.State
	History() *history.History
	Tasks() *tasks.Store
	Slot() *intervention.Slot
	Reset()
	Dispatch(ctx context.Context, call dispatch.ToolCall) dispatch.Response
}

// ConnectionRecorder 记录语音连接数变化
type ConnectionRecorder interface {
	RecordConnection(delta int)
}

// =============================================================================
// 🎙️ 会话 Handler
// =============================================================================

// SessionHandler 会话、任务与干预相关接口
type SessionHandler struct {
	session        Companion
	originPatterns []string
	connections    ConnectionRecorder
	logger         *zap.Logger
}

// SessionOption SessionHandler 选项
type SessionOption func(*SessionHandler)

// WithOriginPatterns websocket 允许的跨域 Origin
func WithOriginPatterns(patterns []string) SessionOption {
	return func(h *SessionHandler) { h.originPatterns = patterns }
}

// WithConnectionRecorder 记录 websocket 连接数
func WithConnectionRecorder(r ConnectionRecorder) SessionOption {
	return func(h *SessionHandler) {
		if !types.IsNil(r) {
			h.connections = r
		}
	}
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(s Companion, logger *zap.Logger, opts ...SessionOption) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &SessionHandler{
		session: s,
		logger:  logger.With(zap.String("component", "session_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleState GET /api/v1/session
func (h *SessionHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.session.State())
}

// HandleHistory GET /api/v1/session/history
func (h *SessionHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	hist := h.session.History()
	WriteSuccess(w, r, api.HistoryResponse{
		Capacity: hist.Capacity(),
		Entries:  hist.Entries(),
	})
}

// HandleReset POST /api/v1/session/reset
func (h *SessionHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.session.Reset()
	WriteSuccess(w, r, h.session.State())
}

// HandleEvent POST /api/v1/session/events
// 请求体与 websocket 上的事件格式相同。
func (h *SessionHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	r = h.scoped(r)
	if !RequireJSON(w, r, h.logger) {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, "failed to read body").WithCause(err), h.logger)
		return
	}

	ev, err := session.ParseEvent(data)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrMalformedCommand, "malformed event").WithCause(err), h.logger)
		return
	}

	if ev.Type == session.EventToolCall && ev.Tool != nil {
		resp := h.session.Dispatch(r.Context(), *ev.Tool)
		WriteSuccess(w, r, api.EventResponse{Type: ev.Type, Dispatch: &resp})
		return
	}

	if err := h.session.Handle(r.Context(), ev); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.EventResponse{Type: ev.Type, State: h.session.State()})
}

// HandleListTasks GET /api/v1/tasks
func (h *SessionHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	store, ok := h.taskStore(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, r, api.TaskListResponse{Tasks: store.List()})
}

// HandleAddTask POST /api/v1/tasks
func (h *SessionHandler) HandleAddTask(w http.ResponseWriter, r *http.Request) {
	store, ok := h.taskStore(w, r)
	if !ok {
		return
	}
	if !RequireJSON(w, r, h.logger) {
		return
	}

	var req api.TaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	task, err := store.Add(req.Task())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteCreated(w, r, task)
}

// HandleTaskAction POST /api/v1/tasks/{id}/{action}
// 任务不存在时返回 404，data 中带可用 id 列表的提示。
func (h *SessionHandler) HandleTaskAction(w http.ResponseWriter, r *http.Request) {
	store, ok := h.taskStore(w, r)
	if !ok {
		return
	}

	action := tasks.Action(r.PathValue("action"))
	switch action {
	case tasks.ActionPostpone, tasks.ActionComplete, tasks.ActionCancel, tasks.ActionDelegate:
	default:
		WriteErrorf(w, r, h.logger, types.ErrInvalidRequest, "unsupported task action: %s", action)
		return
	}

	result := store.Apply(r.PathValue("id"), action)
	if !result.Success {
		WriteErrorf(w, r, h.logger, types.ErrNotFound, "%s", result.Message)
		return
	}
	WriteSuccess(w, r, result)
}

// HandleIntervention GET /api/v1/intervention
func (h *SessionHandler) HandleIntervention(w http.ResponseWriter, r *http.Request) {
	slot, ok := h.slot(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, r, api.InterventionResponse{Intervention: slot.Current()})
}

// HandleClearIntervention POST /api/v1/intervention/clear
func (h *SessionHandler) HandleClearIntervention(w http.ResponseWriter, r *http.Request) {
	slot, ok := h.slot(w, r)
	if !ok {
		return
	}
	if err := slot.Clear(); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.InterventionResponse{Intervention: slot.Current()})
}

// HandleWebSocket GET /ws/session
// 同一时间只允许一条语音连接，会话已连接时返回 409。
func (h *SessionHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	r = h.scoped(r)
	if err := h.session.Begin(); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	// 长连接不受服务器读写超时约束
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := transport.Accept(w, r, h.originPatterns, h.logger)
	if err != nil {
		// Accept 失败时已写出 HTTP 错误
		h.session.Fail(err)
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if h.connections != nil {
		h.connections.RecordConnection(1)
		defer h.connections.RecordConnection(-1)
	}

	h.logger.Info("voice connection accepted", zap.String("remote_addr", r.RemoteAddr))
	if err := transport.Run(r.Context(), conn, h.session); err != nil {
		h.logger.Warn("voice connection ended with error", zap.Error(err))
		return
	}
	h.logger.Info("voice connection closed")
}

// scoped 把会话 ID 放进请求上下文，错误日志据此关联到会话
func (h *SessionHandler) scoped(r *http.Request) *http.Request {
	return r.WithContext(types.WithSessionID(r.Context(), h.session.ID()))
}

func (h *SessionHandler) taskStore(w http.ResponseWriter, r *http.Request) (*tasks.Store, bool) {
	store := h.session.Tasks()
	if store == nil {
		WriteErrorf(w, r, h.logger, types.ErrNotFound, "tasks are not available in the %s variant", h.session.Variant())
		return nil, false
	}
	return store, true
}

func (h *SessionHandler) slot(w http.ResponseWriter, r *http.Request) (*intervention.Slot, bool) {
	slot := h.session.Slot()
	if slot == nil {
		WriteErrorf(w, r, h.logger, types.ErrNotFound, "interventions are not available in the %s variant", h.session.Variant())
		return nil, false
	}
	return slot, true
}
