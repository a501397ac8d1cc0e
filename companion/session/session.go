// Package session 把语音传输事件路由到评分、历史、实体存储和工具调度。
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/aura/companion/dispatch"
	"github.com/BaSui01/aura/companion/history"
	"github.com/BaSui01/aura/companion/instructions"
	"github.com/BaSui01/aura/companion/intervention"
	"github.com/BaSui01/aura/companion/profile"
	"github.com/BaSui01/aura/companion/score"
	"github.com/BaSui01/aura/companion/snapshot"
	"github.com/BaSui01/aura/companion/tasks"
	"github.com/BaSui01/aura/types"
)

// DefaultTranscriptLimit 对话记录保留条数。
const DefaultTranscriptLimit = 100

const outboundTimeout = 5 * time.Second

var errClosed = types.NewError(types.ErrSessionClosed, "session is closed")

// Outbound 发往语音服务的命令。
type Outbound interface {
	SendToolResponse(ctx context.Context, callID, content string) error
	SendSessionSettings(ctx context.Context, systemPrompt string) error
}

// Recorder 会话指标钩子。
type Recorder interface {
	dispatch.Recorder
	RecordEvent(kind string)
	RecordScore(axis string, value int)
}

// Config 会话配置。
type Config struct {
	Variant         Variant
	HistoryCapacity int
	TranscriptLimit int
	AlertTimeout    time.Duration
	Calibration     score.Calibration
	WeightOverrides map[string]score.WeightTable
	SeedTasks       []tasks.Task
	Profile         *profile.Profile
}

// DefaultConfig 默认 aura 配置。
func DefaultConfig() Config {
	return Config{
		Variant:         VariantAura,
		HistoryCapacity: history.DefaultCapacity,
		TranscriptLimit: DefaultTranscriptLimit,
		AlertTimeout:    intervention.DefaultAlertTimeout,
		Calibration:     score.DefaultCalibration(),
	}
}

// Option 会话选项。
type Option func(*Session)

// WithLogger 设置日志。
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder 设置指标钩子。
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if !types.IsNil(r) {
			s.recorder = r
		}
	}
}

// WithSnapshotSyncer 设置快照同步器，会话关闭时一并关闭。
func WithSnapshotSyncer(syncer *snapshot.Syncer) Option {
	return func(s *Session) { s.snapshots = syncer }
}

// WithClock 替换时钟，影响历史时间戳与对话记录。
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session 一个语音陪伴会话。
type Session struct {
	id      string
	variant Variant

	mu         sync.RWMutex
	status     Status
	voice      VoiceState
	scores     score.Result
	emotions   map[string]float64
	transcript []Message
	live       string
	lastErr    string
	out        Outbound
	closed     bool

	scorer          *score.Profile
	history         *history.History
	tasks           *tasks.Store
	slot            *intervention.Slot
	profile         profile.Profile
	dispatcher      *dispatch.Dispatcher
	sequencer       *dispatch.Sequencer
	instr           *instructions.Syncer
	snapshots       *snapshot.Syncer
	recorder        Recorder
	transcriptLimit int
	now             func() time.Time
	logger          *zap.Logger
}

// New 按配置创建会话。
func New(cfg Config, opts ...Option) (*Session, error) {
	if cfg.Variant == "" {
		cfg.Variant = VariantAura
	}
	if !cfg.Variant.Valid() {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown session variant %q", cfg.Variant))
	}
	if cfg.TranscriptLimit <= 0 {
		cfg.TranscriptLimit = DefaultTranscriptLimit
	}
	if cfg.Calibration == (score.Calibration{}) {
		cfg.Calibration = score.DefaultCalibration()
	}

	s := &Session{
		id:              uuid.NewString(),
		variant:         cfg.Variant,
		status:          StatusIdle,
		voice:           VoiceIdle,
		transcriptLimit: cfg.TranscriptLimit,
		now:             time.Now,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "session"), zap.String("session_id", s.id))

	s.history = history.New(cfg.HistoryCapacity, history.WithClock(s.now))

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(s.logger)}
	if s.recorder != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithRecorder(s.recorder))
	}

	switch cfg.Variant {
	case VariantAura:
		s.scorer = score.StressProfile(cfg.Calibration)
		seed := cfg.SeedTasks
		if seed == nil {
			seed = tasks.SeedTasks()
		}
		s.tasks = tasks.NewStore(seed, s.logger)
		s.tasks.Subscribe(func([]tasks.Task) { s.entitiesChanged() })
		dispatchOpts = append(dispatchOpts, dispatch.WithTaskStore(s.tasks))
	case VariantElderLink:
		s.scorer = score.CompanionProfile(cfg.Calibration)
		s.profile = profile.Default()
		if cfg.Profile != nil {
			s.profile = cfg.Profile.Clone()
		}
		s.slot = intervention.NewSlot(
			intervention.WithAlertTimeout(cfg.AlertTimeout),
			intervention.WithLogger(s.logger),
		)
		s.slot.Subscribe(func(intervention.Intervention) { s.entitiesChanged() })
		dispatchOpts = append(dispatchOpts, dispatch.WithSlot(s.slot), dispatch.WithProfile(s.profile))
	}
	if len(cfg.WeightOverrides) > 0 {
		s.scorer = s.scorer.WithOverrides(cfg.WeightOverrides)
	}
	s.scores = s.scorer.Zero()

	s.dispatcher = dispatch.New(dispatchOpts...)
	s.sequencer = dispatch.NewSequencer(s.dispatcher, 16)
	s.instr = instructions.NewSyncer(nil, s.logger)

	s.logger.Info("session created",
		zap.String("variant", string(s.variant)),
		zap.Strings("axes", s.scorer.Axes()),
		zap.Strings("tools", s.dispatcher.Tools()),
	)
	return s, nil
}

// ID 会话 id。
func (s *Session) ID() string { return s.id }

// Variant 会话变体。
func (s *Session) Variant() Variant { return s.variant }

// Tasks 任务存储，elderlink 变体为 nil。
func (s *Session) Tasks() *tasks.Store { return s.tasks }

// Slot 干预槽位，aura 变体为 nil。
func (s *Session) Slot() *intervention.Slot { return s.slot }

// History 会话历史。
func (s *Session) History() *history.History { return s.history }

// =============================================================================
// 🔌 连接生命周期
// =============================================================================

// Begin 进入 CONNECTING，清除上次错误。
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if s.status == StatusActive {
		return types.NewError(types.ErrConflict, "session already active")
	}
	s.status = StatusConnecting
	s.lastErr = ""
	return nil
}

// Open 连接建立：进入 ACTIVE 并立即同步一次指令块。
func (s *Session) Open(ctx context.Context, out Outbound) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	s.status = StatusActive
	s.voice = VoiceListening
	s.lastErr = ""
	s.out = out
	s.mu.Unlock()

	s.instr.SetSender(out)
	s.logger.Info("session opened")
	s.syncInstructions(ctx)
	s.offerSnapshot(ctx)
	return nil
}

// Disconnect 连接关闭：回到 IDLE，语音空闲。
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.status = StatusIdle
	s.voice = VoiceIdle
	s.out = nil
	s.live = ""
	s.mu.Unlock()

	s.instr.SetSender(nil)
	s.logger.Info("session disconnected")
}

// Fail 连接出错：进入 ERROR 并记录错误。
func (s *Session) Fail(err error) {
	msg := "Connection error"
	if err != nil {
		msg = err.Error()
	}
	s.mu.Lock()
	s.status = StatusError
	s.lastErr = msg
	s.out = nil
	s.mu.Unlock()

	s.instr.SetSender(nil)
	s.logger.Warn("session failed", zap.String("error", msg))
}

// Ping 会话已关闭时返回错误，用于就绪检查
func (s *Session) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close 释放会话：断开连接，停止工具队列、干预定时器和快照 worker。可重复调用。
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Disconnect()
	s.sequencer.Close()
	if s.snapshots != nil {
		s.snapshots.Close()
	}
	if s.slot != nil {
		return s.slot.Close()
	}
	return nil
}

// =============================================================================
// 📨 事件路由
// =============================================================================

// Handle 处理一条入站事件。
func (s *Session) Handle(ctx context.Context, ev Event) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return errClosed
	}

	if s.recorder != nil {
		s.recorder.RecordEvent(ev.Type)
	}

	switch ev.Type {
	case EventUserMessage:
		s.handleUserMessage(ev)
	case EventAssistantMessage:
		if ev.Content == "" {
			return nil
		}
		s.mu.Lock()
		s.appendTranscriptLocked("assistant", ev.Content)
		s.voice = VoiceSpeaking
		s.mu.Unlock()
	case EventAssistantEnd, EventUserInterruption:
		s.setVoice(VoiceListening)
	case EventToolCall:
		s.handleToolCall(ctx, ev)
	case EventError:
		s.mu.Lock()
		s.status = StatusError
		s.lastErr = ev.Error
		s.mu.Unlock()
		s.logger.Warn("voice service error", zap.String("error", ev.Error))
	case EventAudioOutput:
		return nil
	default:
		s.logger.Debug("unhandled event", zap.String("type", ev.Type))
		return nil
	}

	s.offerSnapshot(ctx)
	return nil
}

func (s *Session) handleUserMessage(ev Event) {
	if ev.Content == "" {
		return
	}

	s.mu.Lock()
	if ev.Interim {
		s.live = ev.Content
		s.mu.Unlock()
		return
	}
	s.live = ""
	s.appendTranscriptLocked("user", ev.Content)
	if ev.Prosody == nil {
		s.mu.Unlock()
		return
	}

	result := s.scorer.Score(score.Sample(ev.Prosody))
	s.scores = result
	s.emotions = make(map[string]float64, len(ev.Prosody))
	for k, v := range ev.Prosody {
		s.emotions[k] = v
	}
	s.mu.Unlock()

	s.history.Append(result)
	if s.recorder != nil {
		for axis, v := range result {
			s.recorder.RecordScore(axis, v)
		}
	}
	s.logger.Debug("prosody scored",
		zap.Any("scores", result),
		zap.Strings("top_emotions", score.TopEmotions(score.Sample(ev.Prosody), 3)),
	)
}

func (s *Session) handleToolCall(ctx context.Context, ev Event) {
	if ev.Tool == nil {
		s.logger.Warn("tool call event without payload")
		return
	}
	call := *ev.Tool

	resp := s.sequencer.Dispatch(ctx, call)
	if !resp.Handled || call.CallID == "" {
		return
	}

	s.mu.RLock()
	out := s.out
	s.mu.RUnlock()
	if out == nil {
		s.logger.Debug("no transport attached, tool response dropped", zap.String("tool_call_id", call.CallID))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, outboundTimeout)
	defer cancel()
	if err := out.SendToolResponse(sendCtx, call.CallID, resp.Content); err != nil {
		s.logger.Error("send tool response failed",
			zap.String("tool", call.Name),
			zap.String("tool_call_id", call.CallID),
			zap.Error(err),
		)
	}
}

// Dispatch 直接执行一次工具调用，不发送工具响应。
func (s *Session) Dispatch(ctx context.Context, call dispatch.ToolCall) dispatch.Response {
	return s.sequencer.Dispatch(ctx, call)
}

func (s *Session) setVoice(v VoiceState) {
	s.mu.Lock()
	s.voice = v
	s.mu.Unlock()
}

func (s *Session) appendTranscriptLocked(role, text string) {
	s.transcript = append(s.transcript, Message{Role: role, Text: text, Timestamp: s.now()})
	if over := len(s.transcript) - s.transcriptLimit; over > 0 {
		s.transcript = append([]Message(nil), s.transcript[over:]...)
	}
}

// =============================================================================
// 🔄 指令同步与快照
// =============================================================================

func (s *Session) entitiesChanged() {
	ctx, cancel := context.WithTimeout(context.Background(), outboundTimeout)
	defer cancel()
	s.syncInstructions(ctx)
	s.offerSnapshot(ctx)
}

// Instructions 当前应发送给语音 agent 的指令块。
func (s *Session) Instructions() string {
	switch s.variant {
	case VariantElderLink:
		return instructions.BuildElder(s.profile, s.slot.Current())
	default:
		return instructions.BuildAura(s.tasks.List())
	}
}

func (s *Session) syncInstructions(ctx context.Context) {
	s.mu.RLock()
	active := s.status == StatusActive
	s.mu.RUnlock()
	if !active {
		return
	}
	if _, err := s.instr.Sync(ctx, s.Instructions()); err != nil {
		s.logger.Warn("instruction sync failed", zap.Error(err))
	}
}

func (s *Session) offerSnapshot(ctx context.Context) {
	if s.snapshots == nil || !s.snapshots.Enabled() {
		return
	}
	s.mu.RLock()
	snap := snapshot.New(s.id, string(s.variant), s.scores, string(s.voice))
	s.mu.RUnlock()

	if s.tasks != nil {
		snap.Tasks = summarize(s.tasks.List())
	}
	if s.slot != nil {
		snap.Intervention = string(s.slot.Current().Type)
	}
	s.snapshots.Offer(ctx, snap)
}

func summarize(list []tasks.Task) *snapshot.TaskSummary {
	sum := &snapshot.TaskSummary{Total: len(list)}
	for _, t := range list {
		switch t.Status {
		case tasks.StatusPending:
			sum.Pending++
		case tasks.StatusCompleted:
			sum.Completed++
		case tasks.StatusPostponed:
			sum.Postponed++
		case tasks.StatusCancelled:
			sum.Cancelled++
		case tasks.StatusDelegated:
			sum.Delegated++
		}
	}
	return sum
}

// =============================================================================
// 📊 状态读取
// =============================================================================

// Reset 清空分数、情绪、对话记录和历史。
func (s *Session) Reset() {
	s.mu.Lock()
	s.scores = s.scorer.Zero()
	s.emotions = nil
	s.transcript = nil
	s.live = ""
	s.mu.Unlock()
	s.history.Reset()
	s.logger.Info("session scores reset")
}

// Recalibrate 换用新的标定常数，只影响之后的评分。
func (s *Session) Recalibrate(cal score.Calibration) {
	s.mu.Lock()
	if s.scorer.Calibration() == cal {
		s.mu.Unlock()
		return
	}
	s.scorer = s.scorer.WithCalibration(cal)
	s.mu.Unlock()
	s.logger.Info("calibration updated",
		zap.Float64("multiplier", cal.Multiplier),
		zap.Float64("damping_threshold", cal.DampingThreshold),
		zap.Float64("damping_factor", cal.DampingFactor),
	)
}

// Scores 当前分数副本。
func (s *Session) Scores() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.scores))
	for k, v := range s.scores {
		out[k] = v
	}
	return out
}

// State 会话视图。
func (s *Session) State() State {
	s.mu.RLock()
	st := State{
		SessionID:      s.id,
		Variant:        s.variant,
		Status:         s.status,
		VoiceState:     s.voice,
		Scores:         make(map[string]int, len(s.scores)),
		Transcript:     append([]Message(nil), s.transcript...),
		LiveTranscript: s.live,
		LastError:      s.lastErr,
	}
	for k, v := range s.scores {
		st.Scores[k] = v
	}
	if len(s.emotions) > 0 {
		st.Emotions = make(map[string]float64, len(s.emotions))
		for k, v := range s.emotions {
			st.Emotions[k] = v
		}
	}
	s.mu.RUnlock()

	st.History = s.history.Entries()
	st.Tools = s.dispatcher.Tools()
	if s.tasks != nil {
		st.Tasks = s.tasks.List()
	}
	if s.slot != nil {
		cur := s.slot.Current()
		st.Intervention = &cur
		p := s.profile.Clone()
		st.Profile = &p
	}
	return st
}
