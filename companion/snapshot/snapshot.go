// Package snapshot 负责把会话快照节流写入外部存储。
//
// 每个间隔最多保存一次，语音空闲时不保存；只有保存成功才推进节流窗口。
// 保存在后台 worker 中进行并带超时，存储失败或变慢只记录日志，不影响会话。
package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/aura/types"
)

// DefaultInterval 默认保存间隔。
const DefaultInterval = 5 * time.Second

// DefaultSaveTimeout 单次保存的默认超时。
const DefaultSaveTimeout = 3 * time.Second

// VoiceIdle 空闲语音状态，此时不保存。
const VoiceIdle = "idle"

// TaskSummary 任务状态计数。
type TaskSummary struct {
	Total     int `json:"total" bson:"total"`
	Pending   int `json:"pending" bson:"pending"`
	Completed int `json:"completed" bson:"completed"`
	Postponed int `json:"postponed" bson:"postponed"`
	Cancelled int `json:"cancelled" bson:"cancelled"`
	Delegated int `json:"delegated" bson:"delegated"`
}

// Snapshot 会话快照。
type Snapshot struct {
	ID           string         `json:"id" bson:"_id"`
	SessionID    string         `json:"session_id" bson:"session_id"`
	Variant      string         `json:"variant" bson:"variant"`
	Scores       map[string]int `json:"scores" bson:"scores"`
	VoiceState   string         `json:"voice_state" bson:"voice_state"`
	Tasks        *TaskSummary   `json:"tasks,omitempty" bson:"tasks,omitempty"`
	Intervention string         `json:"intervention,omitempty" bson:"intervention,omitempty"`
	CreatedAt    time.Time      `json:"created_at" bson:"created_at"`
}

// New 生成带 uuid 的快照。
func New(sessionID, variant string, scores map[string]int, voiceState string) Snapshot {
	copied := make(map[string]int, len(scores))
	for k, v := range scores {
		copied[k] = v
	}
	return Snapshot{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Variant:    variant,
		Scores:     copied,
		VoiceState: voiceState,
		CreatedAt:  time.Now().UTC(),
	}
}

// Sink 快照存储。
type Sink interface {
	Name() string
	Save(ctx context.Context, snap Snapshot) error
}

// Recorder 快照指标钩子。
type Recorder interface {
	RecordSnapshot(sink string, success bool, d time.Duration)
}

// Option 同步器选项。
type Option func(*Syncer)

// WithInterval 设置保存间隔，<=0 时沿用默认值。
func WithInterval(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSaveTimeout 设置单次保存超时，<=0 时沿用默认值。
func WithSaveTimeout(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock 替换时钟，测试用。
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger 设置日志。
func WithLogger(logger *zap.Logger) Option {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder 设置指标记录器。
func WithRecorder(r Recorder) Option {
	return func(s *Syncer) {
		if !types.IsNil(r) {
			s.recorder = r
		}
	}
}

// Syncer 节流同步器。Offer 只把快照放进容量为 1 的待存槽位，
// 由后台 worker 写入存储，慢存储不会阻塞会话事件处理。
type Syncer struct {
	mu       sync.Mutex
	sink     Sink
	interval time.Duration
	timeout  time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
	logger   *zap.Logger
	recorder Recorder
	saved    int
	failed   int

	pending chan Snapshot
	base    context.Context
	cancel  context.CancelFunc
	life    sync.Mutex // 保护 started/stopped
	started bool
	stopped bool
	closed  chan struct{}
	wg      sync.WaitGroup
}

// NewSyncer 创建同步器。sink 为 nil 时 Offer 不做任何事。
func NewSyncer(sink Sink, opts ...Option) *Syncer {
	s := &Syncer{
		sink:     sink,
		interval: DefaultInterval,
		timeout:  DefaultSaveTimeout,
		now:      time.Now,
		logger:   zap.NewNop(),
		pending:  make(chan Snapshot, 1),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = rate.NewLimiter(rate.Every(s.interval), 1)
	s.logger = s.logger.With(zap.String("component", "session_sync"))
	s.base, s.cancel = context.WithCancel(context.Background())
	return s
}

func eligible(snap Snapshot) bool {
	return snap.VoiceState != "" && snap.VoiceState != VoiceIdle
}

// Offer 把快照交给后台 worker，立即返回是否接收。
// 未取走的旧快照会被新快照替换；保存不使用 ctx，只受 Close 与保存超时约束。
func (s *Syncer) Offer(_ context.Context, snap Snapshot) bool {
	if s.sink == nil || !eligible(snap) {
		return false
	}
	s.life.Lock()
	if s.stopped {
		s.life.Unlock()
		return false
	}
	if !s.started {
		s.started = true
		s.wg.Add(1)
		go s.run()
	}
	s.life.Unlock()

	for {
		select {
		case s.pending <- snap:
			return true
		default:
		}
		select {
		case stale := <-s.pending:
			s.logger.Debug("snapshot superseded", zap.String("snapshot_id", stale.ID))
		default:
		}
	}
}

func (s *Syncer) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.closed:
			return
		case snap := <-s.pending:
			s.SaveNow(s.base, snap)
		}
	}
}

// SaveNow 同步执行一次节流保存，返回是否保存成功。每次保存受 WithSaveTimeout 限时。
func (s *Syncer) SaveNow(ctx context.Context, snap Snapshot) bool {
	if s.sink == nil || !eligible(snap) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r := s.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false
	}
	if r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return false
	}

	saveCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.now()
	err := s.sink.Save(saveCtx, snap)
	if s.recorder != nil {
		s.recorder.RecordSnapshot(s.sink.Name(), err == nil, s.now().Sub(start))
	}
	if err != nil {
		// 归还令牌，下一次保存可以立即重试
		r.CancelAt(now)
		s.failed++
		s.logger.Error("snapshot save failed",
			zap.String("sink", s.sink.Name()),
			zap.String("session_id", snap.SessionID),
			zap.Error(err),
		)
		return false
	}
	s.saved++
	s.logger.Debug("snapshot saved",
		zap.String("sink", s.sink.Name()),
		zap.String("snapshot_id", snap.ID),
	)
	return true
}

// Close 停止后台 worker 并等待进行中的保存结束。未取走的快照被丢弃。可重复调用。
func (s *Syncer) Close() {
	s.life.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.closed)
		s.cancel()
	}
	s.life.Unlock()
	s.wg.Wait()
}

// Stats 成功和失败次数。
func (s *Syncer) Stats() (saved, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved, s.failed
}

// Enabled 是否配置了存储。
func (s *Syncer) Enabled() bool {
	return s.sink != nil
}
