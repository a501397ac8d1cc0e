// Package intervention 实现单槽位干预存储：同一时刻只有一个活动干预，后写覆盖先写。
//
// family_alert 会挂一个自动清除定时器。定时器在 Clear、新的 Trigger 或 Close 时取消，
// 并通过代际号保证过期的定时器不会清掉更新的干预。
package intervention

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aura/types"
)

// Type 干预类型。
type Type string

const (
	TypeNone         Type = "none"
	TypePhotos       Type = "photos"
	TypeMusic        Type = "music"
	TypeFamilyAlert  Type = "family_alert"
	TypeCalmGuidance Type = "calm_guidance"
	TypeCalmActivity Type = "calm_activity"
)

// DefaultAlertTimeout family_alert 的默认自动清除时长。
const DefaultAlertTimeout = 5 * time.Second

// ErrClosed 槽位关闭后的变更返回该错误。
var ErrClosed = types.NewError(types.ErrSessionClosed, "intervention slot is closed")

// Valid 是否为已知类型。
func (t Type) Valid() bool {
	switch t {
	case TypeNone, TypePhotos, TypeMusic, TypeFamilyAlert, TypeCalmGuidance, TypeCalmActivity:
		return true
	}
	return false
}

// Intervention 当前活动的干预。
type Intervention struct {
	Type      Type              `json:"type"`
	Params    map[string]string `json:"params,omitempty"`
	StartedAt time.Time         `json:"started_at,omitempty"`
}

// Active 是否有活动干预。
func (i Intervention) Active() bool {
	return i.Type != "" && i.Type != TypeNone
}

func (i Intervention) clone() Intervention {
	out := Intervention{Type: i.Type, StartedAt: i.StartedAt}
	if len(i.Params) > 0 {
		out.Params = make(map[string]string, len(i.Params))
		for k, v := range i.Params {
			out.Params[k] = v
		}
	}
	return out
}

// Listener 干预变化回调。
type Listener func(current Intervention)

// Option 槽位选项。
type Option func(*Slot)

// WithAlertTimeout 设置 family_alert 自动清除时长，<=0 时沿用默认值。
func WithAlertTimeout(d time.Duration) Option {
	return func(s *Slot) {
		if d > 0 {
			s.alertTimeout = d
		}
	}
}

// WithLogger 设置日志。
func WithLogger(logger *zap.Logger) Option {
	return func(s *Slot) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Slot 干预槽位。
type Slot struct {
	mu           sync.Mutex
	current      Intervention
	generation   uint64
	timer        *time.Timer
	closed       bool
	alertTimeout time.Duration
	listeners    []Listener
	logger       *zap.Logger
	now          func() time.Time
}

// NewSlot 创建空槽位。
func NewSlot(opts ...Option) *Slot {
	s := &Slot{
		current:      Intervention{Type: TypeNone},
		alertTimeout: DefaultAlertTimeout,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "intervention_slot"))
	return s
}

// Subscribe 注册变化回调，回调在锁外调用。
func (s *Slot) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Current 返回当前干预的副本。
func (s *Slot) Current() Intervention {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.clone()
}

// Trigger 无条件替换当前干预。触发 none 等价于 Clear。
func (s *Slot) Trigger(t Type, params map[string]string) error {
	if !t.Valid() {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown intervention type %q", t))
	}
	if t == TypeNone {
		return s.Clear()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.stopTimerLocked()
	s.generation++
	next := Intervention{Type: t, StartedAt: s.now()}
	if len(params) > 0 {
		next.Params = make(map[string]string, len(params))
		for k, v := range params {
			next.Params[k] = v
		}
	}
	s.current = next
	if t == TypeFamilyAlert {
		gen := s.generation
		s.timer = time.AfterFunc(s.alertTimeout, func() { s.expire(gen) })
	}
	snapshot, listeners := s.current.clone(), s.copyListenersLocked()
	s.mu.Unlock()

	s.logger.Info("intervention triggered", zap.String("type", string(t)), zap.Any("params", params))
	notify(listeners, snapshot)
	return nil
}

// Clear 清除当前干预并取消挂起的定时器。
func (s *Slot) Clear() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.stopTimerLocked()
	s.generation++
	if !s.current.Active() {
		s.mu.Unlock()
		return nil
	}
	s.current = Intervention{Type: TypeNone}
	snapshot, listeners := s.current.clone(), s.copyListenersLocked()
	s.mu.Unlock()

	s.logger.Debug("intervention cleared")
	notify(listeners, snapshot)
	return nil
}

// Close 关闭槽位，取消定时器。之后的变更返回 ErrClosed。可重复调用。
func (s *Slot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stopTimerLocked()
	s.generation++
	return nil
}

// Closed 是否已关闭。
func (s *Slot) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Slot) expire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.generation++
	s.current = Intervention{Type: TypeNone}
	snapshot, listeners := s.current.clone(), s.copyListenersLocked()
	s.mu.Unlock()

	s.logger.Info("family alert auto-cleared")
	notify(listeners, snapshot)
}

func (s *Slot) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Slot) copyListenersLocked() []Listener {
	out := make([]Listener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func notify(listeners []Listener, current Intervention) {
	for _, fn := range listeners {
		fn(current.clone())
	}
}

// IsClosed 判断错误是否为槽位已关闭。
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
