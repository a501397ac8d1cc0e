package instructions

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Sender 发送会话设置，由语音传输实现。
type Sender interface {
	SendSessionSettings(ctx context.Context, systemPrompt string) error
}

// Syncer 仅在指令块与上次成功发送的不同时才发送。
type Syncer struct {
	mu     sync.Mutex
	sender Sender
	last   string
	sent   bool
	logger *zap.Logger
}

// NewSyncer 创建同步器。
func NewSyncer(sender Sender, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{sender: sender, logger: logger.With(zap.String("component", "instruction_sync"))}
}

// Sync 发送指令块。返回是否实际发送。
func (s *Syncer) Sync(ctx context.Context, block string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sender == nil {
		return false, nil
	}
	if s.sent && block == s.last {
		return false, nil
	}
	if err := s.sender.SendSessionSettings(ctx, block); err != nil {
		s.logger.Warn("session settings sync failed", zap.Error(err))
		return false, err
	}
	s.last = block
	s.sent = true
	s.logger.Debug("session settings synced", zap.Int("bytes", len(block)))
	return true, nil
}

// SetSender 替换发送端并清空去重状态。
func (s *Syncer) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.last = ""
	s.sent = false
	s.mu.Unlock()
}

// Reset 清空去重状态，新连接建立时调用。
func (s *Syncer) Reset() {
	s.mu.Lock()
	s.last = ""
	s.sent = false
	s.mu.Unlock()
}

// Last 上次成功发送的内容。
func (s *Syncer) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
