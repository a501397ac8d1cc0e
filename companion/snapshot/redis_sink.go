package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/aura/internal/cache"
)

// DefaultHistoryLength Redis 中每个会话保留的快照条数。
const DefaultHistoryLength = 100

// RedisSink 在 Redis 中保存最新快照和一个定长历史列表。
type RedisSink struct {
	cache *cache.Manager
	keep  int64
	ttl   time.Duration
}

// NewRedisSink 创建 Redis 存储。keep<=0 时使用 DefaultHistoryLength。
func NewRedisSink(m *cache.Manager, keep int, ttl time.Duration) *RedisSink {
	if keep <= 0 {
		keep = DefaultHistoryLength
	}
	return &RedisSink{cache: m, keep: int64(keep), ttl: ttl}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) latestKey(sessionID string) string {
	return s.cache.Key("snapshot", sessionID, "latest")
}

func (s *RedisSink) historyKey(sessionID string) string {
	return s.cache.Key("snapshot", sessionID, "history")
}

// Save 在同一事务里写入最新值并追加历史。
func (s *RedisSink) Save(ctx context.Context, snap Snapshot) error {
	return s.cache.Record(ctx, s.latestKey(snap.SessionID), s.historyKey(snap.SessionID), snap, s.keep, s.ttl)
}

// Latest 读取会话最新快照。
func (s *RedisSink) Latest(ctx context.Context, sessionID string) (Snapshot, error) {
	var snap Snapshot
	if err := s.cache.GetJSON(ctx, s.latestKey(sessionID), &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// History 最新的在前。
func (s *RedisSink) History(ctx context.Context, sessionID string, limit int) ([]Snapshot, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := s.cache.Range(ctx, s.historyKey(sessionID), 0, stop)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(raw))
	for _, v := range raw {
		var snap Snapshot
		if err := json.Unmarshal([]byte(v), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, nil
}
