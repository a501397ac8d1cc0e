package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Record session_snapshots 表的行。
type Record struct {
	ID           string    `gorm:"primaryKey;size:36"`
	SessionID    string    `gorm:"size:64;index;not null"`
	Variant      string    `gorm:"size:32;not null"`
	Scores       string    `gorm:"type:text;not null"`
	VoiceState   string    `gorm:"size:16;not null"`
	Tasks        string    `gorm:"type:text"`
	Intervention string    `gorm:"size:32"`
	CreatedAt    time.Time `gorm:"index;not null"`
}

// TableName 表名。
func (Record) TableName() string { return "session_snapshots" }

// Transactor 在事务中执行写入，实现方可以自带重试。
type Transactor interface {
	Transact(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// GormSink 把快照写入 SQL 数据库。表结构由 internal/migration 维护。
type GormSink struct {
	db *gorm.DB
	tx Transactor
}

// GormOption 配置 GormSink。
type GormOption func(*GormSink)

// WithTransactor 写入改走 t 的事务。
func WithTransactor(t Transactor) GormOption {
	return func(s *GormSink) { s.tx = t }
}

// NewGormSink 创建 SQL 存储。
func NewGormSink(db *gorm.DB, opts ...GormOption) *GormSink {
	s := &GormSink{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GormSink) Name() string { return "sql" }

// Save 插入一行。
func (s *GormSink) Save(ctx context.Context, snap Snapshot) error {
	rec, err := toRecord(snap)
	if err != nil {
		return err
	}
	insert := func(tx *gorm.DB) error { return tx.Create(&rec).Error }
	if s.tx != nil {
		err = s.tx.Transact(ctx, insert)
	} else {
		err = insert(s.db.WithContext(ctx))
	}
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Recent 按时间倒序返回会话最近的快照。
func (s *GormSink) Recent(ctx context.Context, sessionID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []Record
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}

	out := make([]Snapshot, 0, len(rows))
	for _, r := range rows {
		snap, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func toRecord(snap Snapshot) (Record, error) {
	scores, err := json.Marshal(snap.Scores)
	if err != nil {
		return Record{}, fmt.Errorf("encode scores: %w", err)
	}
	rec := Record{
		ID:           snap.ID,
		SessionID:    snap.SessionID,
		Variant:      snap.Variant,
		Scores:       string(scores),
		VoiceState:   snap.VoiceState,
		Intervention: snap.Intervention,
		CreatedAt:    snap.CreatedAt,
	}
	if snap.Tasks != nil {
		tasks, err := json.Marshal(snap.Tasks)
		if err != nil {
			return Record{}, fmt.Errorf("encode task summary: %w", err)
		}
		rec.Tasks = string(tasks)
	}
	return rec, nil
}

func fromRecord(r Record) (Snapshot, error) {
	snap := Snapshot{
		ID:           r.ID,
		SessionID:    r.SessionID,
		Variant:      r.Variant,
		VoiceState:   r.VoiceState,
		Intervention: r.Intervention,
		CreatedAt:    r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.Scores), &snap.Scores); err != nil {
		return Snapshot{}, fmt.Errorf("decode scores: %w", err)
	}
	if r.Tasks != "" {
		snap.Tasks = &TaskSummary{}
		if err := json.Unmarshal([]byte(r.Tasks), snap.Tasks); err != nil {
			return Snapshot{}, fmt.Errorf("decode task summary: %w", err)
		}
	}
	return snap, nil
}
