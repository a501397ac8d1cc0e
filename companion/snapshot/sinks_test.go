package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/aura/internal/cache"
)

func TestGormSink(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&Record{}))

	sink := NewGormSink(db)
	ctx := context.Background()

	first := listening()
	first.CreatedAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	first.Tasks = &TaskSummary{Total: 3, Pending: 2, Completed: 1}
	require.NoError(t, sink.Save(ctx, first))

	second := New("s1", "aura", map[string]int{"stress": 80}, "speaking")
	second.CreatedAt = first.CreatedAt.Add(5 * time.Second)
	require.NoError(t, sink.Save(ctx, second))

	other := New("s2", "elderlink", map[string]int{"loneliness": 10}, "listening")
	require.NoError(t, sink.Save(ctx, other))

	got, err := sink.Recent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, 80, got[0].Scores["stress"])
	assert.Nil(t, got[0].Tasks)
	assert.Equal(t, &TaskSummary{Total: 3, Pending: 2, Completed: 1}, got[1].Tasks)

	// 主键冲突
	assert.Error(t, sink.Save(ctx, first))
}

// countingTx 直接在 db 上开事务并计数
type countingTx struct {
	db    *gorm.DB
	calls int
}

func (c *countingTx) Transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	c.calls++
	return c.db.WithContext(ctx).Transaction(fn)
}

func TestGormSink_WithTransactor(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&Record{}))

	tx := &countingTx{db: db}
	sink := NewGormSink(db, WithTransactor(tx))
	require.NoError(t, sink.Save(context.Background(), listening()))
	assert.Equal(t, 1, tx.calls)

	got, err := sink.Recent(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRedisSink(t *testing.T) {
	mr := miniredis.RunT(t)
	m, err := cache.NewManager(cache.Config{Addr: mr.Addr(), KeyPrefix: "aura:"}, nil)
	require.NoError(t, err)
	defer m.Close()

	sink := NewRedisSink(m, 2, time.Hour)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		snap := New("s1", "aura", map[string]int{"stress": i * 10}, "listening")
		ids = append(ids, snap.ID)
		require.NoError(t, sink.Save(ctx, snap))
	}

	latest, err := sink.Latest(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ids[2], latest.ID)
	assert.Equal(t, 20, latest.Scores["stress"])
	assert.True(t, mr.Exists("aura:snapshot:s1:latest"))

	history, err := sink.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ids[2], history[0].ID)
	assert.Equal(t, ids[1], history[1].ID)

	_, err = sink.Latest(ctx, "missing")
	assert.True(t, cache.IsCacheMiss(err))
}

type fakeWriter struct {
	docs []any
	err  error
}

func (w *fakeWriter) InsertOne(_ context.Context, doc any) error {
	if w.err != nil {
		return w.err
	}
	w.docs = append(w.docs, doc)
	return nil
}

func TestMongoSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewMongoSinkWithWriter(w)
	assert.Equal(t, "mongo", sink.Name())

	snap := listening()
	require.NoError(t, sink.Save(context.Background(), snap))
	require.Len(t, w.docs, 1)
	assert.Equal(t, snap, w.docs[0])

	w.err = errors.New("no primary")
	assert.ErrorContains(t, sink.Save(context.Background(), snap), "no primary")
}
