package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SlowQueryThreshold 超过该耗时的语句以 Warn 记录
const SlowQueryThreshold = 200 * time.Millisecond

// Dialector 按驱动名（含常见别名）构造 GORM 方言。sqlite 为纯 Go 实现，不需要 cgo。
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pg":
		return postgres.Open(dsn), nil
	case "mysql", "mariadb":
		return mysql.Open(dsn), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(dsn), nil
	case "":
		return nil, errors.New("database driver not configured")
	}
	return nil, fmt.Errorf("unsupported database driver %q (want postgres, mysql or sqlite)", driver)
}

// Open 打开连接，GORM 日志转到 zap
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("component", "database"), zap.String("driver", driver))
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newGormLogger(logger, SlowQueryThreshold),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	logger.Info("database connected")
	return db, nil
}

// =============================================================================
// 📝 GORM → zap
// =============================================================================

// gormLogger 失败语句记 Error，慢语句记 Warn，其余只在 Debug 级别输出。
// 查不到记录不算失败。
type gormLogger struct {
	zl   *zap.Logger
	slow time.Duration
}

func newGormLogger(zl *zap.Logger, slow time.Duration) *gormLogger {
	return &gormLogger{zl: zl.WithOptions(zap.AddCallerSkip(3)), slow: slow}
}

func (l *gormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return l }

func (l *gormLogger) Info(_ context.Context, msg string, args ...any) {
	l.zl.Sugar().Infof(msg, args...)
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	l.zl.Sugar().Warnf(msg, args...)
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...any) {
	l.zl.Sugar().Errorf(msg, args...)
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	var (
		lvl = zap.DebugLevel
		msg = "sql"
	)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		lvl, msg = zap.ErrorLevel, "sql failed"
	case l.slow > 0 && elapsed > l.slow:
		lvl, msg = zap.WarnLevel, "slow sql"
	}

	ce := l.zl.Check(lvl, msg)
	if ce == nil {
		return
	}
	stmt, rows := fc()
	fields := []zap.Field{
		zap.String("sql", stmt),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}
	if lvl == zap.ErrorLevel {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}
