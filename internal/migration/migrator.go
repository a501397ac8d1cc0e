package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite" // 纯 Go SQLite 驱动，注册为 "sqlite"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations
var migrationsFS embed.FS

// DefaultTableName 迁移版本表名
const DefaultTableName = "schema_migrations"

// DatabaseType 数据库方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// dialect 一种方言的 sql 驱动名、迁移目录与 golang-migrate 驱动构造
type dialect struct {
	sqlDriver string
	dir       string
	open      func(db *sql.DB, table string) (database.Driver, error)
}

var dialects = map[DatabaseType]dialect{
	DatabaseTypePostgres: {
		sqlDriver: "postgres",
		dir:       "migrations/postgres",
		open: func(db *sql.DB, table string) (database.Driver, error) {
			return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
		},
	},
	DatabaseTypeMySQL: {
		sqlDriver: "mysql",
		dir:       "migrations/mysql",
		open: func(db *sql.DB, table string) (database.Driver, error) {
			return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
		},
	},
	DatabaseTypeSQLite: {
		// sqlite3 驱动只用到 *sql.DB 的通用接口，传入的是纯 Go 连接
		sqlDriver: "sqlite",
		dir:       "migrations/sqlite",
		open: func(db *sql.DB, table string) (database.Driver, error) {
			return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
		},
	},
}

func lookupDialect(t DatabaseType) (dialect, error) {
	d, ok := dialects[t]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database type: %s", t)
	}
	return d, nil
}

// ParseDatabaseType 解析数据库类型，大小写不敏感
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo 当前迁移状态摘要
type MigrationInfo struct {
	CurrentVersion    uint
	LatestVersion     uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config 迁移器配置
type Config struct {
	DatabaseType DatabaseType

	// DatabaseURL 连接串，格式见 URLFromDatabaseConfig
	DatabaseURL string

	// TableName 版本表名，默认 schema_migrations
	TableName string

	// LockTimeout 获取迁移锁与首次连通检查的超时
	LockTimeout time.Duration

	Logger *zap.Logger
}

// Migrator 快照库 Schema 迁移
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	// Steps 正数前进 n 步，负数回滚 n 步
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	// Force 只改版本号，不执行 SQL，用于修复 dirty 状态
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// SchemaMigrator 基于 golang-migrate 与内嵌 SQL 的 Migrator
type SchemaMigrator struct {
	cfg    Config
	logger *zap.Logger
	m      *migrate.Migrate
	files  []migrationFile
}

// NewMigrator 打开数据库、完成连通检查并加载内嵌迁移
func NewMigrator(cfg *Config) (*SchemaMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	d, err := lookupDialect(cfg.DatabaseType)
	if err != nil {
		return nil, err
	}

	c := *cfg
	if c.TableName == "" {
		c.TableName = DefaultTableName
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	files, err := listMigrations(d.dir)
	if err != nil {
		return nil, err
	}

	sm := &SchemaMigrator{
		cfg:    c,
		logger: c.Logger.With(zap.String("component", "migration"), zap.String("database", string(c.DatabaseType))),
		files:  files,
	}
	if sm.m, err = sm.connect(d); err != nil {
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return sm, nil
}

func (sm *SchemaMigrator) connect(d dialect) (*migrate.Migrate, error) {
	db, err := sql.Open(d.sqlDriver, sm.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sm.cfg.LockTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	dbDriver, err := d.open(db, sm.cfg.TableName)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("database driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, d.dir)
	if err != nil {
		dbDriver.Close()
		return nil, fmt.Errorf("source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(sm.cfg.DatabaseType), dbDriver)
	if err != nil {
		dbDriver.Close()
		return nil, err
	}
	m.Log = &migrateLogger{logger: sm.logger}
	m.LockTimeout = sm.cfg.LockTimeout
	return m, nil
}

// run 执行一次迁移操作。ctx 取消时通知 golang-migrate 在当前迁移结束后停止。
func (sm *SchemaMigrator) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		select {
		case sm.m.GracefulStop <- true:
		default:
		}
	})
	defer stop()

	start := time.Now()
	err := fn()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		sm.logger.Error("migration failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("migration %s failed: %w", op, err)
	}
	sm.logger.Info("migration finished",
		zap.String("op", op),
		zap.Bool("changed", err == nil),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (sm *SchemaMigrator) Up(ctx context.Context) error {
	return sm.run(ctx, "up", sm.m.Up)
}

func (sm *SchemaMigrator) Down(ctx context.Context) error {
	return sm.run(ctx, "down", func() error { return sm.m.Steps(-1) })
}

func (sm *SchemaMigrator) DownAll(ctx context.Context) error {
	return sm.run(ctx, "down all", sm.m.Down)
}

func (sm *SchemaMigrator) Steps(ctx context.Context, n int) error {
	return sm.run(ctx, "steps", func() error { return sm.m.Steps(n) })
}

func (sm *SchemaMigrator) Goto(ctx context.Context, version uint) error {
	return sm.run(ctx, "goto", func() error { return sm.m.Migrate(version) })
}

func (sm *SchemaMigrator) Force(_ context.Context, version int) error {
	if err := sm.m.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	sm.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Version 当前版本；未执行过迁移时为 0
func (sm *SchemaMigrator) Version(context.Context) (uint, bool, error) {
	version, dirty, err := sm.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

func (sm *SchemaMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := sm.Version(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(sm.files))
	for _, f := range sm.files {
		out = append(out, MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		})
	}
	return out, nil
}

func (sm *SchemaMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	current, dirty, err := sm.Version(ctx)
	if err != nil {
		return nil, err
	}

	info := &MigrationInfo{
		CurrentVersion:  current,
		Dirty:           dirty,
		TotalMigrations: len(sm.files),
	}
	for _, f := range sm.files {
		if f.version <= current {
			info.AppliedMigrations++
		}
		info.LatestVersion = f.version
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info, nil
}

// EnsureLatest 迁移到最新版本。Schema 处于 dirty 状态时拒绝执行，需要人工 force。
func (sm *SchemaMigrator) EnsureLatest(ctx context.Context) error {
	info, err := sm.Info(ctx)
	if err != nil {
		return err
	}
	if info.Dirty {
		return fmt.Errorf("schema version %d is dirty, run 'aura migrate force' first", info.CurrentVersion)
	}
	if info.PendingMigrations == 0 {
		return nil
	}
	return sm.Up(ctx)
}

// Close 释放迁移源与数据库连接
func (sm *SchemaMigrator) Close() error {
	if sm.m == nil {
		return nil
	}
	srcErr, dbErr := sm.m.Close()
	return errors.Join(srcErr, dbErr)
}

type migrationFile struct {
	version uint
	name    string
}

// listMigrations 解析 000001_name.up.sql 形式的内嵌迁移，按版本升序
func listMigrations(dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []migrationFile
	for _, e := range entries {
		base, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if e.IsDir() || !ok {
			continue
		}
		num, name, ok := strings.Cut(base, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			continue
		}
		files = append(files, migrationFile{version: uint(v), name: name})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// migrateLogger 把 golang-migrate 的日志接到 zap
type migrateLogger struct {
	logger *zap.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool {
	return l.logger.Core().Enabled(zap.DebugLevel)
}
