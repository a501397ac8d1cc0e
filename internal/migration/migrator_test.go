package migration

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/aura/config"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", "postgres", DatabaseTypePostgres, false},
		{"postgresql", "postgresql", DatabaseTypePostgres, false},
		{"pg", "pg", DatabaseTypePostgres, false},
		{"mysql", "mysql", DatabaseTypeMySQL, false},
		{"mariadb", "mariadb", DatabaseTypeMySQL, false},
		{"sqlite", "sqlite", DatabaseTypeSQLite, false},
		{"sqlite3", "sqlite3", DatabaseTypeSQLite, false},
		{"uppercase", "POSTGRES", DatabaseTypePostgres, false},
		{"invalid", "invalid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestURLFromDatabaseConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.DatabaseConfig
		wantType DatabaseType
		wantURL  string
	}{
		{
			name:     "postgres default ssl",
			cfg:      config.DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "aura", Password: "p@ss", Name: "aura"},
			wantType: DatabaseTypePostgres,
			wantURL:  "postgres://aura:p%40ss@db:5432/aura?sslmode=require",
		},
		{
			name:     "postgres disable ssl",
			cfg:      config.DatabaseConfig{Driver: "pg", Host: "db", Port: 5432, User: "aura", Name: "aura", SSLMode: "disable"},
			wantType: DatabaseTypePostgres,
			wantURL:  "postgres://aura:@db:5432/aura?sslmode=disable",
		},
		{
			name:     "mysql",
			cfg:      config.DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "aura", Password: "secret", Name: "aura"},
			wantType: DatabaseTypeMySQL,
			wantURL:  "aura:secret@tcp(db:3306)/aura?parseTime=true&multiStatements=true",
		},
		{
			name:     "sqlite",
			cfg:      config.DatabaseConfig{Driver: "sqlite", Name: "/var/lib/aura.db"},
			wantType: DatabaseTypeSQLite,
			wantURL:  "file:/var/lib/aura.db?_pragma=foreign_keys(1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbType, url, err := URLFromDatabaseConfig(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, dbType)
			assert.Equal(t, tt.wantURL, url)
		})
	}

	_, _, err := URLFromDatabaseConfig(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")

	_, err = NewMigrator(&Config{DatabaseType: "oracle", DatabaseURL: "oracle://x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestListMigrations_AllDialectsInSync(t *testing.T) {
	pg, err := listMigrations(dialects[DatabaseTypePostgres].dir)
	require.NoError(t, err)
	my, err := listMigrations(dialects[DatabaseTypeMySQL].dir)
	require.NoError(t, err)
	lite, err := listMigrations(dialects[DatabaseTypeSQLite].dir)
	require.NoError(t, err)

	require.NotEmpty(t, pg)
	assert.Equal(t, pg, my)
	assert.Equal(t, pg, lite)
	assert.Equal(t, "create_session_snapshots", pg[0].name)

	for i := 1; i < len(pg); i++ {
		assert.Greater(t, pg[i].version, pg[i-1].version)
	}
}

func newSQLiteMigrator(t *testing.T) (*SchemaMigrator, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "aura.db")
	m, err := NewMigratorFromURL("sqlite", SQLiteURL(dbPath), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, dbPath
}

func tableExists(t *testing.T, dbPath, table string) bool {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+dbPath)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n))
	return n > 0
}

func TestMigrator_SQLite_UpAndDown(t *testing.T) {
	m, dbPath := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	assert.True(t, tableExists(t, dbPath, "session_snapshots"))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), info.CurrentVersion)
	assert.Equal(t, uint(2), info.LatestVersion)
	assert.Equal(t, info.TotalMigrations, info.AppliedMigrations)
	assert.Zero(t, info.PendingMigrations)

	// 已是最新版本时再次 Up 不报错
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)

	require.NoError(t, m.DownAll(ctx))
	assert.False(t, tableExists(t, dbPath, "session_snapshots"))

	require.NoError(t, m.Steps(ctx, 1))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, m.Goto(ctx, 2))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestMigrator_CancelledContext(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Up(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	version, _, err := m.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestMigrator_EnsureLatest(t *testing.T) {
	m, dbPath := newSQLiteMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.EnsureLatest(ctx))
	assert.True(t, tableExists(t, dbPath, "session_snapshots"))
	require.NoError(t, m.EnsureLatest(ctx))

	require.NoError(t, m.Down(ctx))
	require.NoError(t, m.EnsureLatest(ctx))
	version, _, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestMigrator_FromDatabaseConfig(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "aura.db")
	m, err := NewMigratorFromDatabaseConfig(config.DatabaseConfig{Driver: "sqlite", Name: dbPath}, nil)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Up(context.Background()))
	assert.True(t, tableExists(t, dbPath, "session_snapshots"))

	_, err = NewMigratorFromDatabaseConfig(config.DatabaseConfig{Driver: ""}, nil)
	assert.Error(t, err)
}

func TestMigrator_LogsThroughZap(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	dbPath := filepath.Join(t.TempDir(), "aura.db")

	m, err := NewMigrator(&Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  SQLiteURL(dbPath),
		Logger:       zap.New(core),
	})
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Up(context.Background()))
	assert.NotZero(t, logs.FilterMessage("migration finished").Len())
	assert.True(t, (&migrateLogger{logger: zap.New(core)}).Verbose())
	assert.False(t, (&migrateLogger{logger: zap.NewNop()}).Verbose())
}

// fakeMigrator 记录 CLI 的调用
type fakeMigrator struct {
	calls   []string
	version uint
	dirty   bool
	err     error
}

func (f *fakeMigrator) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeMigrator) Up(context.Context) error      { return f.record("up") }
func (f *fakeMigrator) Down(context.Context) error    { return f.record("down") }
func (f *fakeMigrator) DownAll(context.Context) error { return f.record("downall") }
func (f *fakeMigrator) Steps(_ context.Context, n int) error {
	return f.record("steps")
}
func (f *fakeMigrator) Goto(_ context.Context, v uint) error {
	f.version = v
	return f.record("goto")
}
func (f *fakeMigrator) Force(_ context.Context, v int) error {
	f.version = uint(v)
	return f.record("force")
}
func (f *fakeMigrator) Version(context.Context) (uint, bool, error) {
	return f.version, f.dirty, nil
}
func (f *fakeMigrator) Status(context.Context) ([]MigrationStatus, error) {
	return []MigrationStatus{
		{Version: 1, Name: "create_session_snapshots", Applied: true},
		{Version: 2, Name: "add_session_snapshots_lookup"},
	}, nil
}
func (f *fakeMigrator) Info(context.Context) (*MigrationInfo, error) {
	return &MigrationInfo{CurrentVersion: f.version, LatestVersion: 2, TotalMigrations: 2, AppliedMigrations: 1, PendingMigrations: 1}, nil
}
func (f *fakeMigrator) Close() error { return nil }

func TestCLI_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatch", func(t *testing.T) {
		f := &fakeMigrator{}
		cli := NewCLI(f)
		var out bytes.Buffer
		cli.SetOutput(&out)

		require.NoError(t, cli.Execute(ctx, "up", nil))
		require.NoError(t, cli.Execute(ctx, "down", nil))
		require.NoError(t, cli.Execute(ctx, "reset", nil))
		require.NoError(t, cli.Execute(ctx, "steps", []string{"-1"}))
		require.NoError(t, cli.Execute(ctx, "goto", []string{"2"}))
		require.NoError(t, cli.Execute(ctx, "force", []string{"1"}))

		assert.Equal(t, []string{"up", "down", "downall", "steps", "goto", "force"}, f.calls)
		assert.Contains(t, out.String(), "Moving -1 migration(s)")
		assert.Contains(t, out.String(), "Forcing version 1")
		assert.Contains(t, out.String(), "Done. Schema version: 1")
	})

	t.Run("bad arguments", func(t *testing.T) {
		cli := NewCLI(&fakeMigrator{})
		cli.SetOutput(&bytes.Buffer{})

		assert.Error(t, cli.Execute(ctx, "goto", nil))
		assert.Error(t, cli.Execute(ctx, "goto", []string{"-3"}))
		assert.Error(t, cli.Execute(ctx, "force", []string{"abc"}))
		assert.Error(t, cli.Execute(ctx, "steps", []string{"0"}))
		assert.Error(t, cli.Execute(ctx, "sideways", nil))
	})

	t.Run("migrator error", func(t *testing.T) {
		boom := errors.New("locked")
		cli := NewCLI(&fakeMigrator{err: boom})
		cli.SetOutput(&bytes.Buffer{})
		assert.ErrorIs(t, cli.Execute(ctx, "up", nil), boom)
	})
}

func TestCLI_StatusAndVersion(t *testing.T) {
	ctx := context.Background()
	f := &fakeMigrator{}
	cli := NewCLI(f)
	var out bytes.Buffer
	cli.SetOutput(&out)

	require.NoError(t, cli.RunVersion(ctx))
	assert.Contains(t, out.String(), "No migrations applied yet")

	out.Reset()
	f.version, f.dirty = 1, true
	require.NoError(t, cli.RunVersion(ctx))
	assert.Contains(t, out.String(), "Schema version: 1 (dirty)")

	out.Reset()
	require.NoError(t, cli.RunStatus(ctx))
	assert.Contains(t, out.String(), "000001")
	assert.Contains(t, out.String(), "applied")
	assert.Contains(t, out.String(), "pending")
	assert.Contains(t, out.String(), "1 applied, 1 pending")

	out.Reset()
	require.NoError(t, cli.RunInfo(ctx))
	assert.Contains(t, out.String(), "latest")
	assert.Contains(t, out.String(), "1/2")
}

func TestSubcommands(t *testing.T) {
	assert.Equal(t, []string{"down", "force", "goto", "info", "reset", "status", "steps", "up", "version"}, Subcommands())
}
