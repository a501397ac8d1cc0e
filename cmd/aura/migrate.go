package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/aura/config"
	"github.com/BaSui01/aura/internal/migration"
)

// =============================================================================
// 🗄️ 快照表迁移
// =============================================================================

// migrateOptions migrate 各子命令共享的 flag
type migrateOptions struct {
	configPath string
	dbType     string
	dbURL      string
	verbose    bool
}

var migrateHelp = map[string]string{
	"up":      "Apply all pending migrations",
	"down":    "Roll back the last migration",
	"reset":   "Roll back every migration",
	"steps":   "Apply (n > 0) or roll back (n < 0) n migrations; pass negatives after --",
	"goto":    "Migrate to a specific version",
	"force":   "Set the version without running migrations (clears the dirty flag)",
	"status":  "List migrations and whether each is applied",
	"version": "Show the current schema version",
	"info":    "Show current, latest and pending counts",
}

var migrateArgName = map[string]string{"steps": "n", "goto": "version", "force": "version"}

func newMigrateCmd() *cobra.Command {
	var opts migrateOptions
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the snapshot table schema",
		Long: `Runs the embedded schema migrations for the sql snapshot sink against the
database from the config file, or against --db-type/--db-url when both are set.`,
		Example: `  aura migrate up --config /etc/aura/config.yaml
  aura migrate status --db-type sqlite --db-url "file:aura.db?_pragma=foreign_keys(1)"
  aura migrate steps -- -1`,
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "path to config file (YAML)")
	pf.StringVar(&opts.dbType, "db-type", "", "database type: postgres, mysql, sqlite")
	pf.StringVar(&opts.dbURL, "db-url", "", "database connection URL")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log migration progress")

	for _, name := range migration.Subcommands() {
		sub := &cobra.Command{
			Use:   name,
			Short: migrateHelp[name],
			Args:  cobra.NoArgs,
		}
		if arg, ok := migrateArgName[name]; ok {
			sub.Use = name + " <" + arg + ">"
			sub.Args = cobra.ExactArgs(1)
		}
		sub.RunE = func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, name, args, opts)
		}
		cmd.AddCommand(sub)
	}
	return cmd
}

func runMigration(cmd *cobra.Command, name string, args []string, opts migrateOptions) error {
	logger := zap.NewNop()
	if opts.verbose {
		logger, _ = initLogger(config.LogConfig{Level: "debug", Format: "console"})
	}

	m, err := createMigrator(opts, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := migration.NewCLI(m)
	cli.SetOutput(cmd.OutOrStdout())
	if err := cli.Execute(ctx, name, args); err != nil {
		return fmt.Errorf("migrate %s: %w", name, err)
	}
	return nil
}

// createMigrator --db-type 与 --db-url 同时给出时直接使用，否则读取配置；
// 只给 --db-type 时覆盖配置里的驱动。
func createMigrator(opts migrateOptions, logger *zap.Logger) (*migration.SchemaMigrator, error) {
	if opts.dbType != "" && opts.dbURL != "" {
		return migration.NewMigratorFromURL(opts.dbType, opts.dbURL, logger)
	}

	loader := config.NewLoader()
	if opts.configPath != "" {
		loader = loader.WithConfigPath(opts.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.dbType != "" {
		cfg.Database.Driver = opts.dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
}
