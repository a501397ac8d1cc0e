package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
)

// CLI 把 aura migrate 的子命令映射到 Migrator，并以表格形式输出结果
type CLI struct {
	m   Migrator
	out io.Writer
}

// NewCLI 创建 CLI，默认输出到 stdout
func NewCLI(m Migrator) *CLI {
	return &CLI{m: m, out: os.Stdout}
}

// SetOutput 设置输出目标
func (c *CLI) SetOutput(w io.Writer) { c.out = w }

type command struct {
	// needsArg 需要一个整数参数
	needsArg bool
	run      func(c *CLI, ctx context.Context, n int) error
}

var commands = map[string]command{
	"up":      {run: func(c *CLI, ctx context.Context, _ int) error { return c.apply(ctx, "Applying pending migrations", c.m.Up) }},
	"down":    {run: func(c *CLI, ctx context.Context, _ int) error { return c.apply(ctx, "Rolling back one migration", c.m.Down) }},
	"reset":   {run: func(c *CLI, ctx context.Context, _ int) error { return c.apply(ctx, "Rolling back every migration", c.m.DownAll) }},
	"status":  {run: func(c *CLI, ctx context.Context, _ int) error { return c.RunStatus(ctx) }},
	"version": {run: func(c *CLI, ctx context.Context, _ int) error { return c.RunVersion(ctx) }},
	"info":    {run: func(c *CLI, ctx context.Context, _ int) error { return c.RunInfo(ctx) }},
	"steps": {needsArg: true, run: func(c *CLI, ctx context.Context, n int) error {
		if n == 0 {
			return fmt.Errorf("steps must not be zero")
		}
		return c.apply(ctx, fmt.Sprintf("Moving %+d migration(s)", n), func(ctx context.Context) error { return c.m.Steps(ctx, n) })
	}},
	"goto": {needsArg: true, run: func(c *CLI, ctx context.Context, n int) error {
		if n < 0 {
			return fmt.Errorf("goto version must not be negative: %d", n)
		}
		return c.apply(ctx, fmt.Sprintf("Migrating to version %d", n), func(ctx context.Context) error { return c.m.Goto(ctx, uint(n)) })
	}},
	"force": {needsArg: true, run: func(c *CLI, ctx context.Context, n int) error {
		return c.apply(ctx, fmt.Sprintf("Forcing version %d", n), func(ctx context.Context) error { return c.m.Force(ctx, n) })
	}},
}

// Subcommands 支持的子命令，按字母序
func Subcommands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute 按子命令名分发。steps/goto/force 需要一个整数参数。
func (c *CLI) Execute(ctx context.Context, sub string, args []string) error {
	cmd, ok := commands[sub]
	if !ok {
		return fmt.Errorf("unknown migrate subcommand: %s", sub)
	}

	var n int
	if cmd.needsArg {
		if len(args) < 1 {
			return fmt.Errorf("%s requires a version argument", sub)
		}
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid %s argument %q: %w", sub, args[0], err)
		}
	}
	return cmd.run(c, ctx, n)
}

// apply 执行一次会改变版本的操作并打印之后的版本
func (c *CLI) apply(ctx context.Context, what string, fn func(context.Context) error) error {
	fmt.Fprintf(c.out, "%s...\n", what)
	if err := fn(ctx); err != nil {
		return err
	}
	version, dirty, err := c.m.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Done. Schema version: %s\n", versionLabel(version, dirty))
	return nil
}

func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.m.Version(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(c.out, "No migrations applied yet.")
		return nil
	}
	fmt.Fprintf(c.out, "Schema version: %s\n", versionLabel(version, dirty))
	return nil
}

func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.m.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATE")
	applied := 0
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n%d applied, %d pending\n", applied, len(statuses)-applied)
	return nil
}

func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.m.Info(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "current\t%s\n", versionLabel(info.CurrentVersion, info.Dirty))
	fmt.Fprintf(w, "latest\t%d\n", info.LatestVersion)
	fmt.Fprintf(w, "applied\t%d/%d\n", info.AppliedMigrations, info.TotalMigrations)
	fmt.Fprintf(w, "pending\t%d\n", info.PendingMigrations)
	return w.Flush()
}

func versionLabel(version uint, dirty bool) string {
	if dirty {
		return fmt.Sprintf("%d (dirty)", version)
	}
	return strconv.FormatUint(uint64(version), 10)
}
