package config

import (
	"errors"
	"fmt"
	"slices"
)

var (
	variants   = []string{"aura", "elderlink"}
	sinkNames  = []string{"sql", "redis", "mongo"}
	sqlDrivers = []string{"postgres", "mysql", "sqlite"}
)

// Validate 检查所有字段，返回的错误包含全部问题
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	s := c.Server
	check(s.HTTPPort > 0 && s.HTTPPort <= 65535, "server.http_port %d out of range", s.HTTPPort)
	check(s.MetricsPort >= 0 && s.MetricsPort <= 65535, "server.metrics_port %d out of range", s.MetricsPort)
	check(s.RateLimitRPS >= 0 && s.RateLimitBurst >= 0, "server rate limit must not be negative")
	check((s.TLSCertFile == "") == (s.TLSKeyFile == ""), "server.tls_cert_file and tls_key_file must be set together")

	cc := c.Companion
	check(slices.Contains(variants, cc.Variant), "unknown companion variant %q", cc.Variant)
	check(cc.HistoryCapacity > 0, "companion.history_capacity must be positive")
	check(cc.AlertTimeout > 0, "companion.alert_timeout must be positive")
	check(cc.Calibration.Multiplier > 0, "companion.calibration.multiplier must be positive")
	check(cc.Calibration.DampingFactor >= 0 && cc.Calibration.DampingFactor <= 1,
		"companion.calibration.damping_factor must be between 0 and 1")

	if snap := c.Snapshot; snap.Enabled {
		check(snap.Interval > 0, "snapshot.interval must be positive")
		check(snap.SaveTimeout >= 0, "snapshot.save_timeout must not be negative")
		check(len(snap.Sinks) > 0, "snapshot enabled without sinks")
		for _, name := range snap.Sinks {
			check(slices.Contains(sinkNames, name), "unknown snapshot sink %q", name)
		}
		if snap.Uses("sql") {
			check(slices.Contains(sqlDrivers, c.Database.Driver), "unsupported database driver %q", c.Database.Driver)
		}
		if snap.Uses("mongo") {
			check(c.Mongo.URI != "", "mongo sink requires mongo.uri")
		}
	}

	return errors.Join(errs...)
}

// Uses 是否启用了指定的快照目标
func (s SnapshotConfig) Uses(sink string) bool {
	return slices.Contains(s.Sinks, sink)
}

// DSN gorm 驱动使用的连接串；未知驱动返回空串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name
	}
	return ""
}
