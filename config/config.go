package config

import "time"

// =============================================================================
// 🎯 配置结构
// =============================================================================
// yaml 标签对应配置文件键；env 标签逐级拼接成环境变量名，
// 例如 Server.JWT.Secret → AURA_SERVER_JWT_SECRET。env:"-" 的字段只能写在 YAML 里。
// =============================================================================

// Config 服务的完整配置
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Companion CompanionConfig `yaml:"companion" env:"COMPANION"`
	Voice     VoiceConfig     `yaml:"voice" env:"VOICE"`
	Snapshot  SnapshotConfig  `yaml:"snapshot" env:"SNAPSHOT"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Mongo     MongoConfig     `yaml:"mongo" env:"MONGO"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig API 与指标两个监听端口，以及中间件链的参数
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"` // 0 表示不单独暴露
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// 两者都配置时 API 端口走 HTTPS
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`

	// 按用户（已认证）或 IP 限流，RPS 为 0 时关闭
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	// 同时用于 websocket 的 Origin 校验
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`

	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 浏览器 websocket 无法设置请求头，允许 ?api_key=
	AllowQueryAPIKey bool      `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	JWT              JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig Secret（HS256）与 PublicKey（RS256 PEM）都为空时不启用
type JWTConfig struct {
	Secret    string `yaml:"secret" env:"SECRET"`
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
}

func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// CompanionConfig 会话本身的参数
type CompanionConfig struct {
	Variant         string        `yaml:"variant" env:"VARIANT"` // aura | elderlink
	HistoryCapacity int           `yaml:"history_capacity" env:"HISTORY_CAPACITY"`
	TranscriptLimit int           `yaml:"transcript_limit" env:"TRANSCRIPT_LIMIT"`
	AlertTimeout    time.Duration `yaml:"alert_timeout" env:"ALERT_TIMEOUT"` // family_alert 自动清除

	Calibration CalibrationConfig `yaml:"calibration" env:"CALIBRATION"`

	// 维度 → 情绪名 → 权重
	WeightOverrides map[string]map[string]float64 `yaml:"weight_overrides" env:"-"`
	// 为空时使用内置档案
	ProfilePath string `yaml:"profile_path" env:"PROFILE_PATH"`
}

// CalibrationConfig 原始加权和到 0..100 分数的换算
type CalibrationConfig struct {
	Multiplier       float64 `yaml:"multiplier" env:"MULTIPLIER"`
	DampingThreshold float64 `yaml:"damping_threshold" env:"DAMPING_THRESHOLD"`
	DampingFactor    float64 `yaml:"damping_factor" env:"DAMPING_FACTOR"`
}

// VoiceConfig 上游语音服务。URL 为空时只接受客户端中继。
type VoiceConfig struct {
	URL         string        `yaml:"url" env:"URL"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	ConfigID    string        `yaml:"config_id" env:"CONFIG_ID"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// SnapshotConfig 会话快照同步
type SnapshotConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"` // 两次保存的最小间隔
	Sinks    []string      `yaml:"sinks" env:"SINKS"`       // sql, redis, mongo

	SaveTimeout time.Duration `yaml:"save_timeout" env:"SAVE_TIMEOUT"` // 单次保存超时

	RedisHistory int64         `yaml:"redis_history" env:"REDIS_HISTORY"`
	RedisTTL     time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
}

type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig sql 快照目标。sqlite 时 Name 是文件路径。
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER"` // postgres | mysql | sqlite
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`

	// 启动时把快照表迁移到最新版本
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

type MongoConfig struct {
	URI            string        `yaml:"uri" env:"URI"`
	Database       string        `yaml:"database" env:"DATABASE"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// LogConfig 级别可在运行中通过配置热更新调整
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"` // json | console
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	TLS          bool    `yaml:"tls" env:"TLS"`
}

// =============================================================================
// 📦 默认值
// =============================================================================

// DefaultConfig 不读任何文件或环境变量时的配置，可直接通过 Validate
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9091,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    100,
			RateLimitBurst:  200,
		},
		Companion: DefaultCompanionConfig(),
		Voice:     VoiceConfig{DialTimeout: 10 * time.Second},
		Snapshot: SnapshotConfig{
			Interval:     5 * time.Second,
			SaveTimeout:  3 * time.Second,
			Sinks:        []string{"sql"},
			RedisHistory: 100,
			RedisTTL:     24 * time.Hour,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			KeyPrefix:    "aura:",
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "aura",
			Name:            "aura",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Mongo: MongoConfig{Database: "aura", ConnectTimeout: 10 * time.Second},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "aura",
			SampleRate:   0.1,
		},
	}
}

// DefaultCompanionConfig 20 条历史、5 秒家人提醒、标定 300 / 0.05 / 0.2
func DefaultCompanionConfig() CompanionConfig {
	return CompanionConfig{
		Variant:         "aura",
		HistoryCapacity: 20,
		TranscriptLimit: 100,
		AlertTimeout:    5 * time.Second,
		Calibration: CalibrationConfig{
			Multiplier:       300,
			DampingThreshold: 0.05,
			DampingFactor:    0.2,
		},
	}
}
