// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"strings"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var configPath = "config.toml"

var configFile = altsrc.NewStringPtrSourcer(&configPath)

// Storage engines usable as the local (fallback) engine.
const (
	EngineFile   = "file"
	EngineSQLite = "sqlite"
)

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
	Storage StorageConfig `toml:"storage"`
	Crypto  CryptoConfig  `toml:"crypto"`
	Auth    AuthConfig    `toml:"auth"`
	SMTP    SMTPConfig    `toml:"smtp"`
	Session SessionConfig `toml:"session"`
	Redis   RedisConfig   `toml:"redis"`
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	MaxBodySize int    `toml:"max_body_size"` // in MB
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

type StorageConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Engine         string        `toml:"engine"` // file, sqlite
	DataDir        string        `toml:"data_dir"`
	SQLiteDSN      string        `toml:"sqlite_dsn"`
	UseMongo       bool          `toml:"use_mongo"`
	MongoURI       string        `toml:"mongo_uri"`
	MongoDatabase  string        `toml:"mongo_database"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
}

// MongoEnabled reports whether the document store should front the local engine.
func (s StorageConfig) MongoEnabled() bool {
	return s.UseMongo && s.MongoURI != ""
}

type CryptoConfig struct {
	EncryptionKey string `toml:"encryption_key"` // base64, 32 bytes
}

type AuthConfig struct { //nolint:govet // fieldalignment not critical for config structs
	InstitutionalDomain string        `toml:"institutional_domain"`
	OTPTTL              time.Duration `toml:"otp_ttl"`
	SweepInterval       time.Duration `toml:"sweep_interval"`
	Admin               AdminConfig   `toml:"admin"`
}

// AdminConfig describes the bootstrap admin account seeded at startup.
type AdminConfig struct {
	Email        string `toml:"email"`
	Username     string `toml:"username"`
	FullName     string `toml:"full_name"`
	PasswordHash string `toml:"password_hash"` // bcrypt hash, stored as-is
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	FromName string `toml:"from_name"`
	TLS      bool   `toml:"tls"`
}

// Enabled reports whether outbound mail goes through SMTP.
func (s SMTPConfig) Enabled() bool {
	return s.Host != ""
}

type SessionConfig struct { //nolint:govet // fieldalignment not critical
	CookieName string `toml:"cookie_name"`
	MaxAge     int    `toml:"max_age"`   // Session max age in seconds
	HashKey    string `toml:"hash_key"`  // 32-byte hex string for HMAC signing
	BlockKey   string `toml:"block_key"` // 32-byte hex string for AES encryption (optional)
	Secure     bool   `toml:"secure"`
}

type RedisConfig struct { //nolint:govet // fieldalignment not critical for config structs
	URL          string        `toml:"url"`
	MaxOTPIssues int           `toml:"max_otp_issues"`
	Window       time.Duration `toml:"window"`
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:        cmd.String("host"),
			Port:        int(cmd.Int("port")),
			MaxBodySize: int(cmd.Int("max-body-size")),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Storage: StorageConfig{
			Engine:         strings.ToLower(cmd.String("storage-engine")),
			DataDir:        cmd.String("data-dir"),
			SQLiteDSN:      cmd.String("sqlite-dsn"),
			UseMongo:       cmd.Bool("use-mongo"),
			MongoURI:       cmd.String("mongo-uri"),
			MongoDatabase:  cmd.String("mongo-database"),
			ConnectTimeout: cmd.Duration("mongo-connect-timeout"),
		},
		Crypto: CryptoConfig{
			EncryptionKey: cmd.String("encryption-key"),
		},
		Auth: AuthConfig{
			InstitutionalDomain: strings.ToLower(strings.TrimPrefix(cmd.String("institutional-domain"), "@")),
			OTPTTL:              cmd.Duration("otp-ttl"),
			SweepInterval:       cmd.Duration("otp-sweep-interval"),
			Admin: AdminConfig{
				Email:        strings.ToLower(cmd.String("admin-email")),
				Username:     cmd.String("admin-username"),
				FullName:     cmd.String("admin-full-name"),
				PasswordHash: cmd.String("admin-password-hash"),
			},
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
		},
		Session: SessionConfig{
			CookieName: cmd.String("session-cookie-name"),
			MaxAge:     int(cmd.Int("session-max-age")),
			HashKey:    cmd.String("session-hash-key"),
			BlockKey:   cmd.String("session-block-key"),
			Secure:     cmd.Bool("session-secure"),
		},
		Redis: RedisConfig{
			URL:          cmd.String("redis-url"),
			MaxOTPIssues: int(cmd.Int("otp-max-issues")),
			Window:       cmd.Duration("otp-issue-window"),
		},
	}

	applyStorageDefaults(cfg)

	return cfg
}

// applyStorageDefaults fills engine-dependent settings left empty.
func applyStorageDefaults(cfg *Config) {
	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = EngineFile
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.Engine == EngineSQLite && cfg.Storage.SQLiteDSN == "" {
		cfg.Storage.SQLiteDSN = strings.TrimSuffix(cfg.Storage.DataDir, "/") + "/accounts.db"
	}
}

// Redacted returns a copy with secrets blanked, suitable for printing.
func (c Config) Redacted() Config {
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Crypto.EncryptionKey = redact(c.Crypto.EncryptionKey)
	c.SMTP.Password = redact(c.SMTP.Password)
	c.Session.HashKey = redact(c.Session.HashKey)
	c.Session.BlockKey = redact(c.Session.BlockKey)
	c.Auth.Admin.PasswordHash = redact(c.Auth.Admin.PasswordHash)
	c.Storage.MongoURI = redact(c.Storage.MongoURI)
	c.Redis.URL = redact(c.Redis.URL)
	return c
}

func source(env, key string) cli.ValueSourceChain {
	return cli.NewValueSourceChain(cli.EnvVar(env), toml.TOML(key, configFile))
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Value:       "config.toml",
			Usage:       "Path to configuration file",
			Destination: &configPath,
			Sources:     cli.EnvVars("CONFIG"),
		},
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: source("HOST", "server.host"),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: source("PORT", "server.port"),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   1,
			Usage:   "Maximum request body size in MB",
			Sources: source("MAX_BODY_SIZE", "server.max_body_size"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: source("LOG_LEVEL", "log.level"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: source("LOG_FORMAT", "log.format"),
		},
		// Storage flags
		&cli.StringFlag{
			Name:    "storage-engine",
			Value:   EngineFile,
			Usage:   "Local storage engine (file, sqlite)",
			Sources: source("STORAGE_ENGINE", "storage.engine"),
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Value:   "./data",
			Usage:   "Directory for the local storage files",
			Sources: source("DATA_DIR", "storage.data_dir"),
		},
		&cli.StringFlag{
			Name:    "sqlite-dsn",
			Usage:   "SQLite DSN (defaults to <data-dir>/accounts.db)",
			Sources: source("SQLITE_DSN", "storage.sqlite_dsn"),
		},
		&cli.BoolFlag{
			Name:    "use-mongo",
			Usage:   "Use MongoDB with the local engine as fallback",
			Sources: source("USE_MONGODB", "storage.use_mongo"),
		},
		&cli.StringFlag{
			Name:    "mongo-uri",
			Usage:   "MongoDB connection string",
			Sources: source("MONGODB_URI", "storage.mongo_uri"),
		},
		&cli.StringFlag{
			Name:    "mongo-database",
			Value:   "student_portal",
			Usage:   "MongoDB database name",
			Sources: source("MONGODB_DATABASE", "storage.mongo_database"),
		},
		&cli.DurationFlag{
			Name:    "mongo-connect-timeout",
			Value:   5 * time.Second,
			Usage:   "Timeout for the initial MongoDB connection",
			Sources: source("MONGODB_CONNECT_TIMEOUT", "storage.connect_timeout"),
		},
		&cli.StringFlag{
			Name:    "encryption-key",
			Usage:   "Base64 encoded 32-byte key for email encryption at rest",
			Sources: source("ENCRYPTION_KEY", "crypto.encryption_key"),
		},
		// Auth flags
		&cli.StringFlag{
			Name:    "institutional-domain",
			Value:   "vu.edu.pk",
			Usage:   "Email domain required for student accounts",
			Sources: source("INSTITUTIONAL_DOMAIN", "auth.institutional_domain"),
		},
		&cli.DurationFlag{
			Name:    "otp-ttl",
			Value:   10 * time.Minute,
			Usage:   "Lifetime of one-time passcodes",
			Sources: source("OTP_TTL", "auth.otp_ttl"),
		},
		&cli.DurationFlag{
			Name:    "otp-sweep-interval",
			Value:   5 * time.Minute,
			Usage:   "Interval between expired passcode sweeps",
			Sources: source("OTP_SWEEP_INTERVAL", "auth.sweep_interval"),
		},
		&cli.StringFlag{
			Name:    "admin-email",
			Value:   "admin@vu.edu.pk",
			Usage:   "Bootstrap admin email",
			Sources: source("ADMIN_EMAIL", "auth.admin.email"),
		},
		&cli.StringFlag{
			Name:    "admin-username",
			Value:   "admin",
			Usage:   "Bootstrap admin username",
			Sources: source("ADMIN_USERNAME", "auth.admin.username"),
		},
		&cli.StringFlag{
			Name:    "admin-full-name",
			Value:   "Admin User",
			Usage:   "Bootstrap admin full name",
			Sources: source("ADMIN_FULL_NAME", "auth.admin.full_name"),
		},
		&cli.StringFlag{
			Name:    "admin-password-hash",
			Usage:   "Bcrypt hash of the bootstrap admin password (seeding is skipped if empty)",
			Sources: source("ADMIN_PASSWORD_HASH", "auth.admin.password_hash"),
		},
		// SMTP flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP host (messages are only logged if empty)",
			Sources: source("SMTP_HOST", "smtp.host"),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP port",
			Sources: source("SMTP_PORT", "smtp.port"),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: source("SMTP_USER", "smtp.username"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: source("SMTP_PASS", "smtp.password"),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Usage:   "Sender address",
			Sources: source("SMTP_FROM", "smtp.from"),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Value:   "Student Portal",
			Usage:   "Sender display name",
			Sources: source("SMTP_FROM_NAME", "smtp.from_name"),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS for SMTP",
			Sources: source("SMTP_SECURE", "smtp.tls"),
		},
		// Session flags
		&cli.StringFlag{
			Name:    "session-cookie-name",
			Value:   "_session",
			Usage:   "Session cookie name",
			Sources: source("SESSION_COOKIE_NAME", "session.cookie_name"),
		},
		&cli.IntFlag{
			Name:    "session-max-age",
			Value:   604800, // 7 days in seconds
			Usage:   "Session max age in seconds",
			Sources: source("SESSION_MAX_AGE", "session.max_age"),
		},
		&cli.StringFlag{
			Name:    "session-hash-key",
			Usage:   "Session hash key (32-byte hex, auto-generated if empty in dev)",
			Sources: source("SESSION_HASH_KEY", "session.hash_key"),
		},
		&cli.StringFlag{
			Name:    "session-block-key",
			Usage:   "Session block key for encryption (32-byte hex, optional)",
			Sources: source("SESSION_BLOCK_KEY", "session.block_key"),
		},
		&cli.BoolFlag{
			Name:    "session-secure",
			Usage:   "HTTPS only session cookie",
			Sources: source("SESSION_SECURE", "session.secure"),
		},
		// Redis flags
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for passcode issuance limits (disabled if empty)",
			Sources: source("REDIS_URL", "redis.url"),
		},
		&cli.IntFlag{
			Name:    "otp-max-issues",
			Value:   5,
			Usage:   "Maximum passcodes issued per email within the window",
			Sources: source("OTP_MAX_ISSUES", "redis.max_otp_issues"),
		},
		&cli.DurationFlag{
			Name:    "otp-issue-window",
			Value:   15 * time.Minute,
			Usage:   "Window for the passcode issuance limit",
			Sources: source("OTP_ISSUE_WINDOW", "redis.window"),
		},
	}
}
