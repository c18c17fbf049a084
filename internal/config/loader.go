// Package config loads service settings from an optional YAML file and
// SCHEDULER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/example/meeting-scheduler/internal/logging"
)

// FileEnv names the variable pointing at the YAML file.
const FileEnv = "SCHEDULER_CONFIG_FILE"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BrokerMemory   = "memory"
	BrokerRedis    = "redis"
	BrokerEventLog = "eventlog"
)

// Config captures configuration values for both services.
type Config struct {
	HTTPPort        int
	UserHTTPPort    int
	Database        DatabaseConfig
	Broker          BrokerConfig
	SensitiveFields []string
	Horizon         time.Duration
	HorizonSchedule string
	LogLevel        string
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type BrokerConfig struct {
	Kind         string
	ConsumerName string
	Redis        RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		HTTPPort:        8080,
		UserHTTPPort:    8081,
		Database:        DatabaseConfig{Driver: DriverSQLite, DSN: "file:scheduler.db"},
		Broker:          BrokerConfig{Kind: BrokerMemory, ConsumerName: "meeting-service"},
		Horizon:         28 * 24 * time.Hour,
		HorizonSchedule: "0 * * * *",
		LogLevel:        "info",
	}
}

// fileConfig is the YAML layout. Durations are written as Go duration
// strings such as "672h".
type fileConfig struct {
	HTTPPort     int `yaml:"http_port"`
	UserHTTPPort int `yaml:"user_http_port"`
	Database     struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Broker struct {
		Kind         string `yaml:"kind"`
		ConsumerName string `yaml:"consumer_name"`
		Redis        struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       *int   `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"broker"`
	SensitiveFields []string `yaml:"sensitive_fields"`
	Horizon         string   `yaml:"horizon"`
	HorizonSchedule string   `yaml:"horizon_schedule"`
	LogLevel        string   `yaml:"log_level"`
}

// Load builds the configuration from defaults, the file named by
// SCHEDULER_CONFIG_FILE when set, and finally the environment.
func Load() (Config, error) {
	return LoadFrom(env(FileEnv))
}

// LoadFrom is Load with an explicit file path. An empty path skips the file.
//
// Missing and invalid entries are collected and reported together with
// localized messages naming the environment variable that controls each one.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	l := &loader{}

	if path = strings.TrimSpace(path); path != "" {
		if err := l.applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	l.applyEnv(&cfg)
	l.validate(&cfg)

	if len(l.missing) > 0 {
		return Config{}, fmt.Errorf("必須の設定値がありません: %s", strings.Join(l.missing, ", "))
	}
	if len(l.invalid) > 0 {
		return Config{}, fmt.Errorf("設定値が不正です: %s", strings.Join(l.invalid, ", "))
	}
	return cfg, nil
}

type loader struct {
	missing []string
	invalid []string
}

func (l *loader) fail(key string) {
	for _, existing := range l.invalid {
		if existing == key {
			return
		}
	}
	l.invalid = append(l.invalid, key)
}

func (l *loader) applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("設定ファイルが見つかりません: %s", path)
		}
		return fmt.Errorf("設定ファイルを読み込めません: %s: %w", path, err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("設定ファイルの形式が不正です: %s: %w", path, err)
	}

	if file.HTTPPort != 0 {
		cfg.HTTPPort = file.HTTPPort
	}
	if file.UserHTTPPort != 0 {
		cfg.UserHTTPPort = file.UserHTTPPort
	}
	setString(&cfg.Database.Driver, file.Database.Driver)
	setString(&cfg.Database.DSN, file.Database.DSN)
	setString(&cfg.Broker.Kind, file.Broker.Kind)
	setString(&cfg.Broker.ConsumerName, file.Broker.ConsumerName)
	setString(&cfg.Broker.Redis.Addr, file.Broker.Redis.Addr)
	setString(&cfg.Broker.Redis.Password, file.Broker.Redis.Password)
	if file.Broker.Redis.DB != nil {
		cfg.Broker.Redis.DB = *file.Broker.Redis.DB
	}
	if file.SensitiveFields != nil {
		cfg.SensitiveFields = file.SensitiveFields
	}
	if file.Horizon != "" {
		l.parseHorizon(cfg, file.Horizon)
	}
	setString(&cfg.HorizonSchedule, file.HorizonSchedule)
	setString(&cfg.LogLevel, file.LogLevel)
	return nil
}

func (l *loader) applyEnv(cfg *Config) {
	l.envPort("SCHEDULER_HTTP_PORT", &cfg.HTTPPort)
	l.envPort("SCHEDULER_USER_HTTP_PORT", &cfg.UserHTTPPort)
	setString(&cfg.Database.Driver, env("SCHEDULER_DATABASE_DRIVER"))
	setString(&cfg.Database.DSN, env("SCHEDULER_DATABASE_DSN"))
	setString(&cfg.Broker.Kind, env("SCHEDULER_BROKER"))
	setString(&cfg.Broker.ConsumerName, env("SCHEDULER_CONSUMER_NAME"))
	setString(&cfg.Broker.Redis.Addr, env("SCHEDULER_REDIS_ADDR"))
	setString(&cfg.Broker.Redis.Password, env("SCHEDULER_REDIS_PASSWORD"))

	if value := env("SCHEDULER_REDIS_DB"); value != "" {
		db, err := strconv.Atoi(value)
		if err != nil || db < 0 {
			l.fail("SCHEDULER_REDIS_DB")
		} else {
			cfg.Broker.Redis.DB = db
		}
	}

	if value, ok := os.LookupEnv("SCHEDULER_SENSITIVE_FIELDS"); ok {
		cfg.SensitiveFields = splitList(value)
	}
	if value := env("SCHEDULER_HORIZON"); value != "" {
		l.parseHorizon(cfg, value)
	}
	setString(&cfg.HorizonSchedule, env("SCHEDULER_HORIZON_SCHEDULE"))
	setString(&cfg.LogLevel, env("SCHEDULER_LOG_LEVEL"))
}

func (l *loader) validate(cfg *Config) {
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		l.fail("SCHEDULER_HTTP_PORT")
	}
	if cfg.UserHTTPPort <= 0 || cfg.UserHTTPPort > 65535 {
		l.fail("SCHEDULER_USER_HTTP_PORT")
	}

	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	switch cfg.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		l.fail("SCHEDULER_DATABASE_DRIVER")
	}
	if cfg.Database.DSN == "" {
		l.missing = append(l.missing, "SCHEDULER_DATABASE_DSN")
	}

	cfg.Broker.Kind = strings.ToLower(cfg.Broker.Kind)
	switch cfg.Broker.Kind {
	case BrokerMemory, BrokerEventLog:
	case BrokerRedis:
		if cfg.Broker.Redis.Addr == "" {
			l.missing = append(l.missing, "SCHEDULER_REDIS_ADDR")
		}
	default:
		l.fail("SCHEDULER_BROKER")
	}
	if cfg.Broker.ConsumerName == "" {
		l.missing = append(l.missing, "SCHEDULER_CONSUMER_NAME")
	}

	if cfg.Horizon <= 0 {
		l.fail("SCHEDULER_HORIZON")
	}
	if _, err := cron.ParseStandard(cfg.HorizonSchedule); err != nil {
		l.fail("SCHEDULER_HORIZON_SCHEDULE")
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		l.fail("SCHEDULER_LOG_LEVEL")
	}
}

func (l *loader) envPort(key string, dst *int) {
	value := env(key)
	if value == "" {
		return
	}
	port, err := strconv.Atoi(value)
	if err != nil {
		l.fail(key)
		return
	}
	*dst = port
}

func (l *loader) parseHorizon(cfg *Config, value string) {
	horizon, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		l.fail("SCHEDULER_HORIZON")
		return
	}
	cfg.Horizon = horizon
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

// splitList parses a comma separated list. An empty value yields an empty
// non-nil slice.
func splitList(value string) []string {
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
