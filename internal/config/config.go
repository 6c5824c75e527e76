// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds every runtime setting of the server.
type Config struct {
	Port        int
	StoreDriver string
	DatabaseURL string

	RedisAddr          string
	RedisDB            int
	EventChannelPrefix string

	MaxUserCount int
	WaitTimeout  time.Duration
	ReapInterval time.Duration

	TicketTTL            time.Duration
	TicketPrivateKeyPath string
	TicketPublicKeyPath  string

	HistorianBatchSize     int
	HistorianFlushInterval time.Duration

	LogLevel  logrus.Level
	LogFormat string
}

// Load reads an optional .env file at envPath (ignored when missing) and
// then builds a Config from the environment.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config using getenv for lookups.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := envReader{getenv: getenv}
	cfg := &Config{
		Port:                 e.int("PORT", 8080),
		StoreDriver:          e.str("STORE_DRIVER", DriverPostgres),
		DatabaseURL:          getenv("DATABASE_URL"),
		RedisAddr:            getenv("REDIS_ADDR"),
		RedisDB:              e.int("REDIS_DB", 0),
		EventChannelPrefix:   e.str("EVENT_CHANNEL_PREFIX", "liveroom"),
		MaxUserCount:         e.int("ROOM_MAX_USER_COUNT", 4),
		WaitTimeout:          e.duration("ROOM_WAIT_TIMEOUT", 10*time.Minute),
		ReapInterval:         e.duration("ROOM_REAP_INTERVAL", 30*time.Second),
		TicketTTL:            e.duration("TICKET_TTL", time.Minute),
		TicketPrivateKeyPath: getenv("TICKET_PRIVATE_KEY_PATH"),
		TicketPublicKeyPath:  getenv("TICKET_PUBLIC_KEY_PATH"),
		LogFormat:            e.str("LOG_FORMAT", "text"),

		HistorianBatchSize:     e.int("HISTORIAN_BATCH_SIZE", 20),
		HistorianFlushInterval: e.duration("HISTORIAN_FLUSH_INTERVAL", 500*time.Millisecond),
	}

	level, err := logrus.ParseLevel(e.str("LOG_LEVEL", "info"))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	cfg.LogLevel = level

	if cfg.DatabaseURL == "" && getenv("PG_HOST") != "" {
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(getenv("POSTGRES_USER"), getenv("POSTGRES_PASSWORD")),
			Host:   getenv("PG_HOST") + ":" + e.str("PG_PORT", "5432"),
			Path:   "/" + getenv("PG_DATABASE"),
		}
		cfg.DatabaseURL = u.String()
	}

	if err := cfg.validate(); err != nil {
		e.errs = append(e.errs, err)
	}
	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL or PG_HOST is required for the postgres store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT: %d out of range", c.Port))
	}
	if c.MaxUserCount < 1 {
		errs = append(errs, fmt.Errorf("ROOM_MAX_USER_COUNT: must be positive, got %d", c.MaxUserCount))
	}
	if c.WaitTimeout < 0 {
		errs = append(errs, errors.New("ROOM_WAIT_TIMEOUT: must not be negative"))
	}
	if c.WaitTimeout > 0 && c.ReapInterval <= 0 {
		errs = append(errs, errors.New("ROOM_REAP_INTERVAL: must be positive while the reaper is enabled"))
	}
	if c.TicketTTL <= 0 {
		errs = append(errs, errors.New("TICKET_TTL: must be positive"))
	}
	if (c.TicketPrivateKeyPath == "") != (c.TicketPublicKeyPath == "") {
		errs = append(errs, errors.New("TICKET_PRIVATE_KEY_PATH and TICKET_PUBLIC_KEY_PATH must be set together"))
	}
	if c.HistorianBatchSize < 1 {
		errs = append(errs, fmt.Errorf("HISTORIAN_BATCH_SIZE: must be positive, got %d", c.HistorianBatchSize))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT: unknown format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// envReader collects parse errors instead of stopping at the first one.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) str(key, defVal string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return defVal
}

func (e *envReader) int(key string, defVal int) int {
	v := e.getenv(key)
	if v == "" {
		return defVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defVal
	}
	return i
}

// duration accepts Go durations such as "30s"; "0" is allowed.
func (e *envReader) duration(key string, defVal time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return defVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defVal
	}
	return d
}
