// Package config provides configuration management for the recording relay.
// It loads configuration from environment variables with sensible defaults
// and validates it before any component is started.
//
// Environment Variables:
//
// Application Settings:
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path (default: stdout)
//   - STATUS_PORT: Port for the status API, empty disables it (default: 8090)
//
// Credential:
//   - TOKEN_FILE: File holding the bearer token, watched for changes (default: ./token/token.txt)
//
// Polling:
//   - LISTING_URL: Recording listing endpoint (required)
//   - LISTING_QUERY: Static query string appended to every listing call
//   - POLL_INTERVAL: Time between poll cycles (default: 5m)
//   - POLL_INITIAL_DELAY: Delay before the first cycle (default: 1s)
//   - HTTP_TIMEOUT: Timeout for listing calls (default: 30s)
//
// Fetching:
//   - DOWNLOAD_TIMEOUT: Timeout for one recording download, body included (default: 10m)
//   - FETCH_CONCURRENCY: Parallel downloads per cycle (default: 4)
//   - FETCH_RATE_LIMIT: Download requests per second (default: 5)
//   - FETCH_BURST: Download request burst (default: 5)
//   - RECORDING_EXTENSION: Extension of staged files (default: mp3)
//   - ROUTES_FILE: YAML file with destinations and routing rules (default: ./routes.yaml)
//
// Ledger:
//   - LEDGER_TYPE: "sqlite", "redis" or "postgres" (default: sqlite)
//   - LEDGER_PATH: SQLite ledger file (default: ./data/ledger.db)
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB: Redis ledger connection
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD,
//     POSTGRES_SSL_MODE: PostgreSQL ledger connection
//
// Relay:
//   - RELAY_PASSWORD: Password for the SFTP relay user
//   - RELAY_KNOWN_HOSTS: known_hosts file used to verify the relay host key
//   - RELAY_SCAN_INTERVAL: How often staging directories are rescanned (default: 30s)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"recording-relay/internal/common/errors"
)

// Config holds all configuration values for the recording relay.
// Struct tags drive validation in Validate.
type Config struct {
	LogLevel   string
	LogFile    string
	StatusPort string `validate:"omitempty,numeric"`

	TokenFile string `validate:"required"`

	ListingURL       string        `validate:"required,url"`
	ListingQuery     string
	PollInterval     time.Duration `validate:"gt=0"`
	PollInitialDelay time.Duration `validate:"gte=0"`
	HTTPTimeout      time.Duration `validate:"gt=0"`

	DownloadTimeout    time.Duration `validate:"gt=0"`
	FetchConcurrency   int           `validate:"min=1,max=64"`
	FetchRateLimit     float64       `validate:"gt=0"`
	FetchBurst         int           `validate:"min=1"`
	RecordingExtension string        `validate:"required,alphanum"`
	RoutesFile         string        `validate:"required"`

	LedgerType    string `validate:"oneof=sqlite redis postgres"`
	LedgerPath    string
	RedisAddress  string
	RedisPassword string
	RedisDB       int `validate:"min=0,max=15"`

	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	RelayPassword     string
	RelayKnownHosts   string
	RelayScanInterval time.Duration `validate:"gt=0"`

	// invalid collects env values that could not be parsed; Validate reports them
	invalid []string
}

// Load creates a new Config instance with values loaded from environment variables.
// If an environment variable is not set, the corresponding default value is used.
//
// Load does not validate the configuration; call Validate on the result.
func Load() *Config {
	c := &Config{}

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFile = getEnv("LOG_FILE", "")
	c.StatusPort = os.Getenv("STATUS_PORT")
	if _, set := os.LookupEnv("STATUS_PORT"); !set {
		c.StatusPort = "8090"
	}

	c.TokenFile = getEnv("TOKEN_FILE", "./token/token.txt")

	c.ListingURL = getEnv("LISTING_URL", "")
	c.ListingQuery = strings.TrimPrefix(getEnv("LISTING_QUERY", ""), "?")
	c.PollInterval = c.getDurationEnv("POLL_INTERVAL", 5*time.Minute)
	c.PollInitialDelay = c.getDurationEnv("POLL_INITIAL_DELAY", time.Second)
	c.HTTPTimeout = c.getDurationEnv("HTTP_TIMEOUT", 30*time.Second)

	c.DownloadTimeout = c.getDurationEnv("DOWNLOAD_TIMEOUT", 10*time.Minute)
	c.FetchConcurrency = c.getIntEnv("FETCH_CONCURRENCY", 4)
	c.FetchRateLimit = c.getFloatEnv("FETCH_RATE_LIMIT", 5)
	c.FetchBurst = c.getIntEnv("FETCH_BURST", 5)
	c.RecordingExtension = strings.TrimPrefix(getEnv("RECORDING_EXTENSION", "mp3"), ".")
	c.RoutesFile = getEnv("ROUTES_FILE", "./routes.yaml")

	c.LedgerType = strings.ToLower(getEnv("LEDGER_TYPE", "sqlite"))
	c.LedgerPath = getEnv("LEDGER_PATH", "./data/ledger.db")
	c.RedisAddress = getEnv("REDIS_ADDRESS", "localhost:6379")
	c.RedisPassword = getEnv("REDIS_PASSWORD", "")
	c.RedisDB = c.getIntEnv("REDIS_DB", 0)

	c.PostgresHost = getEnv("POSTGRES_HOST", "localhost")
	c.PostgresPort = getEnv("POSTGRES_PORT", "5432")
	c.PostgresDB = getEnv("POSTGRES_DB", "recording_relay")
	c.PostgresUser = getEnv("POSTGRES_USER", "postgres")
	c.PostgresPassword = getEnv("POSTGRES_PASSWORD", "")
	c.PostgresSSLMode = getEnv("POSTGRES_SSL_MODE", "disable")

	c.RelayPassword = getEnv("RELAY_PASSWORD", "")
	c.RelayKnownHosts = getEnv("RELAY_KNOWN_HOSTS", "")
	c.RelayScanInterval = c.getDurationEnv("RELAY_SCAN_INTERVAL", 30*time.Second)

	return c
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if len(c.invalid) > 0 {
		return errors.ConfigError("unparseable environment values: " + strings.Join(c.invalid, ", "))
	}

	if err := validator.New().Struct(c); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Field(), fe.Tag()))
			}
			return errors.ConfigError(strings.Join(msgs, "; "))
		}
		return errors.ConfigError(err.Error())
	}

	if u, err := url.Parse(c.ListingURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.ConfigError("LISTING_URL must be an http(s) URL")
	}

	if c.StatusPort != "" {
		if port, _ := strconv.Atoi(c.StatusPort); port < 1 || port > 65535 {
			return errors.ConfigError("STATUS_PORT must be a valid port number between 1 and 65535")
		}
	}

	switch c.LedgerType {
	case "sqlite":
		if c.LedgerPath == "" {
			return errors.ConfigError("LEDGER_PATH is required when using the sqlite ledger")
		}
	case "redis":
		if _, _, err := net.SplitHostPort(c.RedisAddress); err != nil {
			return errors.ConfigError("REDIS_ADDRESS must be host:port")
		}
	case "postgres":
		if c.PostgresHost == "" || c.PostgresDB == "" || c.PostgresUser == "" {
			return errors.ConfigError("POSTGRES_HOST, POSTGRES_DB and POSTGRES_USER are required when using the postgres ledger")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return errors.ConfigError("POSTGRES_PORT must be a valid port number")
		}
	}

	return nil
}

// PostgresDSN builds the connection string for the postgres ledger
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     net.JoinHostPort(c.PostgresHost, c.PostgresPort),
		Path:     "/" + c.PostgresDB,
		RawQuery: "sslmode=" + url.QueryEscape(c.PostgresSSLMode),
	}
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		c.invalid = append(c.invalid, key)
		return defaultValue
	}
	return d
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		c.invalid = append(c.invalid, key)
		return defaultValue
	}
	return n
}

func (c *Config) getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.invalid = append(c.invalid, key)
		return defaultValue
	}
	return f
}
