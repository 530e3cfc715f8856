package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/door-monitor/internal/logger"
)

// Config holds the settings shared by the door-monitor binaries.
type Config struct {
	// ServerAddress is the gRPC address of the monitor service.
	ServerAddress string `yaml:"server_addr" toml:"server_addr"`
	// HTTPAddress is the listen address of the HTTP ingress.
	HTTPAddress string `yaml:"http_addr" toml:"http_addr"`
	// Timeout is the duration for client network operations and RPC calls.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
	// LogLevel is the minimum level of the service logs.
	LogLevel string `yaml:"log_level" toml:"log_level"`
	// Storage selects where entity state and workflow history live.
	Storage Storage `yaml:"storage" toml:"storage"`
	// Entity is the identity of the monitored sensor.
	Entity Entity `yaml:"entity" toml:"entity"`
	// Monitor tunes the monitoring orchestration.
	Monitor Monitor `yaml:"monitor" toml:"monitor"`
	// Notification configures the outbound text message.
	Notification Notification `yaml:"notification" toml:"notification"`
	// Ingress configures the HTTP ingress.
	Ingress Ingress `yaml:"ingress" toml:"ingress"`
}

// Storage selects the persistence backend.
type Storage struct {
	// Driver is one of sqlite3, postgres, file or memory.
	Driver string `yaml:"driver" toml:"driver"`
	// DSN is the database path (sqlite3) or connection string (postgres).
	DSN string `yaml:"dsn" toml:"dsn"`
	// EntityFile is the JSON file holding entity state for the file driver.
	EntityFile string `yaml:"entity_file" toml:"entity_file"`
}

// Entity is the compound key of the sensor entity.
type Entity struct {
	Kind string `yaml:"kind" toml:"kind"`
	Name string `yaml:"name" toml:"name"`
}

// Monitor holds the orchestration constants.
type Monitor struct {
	// TimerDelay is the wait between two checks of the sensor state.
	TimerDelay time.Duration `yaml:"timer_delay" toml:"timer_delay"`
	// MaxRetries bounds the number of re-checks after the first notification.
	MaxRetries int `yaml:"max_retries" toml:"max_retries"`
}

// Notification configures the messaging provider call.
type Notification struct {
	// APIURL is the base URL of the messaging API.
	APIURL string `yaml:"api_url" toml:"api_url"`
	// AccountSID identifies the messaging account.
	AccountSID string `yaml:"account_sid" toml:"account_sid"`
	// AccountToken is the credential. Usually injected through the environment.
	AccountToken string `yaml:"account_token" toml:"account_token"`
	// From is the sender phone number.
	From string `yaml:"from" toml:"from"`
	// To is the recipient phone number.
	To string `yaml:"to" toml:"to"`
	// Body is the fixed message text.
	Body string `yaml:"body" toml:"body"`
	// Timeout bounds one outbound call.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// Ingress configures the HTTP endpoint.
type Ingress struct {
	// RateLimit is the sustained number of requests per second per client.
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit"`
	// Burst is the token bucket size per client.
	Burst int `yaml:"burst" toml:"burst"`
	// AccessLogLevel is the minimum level of the HTTP access log, whose lines are written at info.
	AccessLogLevel string `yaml:"access_log_level" toml:"access_log_level"`
	// TrustedProxies may set the client address through forwarding headers.
	// Empty trusts the loopback addresses.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty" toml:"trusted_proxies,omitempty"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "door-monitor-settings.yaml"

	// DefaultDatabaseFilename is the default sqlite database path.
	DefaultDatabaseFilename = "door-monitor.db"

	// DefaultEntityFilename is the default entity file for the file driver.
	DefaultEntityFilename = "door-monitor-entities.json"

	// DefaultServerAddress is the default gRPC address.
	DefaultServerAddress = "127.0.0.1:50051"

	// DefaultHTTPAddress is the default HTTP ingress address.
	DefaultHTTPAddress = ":8080"

	// DefaultTimeout is the default duration for client network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultTimerDelay is the wait between checks when nothing is configured.
	DefaultTimerDelay = 2 * time.Minute

	// DefaultMaxRetries is the number of re-checks after the first notification.
	DefaultMaxRetries = 10

	// DefaultNotificationTimeout bounds one outbound notification call.
	DefaultNotificationTimeout = 10 * time.Second

	// DefaultNotificationAPIURL is the messaging provider base URL.
	DefaultNotificationAPIURL = "https://api.twilio.com"

	// DefaultNotificationBody is the fixed message text.
	DefaultNotificationBody = "Did you forget to close the garage door?"

	// DefaultFilePermissions is the default file permission for config and state files.
	DefaultFilePermissions = 0o600

	// EnvAccountToken overrides Notification.AccountToken.
	EnvAccountToken = "TWILIO_ACCOUNT_TOKEN"
	// EnvTimerDelayMinutes overrides Monitor.TimerDelay with whole minutes.
	EnvTimerDelayMinutes = "TIMER_DELAY_MINUTES"
	// EnvLogLevel overrides LogLevel.
	EnvLogLevel = "DOOR_MONITOR_LOG_LEVEL"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverFile     = "file"
	DriverMemory   = "memory"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errServerSocketRequired is returned when server address is missing.
	errServerSocketRequired = errors.New("server address must be provided")
	// errUnknownDriver is returned for an unsupported storage driver.
	errUnknownDriver = errors.New("unknown storage driver")
	// errNegativeRetries is returned when max retries is below zero.
	errNegativeRetries = errors.New("max retries must not be negative")
	// errEntityRequired is returned when the entity key is incomplete.
	errEntityRequired = errors.New("entity kind and name must be provided")
	// errUnknownLogLevel is returned for an unparsable log level.
	errUnknownLogLevel = errors.New("unknown log level")
)

// Default returns a configuration populated with defaults.
func Default() *Config {
	return &Config{
		ServerAddress: DefaultServerAddress,
		HTTPAddress:   DefaultHTTPAddress,
		Timeout:       DefaultTimeout,
		LogLevel:      "info",
		Storage: Storage{
			Driver:     DriverSQLite,
			DSN:        DefaultDatabaseFilename,
			EntityFile: DefaultEntityFilename,
		},
		Entity: Entity{
			Kind: "GarageDoor",
			Name: "Status",
		},
		Monitor: Monitor{
			TimerDelay: DefaultTimerDelay,
			MaxRetries: DefaultMaxRetries,
		},
		Notification: Notification{
			APIURL:  DefaultNotificationAPIURL,
			Body:    DefaultNotificationBody,
			Timeout: DefaultNotificationTimeout,
		},
		Ingress: Ingress{
			RateLimit:      5,
			Burst:          10,
			AccessLogLevel: "info",
		},
	}
}

// Load reads configuration from the provided path, applies environment
// overrides and validates the result. Absent keys keep their defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()

	if isTOML(path) {
		if err = toml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	} else if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the provided path.
// The format follows the file extension.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)

	if isTOML(path) {
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(cfg)
		data = []byte(sb.String())
	} else {
		data, err = yaml.Marshal(cfg)
	}

	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may hold the account token.
	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ApplyEnv overrides settings with values from the environment.
// lookup has the signature of os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if token, ok := lookup(EnvAccountToken); ok && token != "" {
		cfg.Notification.AccountToken = token
	}

	if raw, ok := lookup(EnvTimerDelayMinutes); ok && strings.TrimSpace(raw) != "" {
		minutes, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvTimerDelayMinutes, err)
		}

		cfg.Monitor.TimerDelay = time.Duration(minutes) * time.Minute
	}

	if level, ok := lookup(EnvLogLevel); ok && level != "" {
		cfg.LogLevel = level
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting,
// filling zero durations with defaults.
//
//nolint:cyclop // Flat list of independent checks.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ServerAddress == "" {
		return errServerSocketRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if settings.HTTPAddress != "" {
		if _, _, err := net.SplitHostPort(settings.HTTPAddress); err != nil {
			return fmt.Errorf("invalid http address: %w", err)
		}
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.LogLevel != "" {
		if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
			return fmt.Errorf("%w: %q", errUnknownLogLevel, settings.LogLevel)
		}
	}

	switch settings.Storage.Driver {
	case DriverSQLite, DriverPostgres, DriverFile, DriverMemory:
	default:
		return fmt.Errorf("%w: %q", errUnknownDriver, settings.Storage.Driver)
	}

	if settings.Storage.DSN == "" {
		settings.Storage.DSN = DefaultDatabaseFilename
	}

	if settings.Storage.EntityFile == "" {
		settings.Storage.EntityFile = DefaultEntityFilename
	}

	if settings.Entity.Kind == "" || settings.Entity.Name == "" {
		return errEntityRequired
	}

	if settings.Monitor.TimerDelay <= 0 {
		settings.Monitor.TimerDelay = DefaultTimerDelay
	}

	if settings.Monitor.MaxRetries < 0 {
		return errNegativeRetries
	}

	if settings.Notification.Timeout <= 0 {
		settings.Notification.Timeout = DefaultNotificationTimeout
	}

	if settings.Notification.APIURL == "" {
		settings.Notification.APIURL = DefaultNotificationAPIURL
	}

	if _, err := url.ParseRequestURI(settings.Notification.APIURL); err != nil {
		return fmt.Errorf("invalid notification api url: %w", err)
	}

	if settings.Notification.Body == "" {
		settings.Notification.Body = DefaultNotificationBody
	}

	return nil
}

// isTOML reports whether the path names a TOML document.
func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
