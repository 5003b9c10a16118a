// Package config provides configuration management for embedlink.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"

	"github.com/embedlink/embedlink/internal/constants"
)

// Config holds every setting used by the client.
//
// INI format:
//
//	[remote]
//	api_base_url = http://localhost:5000
//	request_timeout = 0s
//	retry_max = 0
//	rate_limit_per_sec = 10
//	rate_limit_burst = 20
//
//	[proxy]
//	proxy_mode = no-proxy
//	proxy_host =
//	proxy_port = 8080
//	no_proxy = localhost,127.0.0.1
//
//	[client]
//	poll_interval = 2s
//	metrics_interval = 1s
//	notification_lifetime = 3s
//	max_poll_failures = 5
//	poll_timeout = 30s
//	log_level = info
//
//	[console]
//	console_addr = 127.0.0.1:8765
type Config struct {
	// Remote service. An empty base URL is allowed here; operations report
	// it as a configuration error when they are attempted.
	APIBaseURL     string        `validate:"omitempty,url"`
	RequestTimeout time.Duration `validate:"gte=0"`
	RetryMax       int           `validate:"gte=0,lte=10"`
	RateLimit      float64       `validate:"gt=0"`
	RateBurst      float64       `validate:"gte=1"`

	// Proxy settings
	ProxyMode     string `validate:"oneof=no-proxy system basic ntlm"`
	ProxyHost     string
	ProxyPort     int `validate:"gte=0,lte=65535"`
	ProxyUser     string
	ProxyPassword string
	NoProxy       string // Comma-separated list of hosts to bypass proxy
	ProxyWarmup   bool

	// Controller timing
	PollInterval         time.Duration `validate:"gt=0"`
	MetricsInterval      time.Duration `validate:"gt=0"`
	NotificationLifetime time.Duration `validate:"gt=0"`
	MaxPollFailures      int           `validate:"gte=0"`
	PollTimeout          time.Duration `validate:"gte=0"`

	LogLevel    string `validate:"oneof=debug info warn error"`
	ConsoleAddr string `validate:"required,hostname_port"`
}

// Environment variable names (also read from a .env file).
const (
	EnvAPIBaseURL      = "EMBEDLINK_API_BASE_URL"
	EnvProxyMode       = "EMBEDLINK_PROXY_MODE"
	EnvProxyHost       = "EMBEDLINK_PROXY_HOST"
	EnvProxyPort       = "EMBEDLINK_PROXY_PORT"
	EnvProxyUser       = "EMBEDLINK_PROXY_USER"
	EnvProxyPassword   = "EMBEDLINK_PROXY_PASSWORD"
	EnvNoProxy         = "EMBEDLINK_NO_PROXY"
	EnvPollInterval    = "EMBEDLINK_POLL_INTERVAL"
	EnvRequestTimeout  = "EMBEDLINK_REQUEST_TIMEOUT"
	EnvRetryMax        = "EMBEDLINK_RETRY_MAX"
	EnvLogLevel        = "EMBEDLINK_LOG_LEVEL"
	EnvConsoleAddr     = "EMBEDLINK_CONSOLE_ADDR"
	EnvMaxPollFailures = "EMBEDLINK_MAX_POLL_FAILURES"
)

// ErrInvalidConfig wraps every validation failure returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		RateLimit:            constants.DefaultRateLimitPerSec,
		RateBurst:            constants.DefaultRateLimitBurst,
		ProxyMode:            "no-proxy",
		PollInterval:         constants.TrainingPollInterval,
		MetricsInterval:      constants.MetricsTickInterval,
		NotificationLifetime: constants.NotificationLifetime,
		MaxPollFailures:      constants.MaxConsecutivePollFailures,
		PollTimeout:          constants.PollRequestTimeout,
		LogLevel:             "info",
		ConsoleAddr:          constants.DefaultConsoleAddr,
	}
}

// Load builds the effective configuration: defaults, then the INI file at
// path (DefaultConfigPath when empty), then envFile (if present), then the
// process environment. The result is validated.
func Load(path, envFile string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		if p, err := DefaultConfigPath(); err == nil {
			path = p
		}
	}
	if path != "" {
		if err := cfg.loadINI(path); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		// A missing .env file is fine; the environment alone is enough.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) loadINI(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // defaults when the file doesn't exist
	}

	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}

	remote := f.Section("remote")
	cfg.APIBaseURL = remote.Key("api_base_url").MustString(cfg.APIBaseURL)
	cfg.RequestTimeout = remote.Key("request_timeout").MustDuration(cfg.RequestTimeout)
	cfg.RetryMax = remote.Key("retry_max").MustInt(cfg.RetryMax)
	cfg.RateLimit = remote.Key("rate_limit_per_sec").MustFloat64(cfg.RateLimit)
	cfg.RateBurst = remote.Key("rate_limit_burst").MustFloat64(cfg.RateBurst)

	proxy := f.Section("proxy")
	cfg.ProxyMode = proxy.Key("proxy_mode").MustString(cfg.ProxyMode)
	cfg.ProxyHost = proxy.Key("proxy_host").MustString(cfg.ProxyHost)
	cfg.ProxyPort = proxy.Key("proxy_port").MustInt(cfg.ProxyPort)
	cfg.ProxyUser = proxy.Key("proxy_user").MustString(cfg.ProxyUser)
	cfg.ProxyPassword = proxy.Key("proxy_password").MustString(cfg.ProxyPassword)
	cfg.NoProxy = proxy.Key("no_proxy").MustString(cfg.NoProxy)
	cfg.ProxyWarmup = proxy.Key("proxy_warmup").MustBool(cfg.ProxyWarmup)

	client := f.Section("client")
	cfg.PollInterval = client.Key("poll_interval").MustDuration(cfg.PollInterval)
	cfg.MetricsInterval = client.Key("metrics_interval").MustDuration(cfg.MetricsInterval)
	cfg.NotificationLifetime = client.Key("notification_lifetime").MustDuration(cfg.NotificationLifetime)
	cfg.MaxPollFailures = client.Key("max_poll_failures").MustInt(cfg.MaxPollFailures)
	cfg.PollTimeout = client.Key("poll_timeout").MustDuration(cfg.PollTimeout)
	cfg.LogLevel = client.Key("log_level").MustString(cfg.LogLevel)

	console := f.Section("console")
	cfg.ConsoleAddr = console.Key("console_addr").MustString(cfg.ConsoleAddr)

	return nil
}

// ApplyEnv overrides settings from environment variables looked up via getenv.
func (cfg *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvAPIBaseURL); v != "" {
		cfg.APIBaseURL = v
	}
	if v := getenv(EnvProxyMode); v != "" {
		cfg.ProxyMode = v
	}
	if v := getenv(EnvProxyHost); v != "" {
		cfg.ProxyHost = v
	}
	if v := getenv(EnvProxyPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvProxyPort, err)
		}
		cfg.ProxyPort = port
	}
	if v := getenv(EnvProxyUser); v != "" {
		cfg.ProxyUser = v
	}
	if v := getenv(EnvProxyPassword); v != "" {
		cfg.ProxyPassword = v
	}
	if v := getenv(EnvNoProxy); v != "" {
		cfg.NoProxy = v
	}
	if v := getenv(EnvPollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPollInterval, err)
		}
		cfg.PollInterval = d
	}
	if v := getenv(EnvRequestTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRequestTimeout, err)
		}
		cfg.RequestTimeout = d
	}
	if v := getenv(EnvRetryMax); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRetryMax, err)
		}
		cfg.RetryMax = n
	}
	if v := getenv(EnvMaxPollFailures); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxPollFailures, err)
		}
		cfg.MaxPollFailures = n
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv(EnvConsoleAddr); v != "" {
		cfg.ConsoleAddr = v
	}
	return nil
}

// Normalize trims whitespace and the trailing slash of the base URL, and
// lowercases enumerated values.
func (cfg *Config) Normalize() {
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.ProxyMode = strings.ToLower(strings.TrimSpace(cfg.ProxyMode))
	if cfg.ProxyMode == "" {
		cfg.ProxyMode = "no-proxy"
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
}

// Validate checks value ranges. A missing base URL is not an error here.
func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidConfig, fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// HasRemote reports whether a remote base URL is configured.
func (cfg *Config) HasRemote() bool {
	return cfg != nil && strings.TrimSpace(cfg.APIBaseURL) != ""
}

// Save writes the configuration to an INI file at path (DefaultConfigPath
// when empty), creating parent directories. The write is atomic.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f := ini.Empty()
	sections := []struct {
		name string
		keys [][2]string
	}{
		{"remote", [][2]string{
			{"api_base_url", cfg.APIBaseURL},
			{"request_timeout", cfg.RequestTimeout.String()},
			{"retry_max", strconv.Itoa(cfg.RetryMax)},
			{"rate_limit_per_sec", strconv.FormatFloat(cfg.RateLimit, 'f', -1, 64)},
			{"rate_limit_burst", strconv.FormatFloat(cfg.RateBurst, 'f', -1, 64)},
		}},
		{"proxy", [][2]string{
			{"proxy_mode", cfg.ProxyMode},
			{"proxy_host", cfg.ProxyHost},
			{"proxy_port", strconv.Itoa(cfg.ProxyPort)},
			{"proxy_user", cfg.ProxyUser},
			{"no_proxy", cfg.NoProxy},
			{"proxy_warmup", strconv.FormatBool(cfg.ProxyWarmup)},
		}},
		{"client", [][2]string{
			{"poll_interval", cfg.PollInterval.String()},
			{"metrics_interval", cfg.MetricsInterval.String()},
			{"notification_lifetime", cfg.NotificationLifetime.String()},
			{"max_poll_failures", strconv.Itoa(cfg.MaxPollFailures)},
			{"poll_timeout", cfg.PollTimeout.String()},
			{"log_level", cfg.LogLevel},
		}},
		{"console", [][2]string{
			{"console_addr", cfg.ConsoleAddr},
		}},
	}
	for _, s := range sections {
		sec, err := f.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		for _, kv := range s.keys {
			sec.Key(kv[0]).SetValue(kv[1])
		}
	}

	// The proxy password is never persisted.
	tmpPath := path + ".tmp"
	if err := f.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}
