package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all runtime configuration for the phonebell server.
// Precedence: CLI flags > env vars > config file > defaults.
type Config struct {
	ConfigFile   string
	HTTPPort     int
	TLSCert      string
	TLSKey       string
	RedirectPort int // plain-HTTP port redirecting to HTTPS; 0 disables, requires TLS
	LogLevel     string
	LogFormat    string // log output format: "text" or "json"
	CORSOrigins  string
	PhoneAPIKey  string        // shared secret every phone sends as its first frame
	ChatAPIKey   string        // token chat bots authenticate with; empty rejects all bots
	PingInterval time.Duration // keepalive period for phone and signaling connections
	WriteTimeout time.Duration // per-frame WebSocket write deadline
	SendQueue    int           // per-connection outbound queue depth
}

// defaults
const (
	defaultHTTPPort     = 8080
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
	defaultPingInterval = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultSendQueue    = 64
)

// envPrefix is the prefix for all phonebell environment variables.
const envPrefix = "PHONEBELL_"

// fileConfig is the TOML config file layout. Keys mirror the flag names with
// underscores.
type fileConfig struct {
	HTTPPort     int    `toml:"http_port"`
	TLSCert      string `toml:"tls_cert"`
	TLSKey       string `toml:"tls_key"`
	RedirectPort int    `toml:"redirect_port"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
	CORSOrigins  string `toml:"cors_origins"`
	PhoneAPIKey  string `toml:"phone_api_key"`
	ChatAPIKey   string `toml:"chat_api_key"`
	PingInterval string `toml:"ping_interval"`
	WriteTimeout string `toml:"write_timeout"`
	SendQueue    int    `toml:"send_queue"`
}

// Load parses configuration from CLI flags, environment variables and an
// optional TOML file.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("phonebell", flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigFile, "config", "", "path to a TOML config file")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "path to TLS private key file")
	fs.IntVar(&cfg.RedirectPort, "redirect-port", 0, "plain-HTTP port that redirects to HTTPS (requires TLS, 0 disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.PhoneAPIKey, "phone-api-key", "", "shared secret phones send to authenticate (required)")
	fs.StringVar(&cfg.ChatAPIKey, "chat-api-key", "", "token chat bots send to authenticate (empty disables bots)")
	fs.DurationVar(&cfg.PingInterval, "ping-interval", defaultPingInterval, "keepalive ping period for phone and signaling connections")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", defaultWriteTimeout, "write deadline for a single WebSocket frame")
	fs.IntVar(&cfg.SendQueue, "send-queue", defaultSendQueue, "per-connection outbound queue depth; frames beyond it are dropped")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	if !set["config"] {
		if v, ok := os.LookupEnv(envPrefix + "CONFIG"); ok && v != "" {
			cfg.ConfigFile = v
		}
	}
	if cfg.ConfigFile != "" {
		if err := applyFile(cfg.ConfigFile, set, cfg); err != nil {
			return nil, err
		}
	}

	// Env vars override the file for any flag not explicitly set on the
	// command line.
	applyEnvOverrides(set, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyFile overlays keys defined in the TOML file at path onto cfg, skipping
// any flag set on the command line.
func applyFile(path string, set map[string]bool, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		slog.Warn("unknown keys in config file", "path", path, "keys", fmt.Sprint(undecoded))
	}

	defined := func(key, flagName string) bool {
		return meta.IsDefined(key) && !set[flagName]
	}

	if defined("http_port", "http-port") {
		cfg.HTTPPort = raw.HTTPPort
	}
	if defined("tls_cert", "tls-cert") {
		cfg.TLSCert = strings.TrimSpace(raw.TLSCert)
	}
	if defined("tls_key", "tls-key") {
		cfg.TLSKey = strings.TrimSpace(raw.TLSKey)
	}
	if defined("redirect_port", "redirect-port") {
		cfg.RedirectPort = raw.RedirectPort
	}
	if defined("log_level", "log-level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if defined("log_format", "log-format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	if defined("cors_origins", "cors-origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if defined("phone_api_key", "phone-api-key") {
		cfg.PhoneAPIKey = raw.PhoneAPIKey
	}
	if defined("chat_api_key", "chat-api-key") {
		cfg.ChatAPIKey = raw.ChatAPIKey
	}
	if defined("ping_interval", "ping-interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PingInterval))
		if err != nil {
			return fmt.Errorf("loading config file: ping_interval: %w", err)
		}
		cfg.PingInterval = d
	}
	if defined("write_timeout", "write-timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return fmt.Errorf("loading config file: write_timeout: %w", err)
		}
		cfg.WriteTimeout = d
	}
	if defined("send_queue", "send-queue") {
		cfg.SendQueue = raw.SendQueue
	}
	return nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. Unparseable numeric values are
// ignored.
func applyEnvOverrides(set map[string]bool, cfg *Config) {
	// Map of flag name to env var name.
	envMap := map[string]string{
		"http-port":     envPrefix + "HTTP_PORT",
		"tls-cert":      envPrefix + "TLS_CERT",
		"tls-key":       envPrefix + "TLS_KEY",
		"redirect-port": envPrefix + "REDIRECT_PORT",
		"log-level":     envPrefix + "LOG_LEVEL",
		"log-format":    envPrefix + "LOG_FORMAT",
		"cors-origins":  envPrefix + "CORS_ORIGINS",
		"phone-api-key": envPrefix + "PHONE_API_KEY",
		"chat-api-key":  envPrefix + "CHAT_API_KEY",
		"ping-interval": envPrefix + "PING_INTERVAL",
		"write-timeout": envPrefix + "WRITE_TIMEOUT",
		"send-queue":    envPrefix + "SEND_QUEUE",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "tls-cert":
			cfg.TLSCert = val
		case "tls-key":
			cfg.TLSKey = val
		case "redirect-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RedirectPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "phone-api-key":
			cfg.PhoneAPIKey = val
		case "chat-api-key":
			cfg.ChatAPIKey = val
		case "ping-interval":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.PingInterval = v
			}
		case "write-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.WriteTimeout = v
			}
		case "send-queue":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SendQueue = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	// TLS cert and key must both be set or both be empty.
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls-cert and tls-key must both be provided or both be omitted")
	}

	if c.RedirectPort != 0 {
		if c.RedirectPort < 1 || c.RedirectPort > 65535 {
			return fmt.Errorf("redirect-port must be between 1 and 65535, got %d", c.RedirectPort)
		}
		if !c.TLSEnabled() {
			return fmt.Errorf("redirect-port requires tls-cert and tls-key")
		}
		if c.RedirectPort == c.HTTPPort {
			return fmt.Errorf("redirect-port must differ from http-port")
		}
	}

	if strings.TrimSpace(c.PhoneAPIKey) == "" {
		return fmt.Errorf("phone-api-key is required")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping-interval must be positive, got %s", c.PingInterval)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write-timeout must be positive, got %s", c.WriteTimeout)
	}
	if c.SendQueue < 1 {
		return fmt.Errorf("send-queue must be at least 1, got %d", c.SendQueue)
	}

	return nil
}

// TLSEnabled returns true if TLS certificates are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != ""
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
