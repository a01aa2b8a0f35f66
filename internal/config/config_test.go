package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every phonebell env var for the duration of the test so
// the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"PHONEBELL_CONFIG", "PHONEBELL_HTTP_PORT", "PHONEBELL_TLS_CERT",
		"PHONEBELL_TLS_KEY", "PHONEBELL_LOG_LEVEL", "PHONEBELL_LOG_FORMAT",
		"PHONEBELL_CORS_ORIGINS", "PHONEBELL_PHONE_API_KEY", "PHONEBELL_CHAT_API_KEY",
		"PHONEBELL_PING_INTERVAL", "PHONEBELL_WRITE_TIMEOUT", "PHONEBELL_SEND_QUEUE",
		"PHONEBELL_REDIRECT_PORT",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "phonebell.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	os.Args = []string{"phonebell", "--phone-api-key", "secret"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.TLSCert != "" {
		t.Errorf("TLSCert = %q, want empty", cfg.TLSCert)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.LogFormat != defaultLogFormat {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, defaultLogFormat)
	}
	if cfg.PingInterval != defaultPingInterval {
		t.Errorf("PingInterval = %s, want %s", cfg.PingInterval, defaultPingInterval)
	}
	if cfg.WriteTimeout != defaultWriteTimeout {
		t.Errorf("WriteTimeout = %s, want %s", cfg.WriteTimeout, defaultWriteTimeout)
	}
	if cfg.SendQueue != defaultSendQueue {
		t.Errorf("SendQueue = %d, want %d", cfg.SendQueue, defaultSendQueue)
	}
	if cfg.ChatAPIKey != "" {
		t.Errorf("ChatAPIKey = %q, want empty", cfg.ChatAPIKey)
	}
}

func TestMissingPhoneKey(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"phonebell"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error when phone-api-key is missing")
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"phonebell"}
	t.Setenv("PHONEBELL_HTTP_PORT", "9090")
	t.Setenv("PHONEBELL_LOG_LEVEL", "debug")
	t.Setenv("PHONEBELL_PHONE_API_KEY", "from-env")
	t.Setenv("PHONEBELL_PING_INTERVAL", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.PhoneAPIKey != "from-env" {
		t.Errorf("PhoneAPIKey = %q, want from-env", cfg.PhoneAPIKey)
	}
	if cfg.PingInterval != 2*time.Second {
		t.Errorf("PingInterval = %s, want 2s", cfg.PingInterval)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	clearEnv(t)
	// CLI flags should override env vars.
	os.Args = []string{"phonebell", "--http-port", "3000", "--log-level", "warn", "--phone-api-key", "k"}
	t.Setenv("PHONEBELL_HTTP_PORT", "9090")
	t.Setenv("PHONEBELL_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (CLI should override env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
http_port = 7000
log_format = "json"
phone_api_key = "from-file"
chat_api_key = "bot"
ping_interval = "750ms"
send_queue = 8
`)
	os.Args = []string{"phonebell", "--config", path}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 7000 {
		t.Errorf("HTTPPort = %d, want 7000", cfg.HTTPPort)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.PhoneAPIKey != "from-file" || cfg.ChatAPIKey != "bot" {
		t.Errorf("keys = %q/%q, want from-file/bot", cfg.PhoneAPIKey, cfg.ChatAPIKey)
	}
	if cfg.PingInterval != 750*time.Millisecond {
		t.Errorf("PingInterval = %s, want 750ms", cfg.PingInterval)
	}
	if cfg.SendQueue != 8 {
		t.Errorf("SendQueue = %d, want 8", cfg.SendQueue)
	}
	// Keys absent from the file keep their defaults.
	if cfg.WriteTimeout != defaultWriteTimeout {
		t.Errorf("WriteTimeout = %s, want default", cfg.WriteTimeout)
	}
}

func TestConfigFilePrecedence(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
http_port = 7000
log_level = "error"
phone_api_key = "from-file"
`)
	t.Setenv("PHONEBELL_CONFIG", path)
	t.Setenv("PHONEBELL_LOG_LEVEL", "debug")
	os.Args = []string{"phonebell", "--http-port", "7100"}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 7100 {
		t.Errorf("HTTPPort = %d, want 7100 (CLI should override file)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug (env should override file)", cfg.LogLevel)
	}
	if cfg.PhoneAPIKey != "from-file" {
		t.Errorf("PhoneAPIKey = %q, want from-file", cfg.PhoneAPIKey)
	}
}

func TestConfigFileErrors(t *testing.T) {
	clearEnv(t)

	t.Run("missing file", func(t *testing.T) {
		os.Args = []string{"phonebell", "--config", filepath.Join(t.TempDir(), "nope.toml")}
		if _, err := Load(); err == nil {
			t.Fatal("expected error for missing config file")
		}
	})
	t.Run("bad duration", func(t *testing.T) {
		path := writeConfigFile(t, "phone_api_key = \"k\"\nping_interval = \"soon\"\n")
		os.Args = []string{"phonebell", "--config", path}
		if _, err := Load(); err == nil {
			t.Fatal("expected error for unparseable ping_interval")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"invalid port", []string{"--http-port", "99999"}},
		{"invalid log level", []string{"--log-level", "verbose"}},
		{"invalid log format", []string{"--log-format", "xml"}},
		{"tls mismatch", []string{"--tls-cert", "cert.pem"}},
		{"zero ping interval", []string{"--ping-interval", "0s"}},
		{"negative write timeout", []string{"--write-timeout", "-1s"}},
		{"empty send queue", []string{"--send-queue", "0"}},
		{"blank phone key", []string{"--phone-api-key", "   "}},
		{"redirect without tls", []string{"--redirect-port", "8081"}},
		{"redirect on http port", []string{"--tls-cert", "c.pem", "--tls-key", "k.pem", "--redirect-port", "8080"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			os.Args = append([]string{"phonebell", "--phone-api-key", "k"}, tt.args...)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %v", tt.args)
			}
		})
	}
}

func TestRedirectPortWithTLS(t *testing.T) {
	clearEnv(t)
	t.Setenv("PHONEBELL_REDIRECT_PORT", "8081")
	os.Args = []string{"phonebell", "--phone-api-key", "k", "--tls-cert", "c.pem", "--tls-key", "k.pem"}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedirectPort != 8081 {
		t.Errorf("RedirectPort = %d, want 8081", cfg.RedirectPort)
	}
	if !cfg.TLSEnabled() {
		t.Error("TLSEnabled() = false, want true")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
