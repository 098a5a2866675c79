package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete flowlab configuration. The server and the terminal
// client read different sections of the same file.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Client        ClientConfig        `yaml:"client"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains the HTTP server configuration
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	BeatsDir string `yaml:"beats_dir"`
	DBPath   string `yaml:"db_path"`
	// Workers is the size of the transcription worker pool.
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// MaxClipBytes bounds the decoded size of an uploaded clip.
	MaxClipBytes int64 `yaml:"max_clip_bytes"`
	// RecordingsDir archives uploaded clips when set.
	RecordingsDir string `yaml:"recordings_dir"`
	// RetainDays prunes archived days older than this; 0 keeps everything.
	RetainDays int `yaml:"retain_days"`
	// AllowedOrigins lists browser origins besides the server's own host.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TranscriptionConfig selects the speech-to-text provider
type TranscriptionConfig struct {
	Provider     string `yaml:"provider"` // openai | local
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	WhisperPath  string `yaml:"whisper_path"`
	WhisperModel string `yaml:"whisper_model"`
	WorkDir      string `yaml:"work_dir"`
	// Timeout bounds a single provider call, in seconds.
	Timeout int `yaml:"timeout"`
}

// ClientConfig contains the terminal client configuration
type ClientConfig struct {
	ServerURL string `yaml:"server_url"`
	// Insecure skips server certificate verification.
	Insecure bool `yaml:"insecure"`
	// ServerCert pins a self-signed server certificate.
	ServerCert string `yaml:"server_cert"`
	// Device is an index from -list-devices; -1 selects the system default.
	Device   int    `yaml:"device"`
	Lesson   string `yaml:"lesson"`
	Beat     string `yaml:"beat"`
	LockFile string `yaml:"lock_file"`
	// DevFallback substitutes simulated lines when transcription fails.
	DevFallback bool `yaml:"dev_fallback"`
	Countdown   int  `yaml:"countdown"`
	// Ceiling is the maximum recording length, in seconds.
	Ceiling int `yaml:"ceiling"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
)

// DefaultDevice selects the system default input device.
const DefaultDevice = -1

// Default returns a configuration usable without a file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8444",
			BeatsDir:     "beats",
			DBPath:       "flowlab.db",
			Workers:      2,
			QueueSize:    100,
			MaxClipBytes: 25 << 20,
		},
		Transcription: TranscriptionConfig{
			Provider:     ProviderOpenAI,
			Model:        "whisper-1",
			WhisperPath:  "whisper",
			WhisperModel: "base.en",
			Timeout:      120,
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:8444",
			Device:    DefaultDevice,
			Lesson:    "freestyle",
			LockFile:  "flowlab.lock",
			Countdown: 3,
			Ceiling:   60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if (s.CertFile == "") != (s.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be set together")
	}
	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}
	if s.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if s.MaxClipBytes < 1024 {
		return fmt.Errorf("max_clip_bytes must be at least 1024, got %d", s.MaxClipBytes)
	}
	if s.RetainDays < 0 {
		return fmt.Errorf("retain_days cannot be negative, got %d", s.RetainDays)
	}
	return nil
}

// TLS reports whether the server should serve HTTPS.
func (s *ServerConfig) TLS() bool {
	return s.CertFile != "" && s.KeyFile != ""
}

func (t *TranscriptionConfig) Validate() error {
	switch t.Provider {
	case ProviderOpenAI:
		if t.Model == "" {
			return fmt.Errorf("model cannot be empty for the openai provider")
		}
	case ProviderLocal:
		if t.WhisperPath == "" {
			return fmt.Errorf("whisper_path cannot be empty for the local provider")
		}
		if t.WhisperModel == "" {
			return fmt.Errorf("whisper_model cannot be empty for the local provider")
		}
	default:
		return fmt.Errorf("provider must be %q or %q, got %q", ProviderOpenAI, ProviderLocal, t.Provider)
	}
	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}
	return nil
}

func (t *TranscriptionConfig) TimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url cannot be empty")
	}
	if c.Lesson == "" {
		return fmt.Errorf("lesson cannot be empty")
	}
	if c.Device < DefaultDevice {
		return fmt.Errorf("device must be %d (system default) or a device index, got %d", DefaultDevice, c.Device)
	}
	if c.Countdown < 1 {
		return fmt.Errorf("countdown must be at least 1, got %d", c.Countdown)
	}
	if c.Ceiling < 1 {
		return fmt.Errorf("ceiling must be at least 1 second, got %d", c.Ceiling)
	}
	if c.Insecure && c.ServerCert != "" {
		return fmt.Errorf("insecure and server_cert are mutually exclusive")
	}
	return nil
}

func (c *ClientConfig) CeilingDuration() time.Duration {
	return time.Duration(c.Ceiling) * time.Second
}

func (l *LoggingConfig) Validate() error {
	if _, err := parseLevel(l.Level); err != nil {
		return err
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}
	return nil
}

// Handler builds the slog handler described by the logging section.
func (l *LoggingConfig) Handler(w io.Writer) slog.Handler {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
