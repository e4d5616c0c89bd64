// ABOUTME: Configuration loading and parsing for fanlink
// ABOUTME: YAML or TOML files with .env loading, ${VAR} expansion, durations and defaults

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config path
const EnvConfigPath = "FANLINK_CONFIG"

// Config represents the complete fanlink configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Backend      BackendConfig      `yaml:"backend" toml:"backend"`
	Conversation ConversationConfig `yaml:"conversation" toml:"conversation"`
	Live         LiveConfig         `yaml:"live" toml:"live"`
	Archive      ArchiveConfig      `yaml:"archive" toml:"archive"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// BackendConfig points at the inference backend
type BackendConfig struct {
	BaseURL string        `yaml:"base_url" toml:"base_url"`
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// ConversationConfig tunes one-on-one sessions
type ConversationConfig struct {
	MaxInFlight int           `yaml:"max_in_flight" toml:"max_in_flight"`
	TurnTimeout time.Duration `yaml:"-" toml:"-"`
	Greeting    string        `yaml:"greeting" toml:"greeting"`
	Suggestions []string      `yaml:"suggestions" toml:"suggestions"`

	TurnTimeoutRaw string `yaml:"turn_timeout" toml:"turn_timeout"`
}

// LiveConfig tunes the live session bus and aggregator
type LiveConfig struct {
	Title           string        `yaml:"title" toml:"title"`
	Host            string        `yaml:"host" toml:"host"`
	HistoryLimit    int           `yaml:"history_limit" toml:"history_limit"`
	DedupeWindow    int           `yaml:"dedupe_window" toml:"dedupe_window"`
	DedupeTTL       time.Duration `yaml:"-" toml:"-"`
	TopicWindow     int           `yaml:"topic_window" toml:"topic_window"`
	MaxTopics       int           `yaml:"max_topics" toml:"max_topics"`
	SummarySchedule string        `yaml:"summary_schedule" toml:"summary_schedule"`
	QuickTips       []float64     `yaml:"quick_tips" toml:"quick_tips"`

	// DedupeTTLRaw bounds how long an event id is remembered; empty keeps ids
	// until the window pushes them out.
	DedupeTTLRaw string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// ArchiveConfig enables the transcript archive when Path is set
type ArchiveConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file. Files ending in .toml are parsed as TOML,
// everything else as YAML. ${VAR_NAME} references are expanded from the
// environment before parsing, durations are parsed, defaults are applied and
// the result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none are
// given) into the environment. Missing files are ignored; variables that are
// already set are left alone.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// DefaultPath returns $FANLINK_CONFIG, or fanlink/fanlink.yaml under the XDG
// config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "fanlink", "fanlink.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "fanlink", "fanlink.yaml")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://127.0.0.1:8000"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 60 * time.Second
	}
	if c.Conversation.MaxInFlight == 0 {
		c.Conversation.MaxInFlight = 1
	}
	if c.Live.HistoryLimit == 0 {
		c.Live.HistoryLimit = 500
	}
	if c.Live.DedupeWindow == 0 {
		c.Live.DedupeWindow = 10_000
	}
	if c.Live.TopicWindow == 0 {
		c.Live.TopicWindow = 50
	}
	if c.Live.MaxTopics == 0 {
		c.Live.MaxTopics = 4
	}
	if c.Live.SummarySchedule == "" {
		c.Live.SummarySchedule = "@every 30s"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https scheme")
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout must not be negative")
	}

	if c.Conversation.MaxInFlight < 1 {
		return fmt.Errorf("conversation.max_in_flight must be at least 1")
	}
	if c.Conversation.TurnTimeout < 0 {
		return fmt.Errorf("conversation.turn_timeout must not be negative")
	}

	if c.Live.HistoryLimit < 1 {
		return fmt.Errorf("live.history_limit must be at least 1")
	}
	if c.Live.DedupeWindow < 1 {
		return fmt.Errorf("live.dedupe_window must be at least 1")
	}
	if c.Live.DedupeTTL < 0 {
		return fmt.Errorf("live.dedupe_ttl must not be negative")
	}
	if c.Live.TopicWindow < 1 {
		return fmt.Errorf("live.topic_window must be at least 1")
	}
	if c.Live.MaxTopics < 1 {
		return fmt.Errorf("live.max_topics must be at least 1")
	}
	for _, amount := range c.Live.QuickTips {
		if amount <= 0 {
			return fmt.Errorf("live.quick_tips must be positive, got %v", amount)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"backend.timeout", cfg.Backend.TimeoutRaw, &cfg.Backend.Timeout},
		{"conversation.turn_timeout", cfg.Conversation.TurnTimeoutRaw, &cfg.Conversation.TurnTimeout},
		{"live.dedupe_ttl", cfg.Live.DedupeTTLRaw, &cfg.Live.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
