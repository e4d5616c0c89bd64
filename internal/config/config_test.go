// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML files, env var expansion, durations, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "fanlink.yaml", `
server:
  http_addr: "0.0.0.0:9090"
  shutdown_timeout: "5s"
backend:
  base_url: "http://inference:8000"
  timeout: "30s"
conversation:
  max_in_flight: 4
  turn_timeout: "45s"
  greeting: "Hello from {subject}"
  suggestions:
    - "What inspired you?"
live:
  title: "Writers Live"
  host: "Elena Rodriguez"
  history_limit: 200
  dedupe_ttl: "10m"
  summary_schedule: "off"
  quick_tips: [1, 3]
archive:
  path: "/tmp/fanlink.db"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "http://inference:8000", cfg.Backend.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 4, cfg.Conversation.MaxInFlight)
	assert.Equal(t, 45*time.Second, cfg.Conversation.TurnTimeout)
	assert.Equal(t, "Hello from {subject}", cfg.Conversation.Greeting)
	assert.Equal(t, []string{"What inspired you?"}, cfg.Conversation.Suggestions)
	assert.Equal(t, "Writers Live", cfg.Live.Title)
	assert.Equal(t, 200, cfg.Live.HistoryLimit)
	assert.Equal(t, 10*time.Minute, cfg.Live.DedupeTTL)
	assert.Equal(t, "off", cfg.Live.SummarySchedule)
	assert.Equal(t, []float64{1, 3}, cfg.Live.QuickTips)
	assert.Equal(t, "/tmp/fanlink.db", cfg.Archive.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// unset fields take defaults
	assert.Equal(t, 10_000, cfg.Live.DedupeWindow)
	assert.Equal(t, 50, cfg.Live.TopicWindow)
	assert.Equal(t, 4, cfg.Live.MaxTopics)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "fanlink.toml", `
[server]
http_addr = "127.0.0.1:7070"

[backend]
base_url = "https://inference.example.com"
timeout = "15s"

[live]
host = "Marcus Chen"
max_topics = 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7070", cfg.Server.HTTPAddr)
	assert.Equal(t, "https://inference.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "Marcus Chen", cfg.Live.Host)
	assert.Equal(t, 2, cfg.Live.MaxTopics)
	assert.Equal(t, 1, cfg.Conversation.MaxInFlight)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("FANLINK_TEST_BACKEND", "http://from-env:8000")
	t.Setenv("FANLINK_TEST_HOST", "Env Host")

	path := writeConfig(t, "fanlink.yaml", `
backend:
  base_url: "${FANLINK_TEST_BACKEND}"
live:
  host: "${FANLINK_TEST_HOST}"
  title: "${FANLINK_TEST_UNSET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:8000", cfg.Backend.BaseURL)
	assert.Equal(t, "Env Host", cfg.Live.Host)
	assert.Empty(t, cfg.Live.Title)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "fanlink.yaml", "{}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		errMsg  string
	}{
		{"bad yaml", "c.yaml", "server: [unterminated", "parsing config file"},
		{"bad toml", "c.toml", "[server\nhttp_addr = 1", "parsing config file"},
		{"bad duration", "c.yaml", "backend:\n  timeout: \"soon\"\n", "backend.timeout"},
		{"bad scheme", "c.yaml", "backend:\n  base_url: \"ftp://x\"\n", "http or https"},
		{"negative in flight", "c.yaml", "conversation:\n  max_in_flight: -1\n", "max_in_flight"},
		{"bad dedupe ttl", "c.yaml", "live:\n  dedupe_ttl: \"forever\"\n", "live.dedupe_ttl"},
		{"negative dedupe ttl", "c.yaml", "live:\n  dedupe_ttl: \"-1s\"\n", "live.dedupe_ttl"},
		{"bad tip", "c.yaml", "live:\n  quick_tips: [5, 0]\n", "quick_tips"},
		{"bad level", "c.yaml", "logging:\n  level: \"loud\"\n", "logging.level"},
		{"bad format", "c.yaml", "logging:\n  format: \"xml\"\n", "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("FANLINK_DOTENV_TEST=loaded\n"), 0o644))

	t.Setenv("FANLINK_DOTENV_TEST", "")
	require.NoError(t, os.Unsetenv("FANLINK_DOTENV_TEST"))

	require.NoError(t, LoadDotEnv(envPath, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("FANLINK_DOTENV_TEST"))
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/fanlink/custom.toml")
	assert.Equal(t, "/etc/fanlink/custom.toml", DefaultPath())

	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "fanlink", "fanlink.yaml"), DefaultPath())
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FANLINK_A", "alpha")

	assert.Equal(t, "x-alpha-y", expandEnvVars("x-${FANLINK_A}-y"))
	assert.Equal(t, "x--y", expandEnvVars("x-${FANLINK_NOT_SET_ANYWHERE}-y"))
	assert.Equal(t, "$FANLINK_A", expandEnvVars("$FANLINK_A"))
}
