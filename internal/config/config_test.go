package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	for _, k := range []string{
		"ROUTER_DB_DRIVER", "ROUTER_DB_DSN", "ROUTER_CLASSIFIER_PROVIDER", "ROUTER_CLASSIFIER_BASE_URL",
		"ROUTER_CLASSIFIER_USERNAME", "ROUTER_CLASSIFIER_PASSWORD", "ROUTER_CLASSIFIER_MODEL", "GEMINI_API_KEY",
		"ROUTER_KAFKA_DECISIONS_TOPIC", "ROUTER_KAFKA_TICKETS_TOPIC", "ROUTER_HTTP_ADDR", "ROUTER_RULES_FILE",
		"ROUTER_SENDER_EMAIL", "ROUTER_INBOX_EMAIL", "LOG_LEVEL", "KAFKA_BROKERS", "ROUTER_CONFIDENCE_THRESHOLD",
		"ROUTER_CLASSIFIER_TIMEOUT", "ROUTER_POLL_INTERVAL", "ROUTER_CONFIG",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.False(t, cfg.RelayEnabled())

	_, err = LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), true)
	assert.Error(t, err)
}

func TestLoadFileOverlaysYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
database:
  driver: postgres
  dsn: postgres://router@localhost/routing
classifier:
  provider: http
  base_url: http://classifier:9000
  timeout: 3s
  confidence_threshold: 0.7
kafka:
  brokers: [kafka-1:9092]
pipeline:
  poll_interval: 2s
log_level: debug
`)
	t.Setenv("ROUTER_CONFIDENCE_THRESHOLD", "0.8")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := LoadFile(path, true)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 3*time.Second, cfg.Classifier.Timeout)
	assert.Equal(t, 0.8, cfg.Classifier.ConfidenceThreshold)
	assert.Equal(t, 0.92, cfg.Classifier.HeuristicMaxConfidence)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "routing-decisions", cfg.Kafka.DecisionsTopic)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.PollInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.RelayEnabled())
}

func TestLoadHonoursRouterConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("ROUTER_CONFIG", writeFile(t, "http:\n  addr: \":9999\"\n"))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "unknown database driver"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "dsn is required"},
		{"unknown provider", func(c *Config) { c.Classifier.Provider = "oracle" }, "unknown classifier provider"},
		{"http without url", func(c *Config) { c.Classifier.Provider = "http" }, "base_url is required"},
		{"gemini without key", func(c *Config) { c.Classifier.Provider = "gemini" }, "api_key"},
		{"threshold range", func(c *Config) { c.Classifier.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"heuristic cap range", func(c *Config) { c.Classifier.HeuristicMaxConfidence = 0 }, "heuristic_max_confidence"},
		{"brokers without topics", func(c *Config) {
			c.Kafka.Brokers = []string{"k:9092"}
			c.Kafka.TicketsTopic = ""
		}, "kafka topics"},
		{"batch size", func(c *Config) { c.Pipeline.BatchSize = 0 }, "batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
	assert.NoError(t, Defaults().Validate())
}

func TestBadEnvDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("ROUTER_POLL_INTERVAL", "soon")
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), false)
	assert.ErrorContains(t, err, "ROUTER_POLL_INTERVAL")
}
