package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	HTTP       HTTPConfig       `yaml:"http"`
	Service    ServiceConfig    `yaml:"service"`
	RulesFile  string           `yaml:"rules_file"`
	LogLevel   string           `yaml:"log_level"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

type ClassifierConfig struct {
	// Provider is "heuristic", "http" or "gemini".
	Provider               string        `yaml:"provider"`
	BaseURL                string        `yaml:"base_url"`
	Username               string        `yaml:"username"`
	Password               string        `yaml:"password"`
	APIKey                 string        `yaml:"api_key"`
	Model                  string        `yaml:"model"`
	Timeout                time.Duration `yaml:"timeout"`
	ConfidenceThreshold    float64       `yaml:"confidence_threshold"`
	HeuristicMaxConfidence float64       `yaml:"heuristic_max_confidence"`
	EscalationMarkers      []string      `yaml:"escalation_markers"`
}

type KafkaConfig struct {
	// Brokers left empty disables the audit relay.
	Brokers        []string `yaml:"brokers"`
	DecisionsTopic string   `yaml:"decisions_topic"`
	TicketsTopic   string   `yaml:"tickets_topic"`
}

type PipelineConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type ServiceConfig struct {
	SenderEmail string `yaml:"sender_email"`
	InboxEmail  string `yaml:"inbox_email"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "routing.db",
		},
		Classifier: ClassifierConfig{
			Provider:               "heuristic",
			Timeout:                10 * time.Second,
			ConfidenceThreshold:    0.65,
			HeuristicMaxConfidence: 0.92,
		},
		Kafka: KafkaConfig{
			DecisionsTopic: "routing-decisions",
			TicketsTopic:   "routing-tickets",
		},
		Pipeline: PipelineConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    100,
		},
		HTTP: HTTPConfig{
			Addr: ":8088",
		},
		Service: ServiceConfig{
			SenderEmail: "ai-router@mvp.demo",
			InboxEmail:  "client-service@mvp.demo",
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, then config.yaml (or the file
// named by ROUTER_CONFIG), then environment overrides.
func Load() (*Config, error) {
	path := "config.yaml"
	explicit := false
	if v := os.Getenv("ROUTER_CONFIG"); v != "" {
		path, explicit = v, true
	}
	return LoadFile(path, explicit)
}

// LoadFile is Load with an explicit file. A missing file is an error only
// when required is set.
func LoadFile(path string, required bool) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case required || !os.IsNotExist(err):
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"ROUTER_DB_DRIVER":             &c.Database.Driver,
		"ROUTER_DB_DSN":                &c.Database.DSN,
		"ROUTER_CLASSIFIER_PROVIDER":   &c.Classifier.Provider,
		"ROUTER_CLASSIFIER_BASE_URL":   &c.Classifier.BaseURL,
		"ROUTER_CLASSIFIER_USERNAME":   &c.Classifier.Username,
		"ROUTER_CLASSIFIER_PASSWORD":   &c.Classifier.Password,
		"ROUTER_CLASSIFIER_MODEL":      &c.Classifier.Model,
		"GEMINI_API_KEY":               &c.Classifier.APIKey,
		"ROUTER_KAFKA_DECISIONS_TOPIC": &c.Kafka.DecisionsTopic,
		"ROUTER_KAFKA_TICKETS_TOPIC":   &c.Kafka.TicketsTopic,
		"ROUTER_HTTP_ADDR":             &c.HTTP.Addr,
		"ROUTER_RULES_FILE":            &c.RulesFile,
		"ROUTER_SENDER_EMAIL":          &c.Service.SenderEmail,
		"ROUTER_INBOX_EMAIL":           &c.Service.InboxEmail,
		"LOG_LEVEL":                    &c.LogLevel,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("ROUTER_CONFIDENCE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: ROUTER_CONFIDENCE_THRESHOLD: %w", err)
		}
		c.Classifier.ConfidenceThreshold = f
	}
	if v := os.Getenv("ROUTER_CLASSIFIER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: ROUTER_CLASSIFIER_TIMEOUT: %w", err)
		}
		c.Classifier.Timeout = d
	}
	if v := os.Getenv("ROUTER_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: ROUTER_POLL_INTERVAL: %w", err)
		}
		c.Pipeline.PollInterval = d
	}
	return nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database dsn is required")
	}

	switch c.Classifier.Provider {
	case "heuristic":
	case "http":
		if c.Classifier.BaseURL == "" {
			return fmt.Errorf("config: classifier base_url is required for the http provider")
		}
	case "gemini":
		if c.Classifier.APIKey == "" {
			return fmt.Errorf("config: classifier api_key (or GEMINI_API_KEY) is required for the gemini provider")
		}
	default:
		return fmt.Errorf("config: unknown classifier provider %q", c.Classifier.Provider)
	}

	if t := c.Classifier.ConfidenceThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("config: confidence_threshold %v outside (0, 1]", t)
	}
	if m := c.Classifier.HeuristicMaxConfidence; m <= 0 || m > 1 {
		return fmt.Errorf("config: heuristic_max_confidence %v outside (0, 1]", m)
	}
	if len(c.Kafka.Brokers) > 0 && (c.Kafka.DecisionsTopic == "" || c.Kafka.TicketsTopic == "") {
		return fmt.Errorf("config: kafka topics are required when brokers are set")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("config: pipeline batch_size must be positive")
	}
	return nil
}

// RelayEnabled reports whether the audit relay should run.
func (c *Config) RelayEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
