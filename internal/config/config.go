// Package config loads the callrelay configuration from a YAML file, a
// .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	StorageMemory = "memory"
	StorageMongo  = "mongo"
	StorageSQLite = "sqlite"
	StorageMySQL  = "mysql"
)

// Language model providers
const (
	LLMGemini   = "gemini"
	LLMScripted = "scripted"
)

// Config is the top-level callrelay configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Relay   RelayConfig   `yaml:"relay"`
	Session SessionConfig `yaml:"session"`
	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
	Janitor JanitorConfig `yaml:"janitor"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// PublicWSURL is the externally reachable base of the relay websocket
	PublicWSURL string `yaml:"public_ws_url"`
}

type RelayConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type SessionConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	EscalationDigit int           `yaml:"escalation_digit"`
	QueueSize       int           `yaml:"queue_size"`
}

type StorageConfig struct {
	Driver string      `yaml:"driver"`
	Mongo  MongoConfig `yaml:"mongo"`
	// SQLitePath is a file path or ":memory:"
	SQLitePath string `yaml:"sqlite_path"`
	MySQLDSN   string `yaml:"mysql_dsn"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type LLMConfig struct {
	Provider        string  `yaml:"provider"`
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
	BaseURL         string  `yaml:"base_url"`
}

type JanitorConfig struct {
	// Schedule is a cron spec; empty disables the janitor
	Schedule  string        `yaml:"schedule"`
	Retention time.Duration `yaml:"retention"`
}

type LogConfig struct {
	Development bool `yaml:"development"`
}

// Load reads the YAML file at path, which may be empty, then applies .env
// and environment overrides and returns a validated Config.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, applies environment overrides and returns a
// validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values with the environment
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT: %w", err)
		}
		c.Server.Port = port
	}

	overrides := map[string]*string{
		"PUBLIC_WS_URL":    &c.Server.PublicWSURL,
		"RELAY_JWT_SECRET": &c.Relay.JWTSecret,
		"STORAGE_DRIVER":   &c.Storage.Driver,
		"MONGODB_URI":      &c.Storage.Mongo.URI,
		"MONGODB_DATABASE": &c.Storage.Mongo.Database,
		"SQLITE_PATH":      &c.Storage.SQLitePath,
		"MYSQL_DSN":        &c.Storage.MySQLDSN,
		"GEMINI_API_KEY":   &c.LLM.APIKey,
		"LLM_PROVIDER":     &c.LLM.Provider,
	}
	for key, field := range overrides {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.PublicWSURL == "" {
		c.Server.PublicWSURL = fmt.Sprintf("ws://localhost:%d", c.Server.Port)
	}
	if c.Relay.TokenTTL == 0 {
		c.Relay.TokenTTL = 5 * time.Minute
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 30 * time.Minute
	}
	if c.Session.QueueSize == 0 {
		c.Session.QueueSize = 32
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageSQLite
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "callrelay.db"
	}
	if c.Storage.Mongo.Database == "" {
		c.Storage.Mongo.Database = "callrelay"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = LLMScripted
		if c.LLM.APIKey != "" {
			c.LLM.Provider = LLMGemini
		}
	}
	if c.Janitor.Retention == 0 {
		c.Janitor.Retention = 24 * time.Hour
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Relay.JWTSecret == "" {
		errs = append(errs, "relay.jwt_secret is required")
	}
	if c.Session.EscalationDigit < 0 || c.Session.EscalationDigit > 11 {
		errs = append(errs, "session.escalation_digit must be between 0 and 11")
	}
	if c.Session.TTL < 0 {
		errs = append(errs, "session.ttl must be positive")
	}

	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite:
	case StorageMongo:
		if c.Storage.Mongo.URI == "" {
			errs = append(errs, "storage.mongo.uri is required for the mongo driver")
		}
	case StorageMySQL:
		if c.Storage.MySQLDSN == "" {
			errs = append(errs, "storage.mysql_dsn is required for the mysql driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q is not supported", c.Storage.Driver))
	}

	switch c.LLM.Provider {
	case LLMScripted:
	case LLMGemini:
		if c.LLM.APIKey == "" {
			errs = append(errs, "llm.api_key is required for the gemini provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
