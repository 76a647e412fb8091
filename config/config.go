/*
Package config loads the server configuration.

SOURCES (later wins):
  1. Default()
  2. the YAML file, if a path is given
  3. the section of that file named after the environment
  4. variables from a .env file
  5. process environment (WAQF_*)
  6. command-line flags, applied by cmd/server

ENVIRONMENT VARIABLES:
  WAQF_ENV                  development | staging | production
  WAQF_PORT                 HTTP port
  WAQF_DB_PATH              SQLite path (":memory:" for tests)
  WAQF_LOG_LEVEL            debug | info | warn | error
  WAQF_LOG_FORMAT           json | console
  WAQF_REDIS_ADDR           enables the escalation scan lease
  WAQF_NATS_URL             enables NATS notifications
  WAQF_POLICY_FILE          policy document (see factory)
  WAQF_ESCALATION_INTERVAL  scan interval, e.g. 5m

SEE ALSO:
  - cmd/server/main.go: flag handling
  - factory/policy.go: distribution terms live in their own document
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/waqf-engine/logging"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the server configuration.
type Config struct {
	Environment Environment      `yaml:"environment"`
	Server      ServerConfig     `yaml:"server"`
	Database    DatabaseConfig   `yaml:"database"`
	Log         logging.Config   `yaml:"log"`
	Escalation  EscalationConfig `yaml:"escalation"`
	Redis       RedisConfig      `yaml:"redis"`
	NATS        NATSConfig       `yaml:"nats"`
	Notify      NotifyConfig     `yaml:"notify"`
	Policies    PoliciesConfig   `yaml:"policies"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides are applied on top of the base values for one environment.
type Overrides struct {
	Server   *ServerConfig   `yaml:"server,omitempty"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
	Log      *logging.Config `yaml:"log,omitempty"`
	Redis    *RedisConfig    `yaml:"redis,omitempty"`
	NATS     *NATSConfig     `yaml:"nats,omitempty"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EscalationConfig configures the overdue scanner and reassignment.
type EscalationConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// Policy is "fallback" (reassign to FallbackRoles, default admin) or
	// "rotation" (another approver of the same role from Approvers).
	Policy        string              `yaml:"policy"`
	FallbackRoles map[string]string   `yaml:"fallback_roles"`
	Approvers     map[string][]string `yaml:"approvers"`
	LeaseKey      string              `yaml:"lease_key"`
	LeaseTTL      time.Duration       `yaml:"lease_ttl"`
}

// RedisConfig is optional; without Addr the scanner runs without a lease.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig is optional; without URL notifications go to the log.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type NotifyConfig struct {
	QueueSize   int           `yaml:"queue_size"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// PoliciesConfig points at the policy document and the default terms.
type PoliciesConfig struct {
	File  string `yaml:"file"`
	Terms string `yaml:"terms"`
}

// Default returns development defaults.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{Path: "waqf.db"},
		Log:      logging.Config{Level: "info", Format: "json", Service: "waqf-engine"},
		Escalation: EscalationConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
			Policy:   "fallback",
			LeaseKey: "waqf:escalation-scan",
			LeaseTTL: time.Minute,
		},
		NATS:   NATSConfig{SubjectPrefix: "notifications.waqf"},
		Notify: NotifyConfig{QueueSize: 1024, MaxAttempts: 5, Backoff: 200 * time.Millisecond},
		Policies: PoliciesConfig{
			Terms: "default",
		},
	}
}

// Load reads path (may be empty), the dotenv file (may be empty or
// missing) and the process environment.
func Load(path, dotenv string) (*Config, error) {
	fileEnv := map[string]string{}
	if dotenv != "" {
		env, err := godotenv.Read(dotenv)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", dotenv, err)
		}
		if env != nil {
			fileEnv = env
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	return LoadWithEnv(path, lookup)
}

// LoadWithEnv is Load with an explicit variable lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// The environment itself may come from the process.
	if v, ok := lookup("WAQF_ENV"); ok && v != "" {
		cfg.Environment = Environment(v)
	}
	cfg.applyEnvironmentOverrides()
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var o *Overrides
	switch c.Environment {
	case Development:
		o = c.Development
	case Staging:
		o = c.Staging
	case Production:
		o = c.Production
	}
	if o == nil {
		return
	}

	if o.Server != nil {
		if o.Server.Port != 0 {
			c.Server.Port = o.Server.Port
		}
		if o.Server.ReadTimeout != 0 {
			c.Server.ReadTimeout = o.Server.ReadTimeout
		}
		if o.Server.WriteTimeout != 0 {
			c.Server.WriteTimeout = o.Server.WriteTimeout
		}
		if o.Server.ShutdownTimeout != 0 {
			c.Server.ShutdownTimeout = o.Server.ShutdownTimeout
		}
		if len(o.Server.AllowedOrigins) > 0 {
			c.Server.AllowedOrigins = o.Server.AllowedOrigins
		}
	}
	if o.Database != nil && o.Database.Path != "" {
		c.Database.Path = o.Database.Path
	}
	if o.Log != nil {
		if o.Log.Level != "" {
			c.Log.Level = o.Log.Level
		}
		if o.Log.Format != "" {
			c.Log.Format = o.Log.Format
		}
	}
	if o.Redis != nil && o.Redis.Addr != "" {
		c.Redis = *o.Redis
	}
	if o.NATS != nil && o.NATS.URL != "" {
		c.NATS.URL = o.NATS.URL
		if o.NATS.SubjectPrefix != "" {
			c.NATS.SubjectPrefix = o.NATS.SubjectPrefix
		}
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("WAQF_DB_PATH", &c.Database.Path)
	str("WAQF_LOG_LEVEL", &c.Log.Level)
	str("WAQF_LOG_FORMAT", &c.Log.Format)
	str("WAQF_REDIS_ADDR", &c.Redis.Addr)
	str("WAQF_NATS_URL", &c.NATS.URL)
	str("WAQF_POLICY_FILE", &c.Policies.File)

	if v, ok := lookup("WAQF_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WAQF_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("WAQF_ESCALATION_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WAQF_ESCALATION_INTERVAL: %w", err)
		}
		c.Escalation.Interval = d
	}
	return nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	switch c.Environment {
	case Development, Staging, Production:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Escalation.Enabled && c.Escalation.Interval <= 0 {
		return fmt.Errorf("escalation interval must be positive, got %s", c.Escalation.Interval)
	}
	switch c.Escalation.Policy {
	case "", "fallback", "rotation":
	default:
		return fmt.Errorf("unknown escalation policy %q", c.Escalation.Policy)
	}
	return nil
}
