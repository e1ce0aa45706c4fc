package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the bootstrapper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`
	Database  ConnectionConfig `mapstructure:"database"`
	Reset     ResetConfig      `mapstructure:"reset"`
	Ensure    EnsureConfig     `mapstructure:"ensure"`
	Timeout   time.Duration    `mapstructure:"timeout"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
	LogLevel     string `mapstructure:"log_level"`
}

// ConnectionConfig holds the parameters used to reach the database server.
// It is built once at startup and never mutated afterwards.
type ConnectionConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       Secret        `mapstructure:"password"`
	SSLMode        string        `mapstructure:"ssl_mode"`
	MaintenanceDB  string        `mapstructure:"maintenance_db"`
	Template       string        `mapstructure:"template"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// ResetConfig configures the destructive reset command.
type ResetConfig struct {
	// Name is the single database recreated by `bootstrapper reset` (DB_NAME).
	Name string `mapstructure:"name"`
	// Force terminates other sessions on the database before dropping it.
	Force bool `mapstructure:"force"`
}

// EnsureConfig configures the idempotent ensure command.
type EnsureConfig struct {
	Databases []string `mapstructure:"databases"`
}

// DefaultEnsureDatabases are the stores the demo stack needs: the FHIR
// server's database and the JupyterHealth Exchange database.
var DefaultEnsureDatabases = []string{"fhir", "jhe"}

// Secret is a string that never prints its value.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// LogValue keeps the secret out of structured logs.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Reveal returns the raw secret value. Only the connection layer should call it.
func (s Secret) Reveal() string {
	return string(s)
}

// envBindings maps config keys to the fixed environment variable names shared
// with the rest of the demo stack. These names carry no prefix.
var envBindings = map[string]string{
	"database.host":     "DB_HOST",
	"database.port":     "DB_PORT",
	"database.user":     "DB_USER",
	"database.password": "DB_PASSWORD",
	"reset.name":        "DB_NAME",
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables. DB_HOST, DB_PORT, DB_USER, DB_PASSWORD and DB_NAME
// are read verbatim; every other key uses the BOOTSTRAPPER_ prefix
// (e.g. BOOTSTRAPPER_TELEMETRY_LOG_LEVEL).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BOOTSTRAPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s to %s: %w", key, env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &cfg, nil
}

// Validate reports every missing or malformed connection setting at once.
func (c *Config) Validate() error {
	var errs []error
	db := c.Database
	if db.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if db.Port <= 0 || db.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", db.Port))
	}
	if db.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if db.Password == "" {
		errs = append(errs, errors.New("DB_PASSWORD is required"))
	}
	if db.MaintenanceDB == "" {
		errs = append(errs, errors.New("database.maintenance_db must not be empty"))
	}
	return errors.Join(errs...)
}

// ValidateReset is Validate plus the DB_NAME requirement of the reset command.
func (c *Config) ValidateReset() error {
	err := c.Validate()
	if c.Reset.Name == "" {
		err = errors.Join(err, errors.New("DB_NAME is required for reset"))
	}
	return err
}

// ValidateEnsure is Validate plus a non-empty database list.
func (c *Config) ValidateEnsure() error {
	err := c.Validate()
	if len(c.Ensure.Databases) == 0 {
		err = errors.Join(err, errors.New("ensure.databases must list at least one database"))
	}
	return err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timeout", 2*time.Minute)

	v.SetDefault("server.port", 8082)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "demo-bootstrapper")
	v.SetDefault("telemetry.log_level", "info")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.maintenance_db", "postgres")
	v.SetDefault("database.template", "")
	v.SetDefault("database.connect_timeout", 10*time.Second)

	v.SetDefault("reset.force", false)

	v.SetDefault("ensure.databases", DefaultEnsureDatabases)
}
