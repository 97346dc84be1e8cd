// Package config loads the server process configuration and node definition files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TIMECONTROL_SERVER_PORT.
const EnvPrefix = "TIMECONTROL"

// KV backends.
const (
	KVMemory   = "memory"
	KVPostgres = "postgres"
	KVNATS     = "nats"
)

// Config is the server process configuration.
type Config struct {
	Server struct {
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`
	KV struct {
		Backend string `mapstructure:"backend"`
	} `mapstructure:"kv"`
	NATS struct {
		URL    string `mapstructure:"url"`
		Bucket string `mapstructure:"bucket"`
	} `mapstructure:"nats"`
	Nodes struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"nodes"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.url", "")
	v.SetDefault("kv.backend", KVMemory)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.bucket", "timecontrol")
	v.SetDefault("nodes.dir", "")
	v.SetDefault("log.level", "INFO")
}

// Load reads timecontrol.yaml from dir (missing file is fine), .env files, and
// TIMECONTROL_* environment overrides, in increasing precedence.
func Load(dir string, envFiles ...string) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	v.SetConfigName("timecontrol")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and reports every problem.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{Field: "server.port", Message: fmt.Sprintf("%d is not a valid port", c.Server.Port)})
	}
	switch c.KV.Backend {
	case KVMemory:
	case KVPostgres:
		if c.Database.URL == "" {
			errs = append(errs, &ValidationError{Field: "database.url", Message: "required for the postgres kv backend"})
		}
	case KVNATS:
		if c.NATS.URL == "" {
			errs = append(errs, &ValidationError{Field: "nats.url", Message: "required for the nats kv backend"})
		}
		if c.NATS.Bucket == "" {
			errs = append(errs, &ValidationError{Field: "nats.bucket", Message: "required for the nats kv backend"})
		}
	default:
		errs = append(errs, &ValidationError{Field: "kv.backend", Message: fmt.Sprintf("unknown backend %q", c.KV.Backend)})
	}
	return errors.Join(errs...)
}
