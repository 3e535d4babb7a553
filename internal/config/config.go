// Package config loads issuer configuration from defaults, an optional YAML
// file and NFSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	redisadapter "github.com/rezonia/nfse-issuer/internal/adapters/redis"
	"github.com/rezonia/nfse-issuer/internal/authority"
	"github.com/rezonia/nfse-issuer/internal/events"
	"github.com/rezonia/nfse-issuer/internal/model"
)

const EnvPrefix = "NFSE"

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config represents the full issuer configuration
type Config struct {
	Environment string               `yaml:"environment" mapstructure:"environment"`
	AppVersion  string               `yaml:"app_version" mapstructure:"app_version"`
	Authority   authority.Config     `yaml:"authority" mapstructure:"authority"`
	Convention  authority.Convention `yaml:"convention" mapstructure:"convention"`
	EmitTimeout time.Duration        `yaml:"emit_timeout" mapstructure:"emit_timeout"`
	Store       StoreConfig          `yaml:"store" mapstructure:"store"`
	Certificate CertificateConfig    `yaml:"certificate" mapstructure:"certificate"`
	Server      ServerConfig         `yaml:"server" mapstructure:"server"`
	Kafka       events.KafkaConfig   `yaml:"kafka" mapstructure:"kafka"`
	Log         LogConfig            `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the lifecycle store backend
type StoreConfig struct {
	Driver      string              `yaml:"driver" mapstructure:"driver"`
	PostgresURL string              `yaml:"postgres_url" mapstructure:"postgres_url"`
	Redis       redisadapter.Config `yaml:"redis" mapstructure:"redis"`
}

// CertificateConfig locates the provider's A1 certificate
type CertificateConfig struct {
	File         string `yaml:"file" mapstructure:"file"`
	Password     string `yaml:"password" mapstructure:"password"`
	Thumbprint   string `yaml:"thumbprint" mapstructure:"thumbprint"`
	OCSP         bool   `yaml:"ocsp" mapstructure:"ocsp"`
	OCSPSoftFail bool   `yaml:"ocsp_soft_fail" mapstructure:"ocsp_soft_fail"`
	MutualTLS    bool   `yaml:"mutual_tls" mapstructure:"mutual_tls"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string        `yaml:"address" mapstructure:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	Debug        bool          `yaml:"debug" mapstructure:"debug"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// New returns a viper instance carrying every default and the env binding
func New() *viper.Viper {
	v := viper.New()
	retry := authority.DefaultRetryPolicy()
	convention := authority.NationalConvention()

	defaults := map[string]interface{}{
		"environment":                         "homologation",
		"app_version":                         "nfse-issuer-1.0",
		"authority.base_url":                  "https://sefin.producaorestrita.nfse.gov.br/SefinNacional",
		"authority.submit_path":               authority.DefaultSubmitPath,
		"authority.lookup_path":               authority.DefaultLookupPath,
		"authority.event_path":                authority.DefaultEventPath,
		"authority.retry.initial_delay":       retry.InitialDelay,
		"authority.retry.multiplier":          retry.Multiplier,
		"authority.retry.max_delay":           retry.MaxDelay,
		"authority.retry.max_attempts":        retry.MaxAttempts,
		"authority.retry.per_attempt_timeout": retry.PerAttemptTimeout,
		"emit_timeout":                        5 * time.Minute,
		"convention.name":                     convention.Name,
		"convention.error_prefixes":           convention.ErrorPrefixes,
		"convention.alert_prefixes":           convention.AlertPrefixes,
		"convention.duplicate_codes":          convention.DuplicateCodes,
		"store.driver":                        DriverMemory,
		"store.postgres_url":                  "",
		"store.redis.url":                     "",
		"store.redis.pool_size":               10,
		"store.redis.min_idle_conns":          0,
		"store.redis.dial_timeout":            5 * time.Second,
		"store.redis.read_timeout":            3 * time.Second,
		"store.redis.write_timeout":           3 * time.Second,
		"store.redis.key_prefix":              "nfse",
		"certificate.file":                    "",
		"certificate.password":                "",
		"certificate.thumbprint":              "",
		"certificate.ocsp":                    false,
		"certificate.ocsp_soft_fail":          true,
		"certificate.mutual_tls":              true,
		"server.address":                      ":8080",
		"server.read_timeout":                 30 * time.Second,
		"server.write_timeout":                2 * time.Minute,
		"server.debug":                        false,
		"kafka.brokers":                       []string{},
		"kafka.topic":                         "nfse.document.state",
		"kafka.client_id":                     "nfse-issuer",
		"kafka.timeout":                       5 * time.Second,
		"log.level":                           "info",
		"log.format":                          "text",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional file at path into v and decodes the result
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that can be checked without external resources
func (c *Config) Validate() error {
	if _, err := c.EnvironmentValue(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.PostgresURL == "" {
			return errors.New("store.postgres_url is required for the postgres driver")
		}
	case DriverRedis:
		if c.Store.Redis.URL == "" {
			return errors.New("store.redis.url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Authority.Retry.MaxAttempts < 1 {
		return errors.New("authority.retry.max_attempts must be at least 1")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// EnvironmentValue parses the configured environment
func (c *Config) EnvironmentValue() (model.Environment, error) {
	return model.ParseEnvironment(c.Environment)
}

// SlogLevel parses the configured level
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", l.Level)
	}
	return level, nil
}
