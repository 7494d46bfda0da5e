// Package config loads service configuration from defaults, an optional
// config.yaml, a .env file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Env      string         `mapstructure:"env"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf(":%d", s.Port) }

// DatabaseConfig holds the PostgreSQL DSN. Empty means in-memory storage.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig holds the cache URL. Empty disables caching.
type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

// KafkaConfig holds the risk event sink. No brokers disables Kafka.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// CORSConfig lists allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RiskConfig holds calculation defaults.
type RiskConfig struct {
	BaseCurrency       string  `mapstructure:"base_currency"`
	ConfidenceLevel    float64 `mapstructure:"confidence_level"`
	HorizonDays        int     `mapstructure:"horizon_days"`
	Simulations        int     `mapstructure:"simulations"`
	DefaultCorrelation float64 `mapstructure:"default_correlation"`
	RiskFreeRate       float64 `mapstructure:"risk_free_rate"`
	Workers            int     `mapstructure:"workers"`
	MinObservations    int     `mapstructure:"min_observations"`
}

// LimitsConfig holds pre-trade concentration caps. Zero disables a cap.
type LimitsConfig struct {
	MaxPerInstrument float64 `mapstructure:"max_per_instrument"`
	MaxPerGroup      float64 `mapstructure:"max_per_group"`
	GroupPrefixLen   int     `mapstructure:"group_prefix_len"`
}

// ScheduleConfig holds cron specs. Empty disables a job.
type ScheduleConfig struct {
	EOD    string `mapstructure:"eod"`
	Stress string `mapstructure:"stress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 30*time.Second)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "risk.events")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("risk.base_currency", "USD")
	v.SetDefault("risk.confidence_level", 0.99)
	v.SetDefault("risk.horizon_days", 1)
	v.SetDefault("risk.simulations", 10000)
	v.SetDefault("risk.default_correlation", 0.3)
	v.SetDefault("risk.risk_free_rate", 0.05)
	v.SetDefault("risk.workers", 0)
	v.SetDefault("risk.min_observations", 20)

	v.SetDefault("limits.max_per_instrument", 0)
	v.SetDefault("limits.max_per_group", 0)
	v.SetDefault("limits.group_prefix_len", 0)

	v.SetDefault("schedule.eod", "0 22 * * 1-5")
	v.SetDefault("schedule.stress", "30 22 * * 1-5")
}

// Load reads configuration. paths are searched for config.yaml; a missing
// file is not an error. Environment variables use the RISK_ prefix with
// underscores for nesting, e.g. RISK_SERVER_PORT or RISK_DATABASE_URL.
func Load(paths ...string) (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if len(paths) > 0 {
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("RISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	switch c.Risk.ConfidenceLevel {
	case 0.95, 0.99, 0.995:
	default:
		return fmt.Errorf("config: unsupported risk.confidence_level %v", c.Risk.ConfidenceLevel)
	}
	if c.Risk.HorizonDays < 1 {
		return fmt.Errorf("config: risk.horizon_days must be at least 1")
	}
	if c.Risk.DefaultCorrelation < -1 || c.Risk.DefaultCorrelation > 1 {
		return fmt.Errorf("config: risk.default_correlation must be within [-1, 1]")
	}
	return nil
}
