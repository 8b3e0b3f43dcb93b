package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Series    SeriesConfig    `mapstructure:"series"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// APIConfig configures the remote energy-data service client.
type APIConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	MaxAttempts       int    `mapstructure:"max_attempts"`
	BaseBackoffMillis int    `mapstructure:"base_backoff_ms"`
	MaxBackoffSeconds int    `mapstructure:"max_backoff_seconds"`
	MaxElapsedSeconds int    `mapstructure:"max_elapsed_seconds"`
}

// RateLimitConfig configures the cooldown gate.
type RateLimitConfig struct {
	GlobalRPS      float64 `mapstructure:"global_rps"`
	GlobalBurst    int     `mapstructure:"global_burst"`
	CooldownMillis int     `mapstructure:"cooldown_ms"`
	AccountBurst   int     `mapstructure:"account_burst"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Size       int `mapstructure:"size"`
	TTLMinutes int `mapstructure:"ttl_minutes"`
}

// SeriesConfig configures normalization.
type SeriesConfig struct {
	Timezone         string  `mapstructure:"timezone"`
	MissingThreshold float64 `mapstructure:"missing_threshold"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file with environment variable expansion
// and defaults for anything the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Validate the raw document before expansion so syntax errors point at
	// the file as written.
	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	if err := v.ReadConfig(strings.NewReader(expanded)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// ConnString builds the lib/pq connection string for the credential store.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// Timeout returns the HTTP client timeout.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")

	v.SetDefault("api.base_url", "https://api.octopus.energy/v1")
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("api.max_attempts", 3)
	v.SetDefault("api.base_backoff_ms", 500)
	v.SetDefault("api.max_backoff_seconds", 10)
	v.SetDefault("api.max_elapsed_seconds", 45)

	v.SetDefault("rate_limit.global_rps", 5.0)
	v.SetDefault("rate_limit.global_burst", 10)
	v.SetDefault("rate_limit.cooldown_ms", 500)
	v.SetDefault("rate_limit.account_burst", 2)

	v.SetDefault("cache.size", 1000)
	v.SetDefault("cache.ttl_minutes", 60)

	v.SetDefault("series.timezone", "Europe/London")
	v.SetDefault("series.missing_threshold", 0.1)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
