// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Data-source strategies. Selected once at startup, never branched inline.
const (
	SourceLive    = "live"
	SourceFixture = "fixture"
)

// Transport kinds.
const (
	TransportRedis     = "redis"
	TransportWebsocket = "websocket"
)

// History cache drivers.
const (
	HistoryOff      = "off"
	HistorySQLite   = "sqlite"
	HistoryPostgres = "postgres"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	APIBaseURL     string        `mapstructure:"API_BASE_URL"`
	AuthToken      string        `mapstructure:"AUTH_TOKEN"`
	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	DataSource     string        `mapstructure:"DATA_SOURCE"` // live | fixture
	Transport      string        `mapstructure:"TRANSPORT"`   // redis | websocket
	RedisURL       string        `mapstructure:"REDIS_URL"`
	WSURL          string        `mapstructure:"WS_URL"`
	HistoryDriver  string        `mapstructure:"HISTORY_DRIVER"` // off | sqlite | postgres
	HistoryDSN     string        `mapstructure:"HISTORY_DSN"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	TraceExporter  string        `mapstructure:"TRACE_EXPORTER"` // off | stdout | otlp
	OTLPEndpoint   string        `mapstructure:"OTLP_ENDPOINT"`
	Env            string        `mapstructure:"APP_ENV"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The config file is optional; environment variables alone are enough.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			log.Printf("No profile-specific config 'config.%s.yml' found, using base config", env)
		}
	}

	viper.SetDefault("API_BASE_URL", "http://localhost:8375")
	viper.SetDefault("AUTH_TOKEN", "")
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("DATA_SOURCE", SourceFixture)
	viper.SetDefault("TRANSPORT", TransportWebsocket)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("WS_URL", "")
	viper.SetDefault("HISTORY_DRIVER", HistoryOff)
	viper.SetDefault("HISTORY_DSN", "gigsync_history.db")
	viper.SetDefault("REQUEST_TIMEOUT", "10s")
	viper.SetDefault("TRACE_EXPORTER", "off")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("APP_ENV", "development")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and consistent.
func (c *Config) Validate() error {
	switch c.DataSource {
	case SourceLive, SourceFixture:
	default:
		return fmt.Errorf("DATA_SOURCE must be %q or %q, got %q", SourceLive, SourceFixture, c.DataSource)
	}

	switch c.Transport {
	case TransportRedis, TransportWebsocket:
	default:
		return fmt.Errorf("TRANSPORT must be %q or %q, got %q", TransportRedis, TransportWebsocket, c.Transport)
	}

	switch c.HistoryDriver {
	case HistoryOff, HistorySQLite, HistoryPostgres:
	default:
		return fmt.Errorf("HISTORY_DRIVER must be off, sqlite or postgres, got %q", c.HistoryDriver)
	}

	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}

	if c.DataSource == SourceLive {
		if c.APIBaseURL == "" {
			return errors.New("API_BASE_URL is required when DATA_SOURCE=live")
		}
		if c.AuthToken == "" {
			return errors.New("AUTH_TOKEN is required when DATA_SOURCE=live")
		}
		if c.Transport == TransportRedis && c.RedisURL == "" {
			return errors.New("REDIS_URL is required when TRANSPORT=redis")
		}
		if c.Transport == TransportWebsocket && c.WSURL == "" {
			return errors.New("WS_URL is required when TRANSPORT=websocket and DATA_SOURCE=live")
		}
	}

	if c.HistoryDriver == HistoryPostgres && c.HistoryDSN == "" {
		return errors.New("HISTORY_DSN is required when HISTORY_DRIVER=postgres")
	}

	isProduction := c.Env == "production" || c.Env == "prod"
	if isProduction {
		if c.DataSource == SourceFixture {
			return errors.New("DATA_SOURCE=fixture is not allowed in production")
		}
		if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
	}

	return nil
}
